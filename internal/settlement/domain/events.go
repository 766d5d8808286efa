// internal/settlement/domain/events.go
package domain

import "time"

// ShippingEventType 是物流商回传的事件类型。
type ShippingEventType string

const (
	ShippingEventShipped   ShippingEventType = "SHIPPED"
	ShippingEventDelivered ShippingEventType = "DELIVERED"
)

// ShippingEvent 是物流商发布的异步事件，按订单行定位。
type ShippingEvent struct {
	EventID    string            `json:"eventId"`
	OrderID    string            `json:"orderId"`
	LineIndex  int               `json:"lineIndex"`
	Event      ShippingEventType `json:"event"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// SettlementEvent 是引擎对外发布的领域事件，周边系统（通知、分析）据此集成。
type SettlementEvent struct {
	Type      string    `json:"type"` // order_placed / line_settled / line_refunded / order_cancelled
	OrderID   string    `json:"orderId"`
	LineIndex int       `json:"lineIndex,omitempty"`
	BuyerID   string    `json:"buyerId,omitempty"`
	VendorID  string    `json:"vendorId,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	At        time.Time `json:"at"`
}

// ReconciliationReport 描述一次无法自动完成的补偿。
// 补偿重试耗尽后升级到人工对账队列，绝不静默丢弃。
type ReconciliationReport struct {
	ID       string    `json:"id"`
	OrderID  string    `json:"orderId"`
	Resource string    `json:"resource"` // reservation / escrow_hold
	Action   string    `json:"action"`   // release / refund / reverse
	RefID    string    `json:"refId"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}
