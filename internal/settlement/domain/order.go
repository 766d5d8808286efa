// internal/settlement/domain/order.go
package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// LineStatus 定义了单个订单行的生命周期状态。
type LineStatus string

const (
	LinePendingReservation LineStatus = "PENDING_RESERVATION" // 行已入单，库存尚未预占
	LineReserved           LineStatus = "RESERVED"            // 库存已预占
	LineConfirmed          LineStatus = "CONFIRMED"           // 支付已托管，预占已提交
	LineShipped            LineStatus = "SHIPPED"             // 卖家已发货
	LineDelivered          LineStatus = "DELIVERED"           // 已签收（终态，除非退货/争议）
	LineReturned           LineStatus = "RETURNED"            // 买家退货
	LineRefunded           LineStatus = "REFUNDED"            // 已退款（终态）
	LineCancelled          LineStatus = "CANCELLED"           // 已取消（终态，只能在发货前）
)

// lineEdges 是履约状态机的全量边表。
// 不在表里的流转一律拒绝，非法状态靠结构挡住而不是靠约定。
var lineEdges = map[LineStatus][]LineStatus{
	LinePendingReservation: {LineReserved},
	LineReserved:           {LineConfirmed, LineCancelled},
	LineConfirmed:          {LineShipped, LineCancelled},
	LineShipped:            {LineDelivered},
	LineDelivered:          {LineReturned},
	LineReturned:           {LineRefunded},
}

// CanTransition 判断 from -> to 是否在边表中。
func CanTransition(from, to LineStatus) bool {
	for _, next := range lineEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal 判断一个行状态是否为终态。
func (s LineStatus) IsTerminal() bool {
	return s == LineRefunded || s == LineCancelled || s == LineDelivered
}

// OrderStatus 是订单级状态，永远由行状态归约得出，不落库存储。
type OrderStatus string

const (
	OrderPending           OrderStatus = "PENDING"
	OrderConfirmed         OrderStatus = "CONFIRMED"
	OrderFulfilling        OrderStatus = "FULFILLING"
	OrderDelivered         OrderStatus = "DELIVERED"
	OrderPartiallyRefunded OrderStatus = "PARTIALLY_REFUNDED"
	OrderRefunded          OrderStatus = "REFUNDED"
	OrderCancelled         OrderStatus = "CANCELLED"
)

// OrderLine 是订单的组成单元，由订单独占（组合关系）。
// HoldID/ReservationID 是对账本实体的非拥有引用，账本实体可比订单活得更久。
type OrderLine struct {
	VariantID     string
	VendorID      string
	Qty           int64
	UnitPrice     decimal.Decimal
	Status        LineStatus
	HoldID        string
	ReservationID string
	// Refunded 记录该行已退款金额的快照，用于订单状态归约。
	// 权威数值始终在 EscrowHold 上。
	Refunded    decimal.Decimal
	ShippedAt   *time.Time
	DeliveredAt *time.Time
}

// Subtotal 返回该行的小计金额。
func (l *OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(l.Qty))
}

// Order 是订单聚合的根实体。终态后作为不可变审计记录保留，永不删除。
type Order struct {
	ID        string
	BuyerID   string
	Currency  string
	Lines     []OrderLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewOrder 工厂函数。行在创建时处于 PENDING_RESERVATION。
func NewOrder(id, buyerID, currency string, lines []OrderLine) (*Order, error) {
	if id == "" || buyerID == "" || len(lines) == 0 {
		return nil, errors.New("cannot create order with empty required fields")
	}
	// 去重规则：同一订单内不允许两行指向同一 (variant, vendor)
	seen := map[[2]string]bool{}
	for i := range lines {
		key := [2]string{lines[i].VariantID, lines[i].VendorID}
		if seen[key] {
			return nil, errors.New("duplicate (variant, vendor) line in order")
		}
		seen[key] = true
		lines[i].Status = LinePendingReservation
		lines[i].Refunded = decimal.Zero
	}
	now := time.Now()
	return &Order{
		ID:        id,
		BuyerID:   buyerID,
		Currency:  currency,
		Lines:     lines,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Line 按下标取行。
func (o *Order) Line(index int) (*OrderLine, error) {
	if index < 0 || index >= len(o.Lines) {
		return nil, errors.New("line index out of range")
	}
	return &o.Lines[index], nil
}

// ApplyLineTransition 校验并执行一次行状态流转。
// 非法的边返回 ErrInvalidLineTransition，聚合保持原状。
func (o *Order) ApplyLineTransition(index int, next LineStatus) error {
	line, err := o.Line(index)
	if err != nil {
		return err
	}
	if !CanTransition(line.Status, next) {
		return ErrInvalidLineTransition
	}
	now := time.Now()
	switch next {
	case LineShipped:
		line.ShippedAt = &now
	case LineDelivered:
		line.DeliveredAt = &now
	}
	line.Status = next
	o.UpdatedAt = now
	return nil
}

// DeriveStatus 将行状态归约为订单状态。纯函数，没有副作用。
func (o *Order) DeriveStatus() OrderStatus {
	return DeriveStatus(o.Lines)
}

// DeriveStatus 的归约规则：
//   - 全部取消 => CANCELLED；全部退款/取消且有退款 => REFUNDED
//   - 全部签收且无任何退款 => DELIVERED
//   - 终态混合（部分签收、部分退款）或签收行带部分退款 => PARTIALLY_REFUNDED
//   - 尚有行未到 CONFIRMED => PENDING；全部 CONFIRMED => CONFIRMED；其余在途 => FULFILLING
//
// 签收行的退款额达到小计时按已退款对待：裁决全额退款先于签收发生时，
// 行状态停在 DELIVERED，但对买家来说这行就是退掉了。
func DeriveStatus(lines []OrderLine) OrderStatus {
	var (
		total                                             = len(lines)
		cancelled, refunded, delivered, partials, pending int
		confirmed, terminal                               int
	)
	for i := range lines {
		l := &lines[i]
		switch l.Status {
		case LineCancelled:
			cancelled++
		case LineRefunded:
			refunded++
		case LineDelivered:
			switch {
			case l.Refunded.IsPositive() && l.Subtotal().IsPositive() && l.Refunded.GreaterThanOrEqual(l.Subtotal()):
				refunded++
			case l.Refunded.IsPositive():
				partials++
			default:
				delivered++
			}
		case LinePendingReservation, LineReserved:
			pending++
		case LineConfirmed:
			confirmed++
		}
		if l.Status.IsTerminal() {
			terminal++
		}
	}

	switch {
	case cancelled == total:
		return OrderCancelled
	case delivered == total:
		return OrderDelivered
	case terminal == total && refunded+cancelled == total && refunded > 0:
		return OrderRefunded
	case partials > 0 || (refunded > 0 && delivered+partials > 0):
		return OrderPartiallyRefunded
	case terminal == total:
		// 签收与取消混合，按部分退款对待
		return OrderPartiallyRefunded
	case pending > 0:
		return OrderPending
	case confirmed == total:
		return OrderConfirmed
	default:
		return OrderFulfilling
	}
}

// IsTerminal 判断订单是否全部行都已到终态。
func (o *Order) IsTerminal() bool {
	for i := range o.Lines {
		if !o.Lines[i].Status.IsTerminal() {
			return false
		}
	}
	return true
}
