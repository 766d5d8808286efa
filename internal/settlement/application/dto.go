// internal/settlement/application/dto.go
package application

import (
	"errors"

	"github.com/shopspring/decimal"

	"bazaar/internal/settlement/domain"
)

// CartItem 是结账输入里的一个购物车条目。
type CartItem struct {
	VariantID string `json:"variantId"`
	VendorID  string `json:"vendorId"`
	Qty       int64  `json:"qty"`
}

// CheckoutRequest 是结账用例的输入数据。
// buyerId 由身份服务预先认证，核心直接信任。
type CheckoutRequest struct {
	BuyerID    string     `json:"buyerId"`
	Instrument string     `json:"instrument"`
	Items      []CartItem `json:"items"`
}

// Validate 做入口处的结构校验，业务校验（库存、定价）留给 Saga。
func (r *CheckoutRequest) Validate() error {
	if r.BuyerID == "" {
		return errors.New("buyerId is required")
	}
	if r.Instrument == "" {
		return errors.New("payment instrument is required")
	}
	if len(r.Items) == 0 {
		return errors.New("cart is empty")
	}
	for _, item := range r.Items {
		if item.VariantID == "" || item.VendorID == "" {
			return errors.New("cart item missing variantId or vendorId")
		}
		if item.Qty <= 0 {
			return errors.New("cart item qty must be positive")
		}
	}
	return nil
}

// toLines 把购物车条目转换为待定价的订单行。
func (r *CheckoutRequest) toLines() []domain.OrderLine {
	lines := make([]domain.OrderLine, 0, len(r.Items))
	for _, item := range r.Items {
		lines = append(lines, domain.OrderLine{
			VariantID: item.VariantID,
			VendorID:  item.VendorID,
			Qty:       item.Qty,
			UnitPrice: decimal.Zero,
		})
	}
	return lines
}

// FulfillmentEvent 是履约推进的事件名，来自物流商回传或买家操作。
type FulfillmentEvent string

const (
	EventShipped   FulfillmentEvent = "SHIPPED"
	EventDelivered FulfillmentEvent = "DELIVERED"
	EventReturned  FulfillmentEvent = "RETURNED"
	EventCancelled FulfillmentEvent = "CANCELLED"
)
