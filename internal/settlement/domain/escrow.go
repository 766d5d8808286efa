// internal/settlement/domain/escrow.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// HoldState 是托管资金的状态，由金额字段推导，不单独存储。
type HoldState string

const (
	HoldHeld              HoldState = "HELD"
	HoldPartiallyReleased HoldState = "PARTIALLY_RELEASED"
	HoldReleased          HoldState = "RELEASED"
	HoldRefunded          HoldState = "REFUNDED"
)

// EscrowHold 是一笔为单个订单行冻结的资金。
// 不变量：Released + Refunded <= Amount，任何操作都不能突破原始金额。
type EscrowHold struct {
	ID        string
	OrderID   string
	LineIndex int
	PayerID   string // 买家
	PayeeID   string // 卖家
	// AuthToken 是支付网关授权返回的令牌，capture/reverse 时回传。
	AuthToken string
	Amount    decimal.Decimal
	Released  decimal.Decimal
	Refunded  decimal.Decimal
	// Disputed 冻结自动放款，与行状态正交，由争议处理设置与解除。
	Disputed  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Remaining 返回尚未转出的托管余额。
func (h *EscrowHold) Remaining() decimal.Decimal {
	return h.Amount.Sub(h.Released).Sub(h.Refunded)
}

// State 由金额推导托管状态。
// 同一笔 hold 既有放款又有退款时（部分退款场景）落在 PARTIALLY_RELEASED。
func (h *EscrowHold) State() HoldState {
	switch {
	case h.Released.Equal(h.Amount):
		return HoldReleased
	case h.Refunded.Equal(h.Amount):
		return HoldRefunded
	case h.Released.IsPositive() || h.Refunded.IsPositive():
		return HoldPartiallyReleased
	default:
		return HoldHeld
	}
}

// Settled 判断托管是否已全部转出。
func (h *EscrowHold) Settled() bool {
	return h.Remaining().IsZero()
}

// CanTransfer 判断一次转出是否在余额之内。
func (h *EscrowHold) CanTransfer(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.LessThanOrEqual(h.Remaining())
}
