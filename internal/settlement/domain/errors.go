// internal/settlement/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

// 结算引擎的错误分类。
// 校验类错误（非法流转、超额释放）属于程序或数据错误，直接上抛，绝不自动重试；
// 外部系统错误（支付授权失败、超时）触发 Saga 补偿后包装成 CheckoutError 返回调用方。
var (
	ErrInsufficientStock          = errors.New("insufficient stock")
	ErrPaymentAuthorizationFailed = errors.New("payment authorization failed")
	ErrPricingUnavailable         = errors.New("pricing unavailable")
	ErrInvalidLineTransition      = errors.New("invalid line transition")
	ErrOverRelease                = errors.New("release exceeds remaining held amount")
	ErrUnknownReservation         = errors.New("unknown reservation")
	ErrAlreadyReleased            = errors.New("reservation already released")
	ErrDisputeConflict            = errors.New("dispute conflict")
	ErrExternalTimeout            = errors.New("external call timed out")

	ErrOrderNotFound     = errors.New("order not found")
	ErrInventoryNotFound = errors.New("inventory record not found")
	ErrHoldNotFound      = errors.New("escrow hold not found")
	ErrDisputeNotFound   = errors.New("dispute not found")
)

// CheckoutError 是 checkout 失败时返回给调用方的聚合错误。
// 它指出卡住订单的具体环节和资源，买家据此调整购物车，而不是盲目重试。
type CheckoutError struct {
	Stage     string // pricing / reserve / escrow / confirm
	VariantID string
	VendorID  string
	Cause     error
}

func (e *CheckoutError) Error() string {
	if e.VariantID != "" {
		return fmt.Sprintf("checkout failed at %s for variant %s (vendor %s): %v", e.Stage, e.VariantID, e.VendorID, e.Cause)
	}
	return fmt.Sprintf("checkout failed at %s: %v", e.Stage, e.Cause)
}

func (e *CheckoutError) Unwrap() error { return e.Cause }
