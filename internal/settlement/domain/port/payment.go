// internal/settlement/domain/port/payment.go
package port

import (
	"context"

	"github.com/shopspring/decimal"
)

// PaymentGateway 是外部支付网关的出站端口。
// hold 阶段只做授权（冻结额度），真正的转账发生在 Capture/Reverse。
// 拒绝授权由实现包装为 domain.ErrPaymentAuthorizationFailed；
// 网关侧瞬时失败包装为可重试错误，调用方保持 hold 原状后重试。
type PaymentGateway interface {
	// Authorize 对买家的支付工具授权一笔金额，返回授权令牌。
	Authorize(ctx context.Context, instrument string, amount decimal.Decimal, payerID string) (token string, err error)

	// Capture 按令牌实际划转一笔金额给收款方。
	Capture(ctx context.Context, token string, amount decimal.Decimal) error

	// Reverse 按令牌把一笔金额退回付款方。
	Reverse(ctx context.Context, token string, amount decimal.Decimal) error
}
