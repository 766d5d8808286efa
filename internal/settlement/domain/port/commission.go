// internal/settlement/domain/port/commission.go
package port

import (
	"context"

	"github.com/shopspring/decimal"
)

// CommissionPolicy 计算平台从一笔卖家放款中抽取的佣金。
// 费率规则是注入的配置（固定费率或按 vendor 的表达式），引擎不内置任何数值。
type CommissionPolicy interface {
	Commission(ctx context.Context, vendorID string, subtotal decimal.Decimal) (decimal.Decimal, error)
}
