// internal/settlement/domain/port/pricing.go
package port

import (
	"context"

	"github.com/shopspring/decimal"
)

// Price 是目录定价源返回的单价。
type Price struct {
	UnitPrice decimal.Decimal
	Currency  string
}

// PriceSource 是商品目录定价的出站端口。
// 目录系统在引擎之外，任何行定不出价都让 checkout 快速失败。
type PriceSource interface {
	// GetPrice 查询 (variant, vendor) 的当前单价。
	// 找不到或超时由实现包装为 domain.ErrPricingUnavailable / domain.ErrExternalTimeout。
	GetPrice(ctx context.Context, variantID, vendorID string) (Price, error)
}
