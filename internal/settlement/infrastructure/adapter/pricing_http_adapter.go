// internal/settlement/infrastructure/adapter/pricing_http_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"bazaar/internal/pkg/httpclient"
	"bazaar/internal/settlement/domain"
	"bazaar/internal/settlement/domain/port"
)

// PricingHTTPAdapter 实现了 port.PriceSource 接口，
// 通过服务发现调用目录定价服务。
type PricingHTTPAdapter struct {
	client      *httpclient.Client
	serviceName string
	path        string
}

func NewPricingHTTPAdapter(client *httpclient.Client, serviceName, path string) *PricingHTTPAdapter {
	return &PricingHTTPAdapter{client: client, serviceName: serviceName, path: path}
}

type priceResponse struct {
	UnitPrice string `json:"unitPrice"`
	Currency  string `json:"currency"`
}

// GetPrice 查询 (variant, vendor) 的当前单价。
func (a *PricingHTTPAdapter) GetPrice(ctx context.Context, variantID, vendorID string) (port.Price, error) {
	params := url.Values{}
	params.Set("variant_id", variantID)
	params.Set("vendor_id", vendorID)

	body, err := a.client.CallService(ctx, a.serviceName, a.path, params)
	if err != nil {
		if ctx.Err() != nil {
			return port.Price{}, errors.Wrap(domain.ErrExternalTimeout, "pricing call")
		}
		return port.Price{}, errors.Wrapf(domain.ErrPricingUnavailable,
			"variant %s vendor %s: %v", variantID, vendorID, err)
	}

	var resp priceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return port.Price{}, errors.Wrapf(domain.ErrPricingUnavailable,
			"variant %s: malformed pricing response: %v", variantID, err)
	}
	unitPrice, err := decimal.NewFromString(resp.UnitPrice)
	if err != nil || !unitPrice.IsPositive() {
		return port.Price{}, errors.Wrapf(domain.ErrPricingUnavailable,
			"variant %s: invalid unit price %q", variantID, resp.UnitPrice)
	}

	return port.Price{UnitPrice: unitPrice, Currency: resp.Currency}, nil
}
