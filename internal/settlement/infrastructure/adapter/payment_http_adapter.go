// internal/settlement/infrastructure/adapter/payment_http_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"bazaar/internal/pkg/httpclient"
	"bazaar/internal/settlement/domain"
)

// PaymentPaths 是支付网关三个操作的路径约定。
type PaymentPaths struct {
	Authorize string
	Capture   string
	Reverse   string
}

// PaymentHTTPAdapter 实现了 port.PaymentGateway 接口。
// 授权被网关拒绝和网关不可达是两类错误：前者不可重试，
// 后者包装成普通错误让调用方按可重试处理。
type PaymentHTTPAdapter struct {
	client      *httpclient.Client
	serviceName string
	paths       PaymentPaths
}

func NewPaymentHTTPAdapter(client *httpclient.Client, serviceName string, paths PaymentPaths) *PaymentHTTPAdapter {
	return &PaymentHTTPAdapter{client: client, serviceName: serviceName, paths: paths}
}

type authorizeResponse struct {
	Authorized bool   `json:"authorized"`
	Token      string `json:"token"`
	Reason     string `json:"reason"`
}

func (a *PaymentHTTPAdapter) Authorize(ctx context.Context, instrument string, amount decimal.Decimal, payerID string) (string, error) {
	params := url.Values{}
	params.Set("instrument", instrument)
	params.Set("amount", amount.String())
	params.Set("payer_id", payerID)

	body, err := a.client.CallService(ctx, a.serviceName, a.paths.Authorize, params)
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.Wrap(domain.ErrExternalTimeout, "payment authorize")
		}
		return "", errors.Wrap(err, "payment gateway unreachable")
	}

	var resp authorizeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.Wrap(err, "malformed authorize response")
	}
	if !resp.Authorized {
		return "", errors.Wrapf(domain.ErrPaymentAuthorizationFailed, "gateway declined: %s", resp.Reason)
	}
	return resp.Token, nil
}

func (a *PaymentHTTPAdapter) Capture(ctx context.Context, token string, amount decimal.Decimal) error {
	return a.transfer(ctx, a.paths.Capture, token, amount)
}

func (a *PaymentHTTPAdapter) Reverse(ctx context.Context, token string, amount decimal.Decimal) error {
	return a.transfer(ctx, a.paths.Reverse, token, amount)
}

func (a *PaymentHTTPAdapter) transfer(ctx context.Context, path, token string, amount decimal.Decimal) error {
	params := url.Values{}
	params.Set("token", token)
	params.Set("amount", amount.String())

	if _, err := a.client.CallService(ctx, a.serviceName, path, params); err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(domain.ErrExternalTimeout, "payment transfer")
		}
		return errors.Wrap(err, "payment transfer failed")
	}
	return nil
}
