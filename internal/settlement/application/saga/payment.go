// internal/settlement/application/saga/payment.go
package saga

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"bazaar/internal/settlement/domain"
	"bazaar/internal/settlement/escrow"
)

// EscrowHandler 负责步骤 3：对买家的支付工具做一次总额授权，
// 然后按行拆成以各卖家为收款方的托管 hold。
// 授权在任何内部锁之外执行，慢网关不会拖住无关的结账。
type EscrowHandler struct {
	NextHandler
}

func (h *EscrowHandler) Handle(checkoutCtx *CheckoutContext) error {
	ctx, span := checkoutCtx.Tracer.Start(checkoutCtx.Ctx, "saga.EscrowHold")
	defer span.End()

	order := checkoutCtx.Order

	total := decimal.Zero
	for i := range order.Lines {
		total = total.Add(order.Lines[i].Subtotal())
	}
	span.SetAttributes(attribute.String("escrow.total", total.String()))

	authCtx, cancel := context.WithTimeout(ctx, checkoutCtx.ExternalTimeout)
	token, err := checkoutCtx.Gateway.Authorize(authCtx, checkoutCtx.Instrument, total, order.BuyerID)
	cancel()
	if err != nil {
		if authCtx.Err() != nil {
			err = errors.Wrap(domain.ErrExternalTimeout, err.Error())
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Payment authorization failed")
		return &domain.CheckoutError{Stage: "escrow", Cause: err}
	}
	checkoutCtx.AuthToken = token

	// 授权成功后任何下游失败都要冲正整笔授权
	checkoutCtx.AddCompensation("escrow_hold", "reverse", token, func(compCtx context.Context) error {
		return checkoutCtx.Gateway.Reverse(compCtx, token, total)
	})

	for i := range order.Lines {
		line := &order.Lines[i]
		hold, err := checkoutCtx.Escrow.Open(ctx, escrow.OpenHoldSpec{
			OrderID:   order.ID,
			LineIndex: i,
			PayerID:   order.BuyerID,
			PayeeID:   line.VendorID,
			AuthToken: token,
			Amount:    line.Subtotal(),
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to open escrow hold")
			return &domain.CheckoutError{
				Stage:     "escrow",
				VariantID: line.VariantID,
				VendorID:  line.VendorID,
				Cause:     err,
			}
		}
		line.HoldID = hold.ID
	}

	span.AddEvent("Authorization obtained and per-line holds opened")
	return h.executeNext(checkoutCtx)
}
