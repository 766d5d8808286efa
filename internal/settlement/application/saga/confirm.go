// internal/settlement/application/saga/confirm.go
package saga

import (
	"context"

	"go.opentelemetry.io/otel/codes"

	"bazaar/internal/settlement/domain"
)

// ConfirmHandler 负责步骤 4：提交所有预占，把行推进到 CONFIRMED 并持久化订单。
// 这是 Saga 的终点；到这里失败依然会触发全量补偿（冲正授权、退回库存）。
type ConfirmHandler struct {
	NextHandler
	repo domain.OrderRepository
}

func NewConfirmHandler(repo domain.OrderRepository) *ConfirmHandler {
	return &ConfirmHandler{repo: repo}
}

func (h *ConfirmHandler) Handle(checkoutCtx *CheckoutContext) error {
	ctx, span := checkoutCtx.Tracer.Start(checkoutCtx.Ctx, "saga.ConfirmOrder")
	defer span.End()

	order := checkoutCtx.Order

	for i := range order.Lines {
		line := &order.Lines[i]
		if err := checkoutCtx.Ledger.Commit(ctx, line.ReservationID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Reservation commit failed")
			return &domain.CheckoutError{
				Stage:     "confirm",
				VariantID: line.VariantID,
				VendorID:  line.VendorID,
				Cause:     err,
			}
		}

		// 预占已提交，此后回滚该行要走重新入库而不是释放
		variantID, vendorID, qty := line.VariantID, line.VendorID, line.Qty
		checkoutCtx.AddCompensation("reservation", "restock", line.ReservationID, func(compCtx context.Context) error {
			_, err := checkoutCtx.Ledger.Stock(compCtx, variantID, vendorID, qty)
			return err
		})

		if err := order.ApplyLineTransition(i, domain.LineConfirmed); err != nil {
			return err
		}
	}

	if err := h.repo.Save(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to persist confirmed order")
		return &domain.CheckoutError{Stage: "confirm", Cause: err}
	}

	span.AddEvent("Order confirmed and persisted")
	return h.executeNext(checkoutCtx)
}
