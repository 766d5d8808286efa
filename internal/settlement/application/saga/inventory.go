// internal/settlement/application/saga/inventory.go
package saga

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"bazaar/internal/settlement/domain"
)

// ReserveHandler 负责步骤 2：为每一行预占库存。
// 预占按 (variant, vendor) 排序后的固定顺序执行，
// 多个 checkout 触碰重叠记录时不会出现交叉死锁或活锁。
type ReserveHandler struct {
	NextHandler
}

func (h *ReserveHandler) Handle(checkoutCtx *CheckoutContext) error {
	ctx, span := checkoutCtx.Tracer.Start(checkoutCtx.Ctx, "saga.InventoryReserve")
	defer span.End()

	order := checkoutCtx.Order

	indices := make([]int, len(order.Lines))
	for i := range indices {
		indices[i] = i
	}
	sort.Slice(indices, func(a, b int) bool {
		la, lb := &order.Lines[indices[a]], &order.Lines[indices[b]]
		if la.VariantID != lb.VariantID {
			return la.VariantID < lb.VariantID
		}
		return la.VendorID < lb.VendorID
	})

	for _, i := range indices {
		line := &order.Lines[i]
		span.SetAttributes(attribute.String("inventory.variant", line.VariantID))

		reservationID, err := checkoutCtx.Ledger.Reserve(ctx, line.VariantID, line.VendorID, line.Qty)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Inventory reservation failed")
			// 先前已成功的预占由 TriggerCompensation 释放
			return &domain.CheckoutError{
				Stage:     "reserve",
				VariantID: line.VariantID,
				VendorID:  line.VendorID,
				Cause:     err,
			}
		}

		line.ReservationID = reservationID
		if err := order.ApplyLineTransition(i, domain.LineReserved); err != nil {
			return err
		}

		resID := reservationID
		checkoutCtx.AddCompensation("reservation", "release", resID, func(compCtx context.Context) error {
			err := checkoutCtx.Ledger.Release(compCtx, resID)
			// 已释放或已提交（后续有入库补偿接手）都算补偿完成
			if errors.Is(err, domain.ErrAlreadyReleased) || errors.Is(err, domain.ErrUnknownReservation) {
				return nil
			}
			return err
		})
	}

	span.AddEvent("All lines reserved")
	return h.executeNext(checkoutCtx)
}
