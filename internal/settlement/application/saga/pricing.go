// internal/settlement/application/saga/pricing.go
package saga

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"bazaar/internal/settlement/domain"
)

// PricingHandler 负责步骤 1：从目录定价源为每一行取价。
// 各行并发取价；任何一行定不出价就让整个 Saga 快速失败。
type PricingHandler struct {
	NextHandler
}

func (h *PricingHandler) Handle(checkoutCtx *CheckoutContext) error {
	ctx, span := checkoutCtx.Tracer.Start(checkoutCtx.Ctx, "saga.Pricing")
	defer span.End()

	span.SetAttributes(attribute.Int("order.lines", len(checkoutCtx.Order.Lines)))

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for i := range checkoutCtx.Order.Lines {
		line := &checkoutCtx.Order.Lines[i]
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, checkoutCtx.ExternalTimeout)
			defer cancel()

			price, err := checkoutCtx.PriceSource.GetPrice(callCtx, line.VariantID, line.VendorID)
			if err != nil {
				if callCtx.Err() != nil {
					err = errors.Wrap(domain.ErrExternalTimeout, err.Error())
				}
				return &domain.CheckoutError{
					Stage:     "pricing",
					VariantID: line.VariantID,
					VendorID:  line.VendorID,
					Cause:     err,
				}
			}

			mu.Lock()
			defer mu.Unlock()
			line.UnitPrice = price.UnitPrice
			// 单一币种约束：首行币种定调，混合币种按定价不可用处理
			if checkoutCtx.Order.Currency == "" {
				checkoutCtx.Order.Currency = price.Currency
			} else if checkoutCtx.Order.Currency != price.Currency {
				return &domain.CheckoutError{
					Stage:     "pricing",
					VariantID: line.VariantID,
					VendorID:  line.VendorID,
					Cause:     errors.Wrap(domain.ErrPricingUnavailable, "mixed currencies in one order"),
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Pricing failed")
		return err
	}

	span.AddEvent("All lines priced")
	return h.executeNext(checkoutCtx)
}
