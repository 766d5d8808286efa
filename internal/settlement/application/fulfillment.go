// internal/settlement/application/fulfillment.go
package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/settlement/domain"
)

// AdvanceFulfillment 推进一个订单行的履约状态并执行伴随的资金/库存效果。
// 同一订单的事件串行处理；重复投递（at-least-once 消费）是安全的：
// 状态已到位时跳过流转，只补做未完成的效果。
func (s *SettlementService) AdvanceFulfillment(ctx context.Context, orderID string, lineIndex int, event FulfillmentEvent) (*domain.OrderLine, error) {
	ctx, span := s.tracer.Start(ctx, "app.AdvanceFulfillment")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.Int("order.line", lineIndex),
		attribute.String("fulfillment.event", string(event)),
	)

	unlock := s.lockOrder(orderID)
	defer unlock()

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	line, err := order.Line(lineIndex)
	if err != nil {
		return nil, err
	}

	switch event {
	case EventShipped:
		err = s.handleShipped(ctx, order, lineIndex)
	case EventDelivered:
		err = s.handleDelivered(ctx, order, lineIndex)
	case EventReturned:
		err = s.handleReturned(ctx, order, lineIndex)
	case EventCancelled:
		err = s.handleCancelled(ctx, order, lineIndex)
	default:
		err = errors.Errorf("unknown fulfillment event %q", event)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Fulfillment transition failed")
		return nil, err
	}

	snapshot := *line
	return &snapshot, nil
}

// handleShipped: CONFIRMED -> SHIPPED，无资金效果。
func (s *SettlementService) handleShipped(ctx context.Context, order *domain.Order, i int) error {
	line := &order.Lines[i]
	if line.Status == domain.LineShipped {
		return nil // 重复投递
	}
	if err := order.ApplyLineTransition(i, domain.LineShipped); err != nil {
		return err
	}
	return s.orderRepo.Save(ctx, order)
}

// handleDelivered: SHIPPED -> DELIVERED，随后把该行 hold 的余额放款给卖家
// （扣除佣金，佣金放款给平台账户）。争议冻结的 hold 留到裁决时处理。
func (s *SettlementService) handleDelivered(ctx context.Context, order *domain.Order, i int) error {
	line := &order.Lines[i]
	if line.Status != domain.LineDelivered {
		if err := order.ApplyLineTransition(i, domain.LineDelivered); err != nil {
			return err
		}
		if err := s.orderRepo.Save(ctx, order); err != nil {
			return err
		}
	}

	err := s.settleDeliveredLine(ctx, order, i)
	if errors.Is(err, domain.ErrDisputeConflict) {
		logger.Ctx(ctx).Info().Str("order_id", order.ID).Int("line", i).
			Msg("Hold frozen by open dispute, settlement deferred to resolution")
		return nil
	}
	return err
}

// settleDeliveredLine 放款一个已签收行的托管余额。幂等：余额为零直接返回。
func (s *SettlementService) settleDeliveredLine(ctx context.Context, order *domain.Order, i int) error {
	line := &order.Lines[i]
	hold, err := s.escrow.Get(line.HoldID)
	if err != nil {
		return err
	}
	remaining := hold.Remaining()
	if remaining.IsZero() {
		return nil
	}

	commission, err := s.commission.Commission(ctx, line.VendorID, remaining)
	if err != nil {
		return errors.Wrap(err, "commission policy failed")
	}
	if commission.GreaterThan(remaining) {
		commission = remaining
	}
	net := remaining.Sub(commission)

	if net.IsPositive() {
		if _, err := s.escrow.Release(ctx, line.HoldID, net); err != nil {
			return err
		}
		escrowTransfers.WithLabelValues("release").Inc()
		s.publish(ctx, &domain.SettlementEvent{
			Type: "line_settled", OrderID: order.ID, LineIndex: i,
			VendorID: line.VendorID, Amount: net.String(), At: time.Now(),
		})
	}
	if commission.IsPositive() {
		if _, err := s.escrow.Release(ctx, line.HoldID, commission); err != nil {
			return err
		}
		escrowTransfers.WithLabelValues("release").Inc()
		s.publish(ctx, &domain.SettlementEvent{
			Type: "commission_settled", OrderID: order.ID, LineIndex: i,
			VendorID: s.cfg.PlatformAccount, Amount: commission.String(), At: time.Now(),
		})
	}
	return nil
}

// handleReturned: DELIVERED -> RETURNED -> REFUNDED。
// 库存已提交，回滚走重新入库；资金走全额退款。退货窗口之外拒绝。
func (s *SettlementService) handleReturned(ctx context.Context, order *domain.Order, i int) error {
	line := &order.Lines[i]

	if line.Status != domain.LineReturned {
		if line.DeliveredAt != nil && time.Since(*line.DeliveredAt) > s.cfg.ReturnWindow {
			return errors.Wrap(domain.ErrInvalidLineTransition, "return window closed")
		}
		if err := order.ApplyLineTransition(i, domain.LineReturned); err != nil {
			return err
		}
		// 入库先于落库 RETURNED：入库失败时订单仍是 DELIVERED，重试会重做这两步。
		// 落库之后的退款重试走下面的余额分支，不会再碰库存。
		if _, err := s.ledger.Stock(ctx, line.VariantID, line.VendorID, line.Qty); err != nil {
			return err
		}
		if err := s.orderRepo.Save(ctx, order); err != nil {
			return err
		}
	}

	hold, err := s.escrow.Get(line.HoldID)
	if err != nil {
		return err
	}
	if remaining := hold.Remaining(); remaining.IsPositive() {
		if _, err := s.escrow.Refund(ctx, line.HoldID, remaining); err != nil {
			return err
		}
		escrowTransfers.WithLabelValues("refund").Inc()
		line.Refunded = line.Refunded.Add(remaining)
	}

	if err := order.ApplyLineTransition(i, domain.LineRefunded); err != nil {
		return err
	}
	if err := s.orderRepo.Save(ctx, order); err != nil {
		return err
	}
	s.publish(ctx, &domain.SettlementEvent{
		Type: "line_refunded", OrderID: order.ID, LineIndex: i,
		BuyerID: order.BuyerID, At: time.Now(),
	})
	return nil
}

// handleCancelled: RESERVED/CONFIRMED -> CANCELLED，发货前的最后出口。
// 预占未提交则释放，已提交则重新入库；托管全额退款。
func (s *SettlementService) handleCancelled(ctx context.Context, order *domain.Order, i int) error {
	line := &order.Lines[i]
	alreadyCancelled := line.Status == domain.LineCancelled
	if !alreadyCancelled {
		if err := order.ApplyLineTransition(i, domain.LineCancelled); err != nil {
			return err
		}
		if err := s.orderRepo.Save(ctx, order); err != nil {
			return err
		}

		if line.ReservationID != "" {
			err := s.ledger.Release(ctx, line.ReservationID)
			switch {
			case err == nil, errors.Is(err, domain.ErrAlreadyReleased):
				// 预占还在或已被释放
			case errors.Is(err, domain.ErrUnknownReservation):
				// 已提交的预占回不去了，重新入库
				if _, err := s.ledger.Stock(ctx, line.VariantID, line.VendorID, line.Qty); err != nil {
					return err
				}
			default:
				return err
			}
		}
	}

	if line.HoldID != "" {
		hold, err := s.escrow.Get(line.HoldID)
		if err != nil {
			return err
		}
		if remaining := hold.Remaining(); remaining.IsPositive() {
			if _, err := s.escrow.Refund(ctx, line.HoldID, remaining); err != nil {
				return err
			}
			escrowTransfers.WithLabelValues("refund").Inc()
			line.Refunded = line.Refunded.Add(remaining)
			if err := s.orderRepo.Save(ctx, order); err != nil {
				return err
			}
		}
	}

	s.publish(ctx, &domain.SettlementEvent{
		Type: "line_cancelled", OrderID: order.ID, LineIndex: i,
		BuyerID: order.BuyerID, At: time.Now(),
	})
	return nil
}

// StartSweeps 启动两类后台清扫：
//   - 超过自动确认窗口的已发货行推进到已签收
//   - 已签收但托管尚未放完的行重试放款（网关瞬时失败后的恢复路径）
func (s *SettlementService) StartSweeps(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepAutoConfirm(ctx)
				s.sweepUnsettled(ctx)
			}
		}
	}()
}

func (s *SettlementService) sweepAutoConfirm(ctx context.Context) {
	orders, err := s.orderRepo.FindByLineStatus(ctx, domain.LineShipped)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Auto-confirm sweep failed to list orders")
		return
	}
	for _, order := range orders {
		for i := range order.Lines {
			line := &order.Lines[i]
			if line.Status != domain.LineShipped || line.ShippedAt == nil {
				continue
			}
			if time.Since(*line.ShippedAt) < s.cfg.AutoConfirmWindow {
				continue
			}
			if _, err := s.AdvanceFulfillment(ctx, order.ID, i, EventDelivered); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("order_id", order.ID).Int("line", i).
					Msg("Auto-confirm failed")
			}
		}
	}
}

func (s *SettlementService) sweepUnsettled(ctx context.Context) {
	orders, err := s.orderRepo.FindByLineStatus(ctx, domain.LineDelivered)
	if err != nil {
		return
	}
	for _, order := range orders {
		for i := range order.Lines {
			if order.Lines[i].Status != domain.LineDelivered {
				continue
			}
			// 幂等：已放完的行在 settle 里直接短路
			if _, err := s.AdvanceFulfillment(ctx, order.ID, i, EventDelivered); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("order_id", order.ID).Int("line", i).
					Msg("Settlement retry failed")
			}
		}
	}
}
