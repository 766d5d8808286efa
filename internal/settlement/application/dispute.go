// internal/settlement/application/dispute.go
package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/settlement/domain"
)

// OpenDispute 对已发货或已签收的订单行开启争议，冻结对应 hold 的自动放款。
// 同一行同时只允许一个未决争议。
func (s *SettlementService) OpenDispute(ctx context.Context, orderID string, lineIndex int, reason string) (*domain.Dispute, error) {
	ctx, span := s.tracer.Start(ctx, "app.OpenDispute")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.Int("order.line", lineIndex),
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
	if line.Status != domain.LineShipped && line.Status != domain.LineDelivered {
		return nil, errors.Wrapf(domain.ErrDisputeConflict,
			"line %d is %s, disputes only apply to shipped or delivered lines", lineIndex, line.Status)
	}

	existing, err := s.disputeRepo.FindOpenByLine(ctx, orderID, lineIndex)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errors.Wrapf(domain.ErrDisputeConflict,
			"line %d already has open dispute %s", lineIndex, existing.ID)
	}

	if err := s.escrow.Freeze(ctx, line.HoldID); err != nil {
		return nil, err
	}

	dispute := &domain.Dispute{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		LineIndex: lineIndex,
		HoldID:    line.HoldID,
		Reason:    reason,
		State:     domain.DisputeOpen,
		OpenedAt:  time.Now(),
	}
	if err := s.disputeRepo.Save(ctx, dispute); err != nil {
		// 争议没立起来就把冻结撤掉，hold 回到可放款状态
		if uerr := s.escrow.Unfreeze(ctx, line.HoldID); uerr != nil {
			logger.Ctx(ctx).Error().Err(uerr).Str("hold_id", line.HoldID).
				Msg("Failed to unfreeze hold after dispute save failure")
		}
		return nil, err
	}

	disputesTotal.WithLabelValues("opened").Inc()
	logger.Ctx(ctx).Info().Str("dispute_id", dispute.ID).Str("order_id", orderID).
		Int("line", lineIndex).Msg("Dispute opened, hold frozen")

	snapshot := *dispute
	return &snapshot, nil
}

// ResolveDispute 裁决一个未决争议并按裁决执行资金流转：
//   - UPHOLD: 解冻，已签收的行照常放款给卖家
//   - PARTIAL_REFUND: 先退款指定金额给买家，再解冻并放款其余部分
//   - FULL_REFUND: 全额退款给买家，已签收的行推进到 REFUNDED（不回库存）
//
// 资金操作全部走托管账户的裁决通道，冻结不阻塞裁决本身。
func (s *SettlementService) ResolveDispute(ctx context.Context, disputeID string, outcome domain.DisputeOutcome) (*domain.Dispute, error) {
	ctx, span := s.tracer.Start(ctx, "app.ResolveDispute")
	defer span.End()
	span.SetAttributes(
		attribute.String("dispute.id", disputeID),
		attribute.String("dispute.outcome", string(outcome.Kind)),
	)

	dispute, err := s.disputeRepo.FindByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockOrder(dispute.OrderID)
	defer unlock()

	// 锁内重读，避免和并发裁决竞争
	dispute, err = s.disputeRepo.FindByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute.State != domain.DisputeOpen {
		return nil, errors.Wrapf(domain.ErrDisputeConflict, "dispute %s is already resolved", disputeID)
	}

	order, err := s.orderRepo.FindByID(ctx, dispute.OrderID)
	if err != nil {
		return nil, err
	}
	line, err := order.Line(dispute.LineIndex)
	if err != nil {
		return nil, err
	}

	switch outcome.Kind {
	case domain.OutcomeUphold:
		err = s.resolveUphold(ctx, order, dispute)
	case domain.OutcomePartialRefund:
		err = s.resolvePartialRefund(ctx, order, dispute, outcome.Amount)
	case domain.OutcomeFullRefund:
		err = s.resolveFullRefund(ctx, order, dispute)
	default:
		err = errors.Errorf("unknown dispute outcome %q", outcome.Kind)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Dispute resolution failed")
		return nil, err
	}

	now := time.Now()
	dispute.State = domain.DisputeResolved
	dispute.Outcome = &outcome
	dispute.ResolvedAt = &now
	if err := s.disputeRepo.Save(ctx, dispute); err != nil {
		return nil, err
	}
	if err := s.orderRepo.Save(ctx, order); err != nil {
		return nil, err
	}

	disputesTotal.WithLabelValues("resolved_" + string(outcome.Kind)).Inc()
	logger.Ctx(ctx).Info().Str("dispute_id", dispute.ID).Str("order_id", order.ID).
		Int("line", dispute.LineIndex).Str("outcome", string(outcome.Kind)).
		Msg("Dispute resolved")
	s.publish(ctx, &domain.SettlementEvent{
		Type: "dispute_resolved", OrderID: order.ID, LineIndex: dispute.LineIndex,
		BuyerID: order.BuyerID, VendorID: line.VendorID, At: now,
	})

	snapshot := *dispute
	return &snapshot, nil
}

func (s *SettlementService) resolveUphold(ctx context.Context, order *domain.Order, dispute *domain.Dispute) error {
	if err := s.escrow.Unfreeze(ctx, dispute.HoldID); err != nil {
		return err
	}
	line := &order.Lines[dispute.LineIndex]
	if line.Status == domain.LineDelivered {
		return s.settleDeliveredLine(ctx, order, dispute.LineIndex)
	}
	// 仍在运输中的行回到正常履约流程，签收时再放款
	return nil
}

func (s *SettlementService) resolvePartialRefund(ctx context.Context, order *domain.Order, dispute *domain.Dispute, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.New("partial refund amount must be positive")
	}
	hold, err := s.escrow.Get(dispute.HoldID)
	if err != nil {
		return err
	}
	if amount.GreaterThan(hold.Remaining()) {
		return errors.Wrapf(domain.ErrOverRelease,
			"partial refund %s exceeds remaining %s", amount, hold.Remaining())
	}

	if _, err := s.escrow.ResolveRefund(ctx, dispute.HoldID, amount); err != nil {
		return err
	}
	escrowTransfers.WithLabelValues("refund").Inc()

	line := &order.Lines[dispute.LineIndex]
	line.Refunded = line.Refunded.Add(amount)

	if err := s.escrow.Unfreeze(ctx, dispute.HoldID); err != nil {
		return err
	}
	if line.Status == domain.LineDelivered {
		return s.settleDeliveredLine(ctx, order, dispute.LineIndex)
	}
	return nil
}

func (s *SettlementService) resolveFullRefund(ctx context.Context, order *domain.Order, dispute *domain.Dispute) error {
	hold, err := s.escrow.Get(dispute.HoldID)
	if err != nil {
		return err
	}
	line := &order.Lines[dispute.LineIndex]

	if remaining := hold.Remaining(); remaining.IsPositive() {
		if _, err := s.escrow.ResolveRefund(ctx, dispute.HoldID, remaining); err != nil {
			return err
		}
		escrowTransfers.WithLabelValues("refund").Inc()
		line.Refunded = line.Refunded.Add(remaining)
	}
	if err := s.escrow.Unfreeze(ctx, dispute.HoldID); err != nil {
		return err
	}

	// 已签收的行按裁决退款收尾；货不回库存，损耗由卖家承担。
	// 仍在运输中的行保持 SHIPPED，签收后余额为零自然不再放款。
	if line.Status == domain.LineDelivered {
		if err := order.ApplyLineTransition(dispute.LineIndex, domain.LineReturned); err != nil {
			return err
		}
		if err := order.ApplyLineTransition(dispute.LineIndex, domain.LineRefunded); err != nil {
			return err
		}
	}
	return nil
}
