// internal/settlement/infrastructure/mapper.go
package infrastructure

import (
	"bazaar/internal/settlement/domain"
)

// 数据库模型与领域模型之间的双向转换。

func toOrderModel(order *domain.Order) *OrderModel {
	m := &OrderModel{
		ID:        order.ID,
		BuyerID:   order.BuyerID,
		Currency:  order.Currency,
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
	}
	for i := range order.Lines {
		line := &order.Lines[i]
		m.Lines = append(m.Lines, OrderLineModel{
			OrderID:       order.ID,
			LineIndex:     i,
			VariantID:     line.VariantID,
			VendorID:      line.VendorID,
			Qty:           line.Qty,
			UnitPrice:     line.UnitPrice,
			Status:        string(line.Status),
			HoldID:        line.HoldID,
			ReservationID: line.ReservationID,
			Refunded:      line.Refunded,
			ShippedAt:     line.ShippedAt,
			DeliveredAt:   line.DeliveredAt,
		})
	}
	return m
}

func toDomainOrder(m *OrderModel) *domain.Order {
	order := &domain.Order{
		ID:        m.ID,
		BuyerID:   m.BuyerID,
		Currency:  m.Currency,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Lines:     make([]domain.OrderLine, len(m.Lines)),
	}
	for _, lm := range m.Lines {
		order.Lines[lm.LineIndex] = domain.OrderLine{
			VariantID:     lm.VariantID,
			VendorID:      lm.VendorID,
			Qty:           lm.Qty,
			UnitPrice:     lm.UnitPrice,
			Status:        domain.LineStatus(lm.Status),
			HoldID:        lm.HoldID,
			ReservationID: lm.ReservationID,
			Refunded:      lm.Refunded,
			ShippedAt:     lm.ShippedAt,
			DeliveredAt:   lm.DeliveredAt,
		}
	}
	return order
}

func toDisputeModel(d *domain.Dispute) *DisputeModel {
	m := &DisputeModel{
		ID:         d.ID,
		OrderID:    d.OrderID,
		LineIndex:  d.LineIndex,
		HoldID:     d.HoldID,
		Reason:     d.Reason,
		State:      string(d.State),
		OpenedAt:   d.OpenedAt,
		ResolvedAt: d.ResolvedAt,
	}
	if d.Outcome != nil {
		m.OutcomeKind = string(d.Outcome.Kind)
		m.OutcomeAmount = d.Outcome.Amount
	}
	return m
}

func toDomainDispute(m *DisputeModel) *domain.Dispute {
	d := &domain.Dispute{
		ID:         m.ID,
		OrderID:    m.OrderID,
		LineIndex:  m.LineIndex,
		HoldID:     m.HoldID,
		Reason:     m.Reason,
		State:      domain.DisputeState(m.State),
		OpenedAt:   m.OpenedAt,
		ResolvedAt: m.ResolvedAt,
	}
	if m.OutcomeKind != "" {
		d.Outcome = &domain.DisputeOutcome{
			Kind:   domain.DisputeOutcomeKind(m.OutcomeKind),
			Amount: m.OutcomeAmount,
		}
	}
	return d
}

func toInventoryModel(rec *domain.InventoryRecord) *InventoryRecordModel {
	return &InventoryRecordModel{
		VariantID: rec.VariantID,
		VendorID:  rec.VendorID,
		Available: rec.Available,
		Reserved:  rec.Reserved,
		UpdatedAt: rec.UpdatedAt,
	}
}

func toReservationModel(res *domain.Reservation) *ReservationModel {
	return &ReservationModel{
		ID:        res.ID,
		VariantID: res.VariantID,
		VendorID:  res.VendorID,
		Qty:       res.Qty,
		State:     string(res.State),
		ExpiresAt: res.ExpiresAt,
		CreatedAt: res.CreatedAt,
	}
}

func toHoldModel(hold *domain.EscrowHold) *EscrowHoldModel {
	return &EscrowHoldModel{
		ID:        hold.ID,
		OrderID:   hold.OrderID,
		LineIndex: hold.LineIndex,
		PayerID:   hold.PayerID,
		PayeeID:   hold.PayeeID,
		AuthToken: hold.AuthToken,
		Amount:    hold.Amount,
		Released:  hold.Released,
		Refunded:  hold.Refunded,
		Disputed:  hold.Disputed,
		CreatedAt: hold.CreatedAt,
		UpdatedAt: hold.UpdatedAt,
	}
}

func toDomainHold(m *EscrowHoldModel) *domain.EscrowHold {
	return &domain.EscrowHold{
		ID:        m.ID,
		OrderID:   m.OrderID,
		LineIndex: m.LineIndex,
		PayerID:   m.PayerID,
		PayeeID:   m.PayeeID,
		AuthToken: m.AuthToken,
		Amount:    m.Amount,
		Released:  m.Released,
		Refunded:  m.Refunded,
		Disputed:  m.Disputed,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
