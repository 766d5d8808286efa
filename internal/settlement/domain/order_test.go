// internal/settlement/domain/order_test.go
package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestLines() []OrderLine {
	return []OrderLine{
		{VariantID: "v1", VendorID: "alice", Qty: 2, UnitPrice: decimal.NewFromInt(10)},
		{VariantID: "v2", VendorID: "bob", Qty: 1, UnitPrice: decimal.NewFromInt(30)},
	}
}

func TestNewOrderRejectsDuplicateLines(t *testing.T) {
	lines := []OrderLine{
		{VariantID: "v1", VendorID: "alice", Qty: 1},
		{VariantID: "v1", VendorID: "alice", Qty: 2},
	}
	if _, err := NewOrder("o1", "buyer", "USD", lines); err == nil {
		t.Fatal("expected duplicate (variant, vendor) lines to be rejected")
	}

	// 同一 variant 不同 vendor 是合法的
	lines = []OrderLine{
		{VariantID: "v1", VendorID: "alice", Qty: 1},
		{VariantID: "v1", VendorID: "bob", Qty: 2},
	}
	order, err := NewOrder("o1", "buyer", "USD", lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range order.Lines {
		if order.Lines[i].Status != LinePendingReservation {
			t.Errorf("line %d status = %s, want PENDING_RESERVATION", i, order.Lines[i].Status)
		}
	}
}

func TestLineTransitionEdges(t *testing.T) {
	cases := []struct {
		from, to LineStatus
		ok       bool
	}{
		{LinePendingReservation, LineReserved, true},
		{LineReserved, LineConfirmed, true},
		{LineReserved, LineCancelled, true},
		{LineConfirmed, LineShipped, true},
		{LineConfirmed, LineCancelled, true},
		{LineShipped, LineDelivered, true},
		{LineDelivered, LineReturned, true},
		{LineReturned, LineRefunded, true},
		// 非法的边
		{LinePendingReservation, LineConfirmed, false},
		{LineReserved, LineShipped, false},
		{LineConfirmed, LineDelivered, false},
		{LineShipped, LineCancelled, false}, // 发货后不能取消
		{LineShipped, LineReturned, false},
		{LineDelivered, LineCancelled, false},
		{LineRefunded, LineDelivered, false},
		{LineCancelled, LineReserved, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestApplyLineTransitionRejectsInvalidEdge(t *testing.T) {
	order, err := NewOrder("o1", "buyer", "USD", newTestLines())
	if err != nil {
		t.Fatal(err)
	}

	// 跳过 RESERVED 直接确认
	if err := order.ApplyLineTransition(0, LineConfirmed); !errors.Is(err, ErrInvalidLineTransition) {
		t.Fatalf("expected ErrInvalidLineTransition, got %v", err)
	}
	if order.Lines[0].Status != LinePendingReservation {
		t.Errorf("failed transition must not mutate the line, status = %s", order.Lines[0].Status)
	}

	if err := order.ApplyLineTransition(0, LineReserved); err != nil {
		t.Fatal(err)
	}
	if err := order.ApplyLineTransition(0, LineConfirmed); err != nil {
		t.Fatal(err)
	}
	if err := order.ApplyLineTransition(0, LineShipped); err != nil {
		t.Fatal(err)
	}
	if order.Lines[0].ShippedAt == nil {
		t.Error("ShippedAt must be set on SHIPPED transition")
	}

	// 发货后取消被拒绝
	if err := order.ApplyLineTransition(0, LineCancelled); !errors.Is(err, ErrInvalidLineTransition) {
		t.Fatalf("expected ErrInvalidLineTransition after shipping, got %v", err)
	}
}

func TestDeriveStatus(t *testing.T) {
	forty := decimal.NewFromInt(40)
	cases := []struct {
		name  string
		lines []OrderLine
		want  OrderStatus
	}{
		{"all pending", []OrderLine{{Status: LinePendingReservation}, {Status: LineReserved}}, OrderPending},
		{"mixed pending confirmed", []OrderLine{{Status: LineReserved}, {Status: LineConfirmed}}, OrderPending},
		{"all confirmed", []OrderLine{{Status: LineConfirmed}, {Status: LineConfirmed}}, OrderConfirmed},
		{"in flight", []OrderLine{{Status: LineShipped}, {Status: LineConfirmed}}, OrderFulfilling},
		{"all delivered clean", []OrderLine{{Status: LineDelivered}, {Status: LineDelivered}}, OrderDelivered},
		{"all cancelled", []OrderLine{{Status: LineCancelled}, {Status: LineCancelled}}, OrderCancelled},
		{"all refunded", []OrderLine{{Status: LineRefunded}, {Status: LineRefunded}}, OrderRefunded},
		{"refunded and cancelled", []OrderLine{{Status: LineRefunded}, {Status: LineCancelled}}, OrderRefunded},
		{"delivered with partial refund", []OrderLine{{Status: LineDelivered, Qty: 1, UnitPrice: decimal.NewFromInt(100), Refunded: forty}}, OrderPartiallyRefunded},
		{"delivered but fully refunded", []OrderLine{{Status: LineDelivered, Qty: 1, UnitPrice: forty, Refunded: forty}}, OrderRefunded},
		{"refunded line next to delivered", []OrderLine{{Status: LineRefunded}, {Status: LineDelivered}}, OrderPartiallyRefunded},
		{"delivered and cancelled mix", []OrderLine{{Status: LineDelivered}, {Status: LineCancelled}}, OrderPartiallyRefunded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveStatus(tc.lines); got != tc.want {
				t.Errorf("DeriveStatus = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestHoldStateDerivation(t *testing.T) {
	hundred := decimal.NewFromInt(100)

	hold := &EscrowHold{Amount: hundred, Released: decimal.Zero, Refunded: decimal.Zero}
	if got := hold.State(); got != HoldHeld {
		t.Errorf("fresh hold state = %s, want HELD", got)
	}

	hold.Released = decimal.NewFromInt(60)
	if got := hold.State(); got != HoldPartiallyReleased {
		t.Errorf("partial hold state = %s, want PARTIALLY_RELEASED", got)
	}

	hold.Released = hundred
	if got := hold.State(); got != HoldReleased {
		t.Errorf("fully released state = %s, want RELEASED", got)
	}

	// 既有放款又有退款：余额为零也停在 PARTIALLY_RELEASED
	hold = &EscrowHold{Amount: hundred, Released: decimal.NewFromInt(60), Refunded: decimal.NewFromInt(40)}
	if !hold.Settled() {
		t.Error("hold with zero remaining must be settled")
	}
	if got := hold.State(); got != HoldPartiallyReleased {
		t.Errorf("mixed hold state = %s, want PARTIALLY_RELEASED", got)
	}

	hold = &EscrowHold{Amount: hundred, Refunded: hundred}
	if got := hold.State(); got != HoldRefunded {
		t.Errorf("fully refunded state = %s, want REFUNDED", got)
	}
}
