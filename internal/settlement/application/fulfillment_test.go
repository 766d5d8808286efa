// internal/settlement/application/fulfillment_test.go
package application

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"bazaar/internal/settlement/domain"
)

func (env *testEnv) placeOrder(t *testing.T, items ...CartItem) *domain.Order {
	t.Helper()
	order, err := env.svc.Checkout(context.Background(), &CheckoutRequest{
		BuyerID:    "buyer-1",
		Instrument: "card-1",
		Items:      items,
	})
	if err != nil {
		t.Fatal(err)
	}
	return order
}

func (env *testEnv) advance(t *testing.T, orderID string, lineIndex int, event FulfillmentEvent) *domain.OrderLine {
	t.Helper()
	line, err := env.svc.AdvanceFulfillment(context.Background(), orderID, lineIndex, event)
	if err != nil {
		t.Fatal(err)
	}
	return line
}

// Confirmed → Shipped → Delivered：签收触发放款，卖家拿小计减佣金，平台拿佣金。
func TestDeliveredLineSettlesMinusCommission(t *testing.T) {
	env := newTestEnv(t)
	env.stock(t, "v1", "alice", 10, 10)
	order := env.placeOrder(t, CartItem{VariantID: "v1", VendorID: "alice", Qty: 2}) // 小计 20

	line := env.advance(t, order.ID, 0, EventShipped)
	if line.Status != domain.LineShipped {
		t.Fatalf("line status = %s, want SHIPPED", line.Status)
	}
	// 发货不动资金
	hold, _ := env.escrow.Get(line.HoldID)
	if hold.State() != domain.HoldHeld {
		t.Fatalf("hold state after ship = %s, want HELD", hold.State())
	}

	line = env.advance(t, order.ID, 0, EventDelivered)
	if line.Status != domain.LineDelivered {
		t.Fatalf("line status = %s, want DELIVERED", line.Status)
	}

	hold, _ = env.escrow.Get(line.HoldID)
	if hold.State() != domain.HoldReleased {
		t.Fatalf("hold state = %s, want RELEASED", hold.State())
	}
	if !env.gateway.captured.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("captured = %s, want 20", env.gateway.captured)
	}

	// 事件金额：卖家 18（九成），平台 2（10% 佣金）
	settled := env.pub.byType("line_settled")
	if len(settled) != 1 || settled[0].Amount != "18" || settled[0].VendorID != "alice" {
		t.Fatalf("line_settled = %+v, want amount 18 to alice", settled)
	}
	commission := env.pub.byType("commission_settled")
	if len(commission) != 1 || commission[0].Amount != "2" || commission[0].VendorID != "platform" {
		t.Fatalf("commission_settled = %+v, want amount 2 to platform", commission)
	}

	got, err := env.svc.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if status := got.DeriveStatus(); status != domain.OrderDelivered {
		t.Fatalf("order status = %s, want DELIVERED", status)
	}
}

func TestInvalidFulfillmentEdgeRejected(t *testing.T) {
	env := newTestEnv(t)
	env.stock(t, "v1", "alice", 10, 10)
	order := env.placeOrder(t, CartItem{VariantID: "v1", VendorID: "alice", Qty: 1})

	// 没发货就签收
	_, err := env.svc.AdvanceFulfillment(context.Background(), order.ID, 0, EventDelivered)
	if !errors.Is(err, domain.ErrInvalidLineTransition) {
		t.Fatalf("expected ErrInvalidLineTransition, got %v", err)
	}

	// 发货后取消
	env.advance(t, order.ID, 0, EventShipped)
	_, err = env.svc.AdvanceFulfillment(context.Background(), order.ID, 0, EventCancelled)
	if !errors.Is(err, domain.ErrInvalidLineTransition) {
		t.Fatalf("expected ErrInvalidLineTransition on cancel after ship, got %v", err)
	}
}

// 发货前取消：库存回仓，托管全额退款。
func TestCancelBeforeShipment(t *testing.T) {
	env := newTestEnv(t)
	env.stock(t, "v1", "alice", 10, 10)
	order := env.placeOrder(t, CartItem{VariantID: "v1", VendorID: "alice", Qty: 2})
	env.checkInventory(t, "v1", "alice", 8, 0)

	line := env.advance(t, order.ID, 0, EventCancelled)
	if line.Status != domain.LineCancelled {
		t.Fatalf("line status = %s, want CANCELLED", line.Status)
	}

	// 已提交的预占通过重新入库回仓
	env.checkInventory(t, "v1", "alice", 10, 0)

	hold, _ := env.escrow.Get(line.HoldID)
	if hold.State() != domain.HoldRefunded {
		t.Fatalf("hold state = %s, want REFUNDED", hold.State())
	}
	if !env.gateway.reversed.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("reversed = %s, want 20", env.gateway.reversed)
	}

	got, _ := env.svc.GetOrder(context.Background(), order.ID)
	if status := got.DeriveStatus(); status != domain.OrderCancelled {
		t.Fatalf("order status = %s, want CANCELLED", status)
	}
}

// 签收时网关故障：行停在 DELIVERED、托管留在 HELD，重试补齐放款。
func TestSettlementRetriesAfterGatewayRecovery(t *testing.T) {
	env := newTestEnv(t)
	env.stock(t, "v1", "alice", 10, 10)
	order := env.placeOrder(t, CartItem{VariantID: "v1", VendorID: "alice", Qty: 2})
	env.advance(t, order.ID, 0, EventShipped)

	env.gateway.failTransfers.Store(true)
	_, err := env.svc.AdvanceFulfillment(context.Background(), order.ID, 0, EventDelivered)
	if err == nil {
		t.Fatal("expected settlement to fail while gateway is down")
	}

	got, _ := env.svc.GetOrder(context.Background(), order.ID)
	if got.Lines[0].Status != domain.LineDelivered {
		t.Fatalf("line status = %s, want DELIVERED (transition survives settle failure)", got.Lines[0].Status)
	}
	hold, _ := env.escrow.Get(got.Lines[0].HoldID)
	if hold.State() != domain.HoldHeld {
		t.Fatalf("hold state = %s, want HELD", hold.State())
	}

	// 网关恢复后重投同一事件（at-least-once），放款补齐且不重复流转
	env.gateway.failTransfers.Store(false)
	env.advance(t, order.ID, 0, EventDelivered)
	hold, _ = env.escrow.Get(got.Lines[0].HoldID)
	if hold.State() != domain.HoldReleased {
		t.Fatalf("hold state after retry = %s, want RELEASED", hold.State())
	}
}

// 窗口内退货：重新入库 + 退还托管余额，行走到 REFUNDED。
func TestReturnWithinWindowRestocksAndRefunds(t *testing.T) {
	env := newTestEnv(t)
	env.stock(t, "v1", "alice", 10, 10)
	order := env.placeOrder(t, CartItem{VariantID: "v1", VendorID: "alice", Qty: 2})
	env.advance(t, order.ID, 0, EventShipped)

	// 网关故障挡住签收放款，余额全部留在托管里
	env.gateway.failTransfers.Store(true)
	env.svc.AdvanceFulfillment(context.Background(), order.ID, 0, EventDelivered)
	env.gateway.failTransfers.Store(false)

	line := env.advance(t, order.ID, 0, EventReturned)
	if line.Status != domain.LineRefunded {
		t.Fatalf("line status = %s, want REFUNDED", line.Status)
	}
	if !line.Refunded.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("line refunded = %s, want 20", line.Refunded)
	}

	env.checkInventory(t, "v1", "alice", 10, 0)
	hold, _ := env.escrow.Get(line.HoldID)
	if hold.State() != domain.HoldRefunded {
		t.Fatalf("hold state = %s, want REFUNDED", hold.State())
	}

	got, _ := env.svc.GetOrder(context.Background(), order.ID)
	if status := got.DeriveStatus(); status != domain.OrderRefunded {
		t.Fatalf("order status = %s, want REFUNDED", status)
	}
}

// 入库存储故障时退货整体失败，状态停在 DELIVERED；恢复后重投恰好入库一次。
func TestReturnRetriesRestockAfterStorageFailure(t *testing.T) {
	env := newTestEnv(t)
	env.stock(t, "v1", "alice", 10, 10)
	ctx := context.Background()

	order := env.placeOrder(t, CartItem{VariantID: "v1", VendorID: "alice", Qty: 2})
	env.advance(t, order.ID, 0, EventShipped)

	// 网关故障挡住签收放款，余额留在托管里
	env.gateway.failTransfers.Store(true)
	env.svc.AdvanceFulfillment(ctx, order.ID, 0, EventDelivered)
	env.gateway.failTransfers.Store(false)

	env.ledgerStore.failSave.Store(true)
	if _, err := env.svc.AdvanceFulfillment(ctx, order.ID, 0, EventReturned); err == nil {
		t.Fatal("expected return to fail while inventory storage is down")
	}
	got, _ := env.svc.GetOrder(ctx, order.ID)
	if got.Lines[0].Status != domain.LineDelivered {
		t.Fatalf("line status = %s, want DELIVERED (return must not half-apply)", got.Lines[0].Status)
	}
	env.checkInventory(t, "v1", "alice", 8, 0)

	// 存储恢复后重投同一事件：入库一次，退款完成
	env.ledgerStore.failSave.Store(false)
	line := env.advance(t, order.ID, 0, EventReturned)
	if line.Status != domain.LineRefunded {
		t.Fatalf("line status = %s, want REFUNDED", line.Status)
	}
	env.checkInventory(t, "v1", "alice", 10, 0)
	if !line.Refunded.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("line refunded = %s, want 20", line.Refunded)
	}
}

func TestReturnOutsideWindowRejected(t *testing.T) {
	env := newTestEnv(t)
	env.stock(t, "v1", "alice", 10, 10)
	order := env.placeOrder(t, CartItem{VariantID: "v1", VendorID: "alice", Qty: 1})
	env.advance(t, order.ID, 0, EventShipped)
	env.advance(t, order.ID, 0, EventDelivered)

	// 把签收时间拨回窗口之外
	ctx := context.Background()
	stale, _ := env.svc.GetOrder(ctx, order.ID)
	past := time.Now().Add(-15 * 24 * time.Hour)
	stale.Lines[0].DeliveredAt = &past
	if err := env.orders.Save(ctx, stale); err != nil {
		t.Fatal(err)
	}

	_, err := env.svc.AdvanceFulfillment(ctx, order.ID, 0, EventReturned)
	if !errors.Is(err, domain.ErrInvalidLineTransition) {
		t.Fatalf("expected ErrInvalidLineTransition outside return window, got %v", err)
	}
}

// 超过自动确认窗口的已发货行由清扫推进到已签收并放款；窗口内的行不动。
func TestAutoConfirmSweepDeliversAfterWindow(t *testing.T) {
	env := newTestEnv(t)
	env.stock(t, "v1", "alice", 10, 10)
	env.stock(t, "v2", "bob", 5, 30)
	ctx := context.Background()

	order := env.placeOrder(t,
		CartItem{VariantID: "v1", VendorID: "alice", Qty: 2},
		CartItem{VariantID: "v2", VendorID: "bob", Qty: 1},
	)
	env.advance(t, order.ID, 0, EventShipped)
	env.advance(t, order.ID, 1, EventShipped)

	// 第一行的发货时间拨回窗口之外，第二行刚发货
	stale, _ := env.svc.GetOrder(ctx, order.ID)
	past := time.Now().Add(-8 * 24 * time.Hour)
	stale.Lines[0].ShippedAt = &past
	if err := env.orders.Save(ctx, stale); err != nil {
		t.Fatal(err)
	}

	env.svc.sweepAutoConfirm(ctx)

	got, _ := env.svc.GetOrder(ctx, order.ID)
	if got.Lines[0].Status != domain.LineDelivered {
		t.Fatalf("line 0 status = %s, want DELIVERED after auto-confirm", got.Lines[0].Status)
	}
	if got.Lines[1].Status != domain.LineShipped {
		t.Fatalf("line 1 status = %s, want SHIPPED (still inside window)", got.Lines[1].Status)
	}

	// 自动确认和人工签收走同一条放款路径
	hold, _ := env.escrow.Get(got.Lines[0].HoldID)
	if hold.State() != domain.HoldReleased {
		t.Fatalf("hold state = %s, want RELEASED", hold.State())
	}
	settled := env.pub.byType("line_settled")
	if len(settled) != 1 || settled[0].Amount != "18" {
		t.Fatalf("line_settled = %+v, want amount 18", settled)
	}
}

// 多卖家订单：各行独立推进，互不影响。
func TestLinesAdvanceIndependently(t *testing.T) {
	env := newTestEnv(t)
	env.stock(t, "v1", "alice", 10, 10)
	env.stock(t, "v2", "bob", 5, 30)
	order := env.placeOrder(t,
		CartItem{VariantID: "v1", VendorID: "alice", Qty: 2},
		CartItem{VariantID: "v2", VendorID: "bob", Qty: 1},
	)

	env.advance(t, order.ID, 0, EventShipped)
	env.advance(t, order.ID, 0, EventDelivered)
	// 第二行还没发货就取消
	env.advance(t, order.ID, 1, EventCancelled)

	got, _ := env.svc.GetOrder(context.Background(), order.ID)
	if got.Lines[0].Status != domain.LineDelivered || got.Lines[1].Status != domain.LineCancelled {
		t.Fatalf("line statuses = %s/%s, want DELIVERED/CANCELLED",
			got.Lines[0].Status, got.Lines[1].Status)
	}
	// 签收+取消的混合按部分退款归约
	if status := got.DeriveStatus(); status != domain.OrderPartiallyRefunded {
		t.Fatalf("order status = %s, want PARTIALLY_REFUNDED", status)
	}
	env.checkInventory(t, "v2", "bob", 5, 0)
}
