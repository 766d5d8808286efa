// internal/settlement/application/checkout_test.go
package application

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"bazaar/internal/settlement/domain"
	"bazaar/internal/settlement/domain/port"
	"bazaar/internal/settlement/escrow"
	"bazaar/internal/settlement/infrastructure"
	"bazaar/internal/settlement/ledger"
)

// ---- 出站端口的测试替身 ----

type fakePriceSource struct {
	mu     sync.Mutex
	prices map[string]port.Price // key: variantID/vendorID
}

func (f *fakePriceSource) set(variantID, vendorID string, unitPrice int64, currency string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prices == nil {
		f.prices = make(map[string]port.Price)
	}
	f.prices[variantID+"/"+vendorID] = port.Price{UnitPrice: decimal.NewFromInt(unitPrice), Currency: currency}
}

func (f *fakePriceSource) GetPrice(ctx context.Context, variantID, vendorID string) (port.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[variantID+"/"+vendorID]
	if !ok {
		return port.Price{}, errors.Wrapf(domain.ErrPricingUnavailable, "variant %s vendor %s", variantID, vendorID)
	}
	return price, nil
}

type fakeGateway struct {
	mu            sync.Mutex
	declineAuth   atomic.Bool
	failTransfers atomic.Bool

	authorized decimal.Decimal
	captured   decimal.Decimal
	reversed   decimal.Decimal
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{authorized: decimal.Zero, captured: decimal.Zero, reversed: decimal.Zero}
}

func (g *fakeGateway) Authorize(ctx context.Context, instrument string, amount decimal.Decimal, payerID string) (string, error) {
	if g.declineAuth.Load() {
		return "", errors.Wrap(domain.ErrPaymentAuthorizationFailed, "card declined")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.authorized = g.authorized.Add(amount)
	return "tok-" + payerID, nil
}

func (g *fakeGateway) Capture(ctx context.Context, token string, amount decimal.Decimal) error {
	if g.failTransfers.Load() {
		return errors.New("gateway unavailable")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captured = g.captured.Add(amount)
	return nil
}

func (g *fakeGateway) Reverse(ctx context.Context, token string, amount decimal.Decimal) error {
	if g.failTransfers.Load() {
		return errors.New("gateway unavailable")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reversed = g.reversed.Add(amount)
	return nil
}

// fixedCommission 按固定比例抽佣，测试里用 10% 保证金额精确。
type fixedCommission struct{ rate decimal.Decimal }

func (c *fixedCommission) Commission(ctx context.Context, vendorID string, subtotal decimal.Decimal) (decimal.Decimal, error) {
	return subtotal.Mul(c.rate), nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*domain.SettlementEvent
}

func (p *fakePublisher) Publish(ctx context.Context, event *domain.SettlementEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) byType(eventType string) []*domain.SettlementEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*domain.SettlementEvent
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []*domain.ReconciliationReport
}

func (r *fakeReporter) Report(ctx context.Context, report *domain.ReconciliationReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

// failingOrderRepo 在 Save 上注入失败，用来逼出确认阶段的全量补偿。
type failingOrderRepo struct {
	domain.OrderRepository
	failSave atomic.Bool
}

func (r *failingOrderRepo) Save(ctx context.Context, order *domain.Order) error {
	if r.failSave.Load() {
		return errors.New("storage unavailable")
	}
	return r.OrderRepository.Save(ctx, order)
}

// failingLedgerStore 在 SaveRecord 上注入失败，模拟退货入库时的存储故障。
type failingLedgerStore struct {
	ledger.Store
	failSave atomic.Bool
}

func (s *failingLedgerStore) SaveRecord(ctx context.Context, rec *domain.InventoryRecord) error {
	if s.failSave.Load() {
		return errors.New("storage unavailable")
	}
	return s.Store.SaveRecord(ctx, rec)
}

// ---- 组装 ----

type testEnv struct {
	svc         *SettlementService
	ledger      *ledger.Ledger
	ledgerStore *failingLedgerStore
	escrow      *escrow.Account
	orders      *failingOrderRepo
	gateway     *fakeGateway
	prices      *fakePriceSource
	pub         *fakePublisher
	reporter    *fakeReporter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	gw := newFakeGateway()
	ledgerStore := &failingLedgerStore{Store: infrastructure.NewMemoryLedgerStore()}
	l, err := ledger.NewLedger(ctx, ledgerStore, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	a, err := escrow.NewAccount(ctx, gw, infrastructure.NewMemoryEscrowStore())
	if err != nil {
		t.Fatal(err)
	}

	orders := &failingOrderRepo{OrderRepository: infrastructure.NewMemoryOrderRepository()}
	prices := &fakePriceSource{}
	pub := &fakePublisher{}
	reporter := &fakeReporter{}

	svc := NewSettlementService(
		l, a,
		orders, infrastructure.NewMemoryDisputeRepository(),
		prices, gw,
		&fixedCommission{rate: decimal.RequireFromString("0.1")},
		pub, reporter,
		noop.NewTracerProvider().Tracer("test"),
		Config{
			PlatformAccount:   "platform",
			ReturnWindow:      14 * 24 * time.Hour,
			AutoConfirmWindow: 7 * 24 * time.Hour,
			ExternalTimeout:   time.Second,
			CheckoutTimeout:   5 * time.Second,
			CompMaxRetries:    1,
			CompBackoff:       time.Millisecond,
		},
	)

	return &testEnv{svc: svc, ledger: l, ledgerStore: ledgerStore, escrow: a, orders: orders,
		gateway: gw, prices: prices, pub: pub, reporter: reporter}
}

func (env *testEnv) stock(t *testing.T, variantID, vendorID string, qty int64, unitPrice int64) {
	t.Helper()
	if _, err := env.ledger.Stock(context.Background(), variantID, vendorID, qty); err != nil {
		t.Fatal(err)
	}
	env.prices.set(variantID, vendorID, unitPrice, "USD")
}

func (env *testEnv) checkInventory(t *testing.T, variantID, vendorID string, available, reserved int64) {
	t.Helper()
	rec, err := env.ledger.Get(context.Background(), variantID, vendorID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Available != available || rec.Reserved != reserved {
		t.Fatalf("%s/%s: available=%d reserved=%d, want %d/%d",
			variantID, vendorID, rec.Available, rec.Reserved, available, reserved)
	}
}

// ---- 用例 ----

func TestCheckoutHappyPath(t *testing.T) {
	env := newTestEnv(t)
	env.stock(t, "v1", "alice", 10, 10)
	env.stock(t, "v2", "bob", 5, 30)

	order, err := env.svc.Checkout(context.Background(), &CheckoutRequest{
		BuyerID:    "buyer-1",
		Instrument: "card-1",
		Items: []CartItem{
			{VariantID: "v1", VendorID: "alice", Qty: 2},
			{VariantID: "v2", VendorID: "bob", Qty: 1},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := order.DeriveStatus(); got != domain.OrderConfirmed {
		t.Fatalf("order status = %s, want CONFIRMED", got)
	}
	if order.Currency != "USD" {
		t.Fatalf("order currency = %q, want USD", order.Currency)
	}

	// 预占已提交：可用减少，预占清零
	env.checkInventory(t, "v1", "alice", 8, 0)
	env.checkInventory(t, "v2", "bob", 4, 0)

	// 每行一笔 hold，收款方是对应的卖家
	total := decimal.Zero
	for i := range order.Lines {
		line := &order.Lines[i]
		if line.Status != domain.LineConfirmed {
			t.Errorf("line %d status = %s, want CONFIRMED", i, line.Status)
		}
		hold, err := env.escrow.Get(line.HoldID)
		if err != nil {
			t.Fatal(err)
		}
		if hold.State() != domain.HoldHeld {
			t.Errorf("hold %s state = %s, want HELD", hold.ID, hold.State())
		}
		if hold.PayeeID != line.VendorID {
			t.Errorf("hold payee = %s, want %s", hold.PayeeID, line.VendorID)
		}
		if !hold.Amount.Equal(line.Subtotal()) {
			t.Errorf("hold amount = %s, want %s", hold.Amount, line.Subtotal())
		}
		total = total.Add(hold.Amount)
	}
	if !env.gateway.authorized.Equal(total) {
		t.Fatalf("authorized %s, want %s", env.gateway.authorized, total)
	}
	if len(env.pub.byType("order_placed")) != 1 {
		t.Fatal("expected one order_placed event")
	}
}

func TestCheckoutFailsOnInsufficientStock(t *testing.T) {
	env := newTestEnv(t)
	env.stock(t, "v1", "alice", 10, 10)
	env.stock(t, "v2", "bob", 1, 30)

	_, err := env.svc.Checkout(context.Background(), &CheckoutRequest{
		BuyerID:    "buyer-1",
		Instrument: "card-1",
		Items: []CartItem{
			{VariantID: "v1", VendorID: "alice", Qty: 2},
			{VariantID: "v2", VendorID: "bob", Qty: 2}, // 库存只有 1
		},
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	// 失败原因指向具体的行
	var checkoutErr *domain.CheckoutError
	if !errors.As(err, &checkoutErr) {
		t.Fatalf("expected *domain.CheckoutError, got %T", err)
	}
	if checkoutErr.Stage != "reserve" || checkoutErr.VariantID != "v2" {
		t.Fatalf("checkout error stage=%s variant=%s, want reserve/v2", checkoutErr.Stage, checkoutErr.VariantID)
	}

	// 补偿已释放先前的预占，库存完好
	env.checkInventory(t, "v1", "alice", 10, 0)
	env.checkInventory(t, "v2", "bob", 1, 0)
	// 没有走到托管阶段
	if !env.gateway.authorized.IsZero() {
		t.Fatalf("authorized %s, want 0", env.gateway.authorized)
	}
}

func TestCheckoutFailsOnPaymentDecline(t *testing.T) {
	env := newTestEnv(t)
	env.stock(t, "v1", "alice", 10, 10)
	env.stock(t, "v2", "bob", 5, 30)
	env.gateway.declineAuth.Store(true)

	_, err := env.svc.Checkout(context.Background(), &CheckoutRequest{
		BuyerID:    "buyer-1",
		Instrument: "card-1",
		Items: []CartItem{
			{VariantID: "v1", VendorID: "alice", Qty: 2},
			{VariantID: "v2", VendorID: "bob", Qty: 1},
		},
	})
	if !errors.Is(err, domain.ErrPaymentAuthorizationFailed) {
		t.Fatalf("expected ErrPaymentAuthorizationFailed, got %v", err)
	}

	// 全部预占被补偿释放
	env.checkInventory(t, "v1", "alice", 10, 0)
	env.checkInventory(t, "v2", "bob", 5, 0)
}

func TestCheckoutFailsOnMissingPrice(t *testing.T) {
	env := newTestEnv(t)
	env.stock(t, "v1", "alice", 10, 10)

	_, err := env.svc.Checkout(context.Background(), &CheckoutRequest{
		BuyerID:    "buyer-1",
		Instrument: "card-1",
		Items: []CartItem{
			{VariantID: "v1", VendorID: "alice", Qty: 1},
			{VariantID: "v-ghost", VendorID: "bob", Qty: 1},
		},
	})
	if !errors.Is(err, domain.ErrPricingUnavailable) {
		t.Fatalf("expected ErrPricingUnavailable, got %v", err)
	}
	env.checkInventory(t, "v1", "alice", 10, 0)
}

// 确认阶段失败 + 冲正通道也坏了：补偿重试耗尽后必须升级到对账，绝不静默丢弃。
func TestFailedCompensationEscalatesToReconciliation(t *testing.T) {
	env := newTestEnv(t)
	env.stock(t, "v1", "alice", 10, 10)
	env.orders.failSave.Store(true)
	// 授权成功之后的失败触发冲正，而冲正通道此刻也是坏的
	env.gateway.failTransfers.Store(true)

	_, err := env.svc.Checkout(context.Background(), &CheckoutRequest{
		BuyerID:    "buyer-1",
		Instrument: "card-1",
		Items:      []CartItem{{VariantID: "v1", VendorID: "alice", Qty: 2}},
	})
	if err == nil {
		t.Fatal("expected checkout to fail on order persistence")
	}

	// 库存补偿成功：提交的预占被重新入库
	env.checkInventory(t, "v1", "alice", 10, 0)

	env.reporter.mu.Lock()
	defer env.reporter.mu.Unlock()
	found := false
	for _, report := range env.reporter.reports {
		if report.Resource == "escrow_hold" && report.Action == "reverse" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected escrow reverse escalation, got %d reports", len(env.reporter.reports))
	}
}

// 两个并发 checkout 抢同一变体的最后一件：恰好一个成功。
func TestConcurrentCheckoutsLastUnit(t *testing.T) {
	env := newTestEnv(t)
	env.stock(t, "v1", "alice", 1, 10)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = env.svc.Checkout(context.Background(), &CheckoutRequest{
				BuyerID:    "buyer",
				Instrument: "card",
				Items:      []CartItem{{VariantID: "v1", VendorID: "alice", Qty: 1}},
			})
		}(i)
	}
	wg.Wait()

	succeeded, insufficient := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientStock):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || insufficient != 1 {
		t.Fatalf("succeeded=%d insufficient=%d, want 1/1", succeeded, insufficient)
	}
	env.checkInventory(t, "v1", "alice", 0, 0)
}

func TestCheckoutValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []*CheckoutRequest{
		{BuyerID: "", Instrument: "card", Items: []CartItem{{VariantID: "v1", VendorID: "a", Qty: 1}}},
		{BuyerID: "b", Instrument: "", Items: []CartItem{{VariantID: "v1", VendorID: "a", Qty: 1}}},
		{BuyerID: "b", Instrument: "card", Items: nil},
		{BuyerID: "b", Instrument: "card", Items: []CartItem{{VariantID: "v1", VendorID: "a", Qty: 0}}},
		{BuyerID: "b", Instrument: "card", Items: []CartItem{{VariantID: "", VendorID: "a", Qty: 1}}},
	}
	for i, req := range cases {
		if _, err := env.svc.Checkout(context.Background(), req); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}
