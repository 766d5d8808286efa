// internal/settlement/application/service.go
package application

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/settlement/application/saga"
	"bazaar/internal/settlement/domain"
	"bazaar/internal/settlement/domain/port"
	"bazaar/internal/settlement/escrow"
	"bazaar/internal/settlement/ledger"
)

// Config 是结算引擎的业务参数，全部来自注入的配置，不内置数值。
type Config struct {
	PlatformAccount   string
	ReturnWindow      time.Duration
	AutoConfirmWindow time.Duration
	ExternalTimeout   time.Duration
	CheckoutTimeout   time.Duration
	CompMaxRetries    int
	CompBackoff       time.Duration
}

// SettlementService 是订单与结算引擎的应用服务，只做业务流程编排。
// 库存账本与托管账户是进程内组件；定价、支付、对外事件都是出站端口。
type SettlementService struct {
	ledger      *ledger.Ledger
	escrow      *escrow.Account
	orderRepo   domain.OrderRepository
	disputeRepo domain.DisputeRepository

	priceSource port.PriceSource
	gateway     port.PaymentGateway
	commission  port.CommissionPolicy
	publisher   port.SettlementEventPublisher
	reporter    port.ReconciliationReporter

	tracer trace.Tracer
	cfg    Config

	// 同一订单的履约事件串行化；不同订单完全并行
	orderLocks sync.Map
}

func NewSettlementService(
	l *ledger.Ledger,
	a *escrow.Account,
	orderRepo domain.OrderRepository,
	disputeRepo domain.DisputeRepository,
	priceSource port.PriceSource,
	gateway port.PaymentGateway,
	commission port.CommissionPolicy,
	publisher port.SettlementEventPublisher,
	reporter port.ReconciliationReporter,
	tracer trace.Tracer,
	cfg Config,
) *SettlementService {
	if cfg.CheckoutTimeout == 0 {
		cfg.CheckoutTimeout = 30 * time.Second
	}
	return &SettlementService{
		ledger: l, escrow: a,
		orderRepo: orderRepo, disputeRepo: disputeRepo,
		priceSource: priceSource, gateway: gateway,
		commission: commission, publisher: publisher, reporter: reporter,
		tracer: tracer, cfg: cfg,
	}
}

// Checkout 执行结账 Saga：定价 -> 预占库存 -> 托管授权 -> 确认订单。
// 任何一步失败都会触发已登记补偿的全量回滚，失败原因指明具体的行和资源。
func (s *SettlementService) Checkout(ctx context.Context, req *CheckoutRequest) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.Checkout")
	defer span.End()

	if err := req.Validate(); err != nil {
		span.SetStatus(codes.Error, "Invalid checkout request")
		return nil, err
	}

	// 每个结账流程有独立的超时上限；调用方取消走同一条补偿路径
	processingCtx, cancel := context.WithTimeout(ctx, s.cfg.CheckoutTimeout)
	defer cancel()

	order, err := domain.NewOrder(uuid.New().String(), req.BuyerID, "", req.toLines())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.Int("order.lines", len(order.Lines)),
	)

	checkoutCtx := &saga.CheckoutContext{
		Ctx:             processingCtx,
		Order:           order,
		Instrument:      req.Instrument,
		Tracer:          s.tracer,
		PriceSource:     s.priceSource,
		Gateway:         s.gateway,
		Ledger:          s.ledger,
		Escrow:          s.escrow,
		Repo:            s.orderRepo,
		Reporter:        s.reporter,
		ExternalTimeout: s.cfg.ExternalTimeout,
		CompMaxRetries:  s.cfg.CompMaxRetries,
		CompBackoff:     s.cfg.CompBackoff,
	}

	chain := s.buildCheckoutChain()
	if err := chain.Handle(checkoutCtx); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).
			Msg("Checkout saga failed, triggering compensation")
		span.RecordError(err)
		span.SetStatus(codes.Error, "Checkout saga failed")

		checkoutCtx.TriggerCompensation(processingCtx)

		if errors.Is(err, domain.ErrInsufficientStock) {
			oversellRejections.Inc()
		}
		checkoutsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	checkoutsTotal.WithLabelValues("succeeded").Inc()
	s.publish(ctx, &domain.SettlementEvent{
		Type:    "order_placed",
		OrderID: order.ID,
		BuyerID: order.BuyerID,
		At:      time.Now(),
	})

	logger.Ctx(ctx).Info().Str("order_id", order.ID).Int("lines", len(order.Lines)).
		Msg("Checkout succeeded, order confirmed")
	return order, nil
}

func (s *SettlementService) buildCheckoutChain() saga.Handler {
	chain := new(saga.PricingHandler)
	chain.
		SetNext(new(saga.ReserveHandler)).
		SetNext(new(saga.EscrowHandler)).
		SetNext(saga.NewConfirmHandler(s.orderRepo))
	return chain
}

// GetOrder 查询订单聚合。
func (s *SettlementService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.orderRepo.FindByID(ctx, orderID)
}

// GetInventory 查询一条库存记录的快照。
func (s *SettlementService) GetInventory(ctx context.Context, variantID, vendorID string) (*domain.InventoryRecord, error) {
	return s.ledger.Get(ctx, variantID, vendorID)
}

// StockInventory 是卖家补货入口，记录不存在时创建。
func (s *SettlementService) StockInventory(ctx context.Context, variantID, vendorID string, qty int64) (*domain.InventoryRecord, error) {
	return s.ledger.Stock(ctx, variantID, vendorID, qty)
}

// publish 发布领域事件。发布失败是非关键路径，记警告后继续。
func (s *SettlementService) publish(ctx context.Context, event *domain.SettlementEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", event.OrderID).
			Str("type", event.Type).Msg("Failed to publish settlement event")
	}
}

// lockOrder 获取某订单的串行化锁，返回解锁函数。
func (s *SettlementService) lockOrder(orderID string) func() {
	v, _ := s.orderLocks.LoadOrStore(orderID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
