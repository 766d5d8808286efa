// internal/settlement/application/saga/handler.go
package saga

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/settlement/domain"
	"bazaar/internal/settlement/domain/port"
	"bazaar/internal/settlement/escrow"
	"bazaar/internal/settlement/ledger"
)

// CheckoutContext 在 checkout Saga 流程中传递上下文数据。
// 所有外部依赖都是抽象接口；账本与托管是进程内组件但同样只通过其公开操作使用。
type CheckoutContext struct {
	Ctx        context.Context
	Order      *domain.Order
	Instrument string // 买家支付工具引用
	Tracer     trace.Tracer

	// 授权令牌由 EscrowHandler 写入，ConfirmHandler 之后随 hold 留存
	AuthToken string

	PriceSource port.PriceSource
	Gateway     port.PaymentGateway
	Ledger      *ledger.Ledger
	Escrow      *escrow.Account
	Repo        domain.OrderRepository
	Reporter    port.ReconciliationReporter

	// 每次外部调用的超时上限；补偿的重试参数
	ExternalTimeout time.Duration
	CompMaxRetries  int
	CompBackoff     time.Duration

	compensations []compensation
	compLock      sync.Mutex
}

// compensation 是一条已登记的补偿：执行函数加上升级用的对账描述。
type compensation struct {
	resource string
	action   string
	refID    string
	fn       func(ctx context.Context) error
}

// AddCompensation 登记一条补偿，后登记的先执行（LIFO）。
func (c *CheckoutContext) AddCompensation(resource, action, refID string, fn func(ctx context.Context) error) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	c.compensations = append([]compensation{{resource: resource, action: action, refID: refID, fn: fn}}, c.compensations...)
}

// TriggerCompensation 执行全部已登记的补偿。
// 每条补偿带退避重试；重试耗尽仍失败的补偿升级到人工对账队列，绝不静默丢弃。
// 补偿运行在独立的后台上下文上：主流程的超时/取消不该打断善后。
func (c *CheckoutContext) TriggerCompensation(ctx context.Context) {
	c.compLock.Lock()
	comps := c.compensations
	c.compensations = nil
	c.compLock.Unlock()

	// 保留链路信息但剥离原上下文的超时
	compCtx := trace.ContextWithSpanContext(context.Background(), trace.SpanContextFromContext(ctx))

	logger.Ctx(ctx).Info().Str("order_id", c.Order.ID).Int("count", len(comps)).
		Msg("Executing saga compensations")

	for _, comp := range comps {
		c.runCompensation(compCtx, comp)
	}
}

func (c *CheckoutContext) runCompensation(ctx context.Context, comp compensation) {
	backoff := c.CompBackoff
	var lastErr error
	for attempt := 0; attempt <= c.CompMaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		callCtx, cancel := context.WithTimeout(ctx, c.ExternalTimeout)
		lastErr = comp.fn(callCtx)
		cancel()
		if lastErr == nil {
			return
		}
	}

	logger.Ctx(ctx).Error().Err(lastErr).
		Str("order_id", c.Order.ID).
		Str("resource", comp.resource).
		Str("action", comp.action).
		Msg("Compensation exhausted retries, escalating to reconciliation")

	report := &domain.ReconciliationReport{
		ID:       uuid.New().String(),
		OrderID:  c.Order.ID,
		Resource: comp.resource,
		Action:   comp.action,
		RefID:    comp.refID,
		Reason:   lastErr.Error(),
		At:       time.Now(),
	}
	if err := c.Reporter.Report(ctx, report); err != nil {
		// 上报失败只能记日志，这里已经是最后一道兜底
		logger.Ctx(ctx).Error().Err(err).Str("order_id", c.Order.ID).
			Msg("CRITICAL: failed to publish reconciliation report")
	}
}

// Handler 与 NextHandler 构成责任链骨架。
type Handler interface {
	SetNext(handler Handler) Handler
	Handle(checkoutCtx *CheckoutContext) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(checkoutCtx *CheckoutContext) error {
	if h.next != nil {
		return h.next.Handle(checkoutCtx)
	}
	return nil
}
