// internal/settlement/escrow/account.go
package escrow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"bazaar/internal/settlement/domain"
	"bazaar/internal/settlement/domain/port"
)

// Store 是托管账户的写穿持久化端口。
type Store interface {
	SaveHold(ctx context.Context, hold *domain.EscrowHold) error
	LoadHolds(ctx context.Context) ([]*domain.EscrowHold, error)
}

type holdEntry struct {
	mu   sync.Mutex
	hold *domain.EscrowHold
}

// Account 管理全部托管资金。
// 每笔 hold 的变更串行在自己的锁上；放款/退款对网关的调用在锁外执行，
// 金额先在锁内暂记，网关失败后回退，保证并发部分放款求和正确且永不超额。
type Account struct {
	mu    sync.RWMutex
	holds map[string]*holdEntry

	gateway port.PaymentGateway
	store   Store
}

// NewAccount 创建托管账户并从 store 回放已有 hold。
func NewAccount(ctx context.Context, gateway port.PaymentGateway, store Store) (*Account, error) {
	a := &Account{
		holds:   make(map[string]*holdEntry),
		gateway: gateway,
		store:   store,
	}
	holds, err := store.LoadHolds(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load escrow holds")
	}
	for _, h := range holds {
		a.holds[h.ID] = &holdEntry{hold: h}
	}
	return a, nil
}

// OpenHoldSpec 描述一笔待登记的托管。
// Token 来自一次已经成功的网关授权；多行订单共享同一个授权令牌。
type OpenHoldSpec struct {
	OrderID   string
	LineIndex int
	PayerID   string
	PayeeID   string
	AuthToken string
	Amount    decimal.Decimal
}

// Open 登记一笔处于 HELD 状态的托管。授权本身由调用方（checkout Saga）完成。
func (a *Account) Open(ctx context.Context, spec OpenHoldSpec) (*domain.EscrowHold, error) {
	if !spec.Amount.IsPositive() {
		return nil, errors.New("hold amount must be positive")
	}
	now := time.Now()
	hold := &domain.EscrowHold{
		ID:        uuid.New().String(),
		OrderID:   spec.OrderID,
		LineIndex: spec.LineIndex,
		PayerID:   spec.PayerID,
		PayeeID:   spec.PayeeID,
		AuthToken: spec.AuthToken,
		Amount:    spec.Amount,
		Released:  decimal.Zero,
		Refunded:  decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.SaveHold(ctx, hold); err != nil {
		return nil, errors.Wrap(err, "failed to persist escrow hold")
	}

	a.mu.Lock()
	a.holds[hold.ID] = &holdEntry{hold: hold}
	a.mu.Unlock()

	snapshot := *hold
	return &snapshot, nil
}

// Release 把至多剩余金额的一部分转给收款方（卖家或平台）。
// 被争议冻结的 hold 拒绝自动放款；裁决路径走 ResolveRelease。
func (a *Account) Release(ctx context.Context, holdID string, amount decimal.Decimal) (*domain.EscrowHold, error) {
	return a.transfer(ctx, holdID, amount, transferRelease, false)
}

// Refund 把至多剩余金额的一部分退回付款方（买家）。
func (a *Account) Refund(ctx context.Context, holdID string, amount decimal.Decimal) (*domain.EscrowHold, error) {
	return a.transfer(ctx, holdID, amount, transferRefund, false)
}

// ResolveRelease / ResolveRefund 供争议裁决使用，可对冻结中的 hold 操作。
func (a *Account) ResolveRelease(ctx context.Context, holdID string, amount decimal.Decimal) (*domain.EscrowHold, error) {
	return a.transfer(ctx, holdID, amount, transferRelease, true)
}

func (a *Account) ResolveRefund(ctx context.Context, holdID string, amount decimal.Decimal) (*domain.EscrowHold, error) {
	return a.transfer(ctx, holdID, amount, transferRefund, true)
}

type transferKind int

const (
	transferRelease transferKind = iota
	transferRefund
)

// transfer 执行一次两段式转出：
// 锁内校验并暂记金额 -> 解锁 -> 调网关 -> 锁内落定或回退。
// 网关失败时 hold 回到调用前的状态并返回可重试错误，重复重试不会重复扣账。
func (a *Account) transfer(ctx context.Context, holdID string, amount decimal.Decimal, kind transferKind, overrideFreeze bool) (*domain.EscrowHold, error) {
	e, err := a.entry(holdID)
	if err != nil {
		return nil, err
	}

	// 第一段：校验并暂记
	e.mu.Lock()
	if e.hold.Disputed && !overrideFreeze {
		e.mu.Unlock()
		return nil, errors.Wrapf(domain.ErrDisputeConflict, "hold %s is frozen by an open dispute", holdID)
	}
	if amount.IsZero() {
		// 重复调用已完成的转账属于安全的空操作
		snapshot := *e.hold
		e.mu.Unlock()
		return &snapshot, nil
	}
	if !e.hold.CanTransfer(amount) {
		remaining := e.hold.Remaining()
		e.mu.Unlock()
		return nil, errors.Wrapf(domain.ErrOverRelease,
			"hold %s: requested %s, remaining %s", holdID, amount, remaining)
	}
	switch kind {
	case transferRelease:
		e.hold.Released = e.hold.Released.Add(amount)
	case transferRefund:
		e.hold.Refunded = e.hold.Refunded.Add(amount)
	}
	token := e.hold.AuthToken
	e.mu.Unlock()

	// 网关调用在锁外，慢网络不会阻塞同一 hold 之外的任何操作
	var gwErr error
	switch kind {
	case transferRelease:
		gwErr = a.gateway.Capture(ctx, token, amount)
	case transferRefund:
		gwErr = a.gateway.Reverse(ctx, token, amount)
	}

	// 第二段：落定或回退
	e.mu.Lock()
	defer e.mu.Unlock()
	if gwErr != nil {
		switch kind {
		case transferRelease:
			e.hold.Released = e.hold.Released.Sub(amount)
		case transferRefund:
			e.hold.Refunded = e.hold.Refunded.Sub(amount)
		}
		return nil, errors.Wrapf(gwErr, "gateway transfer failed, hold %s kept %s (retryable)", holdID, e.hold.State())
	}
	e.hold.UpdatedAt = time.Now()
	if err := a.store.SaveHold(ctx, e.hold); err != nil {
		// 资金已实际划转，落库失败只能上抛给对账，绝不回退金额
		return nil, errors.Wrap(err, "transfer succeeded but failed to persist hold")
	}
	snapshot := *e.hold
	return &snapshot, nil
}

// Freeze 冻结一笔 hold 的自动放款（争议开启）。
func (a *Account) Freeze(ctx context.Context, holdID string) error {
	return a.setFrozen(ctx, holdID, true)
}

// Unfreeze 解除冻结（争议裁决后）。
func (a *Account) Unfreeze(ctx context.Context, holdID string) error {
	return a.setFrozen(ctx, holdID, false)
}

func (a *Account) setFrozen(ctx context.Context, holdID string, frozen bool) error {
	e, err := a.entry(holdID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hold.Disputed = frozen
	e.hold.UpdatedAt = time.Now()
	if err := a.store.SaveHold(ctx, e.hold); err != nil {
		e.hold.Disputed = !frozen
		return errors.Wrap(err, "failed to persist hold freeze state")
	}
	return nil
}

// Get 返回一笔 hold 的快照。
func (a *Account) Get(holdID string) (*domain.EscrowHold, error) {
	e, err := a.entry(holdID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := *e.hold
	return &snapshot, nil
}

func (a *Account) entry(holdID string) (*holdEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.holds[holdID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrHoldNotFound, "hold %s", holdID)
	}
	return e, nil
}
