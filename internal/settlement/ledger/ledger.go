// internal/settlement/ledger/ledger.go
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/settlement/domain"
)

// Store 是账本的写穿持久化端口。运行期的权威状态在内存里，
// 每次变更同步落库，重启时由 NewLedger 回放。
type Store interface {
	SaveRecord(ctx context.Context, rec *domain.InventoryRecord) error
	SaveReservation(ctx context.Context, res *domain.Reservation) error
	LoadRecords(ctx context.Context) ([]*domain.InventoryRecord, error)
	LoadReservations(ctx context.Context) ([]*domain.Reservation, error)
}

type recordKey struct {
	variantID string
	vendorID  string
}

// entry 把一条库存记录和它的互斥锁绑在一起。
// 对同一 (variant, vendor) 的所有操作都串行在这把锁上，并发预占不会超卖。
type entry struct {
	mu  sync.Mutex
	rec *domain.InventoryRecord
}

// Ledger 是库存账本：可用/预占两列数字加一张预占表。
// 预占带过期时间，超时未提交由后台清扫释放，防止被遗弃的结账流程锁死库存。
type Ledger struct {
	mu           sync.RWMutex
	records      map[recordKey]*entry
	reservations map[string]*domain.Reservation

	store Store
	ttl   time.Duration
}

// NewLedger 创建账本并从 store 回放已有状态。
func NewLedger(ctx context.Context, store Store, reservationTTL time.Duration) (*Ledger, error) {
	l := &Ledger{
		records:      make(map[recordKey]*entry),
		reservations: make(map[string]*domain.Reservation),
		store:        store,
		ttl:          reservationTTL,
	}

	recs, err := store.LoadRecords(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load inventory records")
	}
	for _, rec := range recs {
		l.records[recordKey{rec.VariantID, rec.VendorID}] = &entry{rec: rec}
	}

	ress, err := store.LoadReservations(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load reservations")
	}
	for _, res := range ress {
		l.reservations[res.ID] = res
	}
	return l, nil
}

// Stock 为 (variant, vendor) 增加在库数量，记录不存在时创建。
// 卖家补货和退货重新入库都走这里。
func (l *Ledger) Stock(ctx context.Context, variantID, vendorID string, qty int64) (*domain.InventoryRecord, error) {
	if qty <= 0 {
		return nil, errors.New("stock qty must be positive")
	}
	e := l.getOrCreate(variantID, vendorID)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec.Available += qty
	e.rec.UpdatedAt = time.Now()
	if err := l.store.SaveRecord(ctx, e.rec); err != nil {
		e.rec.Available -= qty
		return nil, errors.Wrap(err, "failed to persist inventory record")
	}
	snapshot := *e.rec
	return &snapshot, nil
}

// Reserve 把 qty 从可用移到预占，返回预占句柄。
// 可用量不足返回 ErrInsufficientStock。对同一记录的并发调用由记录锁串行化。
func (l *Ledger) Reserve(ctx context.Context, variantID, vendorID string, qty int64) (string, error) {
	if qty <= 0 {
		return "", errors.New("reserve qty must be positive")
	}
	e, ok := l.get(variantID, vendorID)
	if !ok {
		return "", errors.Wrapf(domain.ErrInsufficientStock, "no inventory for variant %s vendor %s", variantID, vendorID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec.Available < qty {
		return "", errors.Wrapf(domain.ErrInsufficientStock,
			"variant %s vendor %s: requested %d, available %d", variantID, vendorID, qty, e.rec.Available)
	}

	res := &domain.Reservation{
		ID:        uuid.New().String(),
		VariantID: variantID,
		VendorID:  vendorID,
		Qty:       qty,
		State:     domain.ReservationPending,
		ExpiresAt: time.Now().Add(l.ttl),
		CreatedAt: time.Now(),
	}

	e.rec.Available -= qty
	e.rec.Reserved += qty
	e.rec.UpdatedAt = time.Now()

	if err := l.persistBoth(ctx, e.rec, res); err != nil {
		e.rec.Available += qty
		e.rec.Reserved -= qty
		return "", err
	}

	l.mu.Lock()
	l.reservations[res.ID] = res
	l.mu.Unlock()
	return res.ID, nil
}

// Commit 把预占量转为永久扣减（在库总量减少）。
// 预占已提交或已释放时返回 ErrUnknownReservation。
func (l *Ledger) Commit(ctx context.Context, reservationID string) error {
	return l.transition(ctx, reservationID, func(rec *domain.InventoryRecord, res *domain.Reservation) error {
		if res.Terminal() {
			return errors.Wrapf(domain.ErrUnknownReservation, "reservation %s is %s", res.ID, res.State)
		}
		rec.Reserved -= res.Qty
		res.State = domain.ReservationCommitted
		return nil
	})
}

// Release 把预占量退回可用。幂等：重复释放返回 ErrAlreadyReleased，
// 状态不受任何破坏，调用方可以放心重试。
func (l *Ledger) Release(ctx context.Context, reservationID string) error {
	return l.transition(ctx, reservationID, func(rec *domain.InventoryRecord, res *domain.Reservation) error {
		switch res.State {
		case domain.ReservationReleased, domain.ReservationExpired:
			return domain.ErrAlreadyReleased
		case domain.ReservationCommitted:
			return errors.Wrapf(domain.ErrUnknownReservation, "reservation %s already committed", res.ID)
		}
		rec.Reserved -= res.Qty
		rec.Available += res.Qty
		res.State = domain.ReservationReleased
		return nil
	})
}

// Get 返回一条库存记录的快照。
func (l *Ledger) Get(ctx context.Context, variantID, vendorID string) (*domain.InventoryRecord, error) {
	e, ok := l.get(variantID, vendorID)
	if !ok {
		return nil, domain.ErrInventoryNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := *e.rec
	return &snapshot, nil
}

// GetReservation 返回一条预占的快照。
func (l *Ledger) GetReservation(reservationID string) (*domain.Reservation, error) {
	l.mu.RLock()
	res, ok := l.reservations[reservationID]
	l.mu.RUnlock()
	if !ok {
		return nil, domain.ErrUnknownReservation
	}
	snapshot := *res
	return &snapshot, nil
}

// StartExpirySweeper 启动后台清扫，按固定间隔释放过期的 PENDING 预占。
// ctx 取消后退出。
func (l *Ledger) StartExpirySweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.sweepExpired(ctx)
			}
		}
	}()
}

// sweepExpired 扫描过期预占。过期与提交在记录锁内以状态守卫互斥：
// 先到者把状态带离 PENDING，后到者看到终态直接放弃，不存在 last-writer-wins。
func (l *Ledger) sweepExpired(ctx context.Context) {
	now := time.Now()

	l.mu.RLock()
	candidates := make([]string, 0)
	for id, res := range l.reservations {
		if res.State == domain.ReservationPending && res.ExpiresAt.Before(now) {
			candidates = append(candidates, id)
		}
	}
	l.mu.RUnlock()

	for _, id := range candidates {
		err := l.transition(ctx, id, func(rec *domain.InventoryRecord, res *domain.Reservation) error {
			if res.Terminal() {
				// 清扫窗口内被提交或释放了，放弃
				return domain.ErrAlreadyReleased
			}
			if res.ExpiresAt.After(time.Now()) {
				return domain.ErrAlreadyReleased
			}
			rec.Reserved -= res.Qty
			rec.Available += res.Qty
			res.State = domain.ReservationExpired
			return nil
		})
		if err == nil {
			logger.Ctx(ctx).Warn().Str("reservation_id", id).Msg("Expired reservation released by sweeper")
		}
	}
}

// transition 在记录锁内对 (record, reservation) 执行一次状态流转并写穿。
// fn 返回错误时内存状态保持不变。
func (l *Ledger) transition(ctx context.Context, reservationID string, fn func(*domain.InventoryRecord, *domain.Reservation) error) error {
	l.mu.RLock()
	res, ok := l.reservations[reservationID]
	l.mu.RUnlock()
	if !ok {
		return errors.Wrapf(domain.ErrUnknownReservation, "reservation %s not found", reservationID)
	}

	e, ok := l.get(res.VariantID, res.VendorID)
	if !ok {
		return domain.ErrInventoryNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	recBefore := *e.rec
	resBefore := *res
	if err := fn(e.rec, res); err != nil {
		return err
	}
	e.rec.UpdatedAt = time.Now()

	if err := l.persistBoth(ctx, e.rec, res); err != nil {
		*e.rec = recBefore
		*res = resBefore
		return err
	}
	return nil
}

func (l *Ledger) persistBoth(ctx context.Context, rec *domain.InventoryRecord, res *domain.Reservation) error {
	if err := l.store.SaveRecord(ctx, rec); err != nil {
		return errors.Wrap(err, "failed to persist inventory record")
	}
	if err := l.store.SaveReservation(ctx, res); err != nil {
		return errors.Wrap(err, "failed to persist reservation")
	}
	return nil
}

func (l *Ledger) get(variantID, vendorID string) (*entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.records[recordKey{variantID, vendorID}]
	return e, ok
}

func (l *Ledger) getOrCreate(variantID, vendorID string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := recordKey{variantID, vendorID}
	if e, ok := l.records[key]; ok {
		return e
	}
	e := &entry{rec: &domain.InventoryRecord{
		VariantID: variantID,
		VendorID:  vendorID,
		UpdatedAt: time.Now(),
	}}
	l.records[key] = e
	return e
}
