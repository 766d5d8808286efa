// internal/settlement/infrastructure/memory_store.go
package infrastructure

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"bazaar/internal/settlement/domain"
)

// 本文件是全部持久化端口的内存实现：单机部署和测试用。
// 生产部署换成同名的 GORM 实现，接口不变。

// MemoryOrderRepository 是 OrderRepository 的内存实现。
type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[string]*domain.Order)}
}

func (r *MemoryOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = copyOrder(order)
	return nil
}

func (r *MemoryOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrOrderNotFound, "order %s", id)
	}
	return copyOrder(order), nil
}

func (r *MemoryOrderRepository) FindByLineStatus(ctx context.Context, status domain.LineStatus) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*domain.Order
	for _, order := range r.orders {
		for i := range order.Lines {
			if order.Lines[i].Status == status {
				result = append(result, copyOrder(order))
				break
			}
		}
	}
	return result, nil
}

func copyOrder(order *domain.Order) *domain.Order {
	clone := *order
	clone.Lines = make([]domain.OrderLine, len(order.Lines))
	copy(clone.Lines, order.Lines)
	return &clone
}

// MemoryDisputeRepository 是 DisputeRepository 的内存实现。
type MemoryDisputeRepository struct {
	mu       sync.RWMutex
	disputes map[string]*domain.Dispute
}

func NewMemoryDisputeRepository() *MemoryDisputeRepository {
	return &MemoryDisputeRepository{disputes: make(map[string]*domain.Dispute)}
}

func (r *MemoryDisputeRepository) Save(ctx context.Context, d *domain.Dispute) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *d
	r.disputes[d.ID] = &clone
	return nil
}

func (r *MemoryDisputeRepository) FindByID(ctx context.Context, id string) (*domain.Dispute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.disputes[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrDisputeNotFound, "dispute %s", id)
	}
	clone := *d
	return &clone, nil
}

func (r *MemoryDisputeRepository) FindOpenByLine(ctx context.Context, orderID string, lineIndex int) (*domain.Dispute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.disputes {
		if d.OrderID == orderID && d.LineIndex == lineIndex && d.State == domain.DisputeOpen {
			clone := *d
			return &clone, nil
		}
	}
	return nil, nil
}

// MemoryLedgerStore 是账本写穿端口的内存实现。
type MemoryLedgerStore struct {
	mu           sync.Mutex
	records      map[string]*domain.InventoryRecord
	reservations map[string]*domain.Reservation
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		records:      make(map[string]*domain.InventoryRecord),
		reservations: make(map[string]*domain.Reservation),
	}
}

func (s *MemoryLedgerStore) SaveRecord(ctx context.Context, rec *domain.InventoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *rec
	s.records[rec.VariantID+"/"+rec.VendorID] = &clone
	return nil
}

func (s *MemoryLedgerStore) SaveReservation(ctx context.Context, res *domain.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *res
	s.reservations[res.ID] = &clone
	return nil
}

func (s *MemoryLedgerStore) LoadRecords(ctx context.Context) ([]*domain.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.InventoryRecord, 0, len(s.records))
	for _, rec := range s.records {
		clone := *rec
		out = append(out, &clone)
	}
	return out, nil
}

func (s *MemoryLedgerStore) LoadReservations(ctx context.Context) ([]*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Reservation, 0, len(s.reservations))
	for _, res := range s.reservations {
		clone := *res
		out = append(out, &clone)
	}
	return out, nil
}

// MemoryEscrowStore 是托管写穿端口的内存实现。
type MemoryEscrowStore struct {
	mu    sync.Mutex
	holds map[string]*domain.EscrowHold
}

func NewMemoryEscrowStore() *MemoryEscrowStore {
	return &MemoryEscrowStore{holds: make(map[string]*domain.EscrowHold)}
}

func (s *MemoryEscrowStore) SaveHold(ctx context.Context, hold *domain.EscrowHold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *hold
	s.holds[hold.ID] = &clone
	return nil
}

func (s *MemoryEscrowStore) LoadHolds(ctx context.Context) ([]*domain.EscrowHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.EscrowHold, 0, len(s.holds))
	for _, hold := range s.holds {
		clone := *hold
		out = append(out, &clone)
	}
	return out, nil
}
