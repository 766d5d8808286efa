// internal/settlement/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bazaar/internal/settlement/domain"
)

// NewDB 打开 MySQL 连接并迁移结算引擎的全部表。
func NewDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open mysql")
	}
	if err := db.AutoMigrate(
		&OrderModel{}, &OrderLineModel{},
		&InventoryRecordModel{}, &ReservationModel{},
		&EscrowHoldModel{}, &DisputeModel{},
	); err != nil {
		return nil, errors.Wrap(err, "failed to migrate settlement tables")
	}
	return db, nil
}

func isDuplicateKey(err error) bool {
	var mysqlErr *gomysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// GormOrderRepository 是 OrderRepository 的 GORM 实现。
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// Save 保存订单聚合：先插入，撞主键说明是更新，改走 upsert。
func (r *GormOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	model := toOrderModel(order)
	err := r.db.WithContext(ctx).Create(model).Error
	if err == nil {
		return nil
	}
	if !isDuplicateKey(err) {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&OrderModel{}).Where("id = ?", model.ID).
			Updates(map[string]interface{}{"updated_at": model.UpdatedAt}).Error; err != nil {
			return err
		}
		for i := range model.Lines {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "order_id"}, {Name: "line_index"}},
				UpdateAll: true,
			}).Create(&model.Lines[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Preload("Lines").Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(domain.ErrOrderNotFound, "order %s", id)
		}
		return nil, err
	}
	return toDomainOrder(&model), nil
}

func (r *GormOrderRepository) FindByLineStatus(ctx context.Context, status domain.LineStatus) ([]*domain.Order, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&OrderLineModel{}).
		Distinct("order_id").Where("status = ?", string(status)).Pluck("order_id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var models []OrderModel
	if err := r.db.WithContext(ctx).Preload("Lines").Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	orders := make([]*domain.Order, 0, len(models))
	for i := range models {
		orders = append(orders, toDomainOrder(&models[i]))
	}
	return orders, nil
}

// GormDisputeRepository 是 DisputeRepository 的 GORM 实现。
type GormDisputeRepository struct {
	db *gorm.DB
}

func NewGormDisputeRepository(db *gorm.DB) *GormDisputeRepository {
	return &GormDisputeRepository{db: db}
}

func (r *GormDisputeRepository) Save(ctx context.Context, d *domain.Dispute) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).
		Create(toDisputeModel(d)).Error
}

func (r *GormDisputeRepository) FindByID(ctx context.Context, id string) (*domain.Dispute, error) {
	var model DisputeModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(domain.ErrDisputeNotFound, "dispute %s", id)
		}
		return nil, err
	}
	return toDomainDispute(&model), nil
}

func (r *GormDisputeRepository) FindOpenByLine(ctx context.Context, orderID string, lineIndex int) (*domain.Dispute, error) {
	var model DisputeModel
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND line_index = ? AND state = ?", orderID, lineIndex, string(domain.DisputeOpen)).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toDomainDispute(&model), nil
}

// GormLedgerStore 是账本写穿端口的 GORM 实现。
type GormLedgerStore struct {
	db *gorm.DB
}

func NewGormLedgerStore(db *gorm.DB) *GormLedgerStore {
	return &GormLedgerStore{db: db}
}

func (s *GormLedgerStore) SaveRecord(ctx context.Context, rec *domain.InventoryRecord) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "variant_id"}, {Name: "vendor_id"}},
		UpdateAll: true,
	}).Create(toInventoryModel(rec)).Error
}

func (s *GormLedgerStore) SaveReservation(ctx context.Context, res *domain.Reservation) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).
		Create(toReservationModel(res)).Error
}

func (s *GormLedgerStore) LoadRecords(ctx context.Context) ([]*domain.InventoryRecord, error) {
	var models []InventoryRecordModel
	if err := s.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.InventoryRecord, 0, len(models))
	for _, m := range models {
		out = append(out, &domain.InventoryRecord{
			VariantID: m.VariantID,
			VendorID:  m.VendorID,
			Available: m.Available,
			Reserved:  m.Reserved,
			UpdatedAt: m.UpdatedAt,
		})
	}
	return out, nil
}

func (s *GormLedgerStore) LoadReservations(ctx context.Context) ([]*domain.Reservation, error) {
	var models []ReservationModel
	if err := s.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Reservation, 0, len(models))
	for _, m := range models {
		out = append(out, &domain.Reservation{
			ID:        m.ID,
			VariantID: m.VariantID,
			VendorID:  m.VendorID,
			Qty:       m.Qty,
			State:     domain.ReservationState(m.State),
			ExpiresAt: m.ExpiresAt,
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

// GormEscrowStore 是托管写穿端口的 GORM 实现。
type GormEscrowStore struct {
	db *gorm.DB
}

func NewGormEscrowStore(db *gorm.DB) *GormEscrowStore {
	return &GormEscrowStore{db: db}
}

func (s *GormEscrowStore) SaveHold(ctx context.Context, hold *domain.EscrowHold) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).
		Create(toHoldModel(hold)).Error
}

func (s *GormEscrowStore) LoadHolds(ctx context.Context) ([]*domain.EscrowHold, error) {
	var models []EscrowHoldModel
	if err := s.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.EscrowHold, 0, len(models))
	for i := range models {
		out = append(out, toDomainHold(&models[i]))
	}
	return out, nil
}
