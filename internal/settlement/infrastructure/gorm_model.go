// internal/settlement/infrastructure/gorm_model.go
package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderModel 对应数据库中的 settlement_order 表
type OrderModel struct {
	ID        string `gorm:"primaryKey;size:36"`
	BuyerID   string `gorm:"size:64;index"`
	Currency  string `gorm:"size:8"`
	CreatedAt time.Time
	UpdatedAt time.Time
	// 关联关系
	Lines []OrderLineModel `gorm:"foreignKey:OrderID"`
}

func (OrderModel) TableName() string {
	return "settlement_order"
}

// OrderLineModel 对应数据库中的 settlement_order_line 表
type OrderLineModel struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	OrderID       string `gorm:"size:36;uniqueIndex:uk_order_line,priority:1"`
	LineIndex     int    `gorm:"uniqueIndex:uk_order_line,priority:2"`
	VariantID     string `gorm:"size:64"`
	VendorID      string `gorm:"size:64"`
	Qty           int64
	UnitPrice     decimal.Decimal `gorm:"type:decimal(18,2)"`
	Status        string          `gorm:"size:32;index"`
	HoldID        string          `gorm:"size:36"`
	ReservationID string          `gorm:"size:36"`
	Refunded      decimal.Decimal `gorm:"type:decimal(18,2)"`
	ShippedAt     *time.Time
	DeliveredAt   *time.Time
}

func (OrderLineModel) TableName() string {
	return "settlement_order_line"
}

// InventoryRecordModel 对应数据库中的 inventory_record 表
type InventoryRecordModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	VariantID string `gorm:"size:64;uniqueIndex:uk_variant_vendor,priority:1"`
	VendorID  string `gorm:"size:64;uniqueIndex:uk_variant_vendor,priority:2"`
	Available int64
	Reserved  int64
	UpdatedAt time.Time
}

func (InventoryRecordModel) TableName() string {
	return "inventory_record"
}

// ReservationModel 对应数据库中的 inventory_reservation 表
type ReservationModel struct {
	ID        string `gorm:"primaryKey;size:36"`
	VariantID string `gorm:"size:64"`
	VendorID  string `gorm:"size:64"`
	Qty       int64
	State     string `gorm:"size:16;index"`
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (ReservationModel) TableName() string {
	return "inventory_reservation"
}

// EscrowHoldModel 对应数据库中的 escrow_hold 表
type EscrowHoldModel struct {
	ID        string `gorm:"primaryKey;size:36"`
	OrderID   string `gorm:"size:36;index"`
	LineIndex int
	PayerID   string          `gorm:"size:64"`
	PayeeID   string          `gorm:"size:64"`
	AuthToken string          `gorm:"size:128"`
	Amount    decimal.Decimal `gorm:"type:decimal(18,2)"`
	Released  decimal.Decimal `gorm:"type:decimal(18,2)"`
	Refunded  decimal.Decimal `gorm:"type:decimal(18,2)"`
	Disputed  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (EscrowHoldModel) TableName() string {
	return "escrow_hold"
}

// DisputeModel 对应数据库中的 settlement_dispute 表
type DisputeModel struct {
	ID            string `gorm:"primaryKey;size:36"`
	OrderID       string `gorm:"size:36;index:idx_dispute_line,priority:1"`
	LineIndex     int    `gorm:"index:idx_dispute_line,priority:2"`
	HoldID        string `gorm:"size:36"`
	Reason        string `gorm:"type:text"`
	State         string `gorm:"size:16;index"`
	OutcomeKind   string `gorm:"size:32"`
	OutcomeAmount decimal.Decimal `gorm:"type:decimal(18,2)"`
	OpenedAt      time.Time
	ResolvedAt    *time.Time
}

func (DisputeModel) TableName() string {
	return "settlement_dispute"
}
