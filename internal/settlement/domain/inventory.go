// internal/settlement/domain/inventory.go
package domain

import "time"

// InventoryRecord 以 (variant, vendor) 为键记录一个卖家某个商品规格的库存。
// 不变量：Available + Reserved == 总在库量；预占永远不能超过当时的可用量。
type InventoryRecord struct {
	VariantID string
	VendorID  string
	Available int64
	Reserved  int64
	UpdatedAt time.Time
}

// Total 返回当前在库总量（可用 + 预占）。提交预占时总量随之减少。
func (r *InventoryRecord) Total() int64 {
	return r.Available + r.Reserved
}

// ReservationState 定义了一次库存预占的状态。
type ReservationState string

const (
	ReservationPending   ReservationState = "PENDING"   // 预占生效，等待提交或释放
	ReservationCommitted ReservationState = "COMMITTED" // 已提交，库存永久扣减
	ReservationReleased  ReservationState = "RELEASED"  // 已释放，数量回到可用
	ReservationExpired   ReservationState = "EXPIRED"   // 超时被后台清扫释放
)

// Reservation 是对库存的临时占用，必须在限期内提交或释放。
// 状态只能单向离开 PENDING；提交与过期清扫通过状态守卫互斥。
type Reservation struct {
	ID        string
	VariantID string
	VendorID  string
	Qty       int64
	State     ReservationState
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Terminal 判断预占是否已离开 PENDING。
func (r *Reservation) Terminal() bool {
	return r.State != ReservationPending
}
