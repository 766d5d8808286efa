// internal/settlement/domain/repository.go
package domain

import "context"

// OrderRepository 定义了订单聚合的持久化接口。
// 位于领域层，由基础设施层实现。
type OrderRepository interface {
	// Save 保存一个订单聚合（创建或更新）。
	Save(ctx context.Context, order *Order) error

	// FindByID 根据 ID 查找一个订单聚合。
	FindByID(ctx context.Context, id string) (*Order, error)

	// FindByLineStatus 找出所有含有指定状态行的订单，供后台清扫使用。
	FindByLineStatus(ctx context.Context, status LineStatus) ([]*Order, error)
}

// DisputeRepository 定义了争议记录的持久化接口。
type DisputeRepository interface {
	Save(ctx context.Context, d *Dispute) error
	FindByID(ctx context.Context, id string) (*Dispute, error)
	// FindOpenByLine 查找某订单行上未决的争议，用于冲突检测。
	FindOpenByLine(ctx context.Context, orderID string, lineIndex int) (*Dispute, error)
}
