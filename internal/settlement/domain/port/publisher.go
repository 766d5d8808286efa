// internal/settlement/domain/port/publisher.go
package port

import (
	"context"

	"bazaar/internal/settlement/domain"
)

// SettlementEventPublisher 是对外发布领域事件的出站端口。
// 发布失败属于非关键路径，调用方记警告后继续，不让主流程失败。
type SettlementEventPublisher interface {
	Publish(ctx context.Context, event *domain.SettlementEvent) error
}

// ReconciliationReporter 是人工对账上报的出站端口。
// 补偿重试耗尽后必须走这里，这是补偿路径的最后一道兜底。
type ReconciliationReporter interface {
	Report(ctx context.Context, report *domain.ReconciliationReport) error
}
