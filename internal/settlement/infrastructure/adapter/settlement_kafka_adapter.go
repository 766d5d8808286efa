// internal/settlement/infrastructure/adapter/settlement_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"bazaar/internal/pkg/mq"
	"bazaar/internal/settlement/domain"
)

// SettlementKafkaAdapter 实现了 port.SettlementEventPublisher 接口，
// 把领域事件发到结算事件主题，供通知、分析等周边系统消费。
type SettlementKafkaAdapter struct {
	writer *kafka.Writer
}

func NewSettlementKafkaAdapter(writer *kafka.Writer) *SettlementKafkaAdapter {
	return &SettlementKafkaAdapter{writer: writer}
}

func (a *SettlementKafkaAdapter) Publish(ctx context.Context, event *domain.SettlementEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal settlement event: %w", err)
	}
	// 按订单分区，同一订单的事件保持顺序
	return mq.ProduceMessage(ctx, a.writer, []byte(event.OrderID), eventBytes)
}

func (a *SettlementKafkaAdapter) Close() error {
	return a.writer.Close()
}

// ReconciliationKafkaAdapter 实现了 port.ReconciliationReporter 接口。
// 补偿重试耗尽的残留动作发到对账主题，由人工或对账作业兜底。
type ReconciliationKafkaAdapter struct {
	writer *kafka.Writer
}

func NewReconciliationKafkaAdapter(writer *kafka.Writer) *ReconciliationKafkaAdapter {
	return &ReconciliationKafkaAdapter{writer: writer}
}

func (a *ReconciliationKafkaAdapter) Report(ctx context.Context, report *domain.ReconciliationReport) error {
	reportBytes, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal reconciliation report: %w", err)
	}
	return mq.ProduceMessage(ctx, a.writer, []byte(report.OrderID), reportBytes)
}

func (a *ReconciliationKafkaAdapter) Close() error {
	return a.writer.Close()
}
