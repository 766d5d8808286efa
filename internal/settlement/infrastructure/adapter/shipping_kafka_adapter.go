// internal/settlement/infrastructure/adapter/shipping_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	zkclient "github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/pkg/mq"
	"bazaar/internal/pkg/redis"
	"bazaar/internal/pkg/zookeeper"
	"bazaar/internal/settlement/application"
	"bazaar/internal/settlement/domain"
)

const (
	dedupScriptName = "shipping_dedup"
	dedupTTLSeconds = 72 * 3600
)

// 物流商按 at-least-once 投递，事件 ID 在 redis 里做消费标记。
// 标记只在处理成功后写入：失败的事件保持未见状态，重投时会再次处理，
// AdvanceFulfillment 自身幂等，重复处理不产生副作用。
var dedupScript = `
-- KEYS[1]: 事件消费标记, 例如: shipping:seen:{evt-123}
-- ARGV[1]: 过期秒数
return redis.call('set', KEYS[1], 1, 'NX', 'EX', tonumber(ARGV[1])) and 1 or 0
`

// eventDeduper 是事件消费标记的存取口。
type eventDeduper interface {
	WasSeen(ctx context.Context, eventID string) (bool, error)
	MarkSeen(ctx context.Context, eventID string) error
}

type redisDeduper struct {
	client *redis.Client
}

func newRedisDeduper(client *redis.Client) (*redisDeduper, error) {
	if err := client.LoadScriptFromContent(dedupScriptName, dedupScript); err != nil {
		return nil, fmt.Errorf("failed to load dedup script: %w", err)
	}
	return &redisDeduper{client: client}, nil
}

func dedupKey(eventID string) string {
	return fmt.Sprintf("shipping:seen:{%s}", eventID)
}

func (d *redisDeduper) WasSeen(ctx context.Context, eventID string) (bool, error) {
	n, err := d.client.GetClient().Exists(ctx, dedupKey(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *redisDeduper) MarkSeen(ctx context.Context, eventID string) error {
	_, err := d.client.RunScript(ctx, dedupScriptName, []string{dedupKey(eventID)}, dedupTTLSeconds)
	return err
}

// ShippingConsumerAdapter 是驱动适配器：监听物流事件主题并驱动应用服务推进履约。
type ShippingConsumerAdapter struct {
	reader *kafka.Reader
	appSvc *application.SettlementService
	dedup  eventDeduper
	zkConn *zkclient.Conn // 可为 nil，单副本部署不需要跨进程锁

	wg      sync.WaitGroup
	stopped atomic.Bool
}

func NewShippingConsumerAdapter(reader *kafka.Reader, appSvc *application.SettlementService, redisClient *redis.Client, zkConn *zkclient.Conn) (*ShippingConsumerAdapter, error) {
	dedup, err := newRedisDeduper(redisClient)
	if err != nil {
		return nil, err
	}
	return &ShippingConsumerAdapter{
		reader: reader,
		appSvc: appSvc,
		dedup:  dedup,
		zkConn: zkConn,
	}, nil
}

// Start 开始监听物流事件主题。这是一个长期运行的方法。
func (a *ShippingConsumerAdapter) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.reader.Config().Topic).
			Msg("Shipping consumer started")
		for {
			if a.stopped.Load() {
				return
			}
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("Shipping consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("Failed to fetch shipping message, retrying")
				time.Sleep(time.Second)
				continue
			}

			if err := a.processMessage(ctx, msg); err != nil {
				// offset 不提交，消费标记也没写：重启后重放，物流商重投也会补上
				logger.Ctx(ctx).Error().Err(err).
					Msg("Shipping event processing failed, offset not committed")
				time.Sleep(time.Second)
				continue
			}

			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit shipping message offset")
			}
		}
	}()
}

// Stop 优雅地停止消费者。
func (a *ShippingConsumerAdapter) Stop() {
	a.stopped.Store(true)
	a.reader.Close()
	a.wg.Wait()
}

// processMessage 处理一条物流事件。返回非 nil 表示可重试的失败：
// offset 不提交、消费标记不写，事件会被再次投递处理。
// 格式错误和当前状态下无法应用的事件是终局的，跳过并提交。
func (a *ShippingConsumerAdapter) processMessage(parentCtx context.Context, msg kafka.Message) error {
	var event domain.ShippingEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.Ctx(parentCtx).Error().Err(err).Msg("Malformed shipping event, skipping")
		return nil
	}

	propagator := otel.GetTextMapPropagator()
	headerCarrier := mq.KafkaHeaderCarrier(msg.Headers)
	ctx := propagator.Extract(parentCtx, &headerCarrier)
	log := logger.Ctx(ctx)

	seen, err := a.dedup.WasSeen(ctx, event.EventID)
	if err != nil {
		log.Error().Err(err).Str("event_id", event.EventID).
			Msg("Dedup check failed, processing anyway")
	} else if seen {
		log.Info().Str("event_id", event.EventID).Msg("Duplicate shipping event skipped")
		return nil
	}

	var fe application.FulfillmentEvent
	switch event.Event {
	case domain.ShippingEventShipped:
		fe = application.EventShipped
	case domain.ShippingEventDelivered:
		fe = application.EventDelivered
	default:
		log.Error().Str("event", string(event.Event)).Msg("Unknown shipping event type, skipping")
		return nil
	}

	// 多副本部署时同一订单的事件在 zk 锁下串行处理
	if a.zkConn != nil {
		lock := zookeeper.NewDistributedLock(a.zkConn, "order-"+event.OrderID)
		if err := lock.Lock(); err != nil {
			return errors.Wrapf(err, "failed to acquire lock for order %s", event.OrderID)
		}
		defer lock.Unlock()
	}

	if _, err := a.appSvc.AdvanceFulfillment(ctx, event.OrderID, event.LineIndex, fe); err != nil {
		if errors.Is(err, domain.ErrInvalidLineTransition) || errors.Is(err, domain.ErrOrderNotFound) {
			// 乱序到达的事件：不写标记直接跳过，物流商重投后状态齐了可再应用
			log.Error().Err(err).Str("order_id", event.OrderID).Int("line", event.LineIndex).
				Str("event", string(event.Event)).Msg("Shipping event not applicable yet, skipping")
			return nil
		}
		return errors.Wrapf(err, "failed to advance order %s line %d", event.OrderID, event.LineIndex)
	}

	// 处理成功后才写消费标记；标记写失败只记日志，重复处理是安全的
	if err := a.dedup.MarkSeen(ctx, event.EventID); err != nil {
		log.Error().Err(err).Str("event_id", event.EventID).
			Msg("Failed to mark shipping event as seen")
	}
	return nil
}
