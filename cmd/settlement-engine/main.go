// cmd/settlement-engine/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	zkclient "github.com/go-zookeeper/zk"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"bazaar/internal/pkg/bootstrap"
	"bazaar/internal/pkg/httpclient"
	"bazaar/internal/pkg/logger"
	"bazaar/internal/pkg/mq"
	"bazaar/internal/pkg/redis"
	"bazaar/internal/settlement/application"
	"bazaar/internal/settlement/domain"
	"bazaar/internal/settlement/escrow"
	"bazaar/internal/settlement/infrastructure"
	"bazaar/internal/settlement/infrastructure/adapter"
	"bazaar/internal/settlement/infrastructure/rule"
	"bazaar/internal/settlement/interfaces"
	"bazaar/internal/settlement/ledger"
)

const (
	serviceName = "settlement-engine"
	servicePort = 8090
)

// main 是结算引擎的组装根：创建并组装所有依赖项，然后启动服务。
func main() {
	bootstrap.Init()
	logger.Init(serviceName)
	cfg := bootstrap.GetCurrentConfig()

	appCtx, cancelApp := context.WithCancel(context.Background())

	// 持久化端口：配置了 MySQL 走写穿落库，否则退化为纯内存（本地开发）
	var (
		orderRepo   domain.OrderRepository
		disputeRepo domain.DisputeRepository
		ledgerStore ledger.Store
		escrowStore escrow.Store
	)
	if dsn := cfg.Infra.Mysql.DSN; dsn != "" {
		db, err := infrastructure.NewDB(dsn)
		if err != nil {
			log.Fatalf("failed to open mysql: %v", err)
		}
		orderRepo = infrastructure.NewGormOrderRepository(db)
		disputeRepo = infrastructure.NewGormDisputeRepository(db)
		ledgerStore = infrastructure.NewGormLedgerStore(db)
		escrowStore = infrastructure.NewGormEscrowStore(db)
	} else {
		log.Println("WARN: no mysql dsn configured, state will not survive restarts")
		orderRepo = infrastructure.NewMemoryOrderRepository()
		disputeRepo = infrastructure.NewMemoryDisputeRepository()
		ledgerStore = infrastructure.NewMemoryLedgerStore()
		escrowStore = infrastructure.NewMemoryEscrowStore()
	}

	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}

	var zkConn *zkclient.Conn
	if addrs := cfg.Infra.Zookeeper.Addrs; addrs != "" {
		zkConn, _, err = zkclient.Connect(strings.Split(addrs, ","), 5*time.Second)
		if err != nil {
			log.Fatalf("failed to connect to zookeeper: %v", err)
		}
	}

	brokers := strings.Split(cfg.Infra.Kafka.Brokers, ",")
	settlementWriter := mq.NewKafkaWriter(brokers, cfg.Infra.Kafka.SettlementTopic)
	reconWriter := mq.NewKafkaWriter(brokers, cfg.Infra.Kafka.ReconciliationTopic)
	shippingReader := mq.NewKafkaReader(brokers, cfg.Infra.Kafka.ShippingTopic, cfg.Infra.Kafka.ConsumerGroup)

	var consumer *adapter.ShippingConsumerAdapter

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(app bootstrap.AppCtx) {
			tracer := otel.Tracer(serviceName)
			settings := cfg.App.Settlement

			httpClient := httpclient.NewClient(tracer, app.Nacos)
			priceSource := adapter.NewPricingHTTPAdapter(httpClient,
				cfg.Services.Pricing.Name, cfg.Services.Pricing.Path)
			gateway := adapter.NewPaymentHTTPAdapter(httpClient,
				cfg.Services.Payment.Name, adapter.PaymentPaths{
					Authorize: cfg.Services.Payment.AuthorizePath,
					Capture:   cfg.Services.Payment.CapturePath,
					Reverse:   cfg.Services.Payment.ReversePath,
				})

			commission, err := rule.NewCELCommissionPolicy(settings.CommissionRate, settings.CommissionRules)
			if err != nil {
				log.Fatalf("failed to build commission policy: %v", err)
			}

			inventoryLedger, err := ledger.NewLedger(appCtx, ledgerStore, settings.ReservationTTL)
			if err != nil {
				log.Fatalf("failed to rebuild inventory ledger: %v", err)
			}
			escrowAccount, err := escrow.NewAccount(appCtx, gateway, escrowStore)
			if err != nil {
				log.Fatalf("failed to rebuild escrow account: %v", err)
			}

			publisher := adapter.NewSettlementKafkaAdapter(settlementWriter)
			reporter := adapter.NewReconciliationKafkaAdapter(reconWriter)

			appSvc := application.NewSettlementService(
				inventoryLedger, escrowAccount,
				orderRepo, disputeRepo,
				priceSource, gateway, commission,
				publisher, reporter,
				tracer,
				application.Config{
					PlatformAccount:   settings.PlatformAccount,
					ReturnWindow:      settings.ReturnWindow,
					AutoConfirmWindow: settings.AutoConfirmWindow,
					ExternalTimeout:   settings.ExternalCallTimeout,
					CompMaxRetries:    settings.CompensationMaxRetries,
					CompBackoff:       settings.CompensationBackoff,
				},
			)

			inventoryLedger.StartExpirySweeper(appCtx, settings.SweepInterval)
			appSvc.StartSweeps(appCtx, settings.SweepInterval)

			consumer, err = adapter.NewShippingConsumerAdapter(shippingReader, appSvc, redisClient, zkConn)
			if err != nil {
				log.Fatalf("failed to create shipping consumer: %v", err)
			}
			consumer.Start(appCtx)

			interfaces.NewSettlementHTTPHandler(appSvc).RegisterRoutes(app.Mux)
			app.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			app.Mux.Handle("/metrics", promhttp.Handler())
		},
		Cleanup: func(ctx context.Context) {
			cancelApp()
			if consumer != nil {
				consumer.Stop()
			}
			settlementWriter.Close()
			reconWriter.Close()
			redisClient.Close()
			if zkConn != nil {
				zkConn.Close()
			}
		},
	})
}
