// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"log"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是服务的全量配置，从 yaml 文件加载，个别字段允许环境变量覆盖。
type Config struct {
	App struct {
		Settlement struct {
			// 平台收款账户，佣金最终落到这个 payee
			PlatformAccount string `yaml:"platform_account"`
			// 默认佣金比例，十进制字符串，如 "0.08"
			CommissionRate string `yaml:"commission_rate"`
			// 按 vendor 覆盖的 CEL 佣金表达式，如 "subtotal * 0.05"
			CommissionRules map[string]string `yaml:"commission_rules"`

			ReservationTTL      time.Duration `yaml:"reservation_ttl"`
			ReturnWindow        time.Duration `yaml:"return_window"`
			AutoConfirmWindow   time.Duration `yaml:"auto_confirm_window"`
			ExternalCallTimeout time.Duration `yaml:"external_call_timeout"`
			SweepInterval       time.Duration `yaml:"sweep_interval"`

			CompensationMaxRetries int           `yaml:"compensation_max_retries"`
			CompensationBackoff    time.Duration `yaml:"compensation_backoff"`
		} `yaml:"settlement"`
	} `yaml:"app"`

	Infra struct {
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Kafka struct {
			Brokers             string `yaml:"brokers"`
			ShippingTopic       string `yaml:"shipping_topic"`
			SettlementTopic     string `yaml:"settlement_topic"`
			ReconciliationTopic string `yaml:"reconciliation_topic"`
			ConsumerGroup       string `yaml:"consumer_group"`
		} `yaml:"kafka"`
		Redis struct {
			Addrs string `yaml:"addrs"`
		} `yaml:"redis"`
		Mysql struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`
		Nacos struct {
			Addrs     string `yaml:"addrs"`
			Namespace string `yaml:"namespace"`
			Group     string `yaml:"group"`
		} `yaml:"nacos"`
		Zookeeper struct {
			Addrs string `yaml:"addrs"`
		} `yaml:"zookeeper"`
	} `yaml:"infra"`

	Services struct {
		Pricing struct {
			Name string `yaml:"name"`
			Path string `yaml:"path"`
		} `yaml:"pricing"`
		Payment struct {
			Name          string `yaml:"name"`
			AuthorizePath string `yaml:"authorize_path"`
			CapturePath   string `yaml:"capture_path"`
			ReversePath   string `yaml:"reverse_path"`
		} `yaml:"payment"`
	} `yaml:"services"`
}

var currentConfig atomic.Pointer[Config]

// Init 加载配置文件。路径来自 CONFIG_PATH 环境变量，默认 ./configs/config.yaml。
// 配置缺失的字段在这里补默认值，业务代码不再做零值判断。
func Init() {
	path := getEnv("CONFIG_PATH", "./configs/config.yaml")

	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("WARN: cannot read config file %s: %v. Using defaults.", path, err)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Fatalf("FATAL: invalid config file %s: %v", path, err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	currentConfig.Store(cfg)
}

// GetCurrentConfig 返回当前生效的配置。必须先调用 Init。
func GetCurrentConfig() *Config {
	cfg := currentConfig.Load()
	if cfg == nil {
		log.Fatal("FATAL: bootstrap.Init() must be called before GetCurrentConfig()")
	}
	return cfg
}

func applyDefaults(cfg *Config) {
	s := &cfg.App.Settlement
	if s.PlatformAccount == "" {
		s.PlatformAccount = "platform"
	}
	if s.CommissionRate == "" {
		s.CommissionRate = "0.08"
	}
	if s.ReservationTTL == 0 {
		s.ReservationTTL = 15 * time.Minute
	}
	if s.ReturnWindow == 0 {
		s.ReturnWindow = 14 * 24 * time.Hour
	}
	if s.AutoConfirmWindow == 0 {
		s.AutoConfirmWindow = 7 * 24 * time.Hour
	}
	if s.ExternalCallTimeout == 0 {
		s.ExternalCallTimeout = 5 * time.Second
	}
	if s.SweepInterval == 0 {
		s.SweepInterval = 30 * time.Second
	}
	if s.CompensationMaxRetries == 0 {
		s.CompensationMaxRetries = 5
	}
	if s.CompensationBackoff == 0 {
		s.CompensationBackoff = 200 * time.Millisecond
	}

	k := &cfg.Infra.Kafka
	if k.ShippingTopic == "" {
		k.ShippingTopic = "shipping-events"
	}
	if k.SettlementTopic == "" {
		k.SettlementTopic = "settlement-events"
	}
	if k.ReconciliationTopic == "" {
		k.ReconciliationTopic = "settlement-reconciliation"
	}
	if k.ConsumerGroup == "" {
		k.ConsumerGroup = "settlement-engine"
	}

	if cfg.Infra.Jaeger.Endpoint == "" {
		cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	}
	if cfg.Services.Pricing.Name == "" {
		cfg.Services.Pricing.Name = "catalog-pricing-service"
		cfg.Services.Pricing.Path = "/get_price"
	}
	if cfg.Services.Payment.Name == "" {
		cfg.Services.Payment.Name = "payment-gateway"
		cfg.Services.Payment.AuthorizePath = "/authorize"
		cfg.Services.Payment.CapturePath = "/capture"
		cfg.Services.Payment.ReversePath = "/reverse"
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.Infra.Kafka.Brokers = getEnv("KAFKA_BROKERS", orDefault(cfg.Infra.Kafka.Brokers, "localhost:9092"))
	cfg.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", orDefault(cfg.Infra.Redis.Addrs, "localhost:6379"))
	cfg.Infra.Nacos.Addrs = getEnv("NACOS_SERVER_ADDRS", orDefault(cfg.Infra.Nacos.Addrs, "localhost:8848"))
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Infra.Nacos.Namespace)
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", orDefault(cfg.Infra.Nacos.Group, "DEFAULT_GROUP"))
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	cfg.Infra.Mysql.DSN = getEnv("MYSQL_DSN", cfg.Infra.Mysql.DSN)
	cfg.Infra.Zookeeper.Addrs = getEnv("ZOOKEEPER_ADDRS", cfg.Infra.Zookeeper.Addrs)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// getEnv 从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
