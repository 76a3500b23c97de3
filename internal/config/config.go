package config

import (
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Intent   IntentConfig   `mapstructure:"intent"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig driver 取值 mysql / postgres
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEvents string `mapstructure:"ledger_events"`
}

// DurationPrice 广告时长与代币价格
type DurationPrice struct {
	Days   int   `mapstructure:"days"`
	Tokens int64 `mapstructure:"tokens"`
}

type LedgerConfig struct {
	EnforcePricing bool            `mapstructure:"enforce_pricing"`
	Durations      []DurationPrice `mapstructure:"durations"`
	MaxRetryCount  int             `mapstructure:"max_retry_count"`
	LockTTL        time.Duration   `mapstructure:"lock_ttl"`
	LockWait       time.Duration   `mapstructure:"lock_wait"`
}

// PriceFor 返回某个时长的标价，未配置时 ok=false
func (c LedgerConfig) PriceFor(days int) (int64, bool) {
	for _, d := range c.Durations {
		if d.Days == days {
			return d.Tokens, true
		}
	}
	return 0, false
}

type IntentConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// GatewayConfig webhook_secret 为空时不校验回调签名
type GatewayConfig struct {
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type JobsConfig struct {
	AdExpirySpec      string        `mapstructure:"ad_expiry_spec"`
	OutboxInterval    time.Duration `mapstructure:"outbox_interval"`
	OutboxBatchSize   int           `mapstructure:"outbox_batch_size"`
	AdExpiryBatchSize int           `mapstructure:"ad_expiry_batch_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "token_ledger")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.ledger_events", "ledger-events")
	v.SetDefault("ledger.enforce_pricing", false)
	v.SetDefault("ledger.durations", []map[string]interface{}{
		{"days": 7, "tokens": 5},
		{"days": 14, "tokens": 8},
		{"days": 30, "tokens": 15},
	})
	v.SetDefault("ledger.max_retry_count", 5)
	v.SetDefault("ledger.lock_ttl", 30*time.Second)
	v.SetDefault("ledger.lock_wait", 3*time.Second)
	v.SetDefault("intent.secret", "")
	v.SetDefault("intent.ttl", time.Hour)
	v.SetDefault("gateway.webhook_secret", "")
	v.SetDefault("jobs.ad_expiry_spec", "@every 1m")
	v.SetDefault("jobs.outbox_interval", 500*time.Millisecond)
	v.SetDefault("jobs.outbox_batch_size", 100)
	v.SetDefault("jobs.ad_expiry_batch_size", 200)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load 读取配置文件并叠加 LEDGER_ 前缀的环境变量，configPath 为空时只用默认值和环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig 加载配置文件，失败直接退出
func LoadConfig(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		log.WithError(err).WithField("path", configPath).Fatal("加载配置失败")
	}

	if cfg.Intent.Secret == "" {
		log.Warn("intent.secret 未配置，购买意图签名将无法校验")
	}

	GlobalConfig = cfg
	return cfg
}
