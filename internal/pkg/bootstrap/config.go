package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "configs/reservation-service.yaml"

// maxReasonLength 与 reservations.cancellation_reason 列的长度一致。
const maxReasonLength = 500

// Config 是服务的完整配置，来源于 YAML 文件并允许环境变量覆盖。
type Config struct {
	App          AppConfig          `yaml:"app"`
	Reservation  ReservationConfig  `yaml:"reservation"`
	Availability AvailabilityConfig `yaml:"availability"`
	Infra        InfraConfig        `yaml:"infra"`
}

type AppConfig struct {
	Name     string `yaml:"name"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

type ReservationConfig struct {
	MaxQuantityPerRequest int           `yaml:"max_quantity_per_request"`
	ReasonMaxLength       int           `yaml:"reason_max_length"`
	IdempotencyTTL        time.Duration `yaml:"idempotency_ttl"`
	LedgerTimeout         time.Duration `yaml:"ledger_timeout"`
	PublishTimeout        time.Duration `yaml:"publish_timeout"`
	// ElevatedRoleExpr 是一个 CEL 表达式，变量 role 为调用方角色。
	ElevatedRoleExpr string `yaml:"elevated_role_expr"`
	EventsTopic      string `yaml:"events_topic"`
}

type AvailabilityConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	CacheTimeout time.Duration `yaml:"cache_timeout"`
	PushInterval time.Duration `yaml:"push_interval"`
}

type InfraConfig struct {
	MySQL  MySQLConfig  `yaml:"mysql"`
	Redis  RedisConfig  `yaml:"redis"`
	Kafka  KafkaConfig  `yaml:"kafka"`
	Jaeger JaegerConfig `yaml:"jaeger"`
	Nacos  NacosConfig  `yaml:"nacos"`
}

type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

type RedisConfig struct {
	Addrs       string        `yaml:"addrs"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers string `yaml:"brokers"`
}

type JaegerConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"server_addrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

// DefaultConfig 返回本地开发可直接使用的默认配置。
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{Name: "reservation-service", Port: 8090, LogLevel: "info"},
		Reservation: ReservationConfig{
			MaxQuantityPerRequest: 10,
			ReasonMaxLength:       500,
			IdempotencyTTL:        24 * time.Hour,
			LedgerTimeout:         150 * time.Millisecond,
			PublishTimeout:        time.Second,
			ElevatedRoleExpr:      `role == "admin"`,
			EventsTopic:           "reservation-events",
		},
		Availability: AvailabilityConfig{
			TTL:          5 * time.Second,
			CacheTimeout: 150 * time.Millisecond,
			PushInterval: 2 * time.Second,
		},
		Infra: InfraConfig{
			MySQL: MySQLConfig{
				DSN:             "root:root@tcp(localhost:3306)/reservation?charset=utf8mb4&parseTime=True&loc=UTC",
				MaxOpenConns:    50,
				MaxIdleConns:    10,
				ConnMaxLifetime: 30 * time.Minute,
				AutoMigrate:     true,
			},
			Redis:  RedisConfig{Addrs: "localhost:6379", DialTimeout: 500 * time.Millisecond},
			Kafka:  KafkaConfig{Brokers: "localhost:9092"},
			Jaeger: JaegerConfig{Endpoint: "http://localhost:14268/api/traces", SampleRatio: 1},
			Nacos:  NacosConfig{ServerAddrs: "localhost:8848", Group: "DEFAULT_GROUP"},
		},
	}
}

var (
	currentConfig *Config
	configMu      sync.RWMutex
)

// Init 加载配置文件（路径取自 CONFIG_FILE）并设置为当前配置。
func Init() *Config {
	cfg, err := LoadConfig(getEnv("CONFIG_FILE", defaultConfigFile))
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	SetCurrentConfig(cfg)
	return cfg
}

// GetCurrentConfig 返回当前生效的配置；未初始化时返回默认配置。
func GetCurrentConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	if currentConfig == nil {
		return DefaultConfig()
	}
	return currentConfig
}

func SetCurrentConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	currentConfig = cfg
}

// LoadConfig 读取 YAML 文件，文件不存在时使用默认值，然后应用环境变量覆盖并校验。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// 没有配置文件时完全依赖默认值和环境变量
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Infra.MySQL.DSN = getEnv("MYSQL_DSN", c.Infra.MySQL.DSN)
	c.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", c.Infra.Redis.Addrs)
	c.Infra.Kafka.Brokers = getEnv("KAFKA_BROKERS", c.Infra.Kafka.Brokers)
	c.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", c.Infra.Jaeger.Endpoint)
	c.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", c.Infra.Nacos.ServerAddrs)
	c.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", c.Infra.Nacos.Namespace)
	c.Infra.Nacos.Group = getEnv("NACOS_GROUP", c.Infra.Nacos.Group)
	c.App.LogLevel = getEnv("LOG_LEVEL", c.App.LogLevel)

	if v, ok := os.LookupEnv("HTTP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse HTTP_PORT: %w", err)
		}
		c.App.Port = port
	}
	if v, ok := os.LookupEnv("NACOS_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse NACOS_ENABLED: %w", err)
		}
		c.Infra.Nacos.Enabled = enabled
	}
	return nil
}

// Validate 检查会导致运行期错误的配置。
func (c *Config) Validate() error {
	var errs []error
	if c.App.Name == "" {
		errs = append(errs, errors.New("app.name is required"))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("app.port %d out of range", c.App.Port))
	}
	if c.Reservation.MaxQuantityPerRequest < 1 {
		errs = append(errs, errors.New("reservation.max_quantity_per_request must be >= 1"))
	}
	if c.Reservation.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("reservation.idempotency_ttl must be positive"))
	}
	if c.Reservation.ReasonMaxLength < 1 || c.Reservation.ReasonMaxLength > maxReasonLength {
		errs = append(errs, fmt.Errorf("reservation.reason_max_length must be between 1 and %d", maxReasonLength))
	}
	if c.Reservation.PublishTimeout <= 0 {
		errs = append(errs, errors.New("reservation.publish_timeout must be positive"))
	}
	if c.Availability.TTL <= 0 || c.Availability.TTL >= 10*time.Second {
		errs = append(errs, errors.New("availability.ttl must be between 0 and 10s"))
	}
	if c.Infra.MySQL.DSN == "" {
		errs = append(errs, errors.New("infra.mysql.dsn is required"))
	}
	return errors.Join(errs...)
}

// getEnv 从环境变量中读取配置，不存在时返回 fallback。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
