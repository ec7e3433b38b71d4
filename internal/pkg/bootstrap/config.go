// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 是服务的完整配置：先读 YAML（CONFIG_PATH，可选），再用环境变量覆盖
type Config struct {
	App     AppConfig     `yaml:"app"`
	Infra   InfraConfig   `yaml:"infra"`
	Breaker BreakerConfig `yaml:"breaker"`
	Gateway GatewayConfig `yaml:"gateway"`
	Payment PaymentConfig `yaml:"payment"`
	Saga    SagaConfig    `yaml:"saga"`
}

type AppConfig struct {
	ServiceName     string        `yaml:"service_name" validate:"required"`
	Port            int           `yaml:"port" validate:"gte=0,lte=65535"`
	LogLevel        string        `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

type InfraConfig struct {
	Kafka  KafkaConfig  `yaml:"kafka"`
	Redis  RedisConfig  `yaml:"redis"`
	Jaeger JaegerConfig `yaml:"jaeger"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" validate:"min=1,dive,required"`
}

type RedisConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required,gt=0"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	PoolSize int    `yaml:"pool_size" validate:"gte=0"`
}

// Addr 返回 host:port
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type JaegerConfig struct {
	// 为空时不上报链路
	Endpoint    string  `yaml:"endpoint" validate:"omitempty,url"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

type BreakerConfig struct {
	FailureThreshold    int64         `yaml:"failure_threshold" validate:"gte=1"`
	Timeout             time.Duration `yaml:"timeout" validate:"gt=0"`
	HalfOpenMaxRequests int64         `yaml:"half_open_max_requests" validate:"gte=1"`
}

type GatewayConfig struct {
	Mode        string        `yaml:"mode" validate:"oneof=simulated http"`
	URL         string        `yaml:"url" validate:"required_if=Mode http"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	Latency     time.Duration `yaml:"latency" validate:"gte=0"`
	FailureRate float64       `yaml:"failure_rate" validate:"gte=0,lte=1"`
}

type PaymentConfig struct {
	StatusTTL time.Duration `yaml:"status_ttl" validate:"gt=0"`
	// CEL 表达式，为空时不做准入检查
	AcceptRule string `yaml:"accept_rule"`
}

type SagaConfig struct {
	CommandTopic    string        `yaml:"command_topic" validate:"required"`
	GroupID         string        `yaml:"group_id" validate:"required"`
	Workers         int           `yaml:"workers" validate:"gte=1"`
	MalformedPolicy string        `yaml:"malformed_policy" validate:"oneof=drop dead-letter"`
	DeadLetterTopic string        `yaml:"dead_letter_topic" validate:"required_if=MalformedPolicy dead-letter"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" validate:"gt=0"`
	SendTimeout     time.Duration `yaml:"send_timeout" validate:"gt=0"`
	LenientPayload  bool          `yaml:"lenient_payload"`
}

// DefaultConfig 返回与线上 payment-service 一致的默认值
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			ServiceName:     "payment-service",
			Port:            8084,
			LogLevel:        "info",
			ShutdownTimeout: 10 * time.Second,
		},
		Infra: InfraConfig{
			Kafka:  KafkaConfig{Brokers: []string{"localhost:9092"}},
			Redis:  RedisConfig{Host: "localhost", Port: 6379, PoolSize: 20},
			Jaeger: JaegerConfig{Endpoint: "http://localhost:14268/api/traces", SampleRatio: 1},
		},
		Breaker: BreakerConfig{FailureThreshold: 5, Timeout: 60 * time.Second, HalfOpenMaxRequests: 3},
		Gateway: GatewayConfig{Mode: "simulated", Timeout: 10 * time.Second, Latency: 100 * time.Millisecond},
		Payment: PaymentConfig{StatusTTL: time.Hour},
		Saga: SagaConfig{
			CommandTopic:    "payment-process",
			GroupID:         "payment-service-group",
			Workers:         1,
			MalformedPolicy: "drop",
			DeadLetterTopic: "payment-process.DLT",
			RetryBackoff:    time.Second,
			SendTimeout:     5 * time.Second,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig 读取 CONFIG_PATH 指向的 YAML 并应用环境变量覆盖
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(os.Getenv("CONFIG_PATH"), os.LookupEnv)
}

// LoadConfigFrom 是 LoadConfig 的可测试版本，path 为空时只用默认值
func LoadConfigFrom(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", path)
		}
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	env := envReader{lookup: lookup}

	env.setString("SERVICE_NAME", &cfg.App.ServiceName)
	env.setInt("PORT", &cfg.App.Port)
	env.setString("LOG_LEVEL", &cfg.App.LogLevel)
	env.setDuration("SHUTDOWN_TIMEOUT", &cfg.App.ShutdownTimeout)

	if v, ok := lookup("KAFKA_BROKERS"); ok {
		cfg.Infra.Kafka.Brokers = splitList(v)
	}
	env.setString("REDIS_HOST", &cfg.Infra.Redis.Host)
	env.setInt("REDIS_PORT", &cfg.Infra.Redis.Port)
	env.setString("REDIS_PASSWORD", &cfg.Infra.Redis.Password)
	env.setInt("REDIS_DB", &cfg.Infra.Redis.DB)
	env.setString("JAEGER_ENDPOINT", &cfg.Infra.Jaeger.Endpoint)
	env.setFloat("JAEGER_SAMPLE_RATIO", &cfg.Infra.Jaeger.SampleRatio)

	env.setInt64("BREAKER_FAILURE_THRESHOLD", &cfg.Breaker.FailureThreshold)
	env.setDuration("BREAKER_TIMEOUT", &cfg.Breaker.Timeout)
	env.setInt64("BREAKER_HALF_OPEN_MAX_REQUESTS", &cfg.Breaker.HalfOpenMaxRequests)

	env.setString("GATEWAY_MODE", &cfg.Gateway.Mode)
	env.setString("GATEWAY_URL", &cfg.Gateway.URL)
	env.setDuration("GATEWAY_TIMEOUT", &cfg.Gateway.Timeout)
	env.setDuration("GATEWAY_LATENCY", &cfg.Gateway.Latency)
	env.setFloat("GATEWAY_FAILURE_RATE", &cfg.Gateway.FailureRate)

	env.setDuration("PAYMENT_STATUS_TTL", &cfg.Payment.StatusTTL)
	env.setString("PAYMENT_ACCEPT_RULE", &cfg.Payment.AcceptRule)

	env.setInt("SAGA_WORKERS", &cfg.Saga.Workers)
	env.setString("SAGA_MALFORMED_POLICY", &cfg.Saga.MalformedPolicy)
	env.setString("SAGA_DEAD_LETTER_TOPIC", &cfg.Saga.DeadLetterTopic)
	env.setDuration("SAGA_RETRY_BACKOFF", &cfg.Saga.RetryBackoff)
	env.setBool("SAGA_LENIENT_PAYLOAD", &cfg.Saga.LenientPayload)

	return env.err
}

// envReader 记录第一个解析失败的变量
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) parse(key string, set func(string) error) {
	v, ok := e.lookup(key)
	if !ok || e.err != nil {
		return
	}
	if err := set(strings.TrimSpace(v)); err != nil {
		e.err = errors.Wrapf(err, "invalid value for %s", key)
	}
}

func (e *envReader) setString(key string, dst *string) {
	e.parse(key, func(v string) error { *dst = v; return nil })
}

func (e *envReader) setInt(key string, dst *int) {
	e.parse(key, func(v string) error {
		n, err := strconv.Atoi(v)
		*dst = n
		return err
	})
}

func (e *envReader) setInt64(key string, dst *int64) {
	e.parse(key, func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		*dst = n
		return err
	})
}

func (e *envReader) setFloat(key string, dst *float64) {
	e.parse(key, func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		*dst = f
		return err
	})
}

func (e *envReader) setBool(key string, dst *bool) {
	e.parse(key, func(v string) error {
		b, err := strconv.ParseBool(v)
		*dst = b
		return err
	})
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	e.parse(key, func(v string) error {
		d, err := time.ParseDuration(v)
		*dst = d
		return err
	})
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
