package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfigFrom("", envMap(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.App.Port != 8084 || cfg.Infra.Redis.Addr() != "localhost:6379" || cfg.Infra.Kafka.Brokers[0] != "localhost:9092" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Breaker.FailureThreshold != 5 || cfg.Breaker.Timeout != time.Minute || cfg.Breaker.HalfOpenMaxRequests != 3 {
		t.Fatalf("unexpected breaker defaults %+v", cfg.Breaker)
	}
	if cfg.Payment.StatusTTL != time.Hour || cfg.Saga.GroupID != "payment-service-group" || cfg.Saga.Workers != 1 {
		t.Fatalf("unexpected saga/payment defaults %+v %+v", cfg.Saga, cfg.Payment)
	}
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
app:
  port: 9000
breaker:
  failure_threshold: 3
  timeout: 30s
saga:
  workers: 4
  malformed_policy: dead-letter
gateway:
  mode: http
  url: http://gateway.local/charge
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFrom(path, envMap(map[string]string{
		"PORT":                 "9100",
		"KAFKA_BROKERS":        "k1:9092, k2:9092",
		"SAGA_LENIENT_PAYLOAD": "true",
		"JAEGER_SAMPLE_RATIO":  "0.25",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.App.Port != 9100 {
		t.Fatalf("env should override file, got %d", cfg.App.Port)
	}
	if cfg.Breaker.FailureThreshold != 3 || cfg.Breaker.Timeout != 30*time.Second || cfg.Breaker.HalfOpenMaxRequests != 3 {
		t.Fatalf("unexpected breaker %+v", cfg.Breaker)
	}
	if len(cfg.Infra.Kafka.Brokers) != 2 || cfg.Infra.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.Infra.Kafka.Brokers)
	}
	if cfg.Saga.Workers != 4 || cfg.Saga.MalformedPolicy != "dead-letter" || !cfg.Saga.LenientPayload {
		t.Fatalf("unexpected saga %+v", cfg.Saga)
	}
	if cfg.Infra.Jaeger.SampleRatio != 0.25 {
		t.Fatalf("unexpected sample ratio %v", cfg.Infra.Jaeger.SampleRatio)
	}
	if cfg.Gateway.Mode != "http" || cfg.Gateway.URL != "http://gateway.local/charge" {
		t.Fatalf("unexpected gateway %+v", cfg.Gateway)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"bad int":           {"PORT": "eighty"},
		"bad duration":      {"BREAKER_TIMEOUT": "soon"},
		"zero threshold":    {"BREAKER_FAILURE_THRESHOLD": "0"},
		"unknown policy":    {"SAGA_MALFORMED_POLICY": "retry"},
		"http without url":  {"GATEWAY_MODE": "http"},
		"failure rate > 1":  {"GATEWAY_FAILURE_RATE": "1.5"},
		"no brokers":        {"KAFKA_BROKERS": ""},
		"unknown log level": {"LOG_LEVEL": "verbose"},
		"sample ratio > 1":  {"JAEGER_SAMPLE_RATIO": "2"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfigFrom("", envMap(env)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfigFrom(filepath.Join(t.TempDir(), "nope.yaml"), envMap(nil)); err == nil {
		t.Fatalf("expected error")
	}
}
