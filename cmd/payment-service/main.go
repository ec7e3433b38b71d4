// cmd/payment-service/main.go
package main

import (
	"context"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"nexus-payment/internal/pkg/bootstrap"
	"nexus-payment/internal/pkg/breaker"
	"nexus-payment/internal/pkg/httpclient"
	"nexus-payment/internal/pkg/logger"
	"nexus-payment/internal/pkg/mq"
	"nexus-payment/internal/pkg/redis"
	"nexus-payment/internal/service/payment/application"
	"nexus-payment/internal/service/payment/domain"
	"nexus-payment/internal/service/payment/domain/port"
	"nexus-payment/internal/service/payment/infrastructure/adapter"
	"nexus-payment/internal/service/payment/infrastructure/rule"
	"nexus-payment/internal/service/payment/interfaces"
	"nexus-payment/internal/service/payment/metrics"
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.App.ServiceName, cfg.App.LogLevel)

	if err := run(cfg); err != nil {
		zlog.Error().Err(err).Msg("payment service exited with error")
		os.Exit(1)
	}
}

func run(cfg *bootstrap.Config) error {
	ctx := context.Background()
	tracer := otel.Tracer(cfg.App.ServiceName)

	// 1. 指标
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// 2. 基础设施
	redisClient, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Infra.Redis.Addr(),
		Password: cfg.Infra.Redis.Password,
		DB:       cfg.Infra.Redis.DB,
		PoolSize: cfg.Infra.Redis.PoolSize,
	})
	if err != nil {
		return err
	}

	brokers := cfg.Infra.Kafka.Brokers
	responseWriter := mq.NewKafkaWriter(brokers, "")
	commandReader := mq.NewKafkaReader(brokers, cfg.Saga.CommandTopic, cfg.Saga.GroupID)

	// 3. 熔断器：状态变化同步到指标和日志
	gatewayBreaker := breaker.New(breaker.Config{
		Name:                "payment-gateway",
		FailureThreshold:    cfg.Breaker.FailureThreshold,
		Timeout:             cfg.Breaker.Timeout,
		HalfOpenMaxRequests: cfg.Breaker.HalfOpenMaxRequests,
		OnStateChange: func(name string, from, to breaker.State) {
			m.ObserveBreakerState(name, from, to)
			zlog.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("⚡ Circuit breaker state changed")
		},
	})

	// 4. 出站适配器
	var gateway port.PaymentGateway
	switch cfg.Gateway.Mode {
	case "http":
		gateway = adapter.NewHTTPGateway(httpclient.NewClient(tracer, cfg.Gateway.Timeout), cfg.Gateway.URL)
	default:
		gateway = adapter.NewSimulatedGateway(cfg.Gateway.Latency, cfg.Gateway.FailureRate)
	}

	svcCfg := application.Config{
		StatusTTL:          cfg.Payment.StatusTTL,
		LenientSagaPayload: cfg.Saga.LenientPayload,
	}
	if cfg.Payment.AcceptRule != "" {
		celRule, err := rule.NewCELRuleEngine(cfg.Payment.AcceptRule)
		if err != nil {
			return err
		}
		svcCfg.Rule = celRule
		zlog.Info().Str("rule", cfg.Payment.AcceptRule).Msg("Acceptance rule enabled")
	}

	paymentService := application.NewPaymentService(
		gateway,
		adapter.NewStatusCacheRedisAdapter(redisClient),
		adapter.NewSagaPublisherKafkaAdapter(responseWriter, cfg.Saga.SendTimeout),
		gatewayBreaker,
		m,
		tracer,
		svcCfg,
	)

	// 5. 入站适配器
	consumerCfg := interfaces.SagaConsumerConfig{
		Topic:           cfg.Saga.CommandTopic,
		Workers:         cfg.Saga.Workers,
		MalformedPolicy: interfaces.MalformedPolicy(cfg.Saga.MalformedPolicy),
		DeadLetterTopic: cfg.Saga.DeadLetterTopic,
		RetryBackoff:    cfg.Saga.RetryBackoff,
	}
	workers := []bootstrap.Worker{
		interfaces.NewSagaConsumerAdapter(commandReader, paymentService, responseWriter, m, consumerCfg),
	}
	if consumerCfg.MalformedPolicy == interfaces.MalformedDeadLetter {
		dltReader := mq.NewKafkaReader(brokers, cfg.Saga.DeadLetterTopic, cfg.Saga.GroupID+"-dlt")
		workers = append(workers, interfaces.NewDltConsumerAdapter(dltReader, cfg.Saga.DeadLetterTopic))
	}

	handler := interfaces.NewPaymentHandler(paymentService, registry)

	zlog.Info().
		Str("gateway", cfg.Gateway.Mode).
		Strs("brokers", brokers).
		Str("command_topic", cfg.Saga.CommandTopic).
		Str("response_topic", domain.TopicSagaResponse).
		Msg("✅ Payment service wired")

	return bootstrap.StartService(bootstrap.AppInfo{
		Config: cfg,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		Workers: workers,
		Closers: []func() error{
			redisClient.Close,
			responseWriter.Close,
		},
	})
}
