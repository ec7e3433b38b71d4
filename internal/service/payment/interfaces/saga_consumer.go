// internal/service/payment/interfaces/saga_consumer.go
package interfaces

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"nexus-payment/internal/pkg/logger"
	"nexus-payment/internal/pkg/mq"
	"nexus-payment/internal/service/payment/domain"
	"nexus-payment/internal/service/payment/metrics"
)

// MalformedPolicy 决定无法解析的消息如何处理
type MalformedPolicy string

const (
	MalformedDrop       MalformedPolicy = "drop"
	MalformedDeadLetter MalformedPolicy = "dead-letter"
)

// SagaHandler 是消费者驱动的应用服务能力
type SagaHandler interface {
	ProcessSagaPayment(ctx context.Context, event *domain.SagaEvent) error
}

// SagaConsumerConfig 是 saga 消费者的运行参数
type SagaConsumerConfig struct {
	Topic string
	// Workers 是分区处理通道数，同一分区的消息总在同一通道里串行处理
	Workers         int
	MalformedPolicy MalformedPolicy
	DeadLetterTopic string
	// RetryBackoff 是拉取失败后的等待时间
	RetryBackoff time.Duration
}

// SagaConsumerAdapter 监听 payment-process 主题并驱动应用服务。
type SagaConsumerAdapter struct {
	reader     mq.Reader
	handler    SagaHandler
	deadLetter mq.Writer
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	cfg        SagaConsumerConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewSagaConsumerAdapter 创建消费者，deadLetter 只在 dead-letter 策略下使用，可为 nil。
func NewSagaConsumerAdapter(reader mq.Reader, handler SagaHandler, deadLetter mq.Writer, m *metrics.Metrics, cfg SagaConsumerConfig) *SagaConsumerAdapter {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.MalformedPolicy == "" {
		cfg.MalformedPolicy = MalformedDrop
	}
	if cfg.Topic == "" {
		cfg.Topic = domain.TopicPaymentProcess
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &SagaConsumerAdapter{
		reader:     reader,
		handler:    handler,
		deadLetter: deadLetter,
		metrics:    m,
		tracer:     otel.Tracer(serviceName),
		cfg:        cfg,
	}
}

// Start 启动拉取循环和分区处理通道，立即返回。
func (a *SagaConsumerAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.group != nil {
		return errors.New("saga consumer already started")
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	// 已拉取的消息在停止时仍处理完并提交
	laneCtx := context.WithoutCancel(ctx)

	lanes := make([]chan kafka.Message, a.cfg.Workers)
	g := new(errgroup.Group)
	for i := range lanes {
		lane := make(chan kafka.Message)
		lanes[i] = lane
		g.Go(func() error {
			for msg := range lane {
				a.handle(laneCtx, msg)
				if err := a.reader.CommitMessages(laneCtx, msg); err != nil {
					logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to commit message")
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer func() {
			for _, lane := range lanes {
				close(lane)
			}
		}()
		a.fetchLoop(fetchCtx, lanes)
		return nil
	})

	a.cancel = cancel
	a.group = g
	logger.Ctx(ctx).Info().Str("topic", a.cfg.Topic).Int("workers", a.cfg.Workers).Msg("✅ Saga Consumer Adapter started.")
	return nil
}

func (a *SagaConsumerAdapter) fetchLoop(ctx context.Context, lanes []chan kafka.Message) {
	for {
		msg, err := a.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Msg("🛑 Saga Consumer Adapter shutting down.")
				return
			}
			logger.Ctx(ctx).Error().Err(err).Dur("backoff", a.cfg.RetryBackoff).Msg("Could not fetch message, retrying")
			select {
			case <-time.After(a.cfg.RetryBackoff):
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case lanes[msg.Partition%len(lanes)] <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// Stop 停止拉取，等待在途消息处理完毕后关闭 reader。
func (a *SagaConsumerAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel, g := a.cancel, a.group
	a.mu.Unlock()
	if g == nil {
		return a.reader.Close()
	}

	cancel()
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("wait for saga consumer lanes: %w", ctx.Err())
	}
	if closeErr := a.reader.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("close saga reader: %w", closeErr)
	}
	logger.Ctx(ctx).Info().Str("topic", a.cfg.Topic).Msg("✅ Saga Consumer Adapter stopped.")
	return err
}

// handle 处理单条消息，错误只记录不返回，offset 总会被提交
func (a *SagaConsumerAdapter) handle(ctx context.Context, msg kafka.Message) {
	ctx = mq.ExtractTraceContext(ctx, msg.Headers)
	ctx, span := a.tracer.Start(ctx, "consumer."+msg.Topic, trace.WithSpanKind(trace.SpanKindConsumer), trace.WithAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", msg.Topic),
		attribute.Int("messaging.kafka.partition", msg.Partition),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
	))
	defer span.End()
	ctx = logger.With(ctx, func(c zerolog.Context) zerolog.Context {
		return c.Str("topic", msg.Topic).Int("partition", msg.Partition).Int64("offset", msg.Offset)
	})

	event, err := domain.DecodeSagaEvent(msg.Value)
	if err != nil {
		a.metrics.SagaEventsConsumed.WithLabelValues(metrics.ResultMalformed).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed saga event")
		a.onMalformed(ctx, msg, err)
		return
	}

	if err := a.handler.ProcessSagaPayment(ctx, event); err != nil {
		a.metrics.SagaEventsConsumed.WithLabelValues(metrics.ResultFailed).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Ctx(ctx).Error().Err(err).Str("saga_id", event.SagaID).Msg("Failed to process saga payment")
		return
	}
	a.metrics.SagaEventsConsumed.WithLabelValues(metrics.ResultProcessed).Inc()
}

func (a *SagaConsumerAdapter) onMalformed(ctx context.Context, msg kafka.Message, cause error) {
	if a.cfg.MalformedPolicy != MalformedDeadLetter || a.deadLetter == nil {
		logger.Ctx(ctx).Error().Err(cause).Str("key", string(msg.Key)).Msg("Dropping malformed saga event")
		return
	}

	dlt := mq.DeadLetter(a.cfg.DeadLetterTopic, msg, cause)
	if err := a.deadLetter.WriteMessages(ctx, dlt); err != nil {
		logger.Ctx(ctx).Error().Err(err).AnErr("cause", cause).Msg("Failed to dead-letter malformed saga event, dropping")
		return
	}
	logger.Ctx(ctx).Warn().Err(cause).
		Str("dlt_topic", a.cfg.DeadLetterTopic).
		Str("original_offset", strconv.FormatInt(msg.Offset, 10)).
		Msg("Malformed saga event moved to dead letter topic")
}
