// internal/service/payment/interfaces/dlt_handler.go
package interfaces

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"nexus-payment/internal/pkg/logger"
	"nexus-payment/internal/pkg/mq"
	"nexus-payment/internal/service/payment/domain"
)

// DltConsumerAdapter 监听死信队列并记录日志
type DltConsumerAdapter struct {
	reader  mq.Reader
	topic   string
	backoff time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewDltConsumerAdapter(reader mq.Reader, topic string) *DltConsumerAdapter {
	return &DltConsumerAdapter{reader: reader, topic: topic, backoff: time.Second}
}

func (a *DltConsumerAdapter) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("✅ DLT Consumer Adapter started.")
		for {
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("🛑 DLT Consumer Adapter shutting down.")
					return
				}
				select {
				case <-time.After(a.backoff):
					continue
				case <-ctx.Done():
					return
				}
			}

			logDeadLetter(ctx, msg)

			// 死信只需要记录，记录后直接提交
			if err := a.reader.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit dead letter")
			}
		}
	}()
	return nil
}

func (a *DltConsumerAdapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	err := a.reader.Close()
	logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("✅ DLT Consumer Adapter stopped.")
	return err
}

// 死信里保留的消息体上限，超长的坏消息只截取前缀
const maxLoggedValue = 1024

func logDeadLetter(ctx context.Context, msg kafka.Message) {
	headers := mq.HeaderMap(msg.Headers)
	id := domain.PeekSagaIdentity(msg.Value)

	value := msg.Value
	if len(value) > maxLoggedValue {
		value = value[:maxLoggedValue]
	}

	// 没有 saga_id 的命令无法回复编排方，订单会停在支付步骤直到编排方超时
	logger.Ctx(ctx).Error().
		Str("saga_id", id.SagaID).
		Str("order_id", id.OrderID).
		Str("step", id.Step).
		Bool("valid_json", id.ValidJSON).
		Bool("saga_unanswered", id.SagaID == "").
		Str("original_topic", headers[mq.HeaderOriginalTopic]).
		Str("original_partition", headers[mq.HeaderOriginalPartition]).
		Str("original_offset", headers[mq.HeaderOriginalOffset]).
		Str("error_type", headers[mq.HeaderExceptionFqcn]).
		Str("error", headers[mq.HeaderExceptionMessage]).
		Str("key", string(msg.Key)).
		Bytes("value", value).
		Int("value_size", len(msg.Value)).
		Msg("🚨 Payment command dead-lettered")
}
