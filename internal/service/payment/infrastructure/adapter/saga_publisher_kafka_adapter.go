package adapter

import (
	"context"
	"fmt"
	"time"

	"nexus-payment/internal/pkg/mq"
	"nexus-payment/internal/service/payment/domain"
)

const defaultSendTimeout = 5 * time.Second

// SagaPublisherKafkaAdapter 实现了 port.EventPublisher 接口。
type SagaPublisherKafkaAdapter struct {
	writer      mq.Writer
	sendTimeout time.Duration
}

// NewSagaPublisherKafkaAdapter 创建 saga 响应的生产者适配器，sendTimeout<=0 时使用 5s。
func NewSagaPublisherKafkaAdapter(writer mq.Writer, sendTimeout time.Duration) *SagaPublisherKafkaAdapter {
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &SagaPublisherKafkaAdapter{writer: writer, sendTimeout: sendTimeout}
}

// Publish 发送一条消息并等待 broker 确认，不做重试
func (a *SagaPublisherKafkaAdapter) Publish(ctx context.Context, topic, key string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, a.sendTimeout)
	defer cancel()

	// mq.ProduceMessage 会把追踪上下文注入消息头
	if err := mq.ProduceMessage(ctx, a.writer, topic, []byte(key), payload); err != nil {
		return fmt.Errorf("%w: topic %s key %s: %w", domain.ErrPublishFailed, topic, key, err)
	}
	return nil
}
