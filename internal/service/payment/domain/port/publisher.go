package port

import "context"

// EventPublisher 是 saga 响应消息的出站端口。
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}
