// internal/service/payment/domain/event.go
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicPaymentProcess = "payment-process"
	TopicSagaResponse   = "saga-response"

	StepPaymentProcessed = "PAYMENT_PROCESSED"

	// saga 发起的扣款统一使用信用卡
	DefaultPaymentMethod = "credit_card"

	lenientUserID = "unknown"
)

// SagaEvent 是 saga 协调消息，入站为命令，出站为按 saga_id 关联的响应
type SagaEvent struct {
	SagaID    string          `json:"saga_id"`
	OrderID   string          `json:"order_id"`
	Step      string          `json:"step"`
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// DecodeSagaEvent 解析消息体，saga_id 缺失视为坏消息
func DecodeSagaEvent(raw []byte) (*SagaEvent, error) {
	var event SagaEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if event.SagaID == "" {
		return nil, fmt.Errorf("%w: missing saga_id", ErrMalformedEvent)
	}
	return &event, nil
}

// SagaIdentity 是从无法完整解析的消息里尽量取出的关联字段，用于死信排查
type SagaIdentity struct {
	SagaID    string
	OrderID   string
	Step      string
	ValidJSON bool
}

// PeekSagaIdentity 逐字段读取 saga_id/order_id/step，某个字段类型不对时跳过该字段
func PeekSagaIdentity(raw []byte) SagaIdentity {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return SagaIdentity{}
	}
	str := func(key string) string {
		var v string
		_ = json.Unmarshal(fields[key], &v)
		return v
	}
	return SagaIdentity{SagaID: str("saga_id"), OrderID: str("order_id"), Step: str("step"), ValidJSON: true}
}

// PaymentCommand 是 payment-process 命令的 data 部分
type PaymentCommand struct {
	UserID      string          `json:"user_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// DecodePaymentCommand 从 data 中解析扣款命令。
// lenient 模式下缺失字段回落为 "unknown" 和 0，与旧版生产者兼容。
func DecodePaymentCommand(data json.RawMessage, lenient bool) (*PaymentCommand, error) {
	if lenient {
		return decodeLenient(data), nil
	}

	var raw struct {
		UserID      *string          `json:"user_id"`
		TotalAmount *decimal.Decimal `json:"total_amount"`
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty data", ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	switch {
	case raw.UserID == nil || *raw.UserID == "":
		return nil, fmt.Errorf("%w: missing user_id", ErrMalformedEvent)
	case raw.TotalAmount == nil:
		return nil, fmt.Errorf("%w: missing total_amount", ErrMalformedEvent)
	case raw.TotalAmount.IsNegative():
		return nil, fmt.Errorf("%w: negative total_amount", ErrMalformedEvent)
	}
	return &PaymentCommand{UserID: *raw.UserID, TotalAmount: *raw.TotalAmount}, nil
}

func decodeLenient(data json.RawMessage) *PaymentCommand {
	cmd := &PaymentCommand{UserID: lenientUserID, TotalAmount: decimal.Zero}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return cmd
	}
	if v, ok := fields["user_id"].(string); ok {
		cmd.UserID = v
	}
	if v, ok := fields["total_amount"].(float64); ok {
		cmd.TotalAmount = decimal.NewFromFloat(v)
	}
	return cmd
}

// ToRequest 把命令转换为扣款请求
func (c *PaymentCommand) ToRequest(orderID string) *PaymentRequest {
	return &PaymentRequest{
		UserID:        c.UserID,
		TotalAmount:   c.TotalAmount,
		PaymentMethod: DefaultPaymentMethod,
		OrderID:       orderID,
	}
}

// PaymentProcessedData 是成功响应的 data
type PaymentProcessedData struct {
	PaymentID     string `json:"payment_id"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// NewSagaResponse 构造对命令的响应事件，data 为 nil 时输出 {}
func NewSagaResponse(cmd *SagaEvent, success bool, message string, data interface{}) (*SagaEvent, error) {
	payload := json.RawMessage(`{}`)
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		payload = b
	}
	return &SagaEvent{
		SagaID:    cmd.SagaID,
		OrderID:   cmd.OrderID,
		Step:      StepPaymentProcessed,
		Success:   success,
		Message:   message,
		Data:      payload,
		Timestamp: time.Now().UTC(),
	}, nil
}
