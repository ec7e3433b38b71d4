// internal/service/payment/domain/payment.go
package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// StatusKeyPrefix 是支付状态在缓存中的 key 前缀
const StatusKeyPrefix = "payment:"

// 熔断打开时写入状态的失败原因
const ReasonServiceUnavailable = "Payment service temporarily unavailable"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// decimal 以 float64 参与 gte/lte 等数值校验
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// PaymentRequest 是一次扣款请求，由调用方创建后不再修改
type PaymentRequest struct {
	UserID        string          `json:"user_id" validate:"required"`
	TotalAmount   decimal.Decimal `json:"total_amount" validate:"gte=0"`
	PaymentMethod string          `json:"payment_method" validate:"required"`
	OrderID       string          `json:"order_id,omitempty"`
}

// Validate 校验请求的必填字段和金额
func (r *PaymentRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// MarshalJSON 将金额写成 JSON 数字
func (r PaymentRequest) MarshalJSON() ([]byte, error) {
	type plain PaymentRequest
	return json.Marshal(struct {
		plain
		TotalAmount json.Number `json:"total_amount"`
	}{plain(r), NumericAmount(r.TotalAmount)})
}

// PaymentResponse 是同步接口返回给调用方的结果
type PaymentResponse struct {
	PaymentID     string    `json:"payment_id"`
	Status        State     `json:"status"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
}

// PaymentStatus 是支付的状态记录，终态后整体写入缓存
type PaymentStatus struct {
	PaymentID     string          `json:"payment_id"`
	Status        State           `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// MarshalJSON 将金额写成 JSON 数字，缓存和查询接口的读者都按数字解析
func (s PaymentStatus) MarshalJSON() ([]byte, error) {
	type plain PaymentStatus
	return json.Marshal(struct {
		plain
		Amount json.Number `json:"amount"`
	}{plain(s), NumericAmount(s.Amount)})
}

// NumericAmount 返回金额的数字形式，反序列化时数字和字符串都能被 decimal 接受
func NumericAmount(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// NewPaymentStatus 创建一个 PENDING 状态的记录
func NewPaymentStatus(paymentID string, amount decimal.Decimal) *PaymentStatus {
	now := time.Now().UTC()
	return &PaymentStatus{
		PaymentID: paymentID,
		Status:    StatePending,
		Amount:    amount,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Complete 将支付标记为成功，只允许从 PENDING 迁移
func (s *PaymentStatus) Complete(transactionID string) error {
	if s.Status != StatePending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, StateCompleted)
	}
	s.Status = StateCompleted
	s.TransactionID = transactionID
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail 将支付标记为失败，只允许从 PENDING 迁移
func (s *PaymentStatus) Fail(reason string) error {
	if s.Status != StatePending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, StateFailed)
	}
	s.Status = StateFailed
	s.FailureReason = reason
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// StatusKey 返回支付状态在缓存中的 key
func StatusKey(paymentID string) string {
	return StatusKeyPrefix + paymentID
}
