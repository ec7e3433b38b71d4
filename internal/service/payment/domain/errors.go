package domain

import "errors"

var (
	ErrInvalidRequest    = errors.New("invalid payment request")
	ErrPaymentFailed     = errors.New("payment failed")
	ErrCacheUnavailable  = errors.New("status cache unavailable")
	ErrPublishFailed     = errors.New("event publish failed")
	ErrMalformedEvent    = errors.New("malformed saga event")
	ErrInvalidTransition = errors.New("invalid payment state transition")
)

// PaymentFailedError 在状态已以 FAILED 落盘后返回给调用方。
type PaymentFailedError struct {
	PaymentID string
	Reason    string
	Err       error
}

func (e *PaymentFailedError) Error() string {
	return "payment failed: " + e.Reason
}

func (e *PaymentFailedError) Unwrap() []error {
	return []error{ErrPaymentFailed, e.Err}
}
