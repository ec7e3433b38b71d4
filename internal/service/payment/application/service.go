// internal/service/payment/application/service.go
package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nexus-payment/internal/pkg/breaker"
	"nexus-payment/internal/pkg/logger"
	"nexus-payment/internal/service/payment/domain"
	"nexus-payment/internal/service/payment/domain/port"
	"nexus-payment/internal/service/payment/metrics"
)

const (
	DefaultStatusTTL = time.Hour

	successMessage = "Payment processed successfully"
)

// Config 是编排服务的运行参数
type Config struct {
	StatusTTL          time.Duration
	LenientSagaPayload bool
	// Rule 为空时不做准入检查
	Rule port.AcceptanceRule
}

// PaymentService 负责支付流程编排：校验、经熔断器调用网关、落盘终态、回复 saga。
type PaymentService struct {
	gateway   port.PaymentGateway
	cache     port.StatusCache
	publisher port.EventPublisher
	breaker   *breaker.CircuitBreaker
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	cfg       Config
}

func NewPaymentService(gateway port.PaymentGateway, cache port.StatusCache, publisher port.EventPublisher, cb *breaker.CircuitBreaker, m *metrics.Metrics, tracer trace.Tracer, cfg Config) *PaymentService {
	if tracer == nil {
		tracer = otel.Tracer("payment-service")
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = DefaultStatusTTL
	}
	return &PaymentService{
		gateway: gateway, cache: cache, publisher: publisher,
		breaker: cb, metrics: m, tracer: tracer, cfg: cfg,
	}
}

// ProcessPayment 处理一次扣款请求。
// 网关结果（包括熔断拒绝）总是先以终态写入缓存，再返回给调用方。
func (s *PaymentService) ProcessPayment(ctx context.Context, req *domain.PaymentRequest) (*domain.PaymentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.ProcessPayment", trace.WithAttributes(
		attribute.String("payment.user_id", req.UserID),
		attribute.String("payment.method", req.PaymentMethod),
		attribute.String("payment.amount", req.TotalAmount.String()),
	))
	defer span.End()

	if err := s.accept(ctx, req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request rejected")
		return nil, err
	}

	s.metrics.ActivePayments.Inc()
	defer s.metrics.ActivePayments.Dec()

	paymentID := uuid.NewString()
	status := domain.NewPaymentStatus(paymentID, req.TotalAmount)
	span.SetAttributes(attribute.String("payment.id", paymentID))
	ctx = logger.With(ctx, func(c zerolog.Context) zerolog.Context {
		return c.Str("payment_id", paymentID).Str("user_id", req.UserID)
	})

	// 网关调用和终态写入不受调用方取消影响，避免扣款成功却没有记录
	settleCtx := context.WithoutCancel(ctx)

	transactionID, callErr := breaker.Call(s.breaker, func() (string, error) {
		return s.gateway.Charge(settleCtx, req, paymentID)
	})
	if callErr != nil {
		reason := failureReason(callErr)
		_ = status.Fail(reason)
		if err := s.persist(settleCtx, status); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "persist failed status")
			return nil, err
		}
		s.metrics.PaymentsFailed.Inc()

		span.RecordError(callErr)
		span.SetStatus(codes.Error, reason)
		logger.Ctx(ctx).Warn().Err(callErr).Str("reason", reason).Msg("❌ Payment failed")
		return nil, &domain.PaymentFailedError{PaymentID: paymentID, Reason: reason, Err: callErr}
	}

	_ = status.Complete(transactionID)
	if err := s.persist(settleCtx, status); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist completed status")
		return nil, err
	}
	s.metrics.PaymentsProcessed.Inc()
	s.metrics.PaymentAmounts.Observe(req.TotalAmount.InexactFloat64())

	span.SetAttributes(attribute.String("payment.transaction_id", transactionID))
	logger.Ctx(ctx).Info().Str("transaction_id", transactionID).Msg("✅ Payment processed")

	return &domain.PaymentResponse{
		PaymentID:     paymentID,
		Status:        status.Status,
		TransactionID: transactionID,
		Message:       successMessage,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// ProcessSagaPayment 处理 saga 的扣款命令，无论结果如何都回复一条 PAYMENT_PROCESSED 事件。
// 业务失败通过响应的 success=false 表达；只有发布失败和基础设施错误会返回。
func (s *PaymentService) ProcessSagaPayment(ctx context.Context, event *domain.SagaEvent) error {
	ctx, span := s.tracer.Start(ctx, "app.ProcessSagaPayment", trace.WithAttributes(
		attribute.String("saga.id", event.SagaID),
		attribute.String("saga.order_id", event.OrderID),
	))
	defer span.End()
	ctx = logger.With(ctx, func(c zerolog.Context) zerolog.Context {
		return c.Str("saga_id", event.SagaID).Str("order_id", event.OrderID)
	})
	logger.Ctx(ctx).Info().Msg("Processing saga payment")

	var (
		response *domain.SagaEvent
		procErr  error
		err      error
	)
	cmd, decodeErr := domain.DecodePaymentCommand(event.Data, s.cfg.LenientSagaPayload)
	if decodeErr != nil {
		procErr = decodeErr
		logger.Ctx(ctx).Error().Err(decodeErr).Msg("Rejecting malformed payment command")
	} else {
		var result *domain.PaymentResponse
		result, procErr = s.ProcessPayment(ctx, cmd.ToRequest(event.OrderID))
		if procErr == nil {
			response, err = domain.NewSagaResponse(event, true, successMessage, domain.PaymentProcessedData{
				PaymentID:     result.PaymentID,
				TransactionID: result.TransactionID,
			})
			if err != nil {
				return fmt.Errorf("build saga response: %w", err)
			}
		}
	}
	if procErr != nil {
		response, err = domain.NewSagaResponse(event, false, "Payment failed: "+sagaFailureReason(procErr), nil)
		if err != nil {
			return fmt.Errorf("build saga response: %w", err)
		}
	}

	payload, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("marshal saga response: %w", err)
	}
	if err := s.publisher.Publish(ctx, domain.TopicSagaResponse, event.SagaID, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish saga response")
		return err
	}
	span.SetAttributes(attribute.Bool("saga.success", response.Success))

	if procErr != nil && !isBusinessFailure(procErr) {
		span.RecordError(procErr)
		span.SetStatus(codes.Error, "saga payment infrastructure failure")
		return procErr
	}
	return nil
}

// GetPaymentStatus 查询支付状态，不存在时 found 为 false。
func (s *PaymentService) GetPaymentStatus(ctx context.Context, paymentID string) (*domain.PaymentStatus, bool, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetPaymentStatus", trace.WithAttributes(attribute.String("payment.id", paymentID)))
	defer span.End()

	raw, found, err := s.cache.Get(ctx, domain.StatusKey(paymentID))
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	var status domain.PaymentStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		span.RecordError(err)
		return nil, false, fmt.Errorf("decode status of payment %s: %w", paymentID, err)
	}
	return &status, true, nil
}

func (s *PaymentService) accept(ctx context.Context, req *domain.PaymentRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if s.cfg.Rule == nil {
		return nil
	}
	ok, err := s.cfg.Rule.Accept(ctx, req)
	if err != nil {
		return fmt.Errorf("evaluate acceptance rule: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: rejected by acceptance rule", domain.ErrInvalidRequest)
	}
	return nil
}

func (s *PaymentService) persist(ctx context.Context, status *domain.PaymentStatus) error {
	b, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal payment status: %w", err)
	}
	if err := s.cache.Put(ctx, domain.StatusKey(status.PaymentID), b, s.cfg.StatusTTL); err != nil {
		return fmt.Errorf("persist payment %s: %w", status.PaymentID, err)
	}
	return nil
}

func failureReason(err error) string {
	if errors.Is(err, breaker.ErrCircuitOpen) {
		return domain.ReasonServiceUnavailable
	}
	var execErr *breaker.ExecutionFailedError
	if errors.As(err, &execErr) {
		return execErr.Message
	}
	return err.Error()
}

func sagaFailureReason(err error) string {
	var pfe *domain.PaymentFailedError
	if errors.As(err, &pfe) {
		return pfe.Reason
	}
	return err.Error()
}

func isBusinessFailure(err error) bool {
	return errors.Is(err, domain.ErrPaymentFailed) ||
		errors.Is(err, domain.ErrInvalidRequest) ||
		errors.Is(err, domain.ErrMalformedEvent)
}
