// internal/service/payment/interfaces/http_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"nexus-payment/internal/pkg/breaker"
	"nexus-payment/internal/pkg/logger"
	"nexus-payment/internal/service/payment/domain"
	"nexus-payment/internal/tracing"
)

const serviceName = "payment-service"

// maxBodyBytes 限制请求体大小
const maxBodyBytes = 1 << 20

// PaymentUseCase 是 HTTP 入口依赖的应用服务能力
type PaymentUseCase interface {
	ProcessPayment(ctx context.Context, req *domain.PaymentRequest) (*domain.PaymentResponse, error)
	GetPaymentStatus(ctx context.Context, paymentID string) (*domain.PaymentStatus, bool, error)
}

// PaymentHandler 封装了 payment 服务的 HTTP 处理器
type PaymentHandler struct {
	service  PaymentUseCase
	gatherer prometheus.Gatherer
	tracer   trace.Tracer
}

// NewPaymentHandler 创建 HTTP 处理器，gatherer 为 nil 时使用默认注册表
func NewPaymentHandler(service PaymentUseCase, gatherer prometheus.Gatherer) *PaymentHandler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &PaymentHandler{service: service, gatherer: gatherer, tracer: otel.Tracer(serviceName)}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *PaymentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("healthy"))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	mux.Handle("POST /api/payments", h.traced("http.CreatePayment", h.createPayment))
	mux.Handle("GET /api/payments/{id}", h.traced("http.GetPayment", h.getPayment))
}

// traced 从请求头恢复上游追踪上下文，并把 trace_id 放进请求级 logger
func (h *PaymentHandler) traced(name string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := h.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		ctx = logger.With(ctx, func(c zerolog.Context) zerolog.Context {
			return c.Str("trace_id", tracing.GetTraceIDFromContext(ctx)).Str("path", r.URL.Path)
		})
		next(w, r.WithContext(ctx))
	})
}

func (h *PaymentHandler) createPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.PaymentRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Invalid payment request body")
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.service.ProcessPayment(ctx, &req)
	if err != nil {
		status := statusFor(err)
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, err.Error())
			logger.Ctx(ctx).Error().Err(err).Int("status", status).Msg("Payment request failed")
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(ctx, w, http.StatusOK, resp)
}

func (h *PaymentHandler) getPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	paymentID := r.PathValue("id")

	status, found, err := h.service.GetPaymentStatus(ctx, paymentID)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("payment_id", paymentID).Msg("Failed to get payment status")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "Payment not found", http.StatusNotFound)
		return
	}
	writeJSON(ctx, w, http.StatusOK, status)
}

// statusFor 把领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, breaker.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Failed to write response")
	}
}
