// internal/tracing/tracer.go
package tracing

import (
	"context"

	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Options 描述 payment-service 的链路上报方式
type Options struct {
	ServiceName string
	// Jaeger collector 地址，为空时只安装传播器，不上报
	Endpoint string
	// 采样比例，<=0 或 >=1 时全量采样
	SampleRatio float64
}

// Propagator 是 HTTP 头 (propagation.HeaderCarrier) 和 saga 消息头 (mq.KafkaHeaderCarrier)
// 共用的传播器：上游订单服务通过 traceparent 把支付挂到同一条链路上，baggage 透传 saga 上下文
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// InstallPropagator 注册全局传播器。即使不上报 Jaeger，saga 响应也要带上 traceparent 交还给编排方
func InstallPropagator() {
	otel.SetTextMapPropagator(Propagator())
}

// InitTracerProvider 安装传播器并注册一个上报到 Jaeger 的 TracerProvider
func InitTracerProvider(opts Options) (*sdktrace.TracerProvider, error) {
	InstallPropagator()

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(opts.Endpoint)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler(opts.SampleRatio)),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(opts.ServiceName),
			semconv.MessagingSystemKafka,
		)),
	)
	otel.SetTracerProvider(tp)

	zlog.Info().
		Str("endpoint", opts.Endpoint).
		Float64("sample_ratio", opts.SampleRatio).
		Msgf("🔭 Tracing initialized for service '%s'", opts.ServiceName)
	return tp, nil
}

// 上游已采样的 saga 链路始终跟随父 span 的决定
func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// GetTraceIDFromContext 返回当前 span 的 trace id，没有有效 span 时返回空字符串。
func GetTraceIDFromContext(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.HasTraceID() {
		return ""
	}
	return spanCtx.TraceID().String()
}
