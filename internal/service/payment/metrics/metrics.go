// internal/service/payment/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"nexus-payment/internal/pkg/breaker"
)

// saga 消费结果标签
const (
	ResultProcessed = "processed"
	ResultMalformed = "malformed"
	ResultFailed    = "failed"
)

// Metrics 汇总支付服务的全部采集器
type Metrics struct {
	PaymentsProcessed   prometheus.Counter
	PaymentsFailed      prometheus.Counter
	PaymentAmounts      prometheus.Histogram
	ActivePayments      prometheus.Gauge
	CircuitBreakerState prometheus.Gauge
	SagaEventsConsumed  *prometheus.CounterVec
}

// New 在给定的 Registerer 上注册采集器，reg 为 nil 时不注册（测试用）
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PaymentsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "payments_processed_total",
			Help: "Total number of successful payments",
		}),
		PaymentsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "payments_failed_total",
			Help: "Total number of failed payments",
		}),
		PaymentAmounts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "payment_amounts",
			Help:    "Distribution of payment amounts",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000},
		}),
		ActivePayments: factory.NewGauge(prometheus.GaugeOpts{
			Name: "active_payments",
			Help: "Number of active payment processes",
		}),
		CircuitBreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=Closed, 1=Open, 2=HalfOpen)",
		}),
		SagaEventsConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_events_consumed_total",
			Help: "Saga commands consumed from the event channel",
		}, []string{"result"}),
	}
}

// ObserveBreakerState 可直接挂到 breaker.Config.OnStateChange
func (m *Metrics) ObserveBreakerState(_ string, _, to breaker.State) {
	m.CircuitBreakerState.Set(float64(to))
}
