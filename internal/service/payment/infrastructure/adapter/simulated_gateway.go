package adapter

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"nexus-payment/internal/pkg/logger"
	"nexus-payment/internal/service/payment/domain"
)

// ErrGatewayDeclined 是模拟网关按失败率注入的错误
var ErrGatewayDeclined = errors.New("payment gateway declined the charge")

// SimulatedGateway 模拟外部支付网关：固定延迟后返回 TXN-<uuid>。
type SimulatedGateway struct {
	latency     time.Duration
	failureRate float64
	// 返回 [0,1) 的随机数，测试中可替换
	random func() float64
}

func NewSimulatedGateway(latency time.Duration, failureRate float64) *SimulatedGateway {
	return &SimulatedGateway{latency: latency, failureRate: failureRate, random: rand.Float64}
}

// Charge 只在等待期间响应 ctx 取消
func (g *SimulatedGateway) Charge(ctx context.Context, req *domain.PaymentRequest, paymentID string) (string, error) {
	if g.latency > 0 {
		timer := time.NewTimer(g.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", fmt.Errorf("gateway call interrupted: %w", ctx.Err())
		}
	}

	if g.failureRate > 0 && g.random() < g.failureRate {
		return "", ErrGatewayDeclined
	}

	transactionID := "TXN-" + uuid.NewString()
	logger.Ctx(ctx).Debug().Str("transaction_id", transactionID).Msg("Payment gateway returned transaction")
	return transactionID, nil
}
