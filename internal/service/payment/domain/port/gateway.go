package port

import (
	"context"

	"nexus-payment/internal/service/payment/domain"
)

// PaymentGateway 是外部支付网关的出站端口。
// 应用层只关心扣款结果，供应商协议细节由适配器处理。
type PaymentGateway interface {
	// Charge 执行一次扣款，成功时返回网关流水号。
	Charge(ctx context.Context, req *domain.PaymentRequest, paymentID string) (string, error)
}

// AcceptanceRule 是扣款前的业务准入规则。
type AcceptanceRule interface {
	Accept(ctx context.Context, req *domain.PaymentRequest) (bool, error)
}
