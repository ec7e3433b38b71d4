package adapter

import (
	"context"
	"encoding/json"
	"errors"

	"nexus-payment/internal/pkg/httpclient"
	"nexus-payment/internal/service/payment/domain"
)

type chargeRequest struct {
	PaymentID     string      `json:"payment_id"`
	UserID        string      `json:"user_id"`
	Amount        json.Number `json:"amount"`
	PaymentMethod string      `json:"payment_method"`
	OrderID       string      `json:"order_id,omitempty"`
}

type chargeResponse struct {
	TransactionID string `json:"transaction_id"`
}

// HTTPGateway 是 port.PaymentGateway 接口的 HTTP 实现。
// 超时由 httpclient.Client 的 Timeout 控制。
type HTTPGateway struct {
	client *httpclient.Client
	url    string
}

func NewHTTPGateway(client *httpclient.Client, url string) *HTTPGateway {
	return &HTTPGateway{client: client, url: url}
}

func (g *HTTPGateway) Charge(ctx context.Context, req *domain.PaymentRequest, paymentID string) (string, error) {
	body := chargeRequest{
		PaymentID:     paymentID,
		UserID:        req.UserID,
		Amount:        domain.NumericAmount(req.TotalAmount),
		PaymentMethod: req.PaymentMethod,
		OrderID:       req.OrderID,
	}
	var resp chargeResponse
	if err := g.client.PostJSON(ctx, g.url, body, &resp); err != nil {
		return "", err
	}
	if resp.TransactionID == "" {
		return "", errors.New("gateway response missing transaction_id")
	}
	return resp.TransactionID, nil
}
