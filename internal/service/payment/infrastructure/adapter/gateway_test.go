package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"nexus-payment/internal/pkg/httpclient"
	"nexus-payment/internal/service/payment/domain"
)

func sampleRequest() *domain.PaymentRequest {
	return &domain.PaymentRequest{UserID: "u1", TotalAmount: decimal.RequireFromString("100.50"), PaymentMethod: "credit_card", OrderID: "o1"}
}

func TestSimulatedGateway_ReturnsTransactionID(t *testing.T) {
	g := NewSimulatedGateway(time.Millisecond, 0)

	txn, err := g.Charge(context.Background(), sampleRequest(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(txn, "TXN-") || len(txn) != len("TXN-")+36 {
		t.Fatalf("unexpected transaction id %q", txn)
	}
}

func TestSimulatedGateway_FailureRate(t *testing.T) {
	g := NewSimulatedGateway(0, 0.5)
	g.random = func() float64 { return 0.2 }
	if _, err := g.Charge(context.Background(), sampleRequest(), "p1"); !errors.Is(err, ErrGatewayDeclined) {
		t.Fatalf("expected ErrGatewayDeclined, got %v", err)
	}

	g.random = func() float64 { return 0.7 }
	if _, err := g.Charge(context.Background(), sampleRequest(), "p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSimulatedGateway_HonoursCancelDuringWait(t *testing.T) {
	g := NewSimulatedGateway(time.Minute, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := g.Charge(ctx, sampleRequest(), "p1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHTTPGateway_Charge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["payment_id"] != "p1" || body["amount"] != 100.5 || body["order_id"] != "o1" {
			t.Errorf("unexpected body %v", body)
		}
		_, _ = w.Write([]byte(`{"transaction_id":"TXN-remote"}`))
	}))
	defer srv.Close()

	g := NewHTTPGateway(httpclient.NewClient(nil, time.Second), srv.URL)
	txn, err := g.Charge(context.Background(), sampleRequest(), "p1")
	if err != nil || txn != "TXN-remote" {
		t.Fatalf("unexpected result %q %v", txn, err)
	}
}

func TestHTTPGateway_Errors(t *testing.T) {
	declined := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "declined", http.StatusBadGateway)
	}))
	defer declined.Close()
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer empty.Close()

	client := httpclient.NewClient(nil, time.Second)
	if _, err := NewHTTPGateway(client, declined.URL).Charge(context.Background(), sampleRequest(), "p1"); err == nil {
		t.Fatalf("expected status error")
	}
	if _, err := NewHTTPGateway(client, empty.URL).Charge(context.Background(), sampleRequest(), "p1"); err == nil {
		t.Fatalf("expected missing transaction id error")
	}
}
