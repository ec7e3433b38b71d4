package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPostJSON_DecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["ping"]})
	}))
	defer srv.Close()

	c := NewClient(nil, time.Second)
	var out map[string]string
	if err := c.PostJSON(context.Background(), srv.URL, map[string]string{"ping": "pong"}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["echo"] != "pong" {
		t.Fatalf("unexpected response %v", out)
	}
}

func TestPostJSON_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "declined", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	err := NewClient(nil, time.Second).PostJSON(context.Background(), srv.URL, struct{}{}, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusPaymentRequired || se.Body != "declined" {
		t.Fatalf("expected StatusError, got %v", err)
	}
}

func TestPostJSON_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	if err := NewClient(nil, 20*time.Millisecond).PostJSON(context.Background(), srv.URL, struct{}{}, nil); err == nil {
		t.Fatalf("expected timeout error")
	}
}
