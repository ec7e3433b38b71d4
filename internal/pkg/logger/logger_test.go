package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestCtx_FallsBackToGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "payment-service", "info")

	Ctx(context.Background()).Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json log line, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "payment-service" || entry["message"] != "hello" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestWith_StoresFieldsInContext(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "payment-service", "debug")

	ctx := With(context.Background(), func(c zerolog.Context) zerolog.Context {
		return c.Str("saga_id", "s1")
	})
	Ctx(ctx).Info().Msg("scoped")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json log line: %v", err)
	}
	if entry["saga_id"] != "s1" {
		t.Fatalf("expected saga_id field, got %v", entry)
	}
}

func TestInit_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "svc", "verbose")
	defer zerolog.SetGlobalLevel(zerolog.DebugLevel)

	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info level, got %s", zerolog.GlobalLevel())
	}
}
