package cache

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/huykn/entity-sync/domain"
	"github.com/huykn/entity-sync/lifecycle"
)

func TestNoOpLogger(t *testing.T) {
	logger := NewNoOpLogger()
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}

	// These should not panic - they're no-ops
	logger.Debug("test message", "key", "value")
	logger.Info("test message")
	logger.Warn("test message", nil)
	logger.Error("test message", "key", "value")
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to create pipe: %v", err)
	}
	os.Stdout = w
	fn()
	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestConsoleLogger(t *testing.T) {
	logger := NewConsoleLogger("TestPrefix")
	levels := map[string]func(string, ...any){
		"[DEBUG]": logger.Debug,
		"[INFO]":  logger.Info,
		"[WARN]":  logger.Warn,
		"[ERROR]": logger.Error,
	}
	for tag, log := range levels {
		output := captureStdout(t, func() { log("kitchen queue refreshed", "station", "grill") })
		if !strings.Contains(output, tag) {
			t.Errorf("Expected %s in output, got: %s", tag, output)
		}
		if !strings.Contains(output, "TestPrefix") || !strings.Contains(output, "kitchen queue refreshed") {
			t.Errorf("Expected prefix and message in output, got: %s", output)
		}
	}

	output := captureStdout(t, func() { logger.Info("message without args") })
	if !strings.Contains(output, "message without args") {
		t.Errorf("Expected 'message without args' in output, got: %s", output)
	}
}

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := NewSlogLogger(slog.New(handler))

	logger.Debug("Read: fetching", "key", "order:list:{}")
	logger.Warn("Publish: failed")

	output := buf.String()
	if !strings.Contains(output, "level=DEBUG") || !strings.Contains(output, "key=order:list:{}") {
		t.Fatalf("Expected debug line with key attribute, got: %s", output)
	}
	if !strings.Contains(output, "level=WARN") {
		t.Fatalf("Expected warn line, got: %s", output)
	}

	if NewSlogLogger(nil) == nil {
		t.Fatal("Nil slog logger should fall back to the default")
	}
}

func TestJSONMarshallerEntityRoundTrip(t *testing.T) {
	marshaller := NewJSONMarshaller()
	created := time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC)
	order := domain.Order{
		ID:        "o-1",
		TableID:   "T4",
		Status:    lifecycle.OrderPreparing,
		Items:     []domain.OrderItem{{MenuItemID: "m-1", Name: "Pho", Quantity: 2, Price: 9.5}},
		CreatedAt: created,
	}

	data, err := marshaller.Marshal(order)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"status":"PREPARING"`) {
		t.Fatalf("Expected status in JSON, got %s", data)
	}

	var decoded domain.Order
	if err := marshaller.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.Status != lifecycle.OrderPreparing || !decoded.CreatedAt.Equal(created) || len(decoded.Items) != 1 {
		t.Fatalf("Unexpected decoded order: %+v", decoded)
	}
}

func TestJSONMarshallerUnmarshalInvalidJSON(t *testing.T) {
	var result map[string]any
	if err := NewJSONMarshaller().Unmarshal([]byte(`{invalid`), &result); err == nil {
		t.Fatal("Expected error for invalid JSON")
	}
}
