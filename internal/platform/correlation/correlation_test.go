package correlation

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewID_Length(t *testing.T) {
	id := NewID()
	assert.Len(t, id, 8)
}

func TestNewID_Unique(t *testing.T) {
	ids := make(map[string]struct{}, 100)
	for range 100 {
		ids[NewID()] = struct{}{}
	}
	assert.Len(t, ids, 100)
}

func TestWithID_and_ID_Roundtrip(t *testing.T) {
	ctx := WithID(context.Background(), "abc12345")
	id, ok := ID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "abc12345", id)
}

func TestID_Missing(t *testing.T) {
	id, ok := ID(context.Background())
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestWithConnection_and_Connection_Roundtrip(t *testing.T) {
	ctx := WithConnection(context.Background(), "conn-42")
	id, ok := Connection(ctx)
	assert.True(t, ok)
	assert.Equal(t, "conn-42", id)
}

func TestHandler_AddsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewHandler(inner))

	ctx := WithID(context.Background(), "test1234")
	logger.InfoContext(ctx, "test message", "key", "value")

	output := buf.String()
	assert.Contains(t, output, "correlation_id=test1234")
	assert.Contains(t, output, "key=value")
	assert.Contains(t, output, "test message")
}

func TestHandler_AddsConnectionID(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewHandler(inner))

	ctx := WithID(context.Background(), "test1234")
	ctx = WithConnection(ctx, "conn-42")
	logger.InfoContext(ctx, "dispatching")

	output := buf.String()
	assert.Contains(t, output, "correlation_id=test1234")
	assert.Contains(t, output, "connection_id=conn-42")
}

func TestHandler_NoAttrs_WhenContextEmpty(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewHandler(inner))

	logger.InfoContext(context.Background(), "plain message")

	output := buf.String()
	assert.NotContains(t, output, "correlation_id")
	assert.NotContains(t, output, "connection_id")
	assert.Contains(t, output, "plain message")
}

func TestHandler_PreservesWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewHandler(inner)).With("component", "gateway")

	ctx := WithID(context.Background(), "deadbeef")
	logger.InfoContext(ctx, "scoped")

	output := buf.String()
	assert.Contains(t, output, "component=gateway")
	assert.Contains(t, output, "correlation_id=deadbeef")
}
