// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestSetup_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("parley", "1.0.0", "json", &buf)

	logger.Info("user logged in", "username", "ada")

	var entry map[string]any
	err := json.Unmarshal(buf.Bytes(), &entry)
	require.NoError(t, err, "failed to parse JSON: %s", buf.String())

	assert.Equal(t, "user logged in", entry["msg"])
	assert.Equal(t, "parley", entry["service"])
	assert.Equal(t, "1.0.0", entry["version"])
	assert.Equal(t, "ada", entry["username"])
	assert.Contains(t, entry, "time")
	assert.Contains(t, entry, "level")
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("parley", "1.0.0", "text", &buf)

	logger.Info("session swept")

	output := buf.String()
	assert.Contains(t, output, "session swept")
	assert.Contains(t, output, "parley")
}

func TestSetup_DefaultFormatIsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("parley", "1.0.0", "", &buf)

	logger.Info("hello")

	var entry map[string]any
	err := json.Unmarshal(buf.Bytes(), &entry)
	require.NoError(t, err, "default format should be JSON")
	assert.Equal(t, "hello", entry["msg"])
}

func TestHandler_TraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("parley", "1.0.0", "json", &buf)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	logger.InfoContext(ctx, "traced message")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

func TestHandler_NoTraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("parley", "1.0.0", "json", &buf)

	logger.Info("untraced message")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
}

func TestHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("parley", "1.0.0", "json", &buf)

	logger.With("request_id", "abc123").WithGroup("session").Info("rotated", "id", "s-1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "abc123", entry["request_id"])
	session, ok := entry["session"].(map[string]any)
	require.True(t, ok, "expected session group: %s", buf.String())
	assert.Equal(t, "s-1", session["id"])
}

func TestHandler_EnabledRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("parley", "1.0.0", "json", &buf)

	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}
