package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan_RecordsErrorStatus(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	shutdown := SetupTracing("mneme-test", sdktrace.WithSpanProcessor(recorder))
	defer shutdown(context.Background())

	ctx, span := StartSpan(context.Background(), "memory.search")
	fields := TraceFields(ctx)
	assert.NotEmpty(t, fields["trace_id"])
	EndSpan(span, errors.New("store down"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "memory.search", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestTraceFields_NoSpan(t *testing.T) {
	assert.Empty(t, TraceFields(context.Background()))
}

func TestMetrics_NilSafeAndNoop(t *testing.T) {
	var nilMetrics *Metrics
	nilMetrics.RecordSearch(context.Background(), "keyword", 1)
	nilMetrics.IncFallback(context.Background())

	m := NewMetricsFromProvider(noop.NewMeterProvider())
	m.RecordSearch(context.Background(), "fulltext", 2.5)
	m.IncExtraction(context.Background(), "added")
	m.IncStoreWrite(context.Background(), "add")
}

func TestLogger_JSONFormatAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOptions(LoggerOptions{Level: "debug", Format: "json", Output: &buf})
	logger.Component("search").Debug("searching", "query", "cat")

	out := buf.String()
	assert.Contains(t, out, `"component":"search"`)
	assert.Contains(t, out, `"query":"cat"`)
}

func TestLogger_FileSharedByDerivedLoggers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "mneme.log")
	var buf bytes.Buffer
	logger, err := OpenLogger(LoggerOptions{Output: &buf, File: path})
	require.NoError(t, err)

	logger.With("session", "s1").Info("replied")
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "session=s1")
	assert.Contains(t, buf.String(), "replied")
}

func TestLogger_SetLevelAppliesToChildren(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOptions(LoggerOptions{Level: "info", Output: &buf})
	child := logger.Component("extract")
	child.Debug("before")
	logger.SetLevel("debug")
	child.Debug("after")

	assert.NotContains(t, buf.String(), "before")
	assert.Contains(t, buf.String(), "component=extract")
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOptions(LoggerOptions{Level: "warn", Output: &buf})
	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
