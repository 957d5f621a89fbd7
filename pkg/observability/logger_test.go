package observability

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(f func()) string {
	var buf bytes.Buffer
	old := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(old)

	f()
	return buf.String()
}

func TestStandardLogger_MinimumLevel(t *testing.T) {
	output := captureOutput(func() {
		logger := NewStandardLogger("loader").(*StandardLogger).WithLevel(LogLevelInfo)
		logger.Debug("hidden debug", nil)
		logger.Info("visible info", map[string]interface{}{"path": "plugins/custom.md"})
		logger.Error("visible error", nil)
	})

	assert.NotContains(t, output, "hidden debug")
	assert.Contains(t, output, "[INFO] [loader] visible info path=plugins/custom.md")
	assert.Contains(t, output, "[ERROR] [loader] visible error")
}

func TestStandardLogger_DebugLevel(t *testing.T) {
	output := captureOutput(func() {
		logger := NewStandardLogger("chunker").(*StandardLogger).WithLevel(LogLevelDebug)
		logger.Debugf("split %d chunks", 3)
	})

	assert.Contains(t, output, "[DEBUG] [chunker] split 3 chunks")
}

func TestStandardLogger_WithFieldsAreSortedAndMerged(t *testing.T) {
	output := captureOutput(func() {
		logger := NewStandardLogger("rag").With(map[string]interface{}{"session": "abc"})
		logger.WithPrefix("session-manager").Warn("suggestions degraded", map[string]interface{}{
			"attempt": 1,
		})
	})

	require.Contains(t, output, "[WARN] [session-manager] suggestions degraded")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(output), "attempt=1 session=abc"), output)
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LogLevelDebug,
		"DEBUG":   LogLevelDebug,
		"warning": LogLevelWarn,
		"error":   LogLevelError,
		"":        LogLevelInfo,
		"verbose": LogLevelInfo,
	}

	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, ParseLogLevel(in))
		})
	}
}

func TestNoopLogger(t *testing.T) {
	output := captureOutput(func() {
		logger := NewNoopLogger()
		logger.Info("ignored", map[string]interface{}{"key": "value"})
		logger.WithPrefix("child").With(map[string]interface{}{"a": 1}).Error("ignored", nil)
	})

	assert.Empty(t, output)
}

func TestInitTracing_Disabled(t *testing.T) {
	cleanup, err := InitTracing(context.Background(), TracingConfig{Enabled: false}, NewNoopLogger())
	require.NoError(t, err)
	require.NotNil(t, cleanup)
	cleanup()

	_, span := StartSpan(context.Background(), "answer")
	EndSpan(span, errors.New("boom"))
}
