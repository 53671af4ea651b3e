package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/alexschratzi/Suni/internal/config"
)

func TestGetLoggerBeforeInitialization(t *testing.T) {
	// Before InitializeLogger runs, callers still get a usable logger.
	logger := GetLogger()
	require.NotNil(t, logger)
	assert.NotPanics(t, func() { logger.Info("fallback logger works") })
}

func TestNewEncoderFormats(t *testing.T) {
	testCases := []struct {
		name   string
		format string
	}{
		{"console", "console"},
		{"json", "json"},
		{"unknown falls back to json", "xml"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			enc := newEncoder(config.LoggerConfig{Format: tc.format})
			require.NotNil(t, enc)
		})
	}
}

func TestColorizedLevelEncoder(t *testing.T) {
	colors := config.ColorConfig{Info: "green", Error: "red"}
	encodeLevel := newColorizedLevelEncoder(colors)

	enc := &captureArrayEncoder{}
	encodeLevel(zapcore.InfoLevel, enc)
	require.Len(t, enc.values, 1)
	assert.Contains(t, enc.values[0], "INFO")
	assert.Contains(t, enc.values[0], colorGreen)

	enc = &captureArrayEncoder{}
	// A level with no configured color passes through uncolored.
	encodeLevel(zapcore.WarnLevel, enc)
	require.Len(t, enc.values, 1)
	assert.Equal(t, "WARN", enc.values[0])
}

// captureArrayEncoder records appended strings for assertions.
type captureArrayEncoder struct {
	zapcore.PrimitiveArrayEncoder
	values []string
}

func (c *captureArrayEncoder) AppendString(s string) { c.values = append(c.values, s) }
