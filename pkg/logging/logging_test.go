package logging

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "text", ""} {
		logger, err := NewLogger(Config{Level: "warn", Format: format})
		require.NoError(t, err, format)
		assert.False(t, logger.Core().Enabled(zap.InfoLevel), format)
		assert.True(t, logger.Core().Enabled(zap.WarnLevel), format)
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, Config{}.Validate())
	assert.Error(t, Config{Level: "verbose"}.Validate())
	assert.Error(t, Config{Format: "xml"}.Validate())
}

func TestParseLevelRoundTrip(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.Equal(t, level, LevelString(ParseLevel(level)))
	}
	assert.Equal(t, zap.InfoLevel, ParseLevel("bogus"))
}

func TestGinMode(t *testing.T) {
	assert.Equal(t, gin.DebugMode, GinMode("debug"))
	assert.Equal(t, gin.ReleaseMode, GinMode("info"))
	assert.Equal(t, gin.ReleaseMode, GinMode(""))
}
