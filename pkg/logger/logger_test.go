package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"im-client/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func Test_InitLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "client.log")
	l, err := InitLogger(config.LogConfig{Level: "debug", Filename: path, MaxSize: 1})
	require.NoError(t, err)

	Named("session").Info("连接成功", zap.String("room", "general"))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.Contains(t, line, `"level":"INFO"`)
	assert.Contains(t, line, `"logger":"session"`)
	assert.Contains(t, line, `"room":"general"`)
	assert.Contains(t, line, `"time":`)
}

func Test_getLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, getLogLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, getLogLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, getLogLevel("verbose"))
}
