package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWritesToLogFile(t *testing.T) {
	// 目录不存在也能建出来
	logPath := filepath.Join(t.TempDir(), "logs", "alipcs.log")
	require.NoError(t, Setup("info", logPath))

	slog.Info("上传完成", "path", "/docs/a.txt")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "上传完成")
	require.Contains(t, string(data), "/docs/a.txt")
}

func TestSetupLevelFiltering(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "alipcs.log")
	require.NoError(t, Setup("warn", logPath))

	slog.Info("不该出现")
	slog.Warn("该出现")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.NotContains(t, string(data), "不该出现")
	require.Contains(t, string(data), "该出现")
}

func TestSetupUnknownLevelFallsBackToInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "alipcs.log")
	require.NoError(t, Setup("loud", logPath))

	slog.Info("info 级别仍然记录")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "info 级别仍然记录")
}
