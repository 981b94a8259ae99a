package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Setup 初始化进程级 slog
// levelStr 取 debug/info/warn/error，解析不了按 info 兜底；
// logPath 非空时同时追加写入该文件 (目录不存在会先建)。
// 日志走 stderr，stdout 留给命令的正常输出 (ls、share list 等要可管道)
func Setup(levelStr string, logPath string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}

	out := io.Writer(os.Stderr)
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		out = io.MultiWriter(os.Stderr, f)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: level,
		// 排查传输问题时 debug 级别带上调用位置
		AddSource: level == slog.LevelDebug,
	})))
	return nil
}
