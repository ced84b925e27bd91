// Package log 提供 KadNode 统一日志接口
//
// 基于 Go 标准库 log/slog 封装，按组件区分日志来源。
// 守护进程的三档详细程度（quiet / verbose / debug）映射到 slog 级别。
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// 日志级别常量（从 slog 导出，方便使用）
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// ============================================================================
//                              详细程度
// ============================================================================

// Verbosity 守护进程日志详细程度
type Verbosity int

const (
	// VerbosityQuiet 仅输出错误
	VerbosityQuiet Verbosity = iota
	// VerbosityVerbose 输出常规运行信息（默认）
	VerbosityVerbose
	// VerbosityDebug 输出调试信息
	VerbosityDebug
)

// String 返回详细程度名称
func (v Verbosity) String() string {
	switch v {
	case VerbosityQuiet:
		return "quiet"
	case VerbosityVerbose:
		return "verbose"
	case VerbosityDebug:
		return "debug"
	default:
		return fmt.Sprintf("verbosity(%d)", int(v))
	}
}

// Level 返回对应的 slog 级别
func (v Verbosity) Level() slog.Level {
	switch v {
	case VerbosityQuiet:
		return slog.LevelError
	case VerbosityDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// ParseVerbosity 解析详细程度名称
func ParseVerbosity(s string) (Verbosity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "quiet":
		return VerbosityQuiet, nil
	case "verbose", "":
		return VerbosityVerbose, nil
	case "debug":
		return VerbosityDebug, nil
	default:
		return VerbosityVerbose, fmt.Errorf("invalid verbosity %q (quiet, verbose or debug)", s)
	}
}

// MarshalText 实现 encoding.TextMarshaler
func (v Verbosity) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler，解析时即完成校验
func (v *Verbosity) UnmarshalText(text []byte) error {
	parsed, err := ParseVerbosity(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ============================================================================
//                              全局输出
// ============================================================================

var (
	setupMu sync.Mutex
	level   = new(slog.LevelVar)
)

// Setup 配置全局 logger
//
// format 为 "json" 时输出 JSON，其余情况输出文本格式。
func Setup(w io.Writer, v Verbosity, format string) {
	setupMu.Lock()
	defer setupMu.Unlock()

	if w == nil {
		w = os.Stderr
	}
	level.Set(v.Level())

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "ts"
			}
			return a
		},
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// SetVerbosity 运行时调整日志级别
func SetVerbosity(v Verbosity) {
	level.Set(v.Level())
}

// ============================================================================
//                              LazyLogger
// ============================================================================

// LazyLogger 懒加载 logger
//
// 每次日志调用时都从 slog.Default() 获取最新的 handler，
// 支持在运行时切换日志输出目标。
//
//	var logger = log.Logger("discovery/dht")
//	logger.Info("hello")
type LazyLogger struct {
	component string
}

// Logger 返回带组件名的 LazyLogger
func Logger(component string) *LazyLogger {
	return &LazyLogger{component: component}
}

func (l *LazyLogger) base() *slog.Logger {
	return slog.Default().With("component", l.component)
}

// Debug 输出 Debug 级别日志
func (l *LazyLogger) Debug(msg string, args ...any) {
	l.base().Debug(msg, args...)
}

// Info 输出 Info 级别日志
func (l *LazyLogger) Info(msg string, args ...any) {
	l.base().Info(msg, args...)
}

// Warn 输出 Warn 级别日志
func (l *LazyLogger) Warn(msg string, args ...any) {
	l.base().Warn(msg, args...)
}

// Error 输出 Error 级别日志
func (l *LazyLogger) Error(msg string, args ...any) {
	l.base().Error(msg, args...)
}

// DebugContext 带 context 的 Debug 日志
func (l *LazyLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.base().DebugContext(ctx, msg, args...)
}

// Enabled 判断指定级别是否会被输出，用于跳过昂贵的日志参数构造
func (l *LazyLogger) Enabled(lvl slog.Level) bool {
	return slog.Default().Enabled(context.Background(), lvl)
}

// With 添加额外的属性
func (l *LazyLogger) With(args ...any) *slog.Logger {
	return l.base().With(args...)
}

func init() {
	level.Set(slog.LevelInfo)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
