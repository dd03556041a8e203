// Package logger 提供简单的日志工具。
// 日志器通过构造函数注入到各组件中，不使用进程级单例。
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Level 日志级别
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel 从字符串解析日志级别
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger 是注入到各组件中的日志接口。
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// StdLogger 将日志写入指定的 io.Writer（默认 stderr）。
type StdLogger struct {
	level Level
	out   io.Writer
}

// New 创建一个新的 StdLogger。
func New(level Level) *StdLogger {
	return &StdLogger{level: level, out: os.Stderr}
}

// NewWithWriter 创建一个写入指定 Writer 的 StdLogger。
func NewWithWriter(level Level, out io.Writer) *StdLogger {
	return &StdLogger{level: level, out: out}
}

// Debug 输出调试日志
func (l *StdLogger) Debug(format string, args ...any) {
	if l.level <= LevelDebug {
		fmt.Fprintf(l.out, "[DEBUG] "+format+"\n", args...)
	}
}

// Info 输出信息日志
func (l *StdLogger) Info(format string, args ...any) {
	if l.level <= LevelInfo {
		fmt.Fprintf(l.out, "[INFO] "+format+"\n", args...)
	}
}

// Warn 输出警告日志
func (l *StdLogger) Warn(format string, args ...any) {
	if l.level <= LevelWarn {
		fmt.Fprintf(l.out, "[WARN] "+format+"\n", args...)
	}
}

// Error 输出错误日志
func (l *StdLogger) Error(format string, args ...any) {
	if l.level <= LevelError {
		fmt.Fprintf(l.out, "[ERROR] "+format+"\n", args...)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop 返回一个丢弃所有日志的 Logger。
func Nop() Logger {
	return nopLogger{}
}

// OrNop 在 l 为 nil 时返回 Nop logger，便于组件构造函数使用。
func OrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
