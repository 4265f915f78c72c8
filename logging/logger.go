// Package logging 提供统一的日志接口抽象
//
// 预览引擎的各组件只依赖 Logger 接口；具体后端（标准库、zap、空实现）由配置选择。
package logging

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync/atomic"
	"time"
)

// Level 日志级别
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// ParseLevel 解析级别字符串，无法识别时返回 InfoLevel
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// String 返回级别名称
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger 结构化日志；WithFields 返回新实例，不修改接收者
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	WithFields(fields ...Field) Logger
}

// Field 日志字段
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field             { return Field{Key: key, Value: value} }
func Int(key string, value int) Field            { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field        { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field          { return Field{Key: key, Value: value} }
func Any(key string, value any) Field            { return Field{Key: key, Value: value} }
func Error(err error) Field                      { return Field{Key: "error", Value: err} }
func Duration(key string, v time.Duration) Field { return Field{Key: key, Value: v} }

// Time 文本后端以 RFC3339 输出
func Time(key string, value time.Time) Field { return Field{Key: key, Value: value} }

// StdLogger 经标准库 log 输出的 key=value 文本日志
type StdLogger struct {
	prefix string
	level  Level
	fields []Field
}

// NewStdLogger 默认输出全部级别
func NewStdLogger(prefix string) *StdLogger {
	return &StdLogger{prefix: prefix, level: DebugLevel}
}

// WithLevel 返回只输出 >= level 的副本
func (l *StdLogger) WithLevel(level Level) *StdLogger {
	return &StdLogger{prefix: l.prefix, level: level, fields: l.fields}
}

func (l *StdLogger) format(msg string, fields ...Field) string {
	var b strings.Builder
	if l.prefix != "" {
		b.WriteString(l.prefix + " ")
	}
	b.WriteString(msg)
	for _, group := range [][]Field{l.fields, fields} {
		for _, f := range group {
			fmt.Fprintf(&b, " %s=%s", f.Key, formatValue(f.Value))
		}
	}
	return b.String()
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case error:
		return val.Error()
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}

func (l *StdLogger) emit(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	log.Println("["+level.String()+"]", l.format(msg, fields...))
}

func (l *StdLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.emit(DebugLevel, msg, fields)
}

func (l *StdLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.emit(InfoLevel, msg, fields)
}

func (l *StdLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.emit(WarnLevel, msg, fields)
}

func (l *StdLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.emit(ErrorLevel, msg, fields)
}

func (l *StdLogger) WithFields(fields ...Field) Logger {
	return &StdLogger{prefix: l.prefix, level: l.level, fields: slices.Concat(l.fields, fields)}
}

// NoopLogger 丢弃全部输出
type NoopLogger struct{}

func NewNoopLogger() *NoopLogger { return &NoopLogger{} }

func (l *NoopLogger) Debug(ctx context.Context, msg string, fields ...Field) {}
func (l *NoopLogger) Info(ctx context.Context, msg string, fields ...Field)  {}
func (l *NoopLogger) Warn(ctx context.Context, msg string, fields ...Field)  {}
func (l *NoopLogger) Error(ctx context.Context, msg string, fields ...Field) {}
func (l *NoopLogger) WithFields(fields ...Field) Logger                      { return l }

type loggerHolder struct{ Logger }

var global atomic.Pointer[loggerHolder]

func init() {
	global.Store(&loggerHolder{NewStdLogger("").WithLevel(InfoLevel)})
}

// SetLogger 替换全局 Logger；nil 视为 NoopLogger
func SetLogger(logger Logger) {
	if logger == nil {
		logger = NewNoopLogger()
	}
	global.Store(&loggerHolder{logger})
}

func GetLogger() Logger {
	return global.Load().Logger
}

// componentLogger 每次输出时解析全局 Logger，SetLogger 之前创建的组件日志也跟随替换
type componentLogger struct {
	fields []Field
}

// ComponentLogger 带 component 字段的全局 Logger
func ComponentLogger(component string) Logger {
	return &componentLogger{fields: []Field{String("component", component)}}
}

func (c *componentLogger) resolve() Logger { return GetLogger().WithFields(c.fields...) }

func (c *componentLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	c.resolve().Debug(ctx, msg, fields...)
}

func (c *componentLogger) Info(ctx context.Context, msg string, fields ...Field) {
	c.resolve().Info(ctx, msg, fields...)
}

func (c *componentLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	c.resolve().Warn(ctx, msg, fields...)
}

func (c *componentLogger) Error(ctx context.Context, msg string, fields ...Field) {
	c.resolve().Error(ctx, msg, fields...)
}

func (c *componentLogger) WithFields(fields ...Field) Logger {
	return &componentLogger{fields: append(append([]Field{}, c.fields...), fields...)}
}
