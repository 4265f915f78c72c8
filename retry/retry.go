// Package retry 指数退避重试
//
// 用于跨进程传输上的生命周期事件发布与运行时启动（连接 Redis/NATS）。
// 以 Permanent 包装的错误不再重试。
package retry

import (
	"context"
	stdErrors "errors"
	"math"
	"time"
)

// Operation 可重试的操作
type Operation func(ctx context.Context, attempt int) error

// Config 重试配置
type Config struct {
	// MaxAttempts 最大尝试次数（含首次），<=1 表示不重试
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay"`

	// OnRetry 每次失败且将要重试时回调
	OnRetry func(attempt int, delay time.Duration, err error) `yaml:"-"`
}

// DefaultConfig 3 次尝试，10ms 起步翻倍，单次等待不超过 1s
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     time.Second,
	}
}

// Once 不重试
func Once() Config {
	return Config{MaxAttempts: 1}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记不可重试的错误；Do 返回其原始错误
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// 测试可替换
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff 第 attempt 次失败后的等待时长（attempt 从 1 开始）
func (c Config) Backoff(attempt int) time.Duration {
	if c.InitialDelay <= 0 {
		return 0
	}
	m := c.Multiplier
	if m < 1 {
		m = 1
	}
	d := time.Duration(float64(c.InitialDelay) * math.Pow(m, float64(attempt-1)))
	if c.MaxDelay > 0 && (d > c.MaxDelay || d < 0) {
		d = c.MaxDelay
	}
	return d
}

// Do 执行 op，失败时按退避重试；返回最后一次的错误
func Do(ctx context.Context, cfg Config, op Operation) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if stdErrors.As(lastErr, &perm) {
			return perm.err
		}
		if attempt == attempts {
			break
		}
		delay := cfg.Backoff(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, delay, lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}
