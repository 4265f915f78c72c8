package middleware

import (
	"context"
	"time"

	log "stagekit/logging"
	"stagekit/messaging"
)

// LoggingMiddleware 记录每条发布的消息及其耗时
type LoggingMiddleware struct {
	logger log.Logger
}

func NewLoggingMiddleware(logger log.Logger) *LoggingMiddleware {
	if logger == nil {
		logger = log.ComponentLogger("messaging")
	}
	return &LoggingMiddleware{logger: logger}
}

func (m *LoggingMiddleware) Name() string { return "Logging" }

func (m *LoggingMiddleware) Handle(ctx context.Context, message messaging.IMessage, next messaging.HandlerFunc) error {
	start := time.Now()
	err := next(ctx, message)
	fields := []log.Field{
		log.String("type", message.GetType()),
		log.String("message_id", message.GetID()),
		log.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		m.logger.Warn(ctx, "publish failed", append(fields, log.Error(err))...)
		return err
	}
	m.logger.Debug(ctx, "message published", fields...)
	return nil
}
