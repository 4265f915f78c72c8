package errors

import (
	"context"
	"fmt"
	"runtime"

	"stagekit/logging"
)

var logger = logging.ComponentLogger("errors")

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// Wrap 在 Session/Setting 边界包装错误，调试级别记录包装位置
func Wrap(ctx context.Context, err error, code ErrorCode, msg string) error {
	if err == nil {
		return nil
	}
	logger.Debug(ctx, msg,
		logging.Error(err),
		logging.String("error_code", string(code)),
		logging.String("location", caller(1)))
	return WrapError(err, code, msg)
}

// WrapStoreError 包装存储适配器错误：已知哨兵错误规范化，其余归为 DATABASE_ERROR 并告警
func WrapStoreError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}
	if normalized := Normalize(err); normalized != err {
		return normalized
	}
	msg := "存储操作失败: " + operation
	logger.Warn(ctx, msg,
		logging.Error(err),
		logging.String("operation", operation),
		logging.String("location", caller(1)))
	return WrapError(err, ErrCodeDatabase, msg)
}
