package errors

import (
	stdErrors "errors"

	"stagekit/store"
)

var storeSentinels = []struct {
	err  error
	code ErrorCode
	msg  string
}{
	{store.ErrEntityNotFound, ErrCodeNotFound, "实体未找到"},
	{store.ErrTermNotFound, ErrCodeMissingTerm, "分类项不存在"},
	{store.ErrInvalidRef, ErrCodeInvalidInput, "无效的实体引用"},
	{store.ErrPlaceholderWrite, ErrCodeInvalidInput, "占位实体尚未落库"},
}

// Normalize 把存储哨兵错误转为 AppError；IError 与未识别的错误原样返回
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(IError); ok {
		return err
	}
	for _, s := range storeSentinels {
		if stdErrors.Is(err, s.err) {
			return WrapError(err, s.code, s.msg)
		}
	}
	return err
}
