// Package errors 定义预览引擎统一的错误体系
//
// 所有对外暴露的失败都以 AppError 表达：错误代码 + 消息 + 详情。
// 详情中约定的键：
//   - field: 出错字段（供 UI 高亮）
//   - setting_id: 出错的设置标识
//   - lock_holder: 当前持有编辑锁的操作者
//   - their_fields / conflicting_fields: 冲突记录
package errors

import (
	stdErrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
)

// ErrorCode 错误代码类型
type ErrorCode string

// 通用错误代码
const (
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeDatabase     ErrorCode = "DATABASE_ERROR"
	ErrCodeQueue        ErrorCode = "QUEUE_ERROR"
)

// 标识解析错误代码
const (
	ErrCodeInvalidIdentifier ErrorCode = "INVALID_IDENTIFIER"
	ErrCodeUnknownEntityType ErrorCode = "UNKNOWN_ENTITY_TYPE"
	ErrCodeUnknownTaxonomy   ErrorCode = "UNKNOWN_TAXONOMY"
)

// 净化/校验错误代码
const (
	ErrCodeExpectedArray       ErrorCode = "EXPECTED_ARRAY"
	ErrCodeInvalidTermID       ErrorCode = "INVALID_TERM_ID"
	ErrCodeMissingTerm         ErrorCode = "MISSING_TERM"
	ErrCodeEmptyContent        ErrorCode = "EMPTY_CONTENT"
	ErrCodeInvalidDate         ErrorCode = "INVALID_DATE"
	ErrCodeBadPostType         ErrorCode = "BAD_POST_TYPE"
	ErrCodeNotAllowed          ErrorCode = "NOT_ALLOWED"
	ErrCodeInvalidPageTemplate ErrorCode = "INVALID_PAGE_TEMPLATE"
	ErrCodeInvalidAttachmentID ErrorCode = "INVALID_ATTACHMENT_ID"
	ErrCodeInvalidMetaValue    ErrorCode = "INVALID_META_VALUE"
)

// 提交期并发错误代码
const (
	ErrCodeLocked         ErrorCode = "LOCKED"
	ErrCodeUpdateConflict ErrorCode = "UPDATE_CONFLICT"
)

// 详情键
const (
	DetailField             = "field"
	DetailSettingID         = "setting_id"
	DetailLockHolder        = "lock_holder"
	DetailTheirFields       = "their_fields"
	DetailConflictingFields = "conflicting_fields"
)

// IError 带错误代码与详情的错误；详情修改返回新错误，原错误不变
type IError interface {
	error
	Code() ErrorCode
	Message() string
	Cause() error
	Details() map[string]any
	Stack() string

	Wrap(msg string) IError
	WithDetails(details map[string]any) IError
	WithContext(key string, value any) IError
	WithField(field string) IError
}

// AppError IError 的实现
type AppError struct {
	code    ErrorCode
	message string
	cause   error
	details map[string]any
	pcs     []uintptr
}

var _ IError = (*AppError)(nil)

func newError(code ErrorCode, message string, cause error, details map[string]any) *AppError {
	var pcs [32]uintptr
	n := runtime.Callers(3, pcs[:])
	return &AppError{code: code, message: message, cause: cause, details: details, pcs: pcs[:n:n]}
}

func NewError(code ErrorCode, message string) IError {
	return newError(code, message, nil, nil)
}

func Newf(code ErrorCode, format string, args ...any) IError {
	return newError(code, fmt.Sprintf(format, args...), nil, nil)
}

// NewFieldError 归属于某个字段的错误
func NewFieldError(code ErrorCode, field, message string) IError {
	return newError(code, message, nil, map[string]any{DetailField: field})
}

// NewValidationError 通用校验错误
func NewValidationError(msg string) error {
	return newError(ErrCodeValidation, msg, nil, nil)
}

// WrapError 以指定代码包装 err；err 为 nil 时返回 nil
func WrapError(err error, code ErrorCode, message string) IError {
	if err == nil {
		return nil
	}
	return newError(code, message, err, nil)
}

func (e *AppError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("[%s] %s", e.code, e.message)
	}
	return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
}

func (e *AppError) Code() ErrorCode { return e.code }
func (e *AppError) Message() string { return e.message }
func (e *AppError) Cause() error    { return e.cause }
func (e *AppError) Unwrap() error   { return e.cause }

// Details 详情副本
func (e *AppError) Details() map[string]any {
	if e.details == nil {
		return map[string]any{}
	}
	return maps.Clone(e.details)
}

// Stack 创建位置的调用栈，每帧一行
func (e *AppError) Stack() string {
	var sb strings.Builder
	frames := runtime.CallersFrames(e.pcs)
	for {
		f, more := frames.Next()
		if f.Function != "" {
			fmt.Fprintf(&sb, "%s:%d %s\n", f.File, f.Line, f.Function)
		}
		if !more {
			return sb.String()
		}
	}
}

// Is 同代码的 AppError 视为同类
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.code == e.code
}

// Wrap 保留代码与详情，消息前缀 msg
func (e *AppError) Wrap(msg string) IError {
	return newError(e.code, msg+": "+e.message, e, e.Details())
}

func (e *AppError) WithDetails(details map[string]any) IError {
	merged := e.Details()
	maps.Copy(merged, details)
	cp := *e
	cp.details = merged
	return &cp
}

func (e *AppError) WithContext(key string, value any) IError {
	return e.WithDetails(map[string]any{key: value})
}

func (e *AppError) WithField(field string) IError {
	return e.WithDetails(map[string]any{DetailField: field})
}

func asAppError(err error) (*AppError, bool) {
	var appErr *AppError
	ok := stdErrors.As(err, &appErr)
	return appErr, ok
}

// GetErrorCode 错误链上第一个 AppError 的代码；非 AppError 视为 INTERNAL_ERROR
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if appErr, ok := asAppError(err); ok {
		return appErr.code
	}
	return ErrCodeInternal
}

func IsErrorCode(err error, code ErrorCode) bool {
	appErr, ok := asAppError(err)
	return ok && appErr.code == code
}

func IsNotFound(err error) bool   { return IsErrorCode(err, ErrCodeNotFound) }
func IsValidation(err error) bool { return IsErrorCode(err, ErrCodeValidation) }
func IsConflict(err error) bool   { return IsErrorCode(err, ErrCodeUpdateConflict) }
func IsLocked(err error) bool     { return IsErrorCode(err, ErrCodeLocked) }

// DetailOf 读取详情键
func DetailOf(err error, key string) (any, bool) {
	appErr, ok := asAppError(err)
	if !ok {
		return nil, false
	}
	v, ok := appErr.details[key]
	return v, ok
}

// FieldOf 错误归属的字段，无归属时为空串
func FieldOf(err error) string {
	v, _ := DetailOf(err, DetailField)
	s, _ := v.(string)
	return s
}
