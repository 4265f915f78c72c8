package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagekit/content"
	"stagekit/store"
)

func TestAppError_Basics(t *testing.T) {
	err := NewFieldError(ErrCodeEmptyContent, "content", "内容为空")
	assert.Equal(t, "[EMPTY_CONTENT] 内容为空", err.Error())
	assert.Equal(t, ErrCodeEmptyContent, err.Code())
	assert.Equal(t, "content", FieldOf(err))
	assert.NotEmpty(t, err.Stack())

	withID := err.WithContext(DetailSettingID, "post[post][1]")
	id, ok := DetailOf(withID, DetailSettingID)
	require.True(t, ok)
	assert.Equal(t, "post[post][1]", id)
	// WithDetails 不修改原错误
	_, ok = DetailOf(err, DetailSettingID)
	assert.False(t, ok)
	assert.Equal(t, "content", FieldOf(withID))
}

func TestAppError_WrapAndIs(t *testing.T) {
	cause := fmt.Errorf("disk full")
	wrapped := WrapError(cause, ErrCodeDatabase, "写入失败")
	assert.Equal(t, "[DATABASE_ERROR] 写入失败: disk full", wrapped.Error())
	assert.True(t, stdErrors.Is(wrapped, cause))
	assert.True(t, stdErrors.Is(wrapped, NewError(ErrCodeDatabase, "other")))
	assert.False(t, stdErrors.Is(wrapped, NewError(ErrCodeLocked, "other")))
	assert.Nil(t, WrapError(nil, ErrCodeDatabase, "x"))

	outer := NewError(ErrCodeLocked, "已锁定").WithField("post").Wrap("提交")
	assert.Equal(t, ErrCodeLocked, GetErrorCode(outer))
	assert.True(t, IsLocked(outer))
	assert.Equal(t, "post", FieldOf(outer))
	assert.Contains(t, outer.Message(), "提交: 已锁定")
}

func TestErrorCodeHelpers(t *testing.T) {
	assert.Equal(t, ErrorCode(""), GetErrorCode(nil))
	assert.Equal(t, ErrCodeInternal, GetErrorCode(fmt.Errorf("plain")))
	assert.True(t, IsConflict(Newf(ErrCodeUpdateConflict, "实体 %d 已被修改", 42)))
	assert.True(t, IsValidation(NewValidationError("bad")))
	assert.True(t, IsNotFound(fmt.Errorf("ctx: %w", NewError(ErrCodeNotFound, "missing"))))
	assert.False(t, IsErrorCode(nil, ErrCodeNotFound))
	assert.Equal(t, "", FieldOf(fmt.Errorf("plain")))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   error
		want ErrorCode
	}{
		{store.NotFound(content.Ref("post", 1)), ErrCodeNotFound},
		{store.ErrTermNotFound, ErrCodeMissingTerm},
		{store.ErrInvalidRef, ErrCodeInvalidInput},
		{store.ErrPlaceholderWrite, ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		got := Normalize(tt.in)
		assert.Equal(t, tt.want, GetErrorCode(got), tt.in.Error())
		assert.True(t, stdErrors.Is(got, tt.in))
	}

	app := NewError(ErrCodeForbidden, "no")
	assert.Same(t, app, Normalize(app))
	plain := fmt.Errorf("plain")
	assert.Equal(t, plain, Normalize(plain))
	assert.Nil(t, Normalize(nil))
}

func TestWrapStoreError(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, WrapStoreError(ctx, nil, "get"))
	assert.True(t, IsNotFound(WrapStoreError(ctx, store.ErrEntityNotFound, "get")))

	err := WrapStoreError(ctx, fmt.Errorf("connection reset"), "upsert")
	assert.True(t, IsErrorCode(err, ErrCodeDatabase))
	assert.Contains(t, err.Error(), "upsert")

	assert.True(t, IsErrorCode(Wrap(ctx, fmt.Errorf("x"), ErrCodeQueue, "publish"), ErrCodeQueue))
	assert.Nil(t, Wrap(ctx, nil, ErrCodeQueue, "publish"))
}
