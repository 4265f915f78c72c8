package store

// 常见存储错误
var (
	ErrEntityNotFound   = &StoreError{Code: "ENTITY_NOT_FOUND", Message: "entity not found"}
	ErrTermNotFound     = &StoreError{Code: "TERM_NOT_FOUND", Message: "term not found"}
	ErrInvalidRef       = &StoreError{Code: "INVALID_REF", Message: "invalid entity reference"}
	ErrPlaceholderWrite = &StoreError{Code: "PLACEHOLDER_WRITE", Message: "placeholder entity has not been persisted"}
)

// StoreError 存储错误
type StoreError struct {
	Code    string
	Message string
	Ref     any
	Cause   error
}

func (e *StoreError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is 同代码即视为同类错误，便于携带引用的副本与哨兵匹配
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	return ok && t.Code == e.Code
}

// NotFound 返回携带实体引用的未找到错误
func NotFound(ref any) *StoreError {
	return &StoreError{Code: ErrEntityNotFound.Code, Message: ErrEntityNotFound.Message, Ref: ref}
}
