package content

import (
	"reflect"
	"sort"
	"time"
)

// 实体字段键
const (
	FieldType          = "type"
	FieldTitle         = "title"
	FieldContent       = "content"
	FieldExcerpt       = "excerpt"
	FieldStatus        = "status"
	FieldName          = "name"
	FieldAuthor        = "author"
	FieldDate          = "date"
	FieldParent        = "parent"
	FieldMenuOrder     = "menu_order"
	FieldCommentStatus = "comment_status"
	FieldPingStatus    = "ping_status"
	FieldPassword      = "password"
	FieldModified      = "modified"
)

// DefaultFieldKeys 默认字段集合（可编辑字段 + 基线时间戳）
var DefaultFieldKeys = []string{
	FieldType, FieldTitle, FieldContent, FieldExcerpt, FieldStatus, FieldName, FieldAuthor,
	FieldDate, FieldParent, FieldMenuOrder, FieldCommentStatus, FieldPingStatus, FieldPassword, FieldModified,
}

var defaultFieldSet = func() map[string]bool {
	m := make(map[string]bool, len(DefaultFieldKeys))
	for _, k := range DefaultFieldKeys {
		m[k] = true
	}
	return m
}()

// IsDefaultField 是否为可识别的实体字段
func IsDefaultField(key string) bool {
	return defaultFieldSet[key]
}

// Fields 字段集合：键为字段名，值为净化后的类型化值
type Fields map[string]any

// Clone 浅拷贝
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Keys 按字典序返回字段名
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String 读取字符串字段
func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// Status 读取状态字段
func (f Fields) Status() Status {
	return toStatus(f[FieldStatus])
}

// Time 读取时间字段
func (f Fields) Time(key string) time.Time {
	t, _ := f[key].(time.Time)
	return t
}

// Int64 读取整数字段
func (f Fields) Int64(key string) int64 {
	n, _ := CoerceInt64(f[key])
	return n
}

// Merge 以 overlay 为强层合并到 base 之上，返回新集合
func Merge(base, overlay Fields) Fields {
	out := base.Clone()
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// ValuesEqual 比较两个字段值；数值与状态按规范化后的值比较，时间按 Equal 比较
func ValuesEqual(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if _, ok := b.(time.Time); ok {
		return false
	}
	sa, aStr := stringish(a)
	sb, bStr := stringish(b)
	if aStr && bStr {
		return sa == sb
	}
	if na, ok := CoerceInt64(a); ok {
		if nb, ok := CoerceInt64(b); ok {
			return na == nb
		}
	}
	return reflect.DeepEqual(a, b)
}

func stringish(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case Status:
		return string(s), true
	}
	return "", false
}
