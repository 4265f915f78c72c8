package content

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// CoerceInt64 将客户端提交的整数值（数字、数字字符串、JSON 数字）规范化为 int64
func CoerceInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return floatToInt(f)
		}
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	// float64(math.MaxInt64) 向上取整为 2^63，上界须用 >=
	if f >= 1<<63 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// NonNegativeInt64 非负整数，无法解析或为负时返回 0
func NonNegativeInt64(v any) int64 {
	n, ok := CoerceInt64(v)
	if !ok || n < 0 {
		return 0
	}
	return n
}

// CoerceString 将标量转换为字符串；nil 返回空串
func CoerceString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case Status:
		return string(s)
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	}
	if n, ok := CoerceInt64(v); ok {
		return strconv.FormatInt(n, 10)
	}
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

// NormalizeNewlines 将 \r\n 与 \r 统一为 \n
func NormalizeNewlines(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
