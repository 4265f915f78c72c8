// Package validation 提供注册期与配置期的结构校验
//
// 结构校验基于 go-playground/validator 的 struct tag；失败统一转换为
// VALIDATION_ERROR，并在详情中标注首个出错字段。
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"stagekit/errors"
)

// 实体类型、分类法与元数据键允许的字符
var slugRegex = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

var (
	once     sync.Once
	validate *validator.Validate
)

// Validator 返回共享的校验器实例（已注册自定义规则）
func Validator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("key", func(fl validator.FieldLevel) bool {
			return slugRegex.MatchString(fl.Field().String())
		})
	})
	return validate
}

// IValidator 定义通用验证器接口
type IValidator interface {
	Validate(value any) error
}

// StructValidator 以 struct tag 校验的 IValidator 实现
type StructValidator struct{}

// Validate 实现 IValidator 接口
func (StructValidator) Validate(value any) error {
	return Struct(value)
}

// Struct 校验结构体字段
func Struct(value any) error {
	return translate(value, Validator().Struct(value))
}

// Var 按规则校验单个值
func Var(value any, field, tag string) error {
	err := Validator().Var(value, tag)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		return errors.NewFieldError(errors.ErrCodeValidation, field,
			fmt.Sprintf("%s不满足规则 %s", field, verrs[0].Tag()))
	}
	return errors.WrapError(err, errors.ErrCodeValidation, "校验失败")
}

func translate(input any, err error) error {
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return errors.WrapError(err, errors.ErrCodeValidation, "校验失败")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: 规则 %s 未通过（值 %v）", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return errors.NewFieldError(errors.ErrCodeValidation, verrs[0].Field(),
		fmt.Sprintf("%T 校验失败: %s", input, strings.Join(msgs, "; ")))
}

// ValidateRequired 验证必填字段
func ValidateRequired(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return errors.NewFieldError(errors.ErrCodeValidation, fieldName,
			fmt.Sprintf("%s不能为空", fieldName))
	}
	return nil
}

// ValidateEnum 验证枚举值
func ValidateEnum(value, fieldName string, validValues []string) error {
	for _, valid := range validValues {
		if value == valid {
			return nil
		}
	}
	return errors.NewFieldError(errors.ErrCodeValidation, fieldName,
		fmt.Sprintf("%s的值无效，必须是以下之一: %v", fieldName, validValues))
}

// ValidateID 验证ID有效性
func ValidateID(id int64, fieldName string) error {
	if id <= 0 {
		return errors.NewFieldError(errors.ErrCodeValidation, fieldName,
			fmt.Sprintf("%s必须为正整数", fieldName))
	}
	return nil
}
