// Package conflict 检测提交时的更新冲突
//
// 客户端提交时携带它所见实体的修改时间（基线）。基线早于存储当前修改时间，
// 且至少一个提交字段与当前持久值不同，才构成真冲突；只是基线过期而字段都没变的，
// 不算冲突。
package conflict

import (
	"sort"
	"time"

	"stagekit/content"
	"stagekit/errors"
)

// Record 冲突记录，只在本次请求/响应周期内存在
type Record struct {
	SettingID string            `json:"setting_id"`
	Ref       content.EntityRef `json:"ref"`
	// TheirFields 实体当前的权威字段值
	TheirFields content.Fields `json:"their_fields"`
	// ConflictingFields 与当前持久值不同的提交字段（排序）
	ConflictingFields []string  `json:"conflicting_fields"`
	ModifiedBy        int64     `json:"modified_by"`
	Modified          time.Time `json:"modified"`
}

// Err 转换为 UPDATE_CONFLICT 错误
func (r *Record) Err() error {
	return errors.Newf(errors.ErrCodeUpdateConflict, "%s was modified by another user", r.Ref).
		WithDetails(map[string]any{
			errors.DetailSettingID:         r.SettingID,
			errors.DetailTheirFields:       r.TheirFields,
			errors.DetailConflictingFields: r.ConflictingFields,
			"modified_by":                  r.ModifiedBy,
		})
}

// Detector 冲突检测器
type Detector struct {
	ignored map[string]bool
}

// Option 检测器配置
type Option func(*Detector)

// WithIgnoredFields 追加不参与比较的字段
func WithIgnoredFields(fields ...string) Option {
	return func(d *Detector) {
		for _, f := range fields {
			d.ignored[f] = true
		}
	}
}

// NewDetector 创建检测器；修改时间戳与类型字段永不参与比较
func NewDetector(opts ...Option) *Detector {
	d := &Detector{ignored: map[string]bool{
		content.FieldModified: true,
		content.FieldType:     true,
	}}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect 比较基线与当前实体；无冲突返回 nil
//
// 基线为零值表示客户端没有提供基线，不做检查。
func (d *Detector) Detect(settingID string, baseline time.Time, current *content.Entity, submitted content.Fields) *Record {
	if current == nil || baseline.IsZero() || !baseline.Before(current.Modified) {
		return nil
	}
	diverged := d.Diff(current.Fields(), submitted)
	if len(diverged) == 0 {
		return nil
	}
	return &Record{
		SettingID:         settingID,
		Ref:               current.Ref,
		TheirFields:       current.Fields(),
		ConflictingFields: diverged,
		ModifiedBy:        current.ModifiedBy,
		Modified:          current.Modified,
	}
}

// Diff 返回提交字段中与当前值不同的字段名（排序），只比较默认字段集合
func (d *Detector) Diff(current, submitted content.Fields) []string {
	var out []string
	for key, v := range submitted {
		if d.ignored[key] || !content.IsDefaultField(key) {
			continue
		}
		if !content.ValuesEqual(current[key], v) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}
