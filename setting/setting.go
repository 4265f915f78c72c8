// Package setting 实现预览引擎的变更单元 Setting 及会话级 Setting 注册表
//
// 一个 Setting 指向实体上的一处值：整个实体的字段集合、一个元数据键，
// 或某个分类法下的分类项集合。Setting 只活在所属会话内：
// 构造 → 可选 Preview（幂等）→ 可选 Save（提交时一次）。
package setting

import (
	"context"
	"time"

	"stagekit/capability"
	"stagekit/conflict"
	"stagekit/content"
	"stagekit/errors"
	"stagekit/logging"
	"stagekit/messaging"
	"stagekit/schema"
	"stagekit/store"
)

// Mode 净化失败时的处理方式
type Mode int

const (
	// Strict 失败以类型化错误返回（提交、校验）
	Strict Mode = iota
	// Lenient 可恢复的失败返回 nil 值（探索性预览）
	Lenient
)

// ISetting Setting 的公共契约
type ISetting interface {
	ID() Identifier
	// Capability 构造时计算的能力名；无权限时为 capability.DoNotAllow
	Capability() string
	Default() any
	IsPreviewed() bool

	// Value 已预览时返回覆盖值与持久值的合并，否则返回持久值（不存在时返回默认值）
	Value(ctx context.Context) (any, error)
	// Sanitize 校验并规范化客户端原始值，不写存储
	Sanitize(ctx context.Context, raw any, mode Mode) (any, error)
	// Preview 把净化后的脏值登记到覆盖层；幂等
	Preview(ctx context.Context) bool
	// Save 写入存储；无脏值时返回 false
	Save(ctx context.Context) (bool, error)
	// ExportedValue 供客户端使用的值
	ExportedValue(ctx context.Context) (any, error)
}

// PreChecker 支持不写存储的写前检查（整实体 Setting 的编辑锁与冲突检查）
type PreChecker interface {
	PreCheck(ctx context.Context) error
}

// SanitizeFunc 额外净化回调，在内置规则之后执行
type SanitizeFunc func(ctx context.Context, value any) (any, error)

// ValidateFunc 额外校验回调
type ValidateFunc func(ctx context.Context, value any) error

// ExportFunc 导出回调
type ExportFunc func(value any) any

// TermsFilter 在正整数检查之前改写分类项列表（如单例分类法按 slug 自动建项）
type TermsFilter func(ctx context.Context, ref content.EntityRef, taxonomy string, values []any, mode Mode) ([]any, error)

// Args 显式注册 Setting 时的可选策略
type Args struct {
	Sanitize     SanitizeFunc
	Validate     ValidateFunc
	Export       ExportFunc
	Capability   string
	Default      any
	TermsFilters []TermsFilter
	// ThemeSupports 需要的主题特性；不满足时 Setting 能力为 do_not_allow
	ThemeSupports string
}

// Stager 覆盖层登记入口
type Stager interface {
	StageFields(ref content.EntityRef, fields content.Fields)
	StageMeta(ref content.EntityRef, key string, values []any)
	StageTerms(ref content.EntityRef, taxonomy string, termIDs []int64)
}

// Deps 会话内全部 Setting 共享的协作者
type Deps struct {
	// Store 底层存储；持久值读取与写入都绕过覆盖层
	Store    store.IStore
	Overlay  Stager
	Oracle   capability.IOracle
	Actor    capability.Actor
	Schema   *schema.Registry
	Detector *conflict.Detector
	Bus      messaging.IEventPublisher
	Logger   logging.Logger
	Now      func() time.Time
	// ThemeSupports 当前主题支持的特性
	ThemeSupports []string
	// PlaceholderStatus 客户端提交占位状态时改写成的状态
	PlaceholderStatus content.Status
	// AllowEmptyContent 允许标题、正文、摘要同时为空
	AllowEmptyContent bool
}

func (d *Deps) withDefaults() *Deps {
	out := *d
	if out.Oracle == nil {
		out.Oracle = capability.DenyAll
	}
	if out.Schema == nil {
		out.Schema = schema.NewDefaultRegistry()
	}
	if out.Detector == nil {
		out.Detector = conflict.NewDetector()
	}
	if out.Logger == nil {
		out.Logger = logging.ComponentLogger("setting")
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	if out.PlaceholderStatus == "" {
		out.PlaceholderStatus = content.StatusPublish
	}
	return &out
}

func (d *Deps) themeSupports(feature string) bool {
	if feature == "" {
		return true
	}
	for _, f := range d.ThemeSupports {
		if f == feature {
			return true
		}
	}
	return false
}

// actorCtx 写入时在上下文中携带操作者
func (d *Deps) actorCtx(ctx context.Context) context.Context {
	if _, ok := store.ActorFrom(ctx); ok {
		return ctx
	}
	return store.WithActor(ctx, d.Actor.ID)
}

// base 三种变体共享的状态
type base struct {
	id         Identifier
	capability string
	args       Args
	deps       *Deps
	registry   *Registry
	previewed  bool
	logger     logging.Logger
}

func newBase(r *Registry, id Identifier, args Args, capName string) base {
	if !r.deps.themeSupports(args.ThemeSupports) {
		capName = capability.DoNotAllow
	}
	return base{
		id:         id,
		capability: capName,
		args:       args,
		deps:       r.deps,
		registry:   r,
		logger:     r.deps.Logger.WithFields(logging.String("setting_id", id.String())),
	}
}

func (b *base) ID() Identifier     { return b.id }
func (b *base) Capability() string { return b.capability }
func (b *base) Default() any       { return b.args.Default }
func (b *base) IsPreviewed() bool  { return b.previewed }

// ref 当前有效引用：占位引用若已在本会话落库则返回真实引用
func (b *base) ref() content.EntityRef {
	return b.registry.ResolveRef(b.id.Ref())
}

func (b *base) rawValue() (any, bool) {
	return b.registry.RawValue(b.id)
}

// finish 统一处理模式：宽松模式吞掉错误，严格模式补齐 setting_id 与字段
func (b *base) finish(ctx context.Context, value any, err error, mode Mode, field string) (any, error) {
	if err == nil {
		if b.args.Sanitize != nil {
			value, err = b.args.Sanitize(ctx, value)
		}
		if err == nil && b.args.Validate != nil {
			err = b.args.Validate(ctx, value)
		}
		if err == nil {
			return value, nil
		}
	}
	if mode == Lenient {
		b.logger.Warn(ctx, "sanitize rejected value", logging.Error(err))
		return nil, nil
	}
	return nil, attribute(err, b.id, field)
}

func (b *base) export(value any) any {
	if b.args.Export != nil {
		return b.args.Export(value)
	}
	return value
}

func (b *base) publishSaved(ctx context.Context, placeholder, ref content.EntityRef, status content.Status) {
	if b.deps.Bus == nil {
		return
	}
	payload := messaging.SettingSaved{SettingID: b.id.String(), Ref: ref, Status: status}
	if placeholder != ref {
		payload.Placeholder = placeholder
	}
	if err := b.deps.Bus.PublishEvent(ctx, messaging.TypeSettingSaved, payload); err != nil {
		b.logger.Warn(ctx, "publish setting.saved failed", logging.Error(err))
	}
}

// attribute 确保错误是带 setting_id 且可归属字段的 AppError
func attribute(err error, id Identifier, field string) error {
	if err == nil {
		return nil
	}
	err = errors.Normalize(err)
	appErr, ok := err.(errors.IError)
	if !ok {
		appErr = errors.WrapError(err, errors.ErrCodeValidation, "invalid value")
	}
	details := map[string]any{errors.DetailSettingID: id.String()}
	if errors.FieldOf(appErr) == "" && field != "" {
		details[errors.DetailField] = field
	}
	return appErr.WithDetails(details)
}
