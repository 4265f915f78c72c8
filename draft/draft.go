// Package draft 管理为预览创建的占位实体的生命周期
//
// 状态机：
//
//	ephemeral ──变更集持久化──▶ pending-commit ──Setting 以终态保存──▶ finalized
//	    │                          │
//	    └──Setting 以终态保存──▶ finalized
//	                               └──所属变更集被丢弃──▶ abandoned
//
// 状态写在实体元数据中，实体状态随之镜像：ephemeral/abandoned 为 auto-draft（可回收），
// pending-commit 为 customize-draft（不可回收），finalized 为保存时的终态。
package draft

import (
	"context"
	stdErrors "errors"
	"time"

	"stagekit/changeset"
	"stagekit/content"
	"stagekit/errors"
	"stagekit/logging"
	"stagekit/schema"
	"stagekit/store"
)

// State 占位实体生命周期状态
type State string

const (
	StateEphemeral     State = "ephemeral"
	StatePendingCommit State = "pending-commit"
	StateFinalized     State = "finalized"
	StateAbandoned     State = "abandoned"
)

// Config 管理器配置
type Config struct {
	Logger logging.Logger
	Now    func() time.Time
}

// Option 配置项
type Option func(*Config)

// WithLogger 设置日志
func WithLogger(l logging.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(c *Config) { c.Now = now }
}

// Manager 草稿生命周期管理器
type Manager struct {
	store      store.IStore
	changesets changeset.IStore
	logger     logging.Logger
	now        func() time.Time
}

// NewManager 创建管理器；changesets 为 nil 时对账视所有 pending-commit 实体为孤儿
func NewManager(st store.IStore, changesets changeset.IStore, opts ...Option) *Manager {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("draft")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{store: st, changesets: changesets, logger: cfg.Logger, now: cfg.Now}
}

// CreatePlaceholder 为当前会话创建一个 ephemeral 占位实体
func (m *Manager) CreatePlaceholder(ctx context.Context, actor int64, entityType string) (content.EntityRef, error) {
	ctx = store.WithActor(ctx, actor)
	ref, err := m.store.UpsertEntity(ctx, content.Ref(entityType, 0), content.Fields{
		content.FieldStatus: content.StatusAutoDraft,
		content.FieldAuthor: actor,
	})
	if err != nil {
		return content.EntityRef{}, errors.WrapStoreError(ctx, err, "create placeholder")
	}
	if err := m.store.UpdateMeta(ctx, ref, schema.MetaDraftState, string(StateEphemeral)); err != nil {
		return content.EntityRef{}, errors.WrapStoreError(ctx, err, "record draft state")
	}
	m.logger.Debug(ctx, "placeholder created", logging.String("ref", ref.String()), logging.Int64("actor", actor))
	return ref, nil
}

// State 读取实体的生命周期状态；不是占位实体时 ok 为 false
func (m *Manager) State(ctx context.Context, ref content.EntityRef) (State, bool, error) {
	values, err := m.store.GetMeta(ctx, ref, schema.MetaDraftState)
	if err != nil {
		return "", false, errors.WrapStoreError(ctx, err, "get draft state")
	}
	if s := content.CoerceString(store.SingleMeta(values)); s != "" {
		return State(s), true, nil
	}
	e, err := m.store.GetEntity(ctx, ref)
	if err != nil {
		return "", false, errors.WrapStoreError(ctx, err, "get entity")
	}
	switch e.Status {
	case content.StatusAutoDraft:
		return StateEphemeral, true, nil
	case content.StatusCustomizeDraft:
		return StatePendingCommit, true, nil
	}
	return "", false, nil
}

// ChangesetOf 占位实体所属的变更集
func (m *Manager) ChangesetOf(ctx context.Context, ref content.EntityRef) (string, error) {
	values, err := m.store.GetMeta(ctx, ref, schema.MetaChangesetUUID)
	if err != nil {
		return "", errors.WrapStoreError(ctx, err, "get changeset uuid")
	}
	return content.CoerceString(store.SingleMeta(values)), nil
}

// MarkPendingCommit 变更集持久化：其引用的 ephemeral 实体转为 pending-commit
func (m *Manager) MarkPendingCommit(ctx context.Context, uuid string, refs []content.EntityRef) error {
	var errs []error
	for _, ref := range refs {
		if err := m.markPending(ctx, uuid, ref); err != nil {
			errs = append(errs, err)
		}
	}
	return stdErrors.Join(errs...)
}

func (m *Manager) markPending(ctx context.Context, uuid string, ref content.EntityRef) error {
	state, ok, err := m.State(ctx, ref)
	if err != nil || !ok {
		return err
	}
	switch state {
	case StateEphemeral, StatePendingCommit, StateAbandoned:
	default:
		return nil
	}
	if err := m.store.SetEntityStatus(ctx, ref, content.StatusCustomizeDraft); err != nil {
		return errors.WrapStoreError(ctx, err, "set customize-draft status")
	}
	if err := m.setState(ctx, ref, StatePendingCommit); err != nil {
		return err
	}
	if err := m.store.UpdateMeta(ctx, ref, schema.MetaChangesetUUID, uuid); err != nil {
		return errors.WrapStoreError(ctx, err, "record changeset uuid")
	}
	m.logger.Debug(ctx, "placeholder pending commit", logging.String("ref", ref.String()), logging.String("uuid", uuid))
	return nil
}

// Finalize 占位实体以终态保存后永久离开占位处理
func (m *Manager) Finalize(ctx context.Context, ref content.EntityRef, status content.Status) error {
	if !status.IsTerminal() {
		return nil
	}
	state, ok, err := m.State(ctx, ref)
	if err != nil || !ok {
		return err
	}
	if state != StateEphemeral && state != StatePendingCommit {
		return nil
	}
	if err := m.setState(ctx, ref, StateFinalized); err != nil {
		return err
	}
	if err := m.store.DeleteMeta(ctx, ref, schema.MetaChangesetUUID, nil); err != nil {
		return errors.WrapStoreError(ctx, err, "clear changeset uuid")
	}
	m.logger.Debug(ctx, "placeholder finalized", logging.String("ref", ref.String()), logging.String("status", string(status)))
	return nil
}

// Abandon pending-commit 实体回到可回收状态
//
// 实体已被写成非占位状态时不回收，改为补做定稿。
func (m *Manager) Abandon(ctx context.Context, ref content.EntityRef) error {
	_, err := m.abandon(ctx, ref)
	return err
}

func (m *Manager) abandon(ctx context.Context, ref content.EntityRef) (bool, error) {
	state, ok, err := m.State(ctx, ref)
	if err != nil || !ok || state != StatePendingCommit {
		return false, err
	}
	e, err := m.store.GetEntity(ctx, ref)
	if err != nil {
		return false, errors.WrapStoreError(ctx, err, "get entity")
	}
	if !e.Status.IsPlaceholder() {
		return false, m.Finalize(ctx, ref, e.Status)
	}
	if err := m.store.SetEntityStatus(ctx, ref, content.StatusAutoDraft); err != nil {
		return false, errors.WrapStoreError(ctx, err, "release placeholder")
	}
	if err := m.setState(ctx, ref, StateAbandoned); err != nil {
		return false, err
	}
	m.logger.Debug(ctx, "placeholder abandoned", logging.String("ref", ref.String()))
	return true, nil
}

// AbandonChangeset 放弃某变更集仍持有的全部 pending-commit 实体
func (m *Manager) AbandonChangeset(ctx context.Context, uuid string) ([]content.EntityRef, error) {
	pending, err := m.store.ListByStatus(ctx, content.StatusCustomizeDraft)
	if err != nil {
		return nil, errors.WrapStoreError(ctx, err, "list pending placeholders")
	}
	var abandoned []content.EntityRef
	var errs []error
	for _, ref := range pending {
		owner, err := m.ChangesetOf(ctx, ref)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if owner != uuid {
			continue
		}
		released, err := m.abandon(ctx, ref)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if released {
			abandoned = append(abandoned, ref)
		}
	}
	return abandoned, stdErrors.Join(errs...)
}

// Reconcile 对账：所属变更集缺失、已丢弃或已提交的 pending-commit 实体转为 abandoned
func (m *Manager) Reconcile(ctx context.Context) ([]content.EntityRef, error) {
	pending, err := m.store.ListByStatus(ctx, content.StatusCustomizeDraft)
	if err != nil {
		return nil, errors.WrapStoreError(ctx, err, "list pending placeholders")
	}
	var abandoned []content.EntityRef
	var errs []error
	for _, ref := range pending {
		orphan, err := m.orphaned(ctx, ref)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !orphan {
			continue
		}
		released, err := m.abandon(ctx, ref)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if released {
			abandoned = append(abandoned, ref)
		}
	}
	if len(errs) > 0 {
		m.logger.Warn(ctx, "reconcile finished with errors", logging.Error(stdErrors.Join(errs...)))
	}
	m.logger.Debug(ctx, "reconcile finished", logging.Int("pending", len(pending)), logging.Int("abandoned", len(abandoned)))
	return abandoned, stdErrors.Join(errs...)
}

func (m *Manager) orphaned(ctx context.Context, ref content.EntityRef) (bool, error) {
	uuid, err := m.ChangesetOf(ctx, ref)
	if err != nil {
		return false, err
	}
	if uuid == "" || m.changesets == nil {
		return true, nil
	}
	c, err := m.changesets.Get(ctx, uuid)
	if errors.IsNotFound(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return !c.Status.Open(), nil
}

func (m *Manager) setState(ctx context.Context, ref content.EntityRef, state State) error {
	if err := m.store.UpdateMeta(ctx, ref, schema.MetaDraftState, string(state)); err != nil {
		return errors.WrapStoreError(ctx, err, "record draft state")
	}
	return nil
}
