package customize

import (
	"context"
	"sort"

	"stagekit/capability"
	"stagekit/changeset"
	"stagekit/conflict"
	"stagekit/content"
	"stagekit/errors"
	"stagekit/logging"
	"stagekit/messaging"
	"stagekit/preview"
	"stagekit/setting"
	"stagekit/store"
)

// Submission 一条客户端提交
type Submission struct {
	ID    string
	Value any
}

// CommitOptions 提交选项
type CommitOptions struct {
	// OverrideConflicts 用户确认覆盖冲突的 Setting 标识
	OverrideConflicts []string
}

// Result 单个 Setting 的保存结果
type Result struct {
	Saved bool             `json:"saved"`
	Code  errors.ErrorCode `json:"code,omitempty"`
	Field string           `json:"field,omitempty"`
	Err   error            `json:"-"`
}

// SaveResponse 提交响应
type SaveResponse struct {
	ChangesetUUID string                       `json:"changeset_uuid,omitempty"`
	Results       map[string]*Result           `json:"results"`
	Conflicts     map[string]*conflict.Record  `json:"conflicts,omitempty"`
	ResolvedRefs  map[string]content.EntityRef `json:"resolved_refs,omitempty"`
	SavedValues   map[string]any               `json:"saved_values,omitempty"`
}

// OK 全部 Setting 均保存成功
func (r *SaveResponse) OK() bool {
	for _, res := range r.Results {
		if res.Err != nil {
			return false
		}
	}
	return true
}

// Failed 保存失败的 Setting 标识（排序）
func (r *SaveResponse) Failed() []string {
	var out []string
	for id, res := range r.Results {
		if res.Err != nil {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Session 一个操作者的编辑上下文
type Session struct {
	manager  *Manager
	actor    capability.Actor
	overlay  *preview.Overlay
	registry *setting.Registry
	logger   logging.Logger

	changesetUUID string
}

func (s *Session) Actor() capability.Actor     { return s.actor }
func (s *Session) Registry() *setting.Registry { return s.registry }
func (s *Session) Overlay() *preview.Overlay   { return s.overlay }
func (s *Session) ChangesetUUID() string       { return s.changesetUUID }

// Store 经过预览覆盖层的存储；会话内的全部读取都应通过它
func (s *Session) Store() store.IStore {
	return s.overlay
}

func (s *Session) ctx(ctx context.Context) context.Context {
	return store.WithActor(ctx, s.actor.ID)
}

// Setting 解析标识并返回会话内的 Setting
func (s *Session) Setting(ctx context.Context, id string) (setting.ISetting, error) {
	ident, err := s.registry.Resolve(id)
	if err != nil {
		return nil, err
	}
	return s.registry.GetOrCreateSetting(ctx, ident)
}

// SetRawValue 暂存客户端原始值；无权编辑的 Setting 返回 FORBIDDEN
func (s *Session) SetRawValue(ctx context.Context, id string, raw any) error {
	st, err := s.Setting(ctx, id)
	if err != nil {
		return err
	}
	if st.Capability() == capability.DoNotAllow {
		return errors.NewError(errors.ErrCodeForbidden, "not allowed to edit this setting").
			WithContext(errors.DetailSettingID, id)
	}
	s.registry.SetRawValue(st.ID(), raw)
	return nil
}

// SetRawValues 按提交顺序暂存；返回被拒绝的标识及原因
func (s *Session) SetRawValues(ctx context.Context, subs ...Submission) map[string]error {
	rejected := make(map[string]error)
	for _, sub := range subs {
		if err := s.SetRawValue(ctx, sub.ID, sub.Value); err != nil {
			rejected[sub.ID] = err
		}
	}
	return rejected
}

// Preview 预览全部脏 Setting，启用覆盖层读拦截
func (s *Session) Preview(ctx context.Context) map[string]bool {
	out := make(map[string]bool)
	for _, id := range s.registry.AllDirtyIdentifiers() {
		st, err := s.registry.GetOrCreateSetting(ctx, id)
		if err != nil {
			out[id.String()] = false
			continue
		}
		out[id.String()] = st.Preview(ctx)
	}
	return out
}

// Validate 严格净化并执行写前检查，不写存储；返回有问题的标识及错误
func (s *Session) Validate(ctx context.Context) map[string]error {
	ctx = s.ctx(ctx)
	s.registry.ClearConflicts()
	invalid := make(map[string]error)
	for _, id := range s.registry.AllDirtyIdentifiers() {
		st, err := s.registry.GetOrCreateSetting(ctx, id)
		if err != nil {
			invalid[id.String()] = err
			continue
		}
		raw, _ := s.registry.RawValue(id)
		if _, err := st.Sanitize(ctx, raw, setting.Strict); err != nil {
			invalid[id.String()] = err
			continue
		}
		if pc, ok := st.(setting.PreChecker); ok {
			if err := pc.PreCheck(ctx); err != nil {
				invalid[id.String()] = err
			}
		}
	}
	return invalid
}

// Lock 为当前操作者获取/刷新实体编辑锁
func (s *Session) Lock(ctx context.Context, ref content.EntityRef) error {
	return errors.WrapStoreError(ctx, s.manager.store.SetEditLock(ctx, ref, s.actor.ID), "set edit lock")
}

// CreatePlaceholder 创建 ephemeral 占位实体
func (s *Session) CreatePlaceholder(ctx context.Context, entityType string) (content.EntityRef, error) {
	if _, ok := s.manager.schema.Type(entityType); !ok {
		return content.EntityRef{}, errors.Newf(errors.ErrCodeUnknownEntityType, "unknown entity type %q", entityType).
			WithField("type")
	}
	return s.manager.drafts.CreatePlaceholder(ctx, s.actor.ID, entityType)
}

// LoadChangeset 把已持久化变更集的原始值载入会话
func (s *Session) LoadChangeset(ctx context.Context, uuid string) error {
	c, err := s.manager.cfg.Changesets.Get(ctx, uuid)
	if err != nil {
		return err
	}
	if !c.Status.Open() {
		return errors.Newf(errors.ErrCodeInvalidInput, "changeset %s is %s", uuid, c.Status)
	}
	ids := make([]string, 0, len(c.Values))
	for id := range c.Values {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := s.SetRawValue(ctx, id, c.Values[id]); err != nil {
			s.logger.Warn(ctx, "changeset value skipped", logging.String("setting_id", id), logging.Error(err))
		}
	}
	s.changesetUUID = uuid
	return nil
}

// SaveChangeset 持久化会话快照，并通知其引用的占位实体转为 pending-commit
func (s *Session) SaveChangeset(ctx context.Context) (*changeset.Changeset, error) {
	ctx = s.ctx(ctx)
	c, err := s.persistChangeset(ctx, changeset.StatusDraft)
	if err != nil {
		return nil, err
	}
	refs, err := s.placeholderRefs(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.manager.publish(ctx, messaging.TypeChangesetPersisted,
		messaging.ChangesetPersisted{UUID: c.UUID, Refs: refs}); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeQueue, "publish changeset.persisted")
	}
	s.logger.Debug(ctx, "changeset persisted", logging.String("uuid", c.UUID), logging.Int("placeholders", len(refs)))
	return c, nil
}

func (s *Session) persistChangeset(ctx context.Context, status changeset.Status) (*changeset.Changeset, error) {
	now := s.manager.cfg.Now()
	var c *changeset.Changeset
	if s.changesetUUID != "" {
		existing, err := s.manager.cfg.Changesets.Get(ctx, s.changesetUUID)
		if err != nil && !errors.IsNotFound(err) {
			return nil, err
		}
		c = existing
	}
	if c == nil {
		c = changeset.New(s.actor.ID, nil, now)
		if s.changesetUUID != "" {
			c.UUID = s.changesetUUID
		}
	}
	c.Values = s.registry.RawValues()
	c.Status = status
	c.Modified = now
	if err := s.manager.cfg.Changesets.Save(ctx, c); err != nil {
		return nil, err
	}
	s.changesetUUID = c.UUID
	return c, nil
}

// placeholderRefs 脏 Setting 引用的、仍处于占位状态的已落库实体
func (s *Session) placeholderRefs(ctx context.Context) ([]content.EntityRef, error) {
	seen := make(map[content.EntityRef]bool)
	var refs []content.EntityRef
	for _, id := range s.registry.AllDirtyIdentifiers() {
		ref := s.registry.ResolveRef(id.Ref())
		if ref.IsPlaceholder() || seen[ref] {
			continue
		}
		seen[ref] = true
		e, err := s.manager.store.GetEntity(ctx, ref)
		if err != nil {
			if errors.IsNotFound(errors.Normalize(err)) {
				continue
			}
			return nil, errors.WrapStoreError(ctx, err, "get entity")
		}
		if e.Status.IsPlaceholder() {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// Commit 按提交顺序保存全部脏 Setting
//
// 各 Setting 独立成败；引用尚未落库占位实体的元数据/分类项 Setting
// 推迟到其他 Setting 之后再保存。全部成功时变更集标记为已提交。
func (s *Session) Commit(ctx context.Context, opts CommitOptions) (*SaveResponse, error) {
	ctx = s.ctx(ctx)
	s.registry.OverrideConflicts(opts.OverrideConflicts...)
	defer s.registry.OverrideConflicts()
	s.registry.ClearConflicts()

	resp := &SaveResponse{
		Results:      make(map[string]*Result),
		ResolvedRefs: make(map[string]content.EntityRef),
		SavedValues:  make(map[string]any),
	}

	var deferred []setting.Identifier
	for _, id := range s.registry.AllDirtyIdentifiers() {
		if id.Kind() != setting.KindEntity && s.registry.ResolveRef(id.Ref()).IsPlaceholder() {
			deferred = append(deferred, id)
			continue
		}
		s.save(ctx, id, resp)
	}
	for _, id := range deferred {
		s.save(ctx, id, resp)
	}

	for placeholder, resolved := range s.registry.ResolvedPlaceholders() {
		resp.ResolvedRefs[placeholder.String()] = resolved
		s.overlay.Rebind(placeholder, resolved)
	}
	if conflicts := s.registry.Conflicts(); len(conflicts) > 0 {
		resp.Conflicts = conflicts
	}

	if !resp.OK() {
		s.logger.Warn(ctx, "commit finished with failures", logging.Any("failed", resp.Failed()))
		if s.changesetUUID != "" {
			if _, err := s.persistChangeset(ctx, changeset.StatusDraft); err != nil {
				return resp, err
			}
			resp.ChangesetUUID = s.changesetUUID
		}
		return resp, nil
	}

	c, err := s.persistChangeset(ctx, changeset.StatusPublish)
	if err != nil {
		return resp, err
	}
	resp.ChangesetUUID = c.UUID
	if err := s.manager.publish(ctx, messaging.TypeChangesetPublished,
		messaging.ChangesetPublished{UUID: c.UUID}); err != nil {
		return resp, errors.WrapError(err, errors.ErrCodeQueue, "publish changeset.published")
	}
	s.logger.Debug(ctx, "changeset committed", logging.String("uuid", c.UUID), logging.Int("settings", len(resp.Results)))
	return resp, nil
}

func (s *Session) save(ctx context.Context, id setting.Identifier, resp *SaveResponse) {
	key := id.String()
	res := &Result{}
	resp.Results[key] = res

	st, err := s.registry.GetOrCreateSetting(ctx, id)
	if err == nil {
		res.Saved, err = st.Save(ctx)
	}
	if err != nil {
		res.Err = err
		res.Code = errors.GetErrorCode(err)
		res.Field = errors.FieldOf(err)
		return
	}
	if v, err := st.ExportedValue(ctx); err == nil {
		resp.SavedValues[key] = v
	} else {
		s.logger.Warn(ctx, "export saved value failed", logging.String("setting_id", key), logging.Error(err))
	}
}

// Discard 丢弃会话：变更集移入回收站，其持有的占位实体随之释放
func (s *Session) Discard(ctx context.Context) error {
	ctx = s.ctx(ctx)
	s.overlay.Reset()
	if s.changesetUUID == "" {
		return nil
	}
	if err := s.manager.cfg.Changesets.SetStatus(ctx, s.changesetUUID, changeset.StatusTrash); err != nil {
		return err
	}
	if err := s.manager.publish(ctx, messaging.TypeChangesetDiscarded,
		messaging.ChangesetDiscarded{UUID: s.changesetUUID}); err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, "publish changeset.discarded")
	}
	s.logger.Debug(ctx, "changeset discarded", logging.String("uuid", s.changesetUUID))
	return nil
}
