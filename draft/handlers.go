package draft

import (
	"context"

	"stagekit/logging"
	"stagekit/messaging"
)

// Subscribe 把生命周期迁移挂到事件总线上
//
//	changeset.persisted → ephemeral 转 pending-commit
//	setting.saved       → 终态保存转 finalized
//	changeset.published → 未保存的 pending-commit 转 abandoned
//	changeset.discarded → 同上
func (m *Manager) Subscribe(ctx context.Context, bus messaging.IEventSubscriber) error {
	handlers := map[string]messaging.IMessageHandler{
		messaging.TypeChangesetPersisted: messaging.NewHandler("draft.persisted", m.onPersisted),
		messaging.TypeSettingSaved:       messaging.NewHandler("draft.setting_saved", m.onSettingSaved),
		messaging.TypeChangesetPublished: messaging.NewHandler("draft.published", m.onPublished),
		messaging.TypeChangesetDiscarded: messaging.NewHandler("draft.discarded", m.onDiscarded),
	}
	for messageType, h := range handlers {
		if err := bus.Subscribe(ctx, messageType, h); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) onPersisted(ctx context.Context, msg messaging.IMessage) error {
	p, err := messaging.DecodePayload[messaging.ChangesetPersisted](msg)
	if err != nil {
		return err
	}
	return m.MarkPendingCommit(ctx, p.UUID, p.Refs)
}

func (m *Manager) onSettingSaved(ctx context.Context, msg messaging.IMessage) error {
	p, err := messaging.DecodePayload[messaging.SettingSaved](msg)
	if err != nil {
		return err
	}
	return m.Finalize(ctx, p.Ref, p.Status)
}

func (m *Manager) onPublished(ctx context.Context, msg messaging.IMessage) error {
	p, err := messaging.DecodePayload[messaging.ChangesetPublished](msg)
	if err != nil {
		return err
	}
	abandoned, err := m.AbandonChangeset(ctx, p.UUID)
	if len(abandoned) > 0 {
		m.logger.Info(ctx, "unsaved placeholders released after publish",
			logging.String("uuid", p.UUID), logging.Int("count", len(abandoned)))
	}
	return err
}

func (m *Manager) onDiscarded(ctx context.Context, msg messaging.IMessage) error {
	p, err := messaging.DecodePayload[messaging.ChangesetDiscarded](msg)
	if err != nil {
		return err
	}
	_, err = m.AbandonChangeset(ctx, p.UUID)
	return err
}
