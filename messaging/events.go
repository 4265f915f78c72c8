package messaging

import (
	"encoding/json"
	"fmt"

	"stagekit/content"
)

// 生命周期事件类型
const (
	TypeChangesetPersisted = "changeset.persisted"
	TypeChangesetPublished = "changeset.published"
	TypeChangesetDiscarded = "changeset.discarded"
	TypeSettingSaved       = "setting.saved"

	// TypeAny 订阅全部类型
	TypeAny = "*"
)

// ChangesetPersisted 变更集已持久化；Refs 为其引用的占位实体
type ChangesetPersisted struct {
	UUID string              `json:"uuid"`
	Refs []content.EntityRef `json:"refs"`
}

// ChangesetPublished 变更集已提交
type ChangesetPublished struct {
	UUID string `json:"uuid"`
}

// ChangesetDiscarded 变更集已丢弃
type ChangesetDiscarded struct {
	UUID string `json:"uuid"`
}

// SettingSaved 实体 Setting 已写入存储
type SettingSaved struct {
	SettingID string            `json:"setting_id"`
	Ref       content.EntityRef `json:"ref"`
	// Placeholder 保存前的占位引用（新建实体时非零）
	Placeholder content.EntityRef `json:"placeholder"`
	Status      content.Status    `json:"status"`
}

// DecodePayload 取出消息载荷
//
// 进程内传输直接携带结构体；跨进程传输解码后为通用 map，此时经 JSON 转换。
func DecodePayload[T any](m IMessage) (T, error) {
	var out T
	switch p := m.GetPayload().(type) {
	case T:
		return p, nil
	case *T:
		if p != nil {
			return *p, nil
		}
		return out, fmt.Errorf("message %s has nil payload", m.GetID())
	}
	b, err := json.Marshal(m.GetPayload())
	if err != nil {
		return out, fmt.Errorf("encode payload of %s: %w", m.GetType(), err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("payload of %s is not a valid %T: %w", m.GetType(), out, err)
	}
	return out, nil
}
