// Package capability 定义能力判定（授权）服务契约及几种实现
//
// 预览引擎只消费一个布尔判定：CanActorPerform(actor, action, entity, field)。
// 判定用于两处：构造 Setting 时计算其能力名，以及预览覆盖层逐字段屏蔽。
package capability

import (
	"context"

	"stagekit/content"
)

// Actor 操作者
type Actor struct {
	ID    int64    `json:"id"`
	Login string   `json:"login"`
	Roles []string `json:"roles"`
}

// HasRole 是否拥有角色
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Action 判定的动作
type Action string

const (
	ActionEditPost        Action = "edit_post"
	ActionEditOthersPosts Action = "edit_others_posts"
	ActionPublishPosts    Action = "publish_posts"
	ActionDeletePost      Action = "delete_post"
	ActionEditPostMeta    Action = "edit_post_meta"
	ActionAssignTerms     Action = "assign_terms"
	ActionCustomize       Action = "customize"
)

// DoNotAllow 无权限时 Setting 的能力名
const DoNotAllow = "do_not_allow"

// IOracle 能力判定服务
//
// field 为空表示对整个实体判定；实体字段、元数据键、分类法名分别在
// edit_post、edit_post_meta、assign_terms 动作下作为 field 传入。
type IOracle interface {
	CanActorPerform(ctx context.Context, actor Actor, action Action, ref content.EntityRef, field string) bool
}

// OracleFunc 函数适配器
type OracleFunc func(ctx context.Context, actor Actor, action Action, ref content.EntityRef, field string) bool

func (f OracleFunc) CanActorPerform(ctx context.Context, actor Actor, action Action, ref content.EntityRef, field string) bool {
	return f(ctx, actor, action, ref, field)
}

// AllowAll 放行一切（测试与单用户场景）
var AllowAll IOracle = OracleFunc(func(context.Context, Actor, Action, content.EntityRef, string) bool { return true })

// DenyAll 拒绝一切
var DenyAll IOracle = OracleFunc(func(context.Context, Actor, Action, content.EntityRef, string) bool { return false })
