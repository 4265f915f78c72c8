package capability

import (
	"context"
	"sync"

	"stagekit/content"
)

// AnyField 授权规则匹配任意字段
const AnyField = "*"

type grantKey struct {
	role   string
	action Action
	field  string
}

// StaticOracle 基于角色的静态授权表
//
// 判定规则：任一角色命中拒绝则拒绝；否则任一角色命中放行则放行；
// 字段规则优先匹配具体字段，再匹配 AnyField。
type StaticOracle struct {
	mu    sync.RWMutex
	allow map[grantKey]bool
	deny  map[grantKey]bool
}

// NewStaticOracle 创建空授权表
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{
		allow: make(map[grantKey]bool),
		deny:  make(map[grantKey]bool),
	}
}

// Allow 授予角色在给定字段上的动作；未给字段时授予全部字段
func (o *StaticOracle) Allow(role string, action Action, fields ...string) *StaticOracle {
	o.set(o.allow, role, action, fields)
	return o
}

// Deny 拒绝角色在给定字段上的动作
func (o *StaticOracle) Deny(role string, action Action, fields ...string) *StaticOracle {
	o.set(o.deny, role, action, fields)
	return o
}

func (o *StaticOracle) set(m map[grantKey]bool, role string, action Action, fields []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(fields) == 0 {
		fields = []string{AnyField}
	}
	for _, f := range fields {
		m[grantKey{role: role, action: action, field: f}] = true
	}
}

func (o *StaticOracle) CanActorPerform(ctx context.Context, actor Actor, action Action, ref content.EntityRef, field string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	allowed := false
	for _, role := range actor.Roles {
		if o.match(o.deny, role, action, field) {
			return false
		}
		if o.match(o.allow, role, action, field) {
			allowed = true
		}
	}
	return allowed
}

func (o *StaticOracle) match(m map[grantKey]bool, role string, action Action, field string) bool {
	if field != "" && m[grantKey{role: role, action: action, field: field}] {
		return true
	}
	return m[grantKey{role: role, action: action, field: AnyField}]
}
