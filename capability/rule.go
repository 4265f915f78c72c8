package capability

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"stagekit/content"
	log "stagekit/logging"
)

// Rule 以表达式描述的授权规则
//
// 表达式可用变量：
//   - actor_id, login, roles: 操作者
//   - action, type, id, field, placeholder: 判定目标
//   - owner: 实体作者（配置了 OwnerLookup 时；否则为 0）
//
// 例如 `"editor" in roles || owner == actor_id`。
type Rule struct {
	Action Action `yaml:"action"`
	// Field 为空匹配任意字段
	Field string `yaml:"field"`
	Expr  string `yaml:"expr"`
}

// OwnerLookup 查询实体作者
type OwnerLookup func(ctx context.Context, ref content.EntityRef) (int64, bool)

type compiledRule struct {
	Rule
	program *vm.Program
}

// RuleOracle 表达式规则判定服务
//
// 按注册顺序取第一条匹配 (action, field) 的规则求值；无匹配规则时交给 fallback。
type RuleOracle struct {
	rules    []compiledRule
	owner    OwnerLookup
	fallback IOracle
	logger   log.Logger
}

// RuleOption 配置项
type RuleOption func(*RuleOracle)

// WithOwnerLookup 提供实体作者查询
func WithOwnerLookup(fn OwnerLookup) RuleOption {
	return func(o *RuleOracle) { o.owner = fn }
}

// WithFallback 无规则匹配时的后备判定，默认拒绝
func WithFallback(fallback IOracle) RuleOption {
	return func(o *RuleOracle) {
		if fallback != nil {
			o.fallback = fallback
		}
	}
}

func ruleEnv() map[string]any {
	return map[string]any{
		"actor_id":    int64(0),
		"login":       "",
		"roles":       []string{},
		"action":      "",
		"type":        "",
		"id":          int64(0),
		"field":       "",
		"placeholder": false,
		"owner":       int64(0),
	}
}

// NewRuleOracle 编译规则；任一表达式无法编译时返回错误
func NewRuleOracle(rules []Rule, opts ...RuleOption) (*RuleOracle, error) {
	o := &RuleOracle{
		fallback: DenyAll,
		logger:   log.ComponentLogger("capability.rule"),
	}
	for _, opt := range opts {
		opt(o)
	}
	for _, r := range rules {
		program, err := expr.Compile(r.Expr, expr.Env(ruleEnv()), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile rule for %s: %w", r.Action, err)
		}
		o.rules = append(o.rules, compiledRule{Rule: r, program: program})
	}
	return o, nil
}

func (o *RuleOracle) CanActorPerform(ctx context.Context, actor Actor, action Action, ref content.EntityRef, field string) bool {
	for _, r := range o.rules {
		if r.Action != action || (r.Field != "" && r.Field != field) {
			continue
		}
		env := ruleEnv()
		env["actor_id"] = actor.ID
		env["login"] = actor.Login
		if actor.Roles != nil {
			env["roles"] = actor.Roles
		}
		env["action"] = string(action)
		env["type"] = ref.Type
		env["id"] = ref.ID
		env["field"] = field
		env["placeholder"] = ref.IsPlaceholder()
		if o.owner != nil {
			if owner, ok := o.owner(ctx, ref); ok {
				env["owner"] = owner
			}
		}
		out, err := expr.Run(r.program, env)
		if err != nil {
			o.logger.Warn(ctx, "capability rule failed", log.String("action", string(action)), log.Error(err))
			return false
		}
		allowed, _ := out.(bool)
		return allowed
	}
	return o.fallback.CanActorPerform(ctx, actor, action, ref, field)
}
