package capability

import (
	"context"

	"stagekit/content"
)

// SettingCapability 计算 Setting 的能力名：判定通过时返回 capName，否则返回 DoNotAllow
func SettingCapability(ctx context.Context, oracle IOracle, actor Actor, action Action, ref content.EntityRef, field, capName string) string {
	if oracle == nil || !oracle.CanActorPerform(ctx, actor, action, ref, field) {
		return DoNotAllow
	}
	return capName
}
