package pipeline

import (
	"context"

	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

// Prompter asks the user to approve the capabilities of a package
type Prompter interface {
	ConfirmInstall(ctx context.Context, manifest *types.AddonManifest, tier types.RiskTier, caps []types.Capability) (bool, error)
}

// PromptFunc adapts a function to Prompter
type PromptFunc func(ctx context.Context, manifest *types.AddonManifest, tier types.RiskTier, caps []types.Capability) (bool, error)

// ConfirmInstall calls f
func (f PromptFunc) ConfirmInstall(ctx context.Context, manifest *types.AddonManifest, tier types.RiskTier, caps []types.Capability) (bool, error) {
	return f(ctx, manifest, tier, caps)
}

// AutoApprove approves every prompt
var AutoApprove = PromptFunc(func(context.Context, *types.AddonManifest, types.RiskTier, []types.Capability) (bool, error) {
	return true, nil
})

// AutoDeny rejects every prompt
var AutoDeny = PromptFunc(func(context.Context, *types.AddonManifest, types.RiskTier, []types.Capability) (bool, error) {
	return false, nil
})
