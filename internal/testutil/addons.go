package testutil

import (
	"testing"
	"time"

	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

// CreateTestAddon creates an install record with the given capabilities
func CreateTestAddon(t testing.TB, addonID string, enabled bool, caps ...string) *types.InstalledAddon {
	t.Helper()

	manifest := &types.AddonManifest{
		ID:      addonID,
		Name:    "Addon " + addonID,
		Version: "1.0.0",
		Main:    "index.js",
	}
	byCategory := map[types.Category]int{}
	var approved []types.Capability
	for _, s := range caps {
		c, err := types.ParseCapability(s)
		if err != nil {
			t.Fatalf("parse capability %q: %v", s, err)
		}
		approved = append(approved, c)
		i, ok := byCategory[c.Category]
		if !ok {
			i = len(manifest.Permissions)
			byCategory[c.Category] = i
			manifest.Permissions = append(manifest.Permissions, types.PermissionDeclaration{Category: c.Category})
		}
		manifest.Permissions[i].Actions = append(manifest.Permissions[i].Actions, c.Action)
	}

	now := time.Now()
	return &types.InstalledAddon{
		Manifest:             manifest,
		ApprovedCapabilities: approved,
		Enabled:              enabled,
		InstalledAt:          now,
		UpdatedAt:            now,
		Source:               types.SourceFile,
	}
}
