package types

import (
	"fmt"
	"strings"
	"time"
)

// Category is a capability category from the closed category set
type Category string

const (
	CategoryAccounts          Category = "accounts"
	CategoryActivities        Category = "activities"
	CategorySettings          Category = "settings"
	CategoryPortfolio         Category = "portfolio"
	CategoryFiles             Category = "files"
	CategoryFinancialPlanning Category = "financial-planning"
	CategoryMarketData        Category = "market-data"
	CategoryUI                Category = "ui"
	CategoryEvents            Category = "events"
)

// Categories returns every known category in declaration order
func Categories() []Category {
	return []Category{
		CategoryAccounts,
		CategoryActivities,
		CategorySettings,
		CategoryPortfolio,
		CategoryFiles,
		CategoryFinancialPlanning,
		CategoryMarketData,
		CategoryUI,
		CategoryEvents,
	}
}

// Capability is a declared (category, action) permission
type Capability struct {
	Category Category `json:"category"`
	Action   string   `json:"action"`
}

// String renders the capability as "category:action"
func (c Capability) String() string {
	return fmt.Sprintf("%s:%s", c.Category, c.Action)
}

// ParseCapability parses the "category:action" form
func ParseCapability(s string) (Capability, error) {
	category, action, ok := strings.Cut(s, ":")
	if !ok || category == "" || action == "" {
		return Capability{}, fmt.Errorf("invalid capability %q: expected category:action", s)
	}
	return Capability{Category: Category(category), Action: action}, nil
}

// PermissionDeclaration is one entry of a manifest's permissions block
type PermissionDeclaration struct {
	Category Category `json:"category" yaml:"category" toml:"category"`
	Actions  []string `json:"actions" yaml:"actions" toml:"actions"`
	Purpose  string   `json:"purpose,omitempty" yaml:"purpose,omitempty" toml:"purpose,omitempty"`
}

// AddonManifest describes an add-on package. Immutable once inspected.
type AddonManifest struct {
	ID             string                  `json:"id" yaml:"id" toml:"id"`
	Name           string                  `json:"name" yaml:"name" toml:"name"`
	Version        string                  `json:"version" yaml:"version" toml:"version"`
	Description    string                  `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Author         string                  `json:"author,omitempty" yaml:"author,omitempty" toml:"author,omitempty"`
	Main           string                  `json:"main" yaml:"main" toml:"main"`
	SDKVersion     string                  `json:"sdkVersion,omitempty" yaml:"sdkVersion,omitempty" toml:"sdkVersion,omitempty"`
	MinHostVersion string                  `json:"minHostVersion,omitempty" yaml:"minHostVersion,omitempty" toml:"minHostVersion,omitempty"`
	Permissions    []PermissionDeclaration `json:"permissions,omitempty" yaml:"permissions,omitempty" toml:"permissions,omitempty"`
}

// Capabilities flattens the permission declarations in declaration order
func (m *AddonManifest) Capabilities() []Capability {
	caps := make([]Capability, 0, len(m.Permissions))
	for _, p := range m.Permissions {
		for _, action := range p.Actions {
			caps = append(caps, Capability{Category: p.Category, Action: action})
		}
	}
	return caps
}

// Source records where an installed add-on came from
type Source string

const (
	SourceFile Source = "file"
)

// StoreSource returns the source marker for a store listing
func StoreSource(listingID string) Source {
	return Source("store:" + listingID)
}

// StagedAddon is a package extracted and awaiting a consent decision
type StagedAddon struct {
	AddonID      string         `json:"addon_id"`
	Manifest     *AddonManifest `json:"manifest"`
	Capabilities []Capability   `json:"capabilities"`
	Dir          string         `json:"dir"`
	Files        []string       `json:"files"`
	Digest       string         `json:"digest"`
	StagedAt     time.Time      `json:"staged_at"`
	Data         []byte         `json:"-"`
}

// InstalledAddon is the persisted install record
type InstalledAddon struct {
	Manifest             *AddonManifest `json:"manifest"`
	ApprovedCapabilities []Capability   `json:"approved_capabilities"`
	Enabled              bool           `json:"enabled"`
	InstalledAt          time.Time      `json:"installed_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	Digest               string         `json:"digest,omitempty"`
	Source               Source         `json:"source,omitempty"`
	Dir                  string         `json:"dir,omitempty"`
}

// ID returns the add-on id from the manifest
func (a *InstalledAddon) ID() string {
	if a == nil || a.Manifest == nil {
		return ""
	}
	return a.Manifest.ID
}

// Clone returns a deep copy safe to hand to callers
func (a *InstalledAddon) Clone() *InstalledAddon {
	if a == nil {
		return nil
	}
	cp := *a
	if a.Manifest != nil {
		m := *a.Manifest
		m.Permissions = make([]PermissionDeclaration, len(a.Manifest.Permissions))
		for i, p := range a.Manifest.Permissions {
			p.Actions = append([]string(nil), p.Actions...)
			m.Permissions[i] = p
		}
		cp.Manifest = &m
	}
	cp.ApprovedCapabilities = append([]Capability(nil), a.ApprovedCapabilities...)
	return &cp
}
