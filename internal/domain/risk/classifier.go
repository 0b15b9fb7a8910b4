package risk

import (
	"sort"

	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

// Classifier derives risk tiers from capability sets
type Classifier struct {
	table Table
}

// NewClassifier creates a classifier over the given table
func NewClassifier(table Table) *Classifier {
	if table == nil {
		table = DefaultTable
	}
	return &Classifier{table: table}
}

// Classify returns the highest tier present in caps. An empty set is low.
func (c *Classifier) Classify(caps []types.Capability) types.RiskTier {
	tier := types.RiskLow
	for _, capability := range caps {
		if w := c.table.Weight(capability.Category); w > tier {
			tier = w
			if tier == types.RiskHigh {
				break
			}
		}
	}
	return tier
}

// CategorySummary groups the requested actions of one category
type CategorySummary struct {
	Category types.Category `json:"category"`
	Tier     types.RiskTier `json:"tier"`
	Actions  []string       `json:"actions"`
}

// Summary is the data shown on the permission-review prompt
type Summary struct {
	Tier       types.RiskTier    `json:"tier"`
	Categories []CategorySummary `json:"categories"`
}

// Summarize classifies caps and groups them by category, riskiest first
func (c *Classifier) Summarize(caps []types.Capability) Summary {
	index := make(map[types.Category]int)
	var groups []CategorySummary
	for _, capability := range caps {
		i, ok := index[capability.Category]
		if !ok {
			i = len(groups)
			index[capability.Category] = i
			groups = append(groups, CategorySummary{
				Category: capability.Category,
				Tier:     c.table.Weight(capability.Category),
			})
		}
		groups[i].Actions = append(groups[i].Actions, capability.Action)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Tier > groups[j].Tier
	})
	return Summary{Tier: c.Classify(caps), Categories: groups}
}

var defaultClassifier = NewClassifier(DefaultTable)

// Classify classifies caps with the default table
func Classify(caps []types.Capability) types.RiskTier {
	return defaultClassifier.Classify(caps)
}

// Summarize summarizes caps with the default table
func Summarize(caps []types.Capability) Summary {
	return defaultClassifier.Summarize(caps)
}
