package risk

import "github.com/GriffinCanCode/addonhost/backend/internal/shared/types"

// Table maps each capability category to its risk weight
type Table map[types.Category]types.RiskTier

// DefaultTable is the host's category policy.
// High: categories that read or mutate core financial records or settings.
// Medium: portfolio reads, file access, planning data.
var DefaultTable = Table{
	types.CategoryAccounts:          types.RiskHigh,
	types.CategoryActivities:        types.RiskHigh,
	types.CategorySettings:          types.RiskHigh,
	types.CategoryPortfolio:         types.RiskMedium,
	types.CategoryFiles:             types.RiskMedium,
	types.CategoryFinancialPlanning: types.RiskMedium,
	types.CategoryMarketData:        types.RiskLow,
	types.CategoryUI:                types.RiskLow,
	types.CategoryEvents:            types.RiskLow,
}

// Weight returns the tier for a category; unknown categories weigh high
func (t Table) Weight(c types.Category) types.RiskTier {
	if tier, ok := t[c]; ok {
		return tier
	}
	return types.RiskHigh
}
