package types

import "fmt"

// RiskTier is a coarse classification of requested capabilities
type RiskTier int

const (
	RiskLow RiskTier = iota
	RiskMedium
	RiskHigh
)

func (r RiskTier) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return fmt.Sprintf("RiskTier(%d)", int(r))
	}
}

// MarshalText renders the tier by name for JSON payloads
func (r RiskTier) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses a tier name
func (r *RiskTier) UnmarshalText(text []byte) error {
	switch string(text) {
	case "low":
		*r = RiskLow
	case "medium":
		*r = RiskMedium
	case "high":
		*r = RiskHigh
	default:
		return fmt.Errorf("unknown risk tier %q", text)
	}
	return nil
}
