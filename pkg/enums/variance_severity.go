package enums

// VarianceSeverity grades a cash drawer discrepancy.
type VarianceSeverity string

const (
	VarianceSeverityLow      VarianceSeverity = "low"
	VarianceSeverityMedium   VarianceSeverity = "medium"
	VarianceSeverityHigh     VarianceSeverity = "high"
	VarianceSeverityCritical VarianceSeverity = "critical"
)

var varianceSeverityRank = map[VarianceSeverity]int{
	VarianceSeverityLow:      1,
	VarianceSeverityMedium:   2,
	VarianceSeverityHigh:     3,
	VarianceSeverityCritical: 4,
}

// String implements fmt.Stringer.
func (s VarianceSeverity) String() string {
	return string(s)
}

// IsValid reports whether the value is a known severity.
func (s VarianceSeverity) IsValid() bool {
	_, ok := varianceSeverityRank[s]
	return ok
}

// AtLeast reports whether s is as severe as other.
func (s VarianceSeverity) AtLeast(other VarianceSeverity) bool {
	return varianceSeverityRank[s] >= varianceSeverityRank[other]
}
