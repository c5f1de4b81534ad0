package variance

import (
	"fmt"

	"github.com/angelmondragon/venue-ledger/pkg/config"
	"github.com/angelmondragon/venue-ledger/pkg/enums"
	"github.com/shopspring/decimal"
)

// Thresholds are absolute variance floors in minor units for each severity.
// Anything below Low raises nothing.
type Thresholds struct {
	Low      int64
	Medium   int64
	High     int64
	Critical int64
}

// DefaultThresholds mirrors the stock configuration: 5.00, 20.00, 50.00, 100.00.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 500, Medium: 2000, High: 5000, Critical: 10000}
}

// ThresholdsFromConfig lifts the configured thresholds.
func ThresholdsFromConfig(cfg config.LedgerConfig) Thresholds {
	return Thresholds{
		Low:      cfg.VarianceLowCents,
		Medium:   cfg.VarianceMediumCents,
		High:     cfg.VarianceHighCents,
		Critical: cfg.VarianceCriticalCent,
	}
}

// Validate checks the thresholds are positive and non-decreasing.
func (t Thresholds) Validate() error {
	if t.Low <= 0 {
		return fmt.Errorf("low variance threshold must be positive")
	}
	if t.Low > t.Medium || t.Medium > t.High || t.High > t.Critical {
		return fmt.Errorf("variance thresholds must be non-decreasing")
	}
	return nil
}

// Classification is the graded result of one cash count.
type Classification struct {
	ExpectedCents int64
	ActualCents   int64
	VarianceCents int64
	Percent       decimal.NullDecimal
	Severity      enums.VarianceSeverity
}

// Classifier grades cash drawer discrepancies.
type Classifier struct {
	thresholds Thresholds
}

// NewClassifier validates thresholds and returns a classifier.
func NewClassifier(thresholds Thresholds) (*Classifier, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{thresholds: thresholds}, nil
}

// Thresholds returns the configured thresholds.
func (c *Classifier) Thresholds() Thresholds { return c.thresholds }

// Classify returns nil when |actual-expected| is below the low threshold.
func (c *Classifier) Classify(expected, actual int64) *Classification {
	variance := actual - expected
	magnitude := variance
	if magnitude < 0 {
		magnitude = -magnitude
	}
	if magnitude < c.thresholds.Low {
		return nil
	}
	return &Classification{
		ExpectedCents: expected,
		ActualCents:   actual,
		VarianceCents: variance,
		Percent:       Percent(variance, expected),
		Severity:      c.severity(magnitude),
	}
}

func (c *Classifier) severity(magnitude int64) enums.VarianceSeverity {
	switch {
	case magnitude >= c.thresholds.Critical:
		return enums.VarianceSeverityCritical
	case magnitude >= c.thresholds.High:
		return enums.VarianceSeverityHigh
	case magnitude >= c.thresholds.Medium:
		return enums.VarianceSeverityMedium
	default:
		return enums.VarianceSeverityLow
	}
}

// Percent is round(variance/expected*100, 2). The ratio is undefined for an
// empty drawer expectation, so expected == 0 yields NULL rather than 0%.
func Percent(variance, expected int64) decimal.NullDecimal {
	if expected == 0 {
		return decimal.NullDecimal{}
	}
	pct := decimal.NewFromInt(variance).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(expected), 2)
	return decimal.NullDecimal{Decimal: pct, Valid: true}
}
