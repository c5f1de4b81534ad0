package ledger

import "github.com/angelmondragon/venue-ledger/pkg/config"

// Features are the three independent gates consulted by the service. A gate
// that is off turns its behaviour into a silent no-op.
type Features struct {
	LedgerEnabled             bool
	CashVarianceAlertsEnabled bool
	IdempotencyEnabled        bool
}

// AllFeatures enables every gate.
func AllFeatures() Features {
	return Features{LedgerEnabled: true, CashVarianceAlertsEnabled: true, IdempotencyEnabled: true}
}

// FeaturesFromConfig lifts the env driven flags.
func FeaturesFromConfig(cfg config.FeatureFlagsConfig) Features {
	return Features{
		LedgerEnabled:             cfg.LedgerEnabled,
		CashVarianceAlertsEnabled: cfg.CashVarianceAlertsEnabled,
		IdempotencyEnabled:        cfg.IdempotencyEnabled,
	}
}
