package enums

import "fmt"

// LedgerEntryType classifies a monetary event recorded in a venue chain.
type LedgerEntryType string

const (
	LedgerEntryTypePaymentReceived LedgerEntryType = "payment_received"
	LedgerEntryTypePaymentRefunded LedgerEntryType = "payment_refunded"
	LedgerEntryTypeCashVariance    LedgerEntryType = "cash_variance"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerEntryTypePaymentReceived,
	LedgerEntryTypePaymentRefunded,
	LedgerEntryTypeCashVariance,
}

// String implements fmt.Stringer.
func (t LedgerEntryType) String() string {
	return string(t)
}

// IsValid reports whether the value matches a known entry type.
func (t LedgerEntryType) IsValid() bool {
	for _, candidate := range validLedgerEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLedgerEntryType converts raw input into LedgerEntryType.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	for _, candidate := range validLedgerEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry type %q", value)
}
