package enums

import "testing"

func TestParseLedgerEntryType(t *testing.T) {
	got, err := ParseLedgerEntryType("cash_variance")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != LedgerEntryTypeCashVariance {
		t.Fatalf("expected cash_variance, got %s", got)
	}
	if _, err := ParseLedgerEntryType("adjustment"); err == nil {
		t.Fatalf("expected error for unknown entry type")
	}
}

func TestParsePaymentMethod(t *testing.T) {
	for _, raw := range []string{"cash", "card", "mobile_wallet", "gift_card", "bank_transfer", "other"} {
		method, err := ParsePaymentMethod(raw)
		if err != nil || !method.IsValid() {
			t.Fatalf("expected %q to parse, got %v", raw, err)
		}
	}
	if PaymentMethod("crypto").IsValid() {
		t.Fatalf("crypto should not be a valid method")
	}
}

func TestVarianceSeverityOrdering(t *testing.T) {
	if !VarianceSeverityCritical.AtLeast(VarianceSeverityHigh) {
		t.Fatalf("critical should outrank high")
	}
	if VarianceSeverityLow.AtLeast(VarianceSeverityMedium) {
		t.Fatalf("low should not outrank medium")
	}
	if VarianceSeverity("severe").IsValid() {
		t.Fatalf("unknown severity should be invalid")
	}
}

func TestIdempotencyAndAuditEnums(t *testing.T) {
	if !IdempotencyStateCompleted.IsValid() || IdempotencyState("done").IsValid() {
		t.Fatalf("unexpected idempotency state validation")
	}
	if !AuditActionRefundRecorded.IsValid() || AuditAction("ledger.deleted").IsValid() {
		t.Fatalf("unexpected audit action validation")
	}
}
