package enums

// AuditAction names a mutating ledger operation recorded in the audit log.
type AuditAction string

const (
	AuditActionPaymentRecorded  AuditAction = "ledger.payment_recorded"
	AuditActionRefundRecorded   AuditAction = "ledger.refund_recorded"
	AuditActionVarianceRecorded AuditAction = "ledger.cash_variance_recorded"
)

// String implements fmt.Stringer.
func (a AuditAction) String() string {
	return string(a)
}

// IsValid reports whether the value is a known audit action.
func (a AuditAction) IsValid() bool {
	switch a {
	case AuditActionPaymentRecorded, AuditActionRefundRecorded, AuditActionVarianceRecorded:
		return true
	}
	return false
}
