package enums

// IdempotencyState tracks the lifecycle of an idempotency record.
type IdempotencyState string

const (
	IdempotencyStateReserved  IdempotencyState = "reserved"
	IdempotencyStateCompleted IdempotencyState = "completed"
	IdempotencyStateExpired   IdempotencyState = "expired"
)

// String implements fmt.Stringer.
func (s IdempotencyState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known state.
func (s IdempotencyState) IsValid() bool {
	switch s {
	case IdempotencyStateReserved, IdempotencyStateCompleted, IdempotencyStateExpired:
		return true
	}
	return false
}
