package enums

// IntegrityStatus summarises a chain verification run.
type IntegrityStatus string

const (
	IntegrityStatusValid   IntegrityStatus = "valid"
	IntegrityStatusInvalid IntegrityStatus = "invalid"
)
