package ledger

import (
	"time"

	"github.com/angelmondragon/venue-ledger/pkg/enums"
)

// PaymentInput records money received at a venue. Amounts are capped at 10^15
// minor units so variance arithmetic cannot overflow.
type PaymentInput struct {
	VenueID        int64               `json:"venue_id" validate:"gt=0"`
	AmountCents    int64               `json:"amount_cents" validate:"gt=0,max=1000000000000000"`
	Currency       string              `json:"currency" validate:"omitempty,len=3,alpha"`
	Method         enums.PaymentMethod `json:"method" validate:"required,payment_method"`
	OrderRef       *string             `json:"order_ref,omitempty" validate:"omitempty,max=128"`
	StaffRef       *string             `json:"staff_ref,omitempty" validate:"omitempty,max=128"`
	IdempotencyKey string              `json:"-" validate:"idempotency_key"`
	Description    string              `json:"description,omitempty" validate:"max=512"`
	Metadata       map[string]any      `json:"metadata,omitempty"`
	BusinessDate   *time.Time          `json:"business_date,omitempty"`
}

// RefundInput returns money. AmountCents is the positive magnitude; the entry
// is persisted with the negated amount.
type RefundInput struct {
	VenueID           int64               `json:"venue_id" validate:"gt=0"`
	AmountCents       int64               `json:"amount_cents" validate:"gt=0,max=1000000000000000"`
	Currency          string              `json:"currency" validate:"omitempty,len=3,alpha"`
	Method            enums.PaymentMethod `json:"method" validate:"required,payment_method"`
	OrderRef          *string             `json:"order_ref,omitempty" validate:"omitempty,max=128"`
	OriginalPaymentID *int64              `json:"original_payment_id,omitempty" validate:"omitempty,gt=0"`
	StaffRef          *string             `json:"staff_ref,omitempty" validate:"omitempty,max=128"`
	IdempotencyKey    string              `json:"-" validate:"idempotency_key"`
	Reason            string              `json:"reason,omitempty" validate:"max=512"`
	BusinessDate      *time.Time          `json:"business_date,omitempty"`
}

// VarianceInput is one cash drawer count.
type VarianceInput struct {
	VenueID       int64      `json:"venue_id" validate:"gt=0"`
	ExpectedCents int64      `json:"expected_cents" validate:"min=-1000000000000000,max=1000000000000000"`
	ActualCents   int64      `json:"actual_cents" validate:"min=-1000000000000000,max=1000000000000000"`
	Currency      string     `json:"currency" validate:"omitempty,len=3,alpha"`
	StaffRef      *string    `json:"staff_ref,omitempty" validate:"omitempty,max=128"`
	ShiftRef      *string    `json:"shift_ref,omitempty" validate:"omitempty,max=128"`
	DrawerRef     *string    `json:"drawer_ref,omitempty" validate:"omitempty,max=128"`
	BusinessDate  *time.Time `json:"business_date,omitempty"`
}

// IntegrityReport summarises one chain verification.
type IntegrityReport struct {
	VenueID    int64                 `json:"venue_id"`
	Status     enums.IntegrityStatus `json:"status"`
	Checked    int                   `json:"checked"`
	Valid      int                   `json:"valid"`
	Invalid    int                   `json:"invalid"`
	InvalidIDs []int64               `json:"invalid_ids"`
}
