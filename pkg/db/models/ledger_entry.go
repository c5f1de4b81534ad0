package models

import (
	"time"

	"github.com/angelmondragon/venue-ledger/pkg/enums"
	"github.com/angelmondragon/venue-ledger/pkg/types"
)

// LedgerEntry is one immutable, hash-linked monetary event in a venue chain.
// Corrections never update a row; they append a new entry whose
// ReferenceEntryID points at the original.
type LedgerEntry struct {
	ID               int64                 `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	VenueID          int64                 `gorm:"column:venue_id;not null" json:"venue_id"`
	EntryType        enums.LedgerEntryType `gorm:"column:entry_type;not null" json:"entry_type"`
	EntryNumber      string                `gorm:"column:entry_number;not null" json:"entry_number"`
	AmountCents      int64                 `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Currency         string                `gorm:"column:currency;not null" json:"currency"`
	PaymentMethod    enums.PaymentMethod   `gorm:"column:payment_method;not null" json:"payment_method"`
	OrderRef         *string               `gorm:"column:order_ref" json:"order_ref,omitempty"`
	StaffRef         *string               `gorm:"column:staff_ref" json:"staff_ref,omitempty"`
	ReferenceEntryID *int64                `gorm:"column:reference_entry_id" json:"reference_entry_id,omitempty"`
	Description      string                `gorm:"column:description;not null;default:''" json:"description"`
	Metadata         types.JSONObject      `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	BusinessDate     time.Time             `gorm:"column:business_date;type:date;not null" json:"business_date"`
	PreviousEntryID  *int64                `gorm:"column:previous_entry_id" json:"previous_entry_id,omitempty"`
	ContentHash      string                `gorm:"column:content_hash;not null" json:"content_hash"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }
