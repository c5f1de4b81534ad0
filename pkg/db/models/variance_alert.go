package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/venue-ledger/pkg/enums"
)

// VarianceAlert records a graded cash drawer discrepancy.
type VarianceAlert struct {
	ID              int64                  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	VenueID         int64                  `gorm:"column:venue_id;not null" json:"venue_id"`
	BusinessDate    time.Time              `gorm:"column:business_date;type:date;not null" json:"business_date"`
	ShiftRef        *string                `gorm:"column:shift_ref" json:"shift_ref,omitempty"`
	DrawerRef       *string                `gorm:"column:drawer_ref" json:"drawer_ref,omitempty"`
	ExpectedCents   int64                  `gorm:"column:expected_cents;not null" json:"expected_cents"`
	ActualCents     int64                  `gorm:"column:actual_cents;not null" json:"actual_cents"`
	VarianceCents   int64                  `gorm:"column:variance_cents;not null" json:"variance_cents"`
	VariancePercent decimal.NullDecimal    `gorm:"column:variance_percent;type:numeric(20,2)" json:"variance_percent"`
	Severity        enums.VarianceSeverity `gorm:"column:severity;not null" json:"severity"`
	EntryID         *int64                 `gorm:"column:entry_id" json:"entry_id,omitempty"`
	StaffRef        *string                `gorm:"column:staff_ref" json:"staff_ref,omitempty"`
	CreatedAt       time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (VarianceAlert) TableName() string { return "variance_alerts" }
