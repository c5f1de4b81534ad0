package models

import (
	"time"

	"github.com/angelmondragon/venue-ledger/pkg/enums"
	"github.com/angelmondragon/venue-ledger/pkg/types"
)

// AuditLog is an append-only record of a mutating ledger action.
type AuditLog struct {
	ID           int64              `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	VenueID      int64              `gorm:"column:venue_id;not null" json:"venue_id"`
	Action       enums.AuditAction  `gorm:"column:action;not null" json:"action"`
	OrderRef     *string            `gorm:"column:order_ref" json:"order_ref,omitempty"`
	EntryID      *int64             `gorm:"column:entry_id" json:"entry_id,omitempty"`
	StaffRef     *string            `gorm:"column:staff_ref" json:"staff_ref,omitempty"`
	OldData      types.JSONDocument `gorm:"column:old_data;type:jsonb" json:"old_data,omitempty"`
	NewData      types.JSONDocument `gorm:"column:new_data;type:jsonb" json:"new_data,omitempty"`
	Success      bool               `gorm:"column:success;not null" json:"success"`
	ErrorMessage *string            `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time          `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }
