// internal/models/application.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type Application struct {
	BaseModel
	PopupID           uuid.UUID         `json:"popup_id" gorm:"type:uuid;not null;uniqueIndex:idx_applications_human_popup,priority:2"`
	HumanID           uuid.UUID         `json:"human_id" gorm:"type:uuid;not null;uniqueIndex:idx_applications_human_popup,priority:1"`
	Email             string            `json:"email" gorm:"not null;size:255"`
	FirstName         string            `json:"first_name" gorm:"size:100"`
	LastName          string            `json:"last_name" gorm:"size:100"`
	Data              JSONB             `json:"data" gorm:"type:jsonb"`
	Status            ApplicationStatus `json:"status" gorm:"not null;size:20;index"`
	RequestedDiscount bool              `json:"requested_discount" gorm:"not null"`
	SubmittedAt       *time.Time        `json:"submitted_at"`
	AcceptedAt        *time.Time        `json:"accepted_at"`
	ReviewedAt        *time.Time        `json:"reviewed_at,omitempty"`
	ReviewedBy        string            `json:"reviewed_by,omitempty" gorm:"size:255"`
	ReviewReason      string            `json:"review_reason,omitempty" gorm:"type:text"`

	Popup       *Popup       `json:"popup,omitempty" gorm:"foreignKey:PopupID"`
	FeePayments []FeePayment `json:"fee_payments,omitempty" gorm:"foreignKey:ApplicationID"`

	// Filled in from the popup policy and the fee ledger on every read.
	FeeRequired bool `json:"fee_required" gorm:"-"`
	FeePaid     bool `json:"fee_paid" gorm:"-"`
}

func (Application) TableName() string {
	return "applications"
}

func (a *Application) OwnedBy(humanID uuid.UUID) bool {
	return a.HumanID == humanID
}
