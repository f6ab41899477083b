// internal/models/fee_payment.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FeePayment tracks one provider checkout for an application fee.
type FeePayment struct {
	BaseModel
	ApplicationID     uuid.UUID        `json:"application_id" gorm:"type:uuid;not null;index"`
	Status            FeePaymentStatus `json:"status" gorm:"not null;size:20;index"`
	Provider          string           `json:"provider" gorm:"not null;size:50"`
	ExternalReference string           `json:"external_reference" gorm:"uniqueIndex;not null;size:255"`
	Amount            decimal.Decimal  `json:"amount" gorm:"type:decimal(10,2);not null"`
	Currency          string           `json:"currency" gorm:"size:3;not null"`
	CheckoutURL       string           `json:"checkout_url,omitempty" gorm:"type:text"`
	DecidedAt         *time.Time       `json:"decided_at,omitempty"`
	CancelledAt       *time.Time       `json:"cancelled_at,omitempty"`
	CancelReason      CancelReason     `json:"cancel_reason,omitempty" gorm:"size:20"`

	// Filled in on read, mirrors the owning application.
	FeeRequired bool `json:"fee_required" gorm:"-"`
	FeePaid     bool `json:"fee_paid" gorm:"-"`
}

func (FeePayment) TableName() string {
	return "fee_payments"
}

func (f *FeePayment) IsPending() bool {
	return f.Status == FeePaymentStatusPending
}
