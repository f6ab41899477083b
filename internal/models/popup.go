// internal/models/popup.go
package models

import (
	"github.com/shopspring/decimal"
)

// Popup is the tenant: one event context with its own application policy.
type Popup struct {
	BaseModel
	Slug             string              `json:"slug" gorm:"uniqueIndex;not null;size:100"`
	Name             string              `json:"name" gorm:"not null;size:255"`
	RequiresApproval bool                `json:"requires_approval" gorm:"not null"`
	ApplicationFee   decimal.NullDecimal `json:"application_fee" gorm:"type:decimal(10,2)"`
	Currency         string              `json:"currency" gorm:"size:3;not null"`
	DiscountFields   StringList          `json:"discount_fields"`
	FormSchema       JSONB               `json:"form_schema,omitempty" gorm:"type:jsonb"`
	Active           bool                `json:"active" gorm:"not null"`
}

func (Popup) TableName() string {
	return "popups"
}
