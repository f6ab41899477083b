// internal/models/notification.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// EmailLog is written in the same transaction as the transition that triggers it
// and delivered after commit.
type EmailLog struct {
	BaseModel
	Event      NotificationEvent `json:"event" gorm:"not null;size:50;index"`
	Recipient  string            `json:"recipient" gorm:"not null;size:255"`
	EntityType string            `json:"entity_type" gorm:"size:50"`
	EntityID   uuid.UUID         `json:"entity_id" gorm:"type:uuid;index"`
	Context    JSONB             `json:"context" gorm:"type:jsonb"`
	Status     EmailStatus       `json:"status" gorm:"not null;size:20;index"`
	Error      string            `json:"error,omitempty" gorm:"type:text"`
	SentAt     *time.Time        `json:"sent_at,omitempty"`
}

func (EmailLog) TableName() string {
	return "email_logs"
}
