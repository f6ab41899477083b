// internal/models/admin.go
package models

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type AuditLog struct {
	BaseModel
	UserID       *uuid.UUID `json:"user_id" gorm:"type:uuid;index"`
	Actor        string     `json:"actor" gorm:"size:255"`
	Action       string     `json:"action" gorm:"size:100;not null;index"`
	ResourceType string     `json:"resource_type" gorm:"size:50;not null;index"`
	ResourceID   *uuid.UUID `json:"resource_id" gorm:"type:uuid;index"`
	NewValues    JSONB      `json:"new_values" gorm:"type:jsonb"`
	Status       int        `json:"status"`
	IPAddress    string     `json:"ip_address" gorm:"size:45"`
	UserAgent    string     `json:"user_agent" gorm:"type:text"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

// AuthorizedApp is a third-party system allowed to review applications with an API key.
// Keys look like "<prefix>.<secret>"; only the bcrypt hash of the secret is stored.
type AuthorizedApp struct {
	BaseModel
	Name       string     `json:"name" gorm:"not null;size:100"`
	KeyPrefix  string     `json:"key_prefix" gorm:"uniqueIndex;not null;size:16"`
	KeyHash    string     `json:"-" gorm:"not null"`
	Active     bool       `json:"active" gorm:"not null"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

func (AuthorizedApp) TableName() string {
	return "authorized_apps"
}

func (a *AuthorizedApp) SetSecret(secret string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	a.KeyHash = string(hashed)
	return nil
}

func (a *AuthorizedApp) CheckSecret(secret string) error {
	return bcrypt.CompareHashAndPassword([]byte(a.KeyHash), []byte(secret))
}

// Actor is how the app shows up in review and audit records.
func (a *AuthorizedApp) Actor() string {
	return "app:" + a.Name
}
