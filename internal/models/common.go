// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}

	return json.Unmarshal(bytes, j)
}

// Enums
type UserType string

const (
	UserTypeCitizen UserType = "citizen"
	UserTypeAdmin   UserType = "admin"
)

type ApplicationStatus string

const (
	ApplicationStatusDraft    ApplicationStatus = "draft"
	ApplicationStatusInReview ApplicationStatus = "in_review"
	ApplicationStatusAccepted ApplicationStatus = "accepted"
	ApplicationStatusRejected ApplicationStatus = "rejected"
)

func (s ApplicationStatus) IsValid() bool {
	switch s {
	case ApplicationStatusDraft, ApplicationStatusInReview, ApplicationStatusAccepted, ApplicationStatusRejected:
		return true
	}
	return false
}

func (s ApplicationStatus) IsTerminal() bool {
	return s == ApplicationStatusAccepted || s == ApplicationStatusRejected
}

type FeePaymentStatus string

const (
	FeePaymentStatusPending   FeePaymentStatus = "pending"
	FeePaymentStatusApproved  FeePaymentStatus = "approved"
	FeePaymentStatusCancelled FeePaymentStatus = "cancelled"
	FeePaymentStatusFailed    FeePaymentStatus = "failed"
)

type CancelReason string

const (
	CancelReasonSuperseded CancelReason = "superseded"
	CancelReasonClient     CancelReason = "client"
)

type NotificationEvent string

const (
	NotificationApplicationReceived NotificationEvent = "application_received"
	NotificationApplicationAccepted NotificationEvent = "application_accepted"
	NotificationApplicationRejected NotificationEvent = "application_rejected"
)

type EmailStatus string

const (
	EmailStatusQueued EmailStatus = "queued"
	EmailStatusSent   EmailStatus = "sent"
	EmailStatusFailed EmailStatus = "failed"
)

// StringList is a text[] column on PostgreSQL and a plain text column elsewhere.
type StringList []string

func (StringList) GormDataType() string {
	return "text[]"
}

func (StringList) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

func (l StringList) Value() (driver.Value, error) {
	return pq.StringArray(l).Value()
}

func (l *StringList) Scan(value interface{}) error {
	var arr pq.StringArray
	if err := arr.Scan(value); err != nil {
		return err
	}
	*l = StringList(arr)
	return nil
}
