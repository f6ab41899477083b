// internal/services/store.go
package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/popup-portal/internal/database"
	"github.com/javajoker/popup-portal/internal/models"
)

// SELECT ... FOR UPDATE; a no-op on SQLite.
var lockForUpdate = clause.Locking{Strength: "UPDATE"}

func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func inTransaction(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	return passThrough("transaction failed", database.WithTransaction(db.WithContext(ctx), fn))
}

// lockApplication takes the per-application row lock that serializes every status and
// fee-payment mutation for that application. Lock order is always application first.
func lockApplication(tx *gorm.DB, applicationID uuid.UUID) (*models.Application, error) {
	var application models.Application
	if err := tx.Clauses(lockForUpdate).First(&application, "id = ?", applicationID).Error; err != nil {
		return nil, lookupError("application", err)
	}
	return &application, nil
}

func hasApprovedFee(tx *gorm.DB, applicationID uuid.UUID) (bool, error) {
	var count int64
	err := tx.Model(&models.FeePayment{}).
		Where("application_id = ? AND status = ?", applicationID, models.FeePaymentStatusApproved).
		Count(&count).Error
	if err != nil {
		return false, infraError("failed to check fee payments", err)
	}
	return count > 0, nil
}
