// internal/database/connection.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/popup-portal/internal/config"
	"github.com/javajoker/popup-portal/internal/models"
)

func Initialize(cfg config.DatabaseConfig, log logrus.FieldLogger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), GormConfig(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.WithFields(logrus.Fields{
		"host":     cfg.Host,
		"database": cfg.Database,
	}).Info("Database connection established")
	return db, nil
}

// GormConfig is shared by the server, the CLI and the test harness.
func GormConfig(level string) *gorm.Config {
	mode := logger.Warn
	switch level {
	case "silent":
		mode = logger.Silent
	case "error":
		mode = logger.Error
	case "info":
		mode = logger.Info
	}

	return &gorm.Config{
		Logger: logger.New(logrus.StandardLogger(), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  mode,
			IgnoreRecordNotFoundError: true,
		}),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func Close(db *gorm.DB, log logrus.FieldLogger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.WithError(err).Error("Error getting underlying sql.DB")
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.WithError(err).Error("Error closing database connection")
	} else {
		log.Info("Database connection closed")
	}
}

func RunMigrations(db *gorm.DB, log logrus.FieldLogger) error {
	log.Info("Running database migrations")

	err := db.AutoMigrate(
		&models.Popup{},
		&models.Application{},
		&models.FeePayment{},
		&models.EmailLog{},
		&models.AuthorizedApp{},
		&models.AuditLog{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := createIndexes(db, log); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	log.Info("Database migrations completed")
	return nil
}

// The partial unique indexes allow at most one pending and one approved
// fee payment per application.
var requiredIndexes = []string{
	"CREATE UNIQUE INDEX IF NOT EXISTS idx_fee_payments_one_pending ON fee_payments(application_id) WHERE status = 'pending'",
	"CREATE UNIQUE INDEX IF NOT EXISTS idx_fee_payments_one_approved ON fee_payments(application_id) WHERE status = 'approved'",
}

var optionalIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_applications_popup_status ON applications(popup_id, status)",
	"CREATE INDEX IF NOT EXISTS idx_applications_submitted_at ON applications(submitted_at DESC)",
	"CREATE INDEX IF NOT EXISTS idx_fee_payments_application_status ON fee_payments(application_id, status)",
	"CREATE INDEX IF NOT EXISTS idx_email_logs_entity ON email_logs(entity_type, entity_id)",
	"CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id)",
	"CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs(created_at DESC)",
}

func createIndexes(db *gorm.DB, log logrus.FieldLogger) error {
	for _, index := range requiredIndexes {
		if err := db.Exec(index).Error; err != nil {
			return fmt.Errorf("%s: %w", index, err)
		}
	}

	for _, index := range optionalIndexes {
		if err := db.Exec(index).Error; err != nil {
			// Continue with other indexes instead of failing completely
			log.WithError(err).WithField("index", index).Warn("Failed to create index")
		}
	}

	return nil
}

// SeedDevelopmentData creates a demo popup so a fresh database can be exercised end to end.
func SeedDevelopmentData(db *gorm.DB, log logrus.FieldLogger) error {
	var count int64
	if err := db.Model(&models.Popup{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count popups: %w", err)
	}
	if count > 0 {
		return nil
	}

	demo := &models.Popup{
		Slug:             "demo-popup",
		Name:             "Demo Popup",
		RequiresApproval: true,
		ApplicationFee:   decimal.NewNullDecimal(decimal.NewFromInt(5)),
		Currency:         "usd",
		DiscountFields:   models.StringList{"scholarship_request"},
		Active:           true,
	}
	if err := db.Create(demo).Error; err != nil {
		return fmt.Errorf("failed to create demo popup: %w", err)
	}

	log.WithField("popup_id", demo.ID).Info("Demo popup created")
	return nil
}

// Transaction helper
func WithTransaction(db *gorm.DB, fn func(*gorm.DB) error) error {
	tx := db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
