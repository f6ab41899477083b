// internal/testutil/db.go
package testutil

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/javajoker/popup-portal/internal/config"
	"github.com/javajoker/popup-portal/internal/database"
	"github.com/javajoker/popup-portal/internal/models"
)

// NewDB opens a private in-memory SQLite database with the full schema. A single
// connection keeps every test transaction strictly serialized.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig("silent"))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.RunMigrations(db, QuietLogger()))

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

func QuietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func Config() *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Port:        "8080",
			BaseURL:     "http://localhost:8080",
			CORSOrigins: []string{"*"},
		},
		JWT: config.JWTConfig{
			SecretKey:      "test-secret",
			AccessTokenTTL: 1,
		},
		Payment: config.PaymentConfig{
			Provider:            "stripe",
			StripeWebhookSecret: "whsec_test",
			DefaultCurrency:     "usd",
		},
		Webhook: config.WebhookConfig{
			FingerprintTTL: time.Hour,
		},
		Email: config.EmailConfig{
			Provider:  "log",
			FromEmail: "noreply@example.com",
			FromName:  "Popup Portal",
		},
		Log:      config.LogConfig{Level: "error"},
		I18n:     config.I18nConfig{DefaultLocale: "en"},
		Frontend: config.FrontendConfig{BaseURL: "http://localhost:3000"},
	}
}

type PopupOptions struct {
	Fee              string
	RequiresApproval bool
	DiscountFields   []string
	FormSchema       models.JSONB
}

func CreatePopup(t testing.TB, db *gorm.DB, opts PopupOptions) *models.Popup {
	t.Helper()

	popup := &models.Popup{
		Slug:             "popup-" + uuid.NewString()[:8],
		Name:             "Test Popup",
		RequiresApproval: opts.RequiresApproval,
		Currency:         "usd",
		DiscountFields:   models.StringList(opts.DiscountFields),
		FormSchema:       opts.FormSchema,
		Active:           true,
	}
	if opts.Fee != "" {
		fee := decimal.RequireFromString(opts.Fee)
		if fee.GreaterThan(decimal.Zero) {
			popup.ApplicationFee = decimal.NewNullDecimal(fee)
		}
	}
	require.NoError(t, db.Create(popup).Error)
	return popup
}

func CreateApplication(t testing.TB, db *gorm.DB, popupID, humanID uuid.UUID, status models.ApplicationStatus) *models.Application {
	t.Helper()

	application := &models.Application{
		PopupID:   popupID,
		HumanID:   humanID,
		Email:     "applicant@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Data:      models.JSONB{},
		Status:    status,
	}
	if status != models.ApplicationStatusDraft {
		now := time.Now().UTC()
		application.SubmittedAt = &now
	}
	require.NoError(t, db.Create(application).Error)
	return application
}

func CountEmailLogs(t testing.TB, db *gorm.DB, entityID uuid.UUID, event models.NotificationEvent) int64 {
	t.Helper()

	var count int64
	require.NoError(t, db.Model(&models.EmailLog{}).
		Where("entity_id = ? AND event = ?", entityID, event).
		Count(&count).Error)
	return count
}
