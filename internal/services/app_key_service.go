// internal/services/app_key_service.go
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/popup-portal/internal/models"
	"github.com/javajoker/popup-portal/internal/utils"
)

var ErrInvalidAPIKey = errors.New("invalid api key")

// AppKeyService manages the API keys third-party reviewer systems authenticate with.
type AppKeyService struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

func NewAppKeyService(db *gorm.DB, log logrus.FieldLogger) *AppKeyService {
	return &AppKeyService{
		db:  db,
		log: log.WithField("component", "app_keys"),
	}
}

// CreateKey registers an app and returns its raw key. The raw key is not recoverable later.
func (s *AppKeyService) CreateKey(ctx context.Context, name string) (*models.AuthorizedApp, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", newError(KindValidation, "app name is required")
	}

	prefix, secret, err := utils.GenerateAPIKey()
	if err != nil {
		return nil, "", infraError("failed to generate api key", err)
	}

	app := &models.AuthorizedApp{
		Name:      name,
		KeyPrefix: prefix,
		Active:    true,
	}
	if err := app.SetSecret(secret); err != nil {
		return nil, "", infraError("failed to hash api key", err)
	}

	if err := s.db.WithContext(ctx).Create(app).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, "", newError(KindConflict, "api key prefix collision, try again")
		}
		return nil, "", infraError("failed to store api key", err)
	}

	s.log.WithFields(logrus.Fields{
		"app":        app.Name,
		"key_prefix": app.KeyPrefix,
	}).Info("API key created")

	return app, prefix + "." + secret, nil
}

func (s *AppKeyService) Authenticate(ctx context.Context, rawKey string) (*models.AuthorizedApp, error) {
	prefix, secret, ok := utils.SplitAPIKey(rawKey)
	if !ok {
		return nil, ErrInvalidAPIKey
	}

	db := s.db.WithContext(ctx)

	var app models.AuthorizedApp
	if err := db.Where("key_prefix = ? AND active = ?", prefix, true).First(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, infraError("failed to look up api key", err)
	}
	if err := app.CheckSecret(secret); err != nil {
		return nil, ErrInvalidAPIKey
	}

	now := time.Now().UTC()
	if err := db.Model(&app).Update("last_used_at", now).Error; err != nil {
		s.log.WithError(err).WithField("key_prefix", prefix).Warn("Failed to record api key usage")
	}
	app.LastUsedAt = &now

	return &app, nil
}

func (s *AppKeyService) RevokeKey(ctx context.Context, prefix string) error {
	result := s.db.WithContext(ctx).Model(&models.AuthorizedApp{}).
		Where("key_prefix = ?", prefix).
		Update("active", false)
	if result.Error != nil {
		return infraError("failed to revoke api key", result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound("api key")
	}

	s.log.WithField("key_prefix", prefix).Info("API key revoked")
	return nil
}
