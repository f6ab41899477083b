// internal/services/fee_payment_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/popup-portal/internal/config"
	"github.com/javajoker/popup-portal/internal/metrics"
	"github.com/javajoker/popup-portal/internal/models"
)

type ProviderDecision string

const (
	DecisionApproved ProviderDecision = "approved"
	DecisionFailed   ProviderDecision = "failed"
)

// DecisionOutcome tells the webhook layer what happened to a provider decision.
type DecisionOutcome string

const (
	OutcomeApplied         DecisionOutcome = "applied"
	OutcomeAlreadyResolved DecisionOutcome = "already_resolved"
)

type FeePaymentService struct {
	db            *gorm.DB
	config        *config.Config
	policies      *PolicyService
	applications  *ApplicationService
	notifications *NotificationService
	provider      PaymentProvider
	log           logrus.FieldLogger
}

func NewFeePaymentService(db *gorm.DB, cfg *config.Config, policies *PolicyService, applications *ApplicationService, notifications *NotificationService, provider PaymentProvider, log logrus.FieldLogger) *FeePaymentService {
	return &FeePaymentService{
		db:            db,
		config:        cfg,
		policies:      policies,
		applications:  applications,
		notifications: notifications,
		provider:      provider,
		log:           log.WithField("component", "fee_payments"),
	}
}

// CreateFeePayment supersedes any pending fee payment and opens a new provider checkout,
// all under the application row lock. A provider failure rolls the whole thing back.
func (s *FeePaymentService) CreateFeePayment(ctx context.Context, applicationID, actorID uuid.UUID) (*models.FeePayment, error) {
	var payment *models.FeePayment
	var superseded []models.FeePayment
	var checkoutRef string

	err := inTransaction(ctx, s.db, func(tx *gorm.DB) error {
		application, err := lockApplication(tx, applicationID)
		if err != nil {
			return err
		}
		if !application.OwnedBy(actorID) {
			return newError(KindForbidden, "you do not own this application")
		}
		if application.Status != models.ApplicationStatusDraft {
			return newError(KindInvalidState, "Application must be in draft status")
		}

		policy, err := s.policies.resolve(tx, application.PopupID)
		if err != nil {
			return err
		}
		if !policy.FeeRequired() {
			return newError(KindFeeNotRequired, "This popup does not require an application fee")
		}

		paid, err := hasApprovedFee(tx, application.ID)
		if err != nil {
			return err
		}
		if paid {
			return newError(KindAlreadyPaid, "Application fee has already been paid")
		}

		if err := tx.Where("application_id = ? AND status = ?", application.ID, models.FeePaymentStatusPending).
			Find(&superseded).Error; err != nil {
			return infraError("failed to load pending fee payments", err)
		}
		if len(superseded) > 0 {
			now := time.Now().UTC()
			if err := tx.Model(&models.FeePayment{}).
				Where("application_id = ? AND status = ?", application.ID, models.FeePaymentStatusPending).
				Updates(map[string]interface{}{
					"status":        models.FeePaymentStatusCancelled,
					"cancelled_at":  now,
					"cancel_reason": models.CancelReasonSuperseded,
				}).Error; err != nil {
				return infraError("failed to cancel pending fee payments", err)
			}
		}

		payment = &models.FeePayment{
			ApplicationID: application.ID,
			Status:        models.FeePaymentStatusPending,
			Provider:      s.provider.Name(),
			Amount:        policy.ApplicationFee,
			Currency:      strings.ToLower(policy.Currency),
		}
		payment.ID = uuid.New()

		handle, err := s.provider.CreateCheckout(ctx, &CheckoutRequest{
			FeePaymentID:  payment.ID,
			ApplicationID: application.ID,
			Amount:        payment.Amount,
			Currency:      payment.Currency,
			Description:   fmt.Sprintf("%s application fee", policy.Name),
			CustomerEmail: application.Email,
			ReturnURL:     s.returnURL(application),
		})
		if err != nil {
			return infraError("payment provider could not create a checkout", err)
		}
		checkoutRef = handle.ExternalReference
		payment.ExternalReference = handle.ExternalReference
		payment.CheckoutURL = handle.CheckoutURL

		if err := tx.Create(payment).Error; err != nil {
			return infraError("failed to create fee payment", err)
		}

		payment.FeeRequired = true
		return nil
	})
	if err != nil {
		// The checkout exists at the provider but not in the ledger; close it so it cannot be paid.
		s.expireAtProvider(context.WithoutCancel(ctx), checkoutRef)
		return nil, err
	}

	metrics.FeePayments.WithLabelValues("created").Inc()
	for _, old := range superseded {
		metrics.FeePayments.WithLabelValues("superseded").Inc()
		s.expireAtProvider(ctx, old.ExternalReference)
	}

	s.log.WithFields(logrus.Fields{
		"application_id":     applicationID,
		"fee_payment_id":     payment.ID,
		"external_reference": payment.ExternalReference,
		"superseded":         len(superseded),
	}).Info("Fee payment created")

	return payment, nil
}

// RecordProviderDecision applies a provider verdict exactly once. Records that already left
// pending are never touched again, so a superseded checkout cannot come back as approved.
func (s *FeePaymentService) RecordProviderDecision(ctx context.Context, externalReference string, decision ProviderDecision, observedAt time.Time) (DecisionOutcome, error) {
	if decision != DecisionApproved && decision != DecisionFailed {
		return "", newError(KindValidation, fmt.Sprintf("unsupported provider decision %q", decision))
	}

	var outcome DecisionOutcome
	var queued *models.EmailLog

	err := inTransaction(ctx, s.db, func(tx *gorm.DB) error {
		var ref models.FeePayment
		if err := tx.Select("id", "application_id").
			Where("external_reference = ?", externalReference).
			First(&ref).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newError(KindUnknownReference, "no fee payment for reference "+externalReference)
			}
			return infraError("failed to look up fee payment", err)
		}

		application, err := lockApplication(tx, ref.ApplicationID)
		if err != nil {
			return err
		}

		var payment models.FeePayment
		if err := tx.Clauses(lockForUpdate).First(&payment, "id = ?", ref.ID).Error; err != nil {
			return lookupError("fee payment", err)
		}

		if !payment.IsPending() {
			outcome = OutcomeAlreadyResolved
			s.log.WithFields(logrus.Fields{
				"fee_payment_id":     payment.ID,
				"external_reference": externalReference,
				"status":             payment.Status,
				"decision":           decision,
			}).Info("Provider decision ignored, fee payment already resolved")
			return nil
		}

		decidedAt := observedAt.UTC()
		payment.DecidedAt = &decidedAt
		if decision == DecisionApproved {
			payment.Status = models.FeePaymentStatusApproved
		} else {
			payment.Status = models.FeePaymentStatusFailed
		}
		if err := tx.Save(&payment).Error; err != nil {
			return infraError("failed to record provider decision", err)
		}
		outcome = OutcomeApplied

		if decision == DecisionApproved {
			queued, err = s.applications.onFeeApproved(tx, application)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if outcome == OutcomeApplied {
		metrics.FeePayments.WithLabelValues(string(decision)).Inc()
		s.log.WithFields(logrus.Fields{
			"external_reference": externalReference,
			"decision":           decision,
		}).Info("Provider decision recorded")
	}
	s.notifications.Dispatch(queued)

	return outcome, nil
}

func (s *FeePaymentService) CancelFeePayment(ctx context.Context, feePaymentID, actorID uuid.UUID) (*models.FeePayment, error) {
	var payment models.FeePayment

	err := inTransaction(ctx, s.db, func(tx *gorm.DB) error {
		var ref models.FeePayment
		if err := tx.Select("id", "application_id").First(&ref, "id = ?", feePaymentID).Error; err != nil {
			return lookupError("fee payment", err)
		}

		application, err := lockApplication(tx, ref.ApplicationID)
		if err != nil {
			return err
		}
		if !application.OwnedBy(actorID) {
			return newError(KindForbidden, "you do not own this fee payment")
		}

		if err := tx.Clauses(lockForUpdate).First(&payment, "id = ?", feePaymentID).Error; err != nil {
			return lookupError("fee payment", err)
		}
		if !payment.IsPending() {
			return newError(KindInvalidState, fmt.Sprintf("fee payment is %s, only pending fee payments can be cancelled", payment.Status))
		}

		now := time.Now().UTC()
		payment.Status = models.FeePaymentStatusCancelled
		payment.CancelledAt = &now
		payment.CancelReason = models.CancelReasonClient
		if err := tx.Save(&payment).Error; err != nil {
			return infraError("failed to cancel fee payment", err)
		}

		return s.project(tx, &payment, application)
	})
	if err != nil {
		return nil, err
	}

	metrics.FeePayments.WithLabelValues("cancelled").Inc()
	s.expireAtProvider(ctx, payment.ExternalReference)

	return &payment, nil
}

func (s *FeePaymentService) GetFeePayment(ctx context.Context, feePaymentID, actorID uuid.UUID) (*models.FeePayment, error) {
	db := s.db.WithContext(ctx)

	var payment models.FeePayment
	if err := db.First(&payment, "id = ?", feePaymentID).Error; err != nil {
		return nil, lookupError("fee payment", err)
	}

	var application models.Application
	if err := db.First(&application, "id = ?", payment.ApplicationID).Error; err != nil {
		return nil, lookupError("application", err)
	}
	if !application.OwnedBy(actorID) {
		return nil, newError(KindForbidden, "you do not own this fee payment")
	}

	if err := s.project(db, &payment, &application); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (s *FeePaymentService) ListFeePayments(ctx context.Context, applicationID, actorID uuid.UUID) ([]models.FeePayment, error) {
	db := s.db.WithContext(ctx)

	var application models.Application
	if err := db.First(&application, "id = ?", applicationID).Error; err != nil {
		return nil, lookupError("application", err)
	}
	if !application.OwnedBy(actorID) {
		return nil, newError(KindForbidden, "you do not own this application")
	}

	var payments []models.FeePayment
	if err := db.Where("application_id = ?", applicationID).Order("created_at DESC").Find(&payments).Error; err != nil {
		return nil, infraError("failed to list fee payments", err)
	}

	policy, err := s.policies.resolve(db, application.PopupID)
	if err != nil {
		return nil, err
	}
	paid := false
	for _, p := range payments {
		if p.Status == models.FeePaymentStatusApproved {
			paid = true
		}
	}
	for i := range payments {
		payments[i].FeeRequired = policy.FeeRequired()
		payments[i].FeePaid = paid
	}

	return payments, nil
}

func (s *FeePaymentService) project(db *gorm.DB, payment *models.FeePayment, application *models.Application) error {
	policy, err := s.policies.resolve(db, application.PopupID)
	if err != nil {
		return err
	}
	paid, err := hasApprovedFee(db, application.ID)
	if err != nil {
		return err
	}
	payment.FeeRequired = policy.FeeRequired()
	payment.FeePaid = paid
	return nil
}

// expireAtProvider is best effort; the ledger is already authoritative.
func (s *FeePaymentService) expireAtProvider(ctx context.Context, externalReference string) {
	if externalReference == "" {
		return
	}
	if err := s.provider.ExpireCheckout(ctx, externalReference); err != nil {
		s.log.WithError(err).WithField("external_reference", externalReference).Warn("Failed to expire checkout at provider")
	}
}

func (s *FeePaymentService) returnURL(application *models.Application) string {
	return fmt.Sprintf("%s/applications/%s", strings.TrimRight(s.config.Frontend.BaseURL, "/"), application.ID)
}
