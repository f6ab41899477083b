// internal/services/application_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"
	"gorm.io/gorm"

	"github.com/javajoker/popup-portal/internal/metrics"
	"github.com/javajoker/popup-portal/internal/models"
	"github.com/javajoker/popup-portal/internal/utils"
)

type ApplicationService struct {
	db            *gorm.DB
	policies      *PolicyService
	notifications *NotificationService
	log           logrus.FieldLogger
	now           func() time.Time
}

type CreateApplicationRequest struct {
	PopupID   uuid.UUID                `json:"popup_id" validate:"required"`
	Email     string                   `json:"email" validate:"required,email,max=255"`
	FirstName string                   `json:"first_name" validate:"max=100"`
	LastName  string                   `json:"last_name" validate:"max=100"`
	Data      map[string]interface{}   `json:"data"`
	Status    models.ApplicationStatus `json:"status" validate:"omitempty,requested_status"`
}

type UpdateApplicationRequest struct {
	Email     *string                `json:"email,omitempty" validate:"omitempty,email,max=255"`
	FirstName *string                `json:"first_name,omitempty" validate:"omitempty,max=100"`
	LastName  *string                `json:"last_name,omitempty" validate:"omitempty,max=100"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

type ReviewDecision string

const (
	ReviewAccept ReviewDecision = "accept"
	ReviewReject ReviewDecision = "reject"
)

type ReviewApplicationRequest struct {
	Decision ReviewDecision `json:"decision" validate:"required,oneof=accept reject"`
	Reason   string         `json:"reason,omitempty" validate:"max=2000"`
}

type ApplicationSearchParams struct {
	utils.PaginationParams
	HumanID *uuid.UUID                `json:"human_id,omitempty"`
	PopupID *uuid.UUID                `json:"popup_id,omitempty"`
	Status  *models.ApplicationStatus `json:"status,omitempty"`
}

// applicationTransitions lists every move the lifecycle allows; accepted and rejected are terminal.
var applicationTransitions = map[models.ApplicationStatus][]models.ApplicationStatus{
	models.ApplicationStatusDraft:    {models.ApplicationStatusInReview, models.ApplicationStatusAccepted},
	models.ApplicationStatusInReview: {models.ApplicationStatusAccepted, models.ApplicationStatusRejected},
}

func CanTransition(from, to models.ApplicationStatus) bool {
	if from.IsTerminal() {
		return false
	}
	for _, allowed := range applicationTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func NewApplicationService(db *gorm.DB, policies *PolicyService, notifications *NotificationService, log logrus.FieldLogger) *ApplicationService {
	return &ApplicationService{
		db:            db,
		policies:      policies,
		notifications: notifications,
		log:           log.WithField("component", "applications"),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *ApplicationService) CreateApplication(ctx context.Context, humanID uuid.UUID, req *CreateApplicationRequest) (*models.Application, error) {
	requested := req.Status
	if requested == "" {
		requested = models.ApplicationStatusDraft
	}
	if requested != models.ApplicationStatusDraft && requested != models.ApplicationStatusInReview {
		return nil, newError(KindValidation, "status must be draft or in_review")
	}

	var application *models.Application
	var queued *models.EmailLog

	err := inTransaction(ctx, s.db, func(tx *gorm.DB) error {
		policy, err := s.policies.resolve(tx, req.PopupID)
		if err != nil {
			return err
		}

		if err := validateFormData(policy.FormSchema, req.Data); err != nil {
			return err
		}

		var existing int64
		if err := tx.Model(&models.Application{}).
			Where("human_id = ? AND popup_id = ?", humanID, req.PopupID).
			Count(&existing).Error; err != nil {
			return infraError("failed to check existing applications", err)
		}
		if existing > 0 {
			return newError(KindConflict, "an application for this popup already exists")
		}

		application = &models.Application{
			PopupID:   req.PopupID,
			HumanID:   humanID,
			Email:     req.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Data:      models.JSONB(req.Data),
			Status:    models.ApplicationStatusDraft,
		}
		if err := tx.Create(application).Error; err != nil {
			if isDuplicateKey(err) {
				return newError(KindConflict, "an application for this popup already exists")
			}
			return infraError("failed to create application", err)
		}

		// A fee-required popup silently keeps the application in draft until the fee is paid.
		if requested == models.ApplicationStatusInReview && !policy.FeeRequired() {
			application.RequestedDiscount = policy.EvaluatesDiscount(application)
			queued, err = s.moveTo(tx, application, policy, models.ApplicationStatusInReview, s.now())
			if err != nil {
				return err
			}
		}

		return s.project(tx, application, policy)
	})
	if err != nil {
		return nil, err
	}

	s.notifications.Dispatch(queued)

	s.log.WithFields(logrus.Fields{
		"application_id": application.ID,
		"popup_id":       application.PopupID,
		"status":         application.Status,
	}).Info("Application created")

	return application, nil
}

func (s *ApplicationService) UpdateApplication(ctx context.Context, applicationID, actorID uuid.UUID, req *UpdateApplicationRequest) (*models.Application, error) {
	var application *models.Application

	err := inTransaction(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		application, err = lockApplication(tx, applicationID)
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

		if req.Email != nil {
			application.Email = *req.Email
		}
		if req.FirstName != nil {
			application.FirstName = *req.FirstName
		}
		if req.LastName != nil {
			application.LastName = *req.LastName
		}
		if req.Data != nil {
			if err := validateFormData(policy.FormSchema, req.Data); err != nil {
				return err
			}
			application.Data = models.JSONB(req.Data)
		}

		if err := tx.Save(application).Error; err != nil {
			return infraError("failed to update application", err)
		}

		return s.project(tx, application, policy)
	})
	if err != nil {
		return nil, err
	}

	return application, nil
}

// RequestSubmission is the manual submit path. Applications that are already submitted
// succeed without change so a client can retry safely after the fee webhook has landed.
func (s *ApplicationService) RequestSubmission(ctx context.Context, applicationID, actorID uuid.UUID) (*models.Application, error) {
	var application *models.Application
	var queued *models.EmailLog

	err := inTransaction(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		application, err = lockApplication(tx, applicationID)
		if err != nil {
			return err
		}
		if !application.OwnedBy(actorID) {
			return newError(KindForbidden, "you do not own this application")
		}

		policy, err := s.policies.resolve(tx, application.PopupID)
		if err != nil {
			return err
		}

		switch application.Status {
		case models.ApplicationStatusInReview, models.ApplicationStatusAccepted:
			return s.project(tx, application, policy)
		case models.ApplicationStatusRejected:
			return newError(KindInvalidState, "Application must be in draft status")
		}

		if policy.FeeRequired() {
			paid, err := hasApprovedFee(tx, application.ID)
			if err != nil {
				return err
			}
			if !paid {
				return newError(KindPaymentRequired, "Application fee must be paid before submitting")
			}
		}

		queued, err = s.submit(tx, application, policy, s.now())
		if err != nil {
			return err
		}

		return s.project(tx, application, policy)
	})
	if err != nil {
		return nil, err
	}

	s.notifications.Dispatch(queued)
	return application, nil
}

// onFeeApproved runs inside the ledger's transaction with the application row already locked.
func (s *ApplicationService) onFeeApproved(tx *gorm.DB, application *models.Application) (*models.EmailLog, error) {
	policy, err := s.policies.resolve(tx, application.PopupID)
	if err != nil {
		return nil, err
	}
	return s.submit(tx, application, policy, s.now())
}

// submit decides between review and direct acceptance for a draft application.
func (s *ApplicationService) submit(tx *gorm.DB, application *models.Application, policy *PopupPolicy, now time.Time) (*models.EmailLog, error) {
	if application.Status != models.ApplicationStatusDraft {
		s.log.WithFields(logrus.Fields{
			"application_id": application.ID,
			"status":         application.Status,
		}).Warn("Submission skipped for application that is no longer a draft")
		return nil, nil
	}

	application.RequestedDiscount = policy.EvaluatesDiscount(application)

	target := models.ApplicationStatusInReview
	if !policy.RequiresApproval && !application.RequestedDiscount {
		target = models.ApplicationStatusAccepted
	}

	return s.moveTo(tx, application, policy, target, now)
}

func (s *ApplicationService) ReviewApplication(ctx context.Context, applicationID uuid.UUID, reviewer string, req *ReviewApplicationRequest) (*models.Application, error) {
	var application *models.Application
	var queued *models.EmailLog

	err := inTransaction(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		application, err = lockApplication(tx, applicationID)
		if err != nil {
			return err
		}
		if application.Status != models.ApplicationStatusInReview {
			return newError(KindInvalidState, fmt.Sprintf("application is %s, only applications in review can be reviewed", application.Status))
		}

		policy, err := s.policies.resolve(tx, application.PopupID)
		if err != nil {
			return err
		}

		now := s.now()
		application.ReviewedAt = &now
		application.ReviewedBy = reviewer
		application.ReviewReason = req.Reason

		target := models.ApplicationStatusAccepted
		if req.Decision == ReviewReject {
			target = models.ApplicationStatusRejected
		}

		queued, err = s.moveTo(tx, application, policy, target, now)
		if err != nil {
			return err
		}

		return s.project(tx, application, policy)
	})
	if err != nil {
		return nil, err
	}

	s.notifications.Dispatch(queued)

	s.log.WithFields(logrus.Fields{
		"application_id": application.ID,
		"reviewer":       reviewer,
		"decision":       req.Decision,
	}).Info("Application reviewed")

	return application, nil
}

// moveTo applies one transition, persists it and queues the notification that goes with it.
func (s *ApplicationService) moveTo(tx *gorm.DB, application *models.Application, policy *PopupPolicy, target models.ApplicationStatus, now time.Time) (*models.EmailLog, error) {
	from := application.Status
	if !CanTransition(from, target) {
		return nil, newError(KindInvalidState, fmt.Sprintf("cannot move application from %s to %s", from, target))
	}

	application.Status = target
	if application.SubmittedAt == nil {
		application.SubmittedAt = &now
	}
	if target == models.ApplicationStatusAccepted {
		application.AcceptedAt = &now
	}

	if err := tx.Save(application).Error; err != nil {
		return nil, infraError("failed to save application", err)
	}

	metrics.ApplicationTransitions.WithLabelValues(string(from), string(target)).Inc()
	s.log.WithFields(logrus.Fields{
		"application_id": application.ID,
		"from":           from,
		"to":             target,
	}).Info("Application status changed")

	switch {
	case target == models.ApplicationStatusInReview:
		return s.notifications.enqueueForApplication(tx, models.NotificationApplicationReceived, application, policy)
	case target == models.ApplicationStatusAccepted && from == models.ApplicationStatusInReview:
		return s.notifications.enqueueForApplication(tx, models.NotificationApplicationAccepted, application, policy)
	case target == models.ApplicationStatusRejected:
		return s.notifications.enqueueForApplication(tx, models.NotificationApplicationRejected, application, policy)
	}
	return nil, nil
}

func (s *ApplicationService) GetApplication(ctx context.Context, applicationID, actorID uuid.UUID) (*models.Application, error) {
	application, err := s.loadProjected(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if !application.OwnedBy(actorID) {
		return nil, newError(KindForbidden, "you do not own this application")
	}
	return application, nil
}

// GetApplicationForReview skips the ownership check; callers must be privileged.
func (s *ApplicationService) GetApplicationForReview(ctx context.Context, applicationID uuid.UUID) (*models.Application, error) {
	return s.loadProjected(ctx, applicationID)
}

func (s *ApplicationService) loadProjected(ctx context.Context, applicationID uuid.UUID) (*models.Application, error) {
	db := s.db.WithContext(ctx)

	var application models.Application
	if err := db.Preload("FeePayments", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("created_at DESC")
	}).First(&application, "id = ?", applicationID).Error; err != nil {
		return nil, lookupError("application", err)
	}

	policy, err := s.policies.resolve(db, application.PopupID)
	if err != nil {
		return nil, err
	}
	if err := s.project(db, &application, policy); err != nil {
		return nil, err
	}
	return &application, nil
}

func (s *ApplicationService) ListApplications(ctx context.Context, params *ApplicationSearchParams) ([]models.Application, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Application{})

	if params.HumanID != nil {
		query = query.Where("human_id = ?", *params.HumanID)
	}
	if params.PopupID != nil {
		query = query.Where("popup_id = ?", *params.PopupID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, infraError("failed to count applications", err)
	}

	allowedSortFields := []string{"created_at", "updated_at", "submitted_at", "status"}
	query = utils.ApplySort(query, params.PaginationParams, allowedSortFields)
	query = utils.ApplyPagination(query, params.PaginationParams)

	var applications []models.Application
	if err := query.Find(&applications).Error; err != nil {
		return nil, 0, infraError("failed to list applications", err)
	}

	if err := s.projectAll(s.db.WithContext(ctx), applications); err != nil {
		return nil, 0, err
	}

	return applications, total, nil
}

func (s *ApplicationService) project(tx *gorm.DB, application *models.Application, policy *PopupPolicy) error {
	application.FeeRequired = policy.FeeRequired()
	paid, err := hasApprovedFee(tx, application.ID)
	if err != nil {
		return err
	}
	application.FeePaid = paid
	return nil
}

func (s *ApplicationService) projectAll(db *gorm.DB, applications []models.Application) error {
	if len(applications) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(applications))
	for _, a := range applications {
		ids = append(ids, a.ID)
	}

	var paidIDs []uuid.UUID
	if err := db.Model(&models.FeePayment{}).
		Where("application_id IN ? AND status = ?", ids, models.FeePaymentStatusApproved).
		Pluck("application_id", &paidIDs).Error; err != nil {
		return infraError("failed to load fee payments", err)
	}
	paid := make(map[uuid.UUID]bool, len(paidIDs))
	for _, id := range paidIDs {
		paid[id] = true
	}

	policies := map[uuid.UUID]*PopupPolicy{}
	for i := range applications {
		a := &applications[i]
		policy, ok := policies[a.PopupID]
		if !ok {
			var err error
			if policy, err = s.policies.resolve(db, a.PopupID); err != nil {
				return err
			}
			policies[a.PopupID] = policy
		}
		a.FeeRequired = policy.FeeRequired()
		a.FeePaid = paid[a.ID]
	}
	return nil
}

// validateFormData checks application answers against the popup's JSON Schema, when it has one.
func validateFormData(schema models.JSONB, data map[string]interface{}) error {
	if len(schema) == 0 {
		return nil
	}
	if data == nil {
		data = map[string]interface{}{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(map[string]interface{}(schema)),
		gojsonschema.NewGoLoader(data),
	)
	if err != nil {
		return infraError("popup form schema could not be evaluated", err)
	}

	if !result.Valid() {
		details := make([]utils.ValidationError, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, utils.ValidationError{
				Field:   e.Field(),
				Tag:     e.Type(),
				Message: e.Description(),
			})
		}
		return &ServiceError{
			Kind:    KindValidation,
			Message: "application data does not match the popup form",
			Details: details,
		}
	}
	return nil
}
