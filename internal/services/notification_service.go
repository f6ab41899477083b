// internal/services/notification_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sync"
	texttemplate "text/template"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/popup-portal/internal/config"
	"github.com/javajoker/popup-portal/internal/metrics"
	"github.com/javajoker/popup-portal/internal/models"
)

type NotificationService struct {
	db     *gorm.DB
	config *config.Config
	mailer Mailer
	log    logrus.FieldLogger

	wg sync.WaitGroup
}

type EmailTemplate struct {
	Subject string
	Body    string
}

func NewNotificationService(db *gorm.DB, config *config.Config, mailer Mailer, log logrus.FieldLogger) *NotificationService {
	return &NotificationService{
		db:     db,
		config: config,
		mailer: mailer,
		log:    log.WithField("component", "notifications"),
	}
}

// Enqueue records the notification inside the caller's transaction. Delivery happens
// after commit through Dispatch, so a rolled back transition never sends mail.
func (s *NotificationService) Enqueue(tx *gorm.DB, event models.NotificationEvent, recipient string, data models.JSONB, entityType string, entityID uuid.UUID) (*models.EmailLog, error) {
	entry := &models.EmailLog{
		Event:      event,
		Recipient:  recipient,
		EntityType: entityType,
		EntityID:   entityID,
		Context:    data,
		Status:     models.EmailStatusQueued,
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, infraError("failed to queue notification", err)
	}
	return entry, nil
}

func (s *NotificationService) enqueueForApplication(tx *gorm.DB, event models.NotificationEvent, application *models.Application, policy *PopupPolicy) (*models.EmailLog, error) {
	data := models.JSONB{
		"first_name":     application.FirstName,
		"last_name":      application.LastName,
		"popup_name":     policy.Name,
		"application_id": application.ID.String(),
		"portal_url":     s.config.Frontend.BaseURL,
	}
	if application.ReviewReason != "" {
		data["reason"] = application.ReviewReason
	}
	return s.Enqueue(tx, event, application.Email, data, "application", application.ID)
}

// Dispatch delivers queued notifications in the background. Fire and forget: a failed
// delivery is recorded on the log row and never retried here.
func (s *NotificationService) Dispatch(entries ...*models.EmailLog) {
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		s.wg.Add(1)
		go func(e *models.EmailLog) {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.Deliver(ctx, e); err != nil {
				s.log.WithError(err).WithField("email_log_id", e.ID).Warn("Notification delivery failed")
			}
		}(entry)
	}
}

// Wait blocks until every dispatched delivery has finished.
func (s *NotificationService) Wait() {
	s.wg.Wait()
}

func (s *NotificationService) Deliver(ctx context.Context, entry *models.EmailLog) error {
	msg, err := s.render(entry)
	if err == nil {
		err = s.mailer.Send(ctx, msg)
	}

	updates := map[string]interface{}{}
	if err != nil {
		updates["status"] = models.EmailStatusFailed
		updates["error"] = err.Error()
		metrics.Notifications.WithLabelValues(string(entry.Event), string(models.EmailStatusFailed)).Inc()
	} else {
		now := time.Now().UTC()
		updates["status"] = models.EmailStatusSent
		updates["sent_at"] = now
		metrics.Notifications.WithLabelValues(string(entry.Event), string(models.EmailStatusSent)).Inc()
	}

	if dbErr := s.db.WithContext(ctx).Model(&models.EmailLog{}).Where("id = ?", entry.ID).Updates(updates).Error; dbErr != nil {
		s.log.WithError(dbErr).WithField("email_log_id", entry.ID).Error("Failed to update email log")
	}

	if err == nil {
		s.log.WithFields(logrus.Fields{
			"event":     entry.Event,
			"recipient": entry.Recipient,
		}).Info("Notification sent")
	}
	return err
}

func (s *NotificationService) render(entry *models.EmailLog) (*EmailMessage, error) {
	tmpl, ok := emailTemplates[entry.Event]
	if !ok {
		return nil, fmt.Errorf("no email template for event %q", entry.Event)
	}

	subject, err := renderSubject(tmpl.Subject, entry.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to render email subject: %w", err)
	}
	body, err := renderTemplate(tmpl.Body, entry.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to render email template: %w", err)
	}

	return &EmailMessage{To: entry.Recipient, Subject: subject, HTMLBody: body}, nil
}

// Subjects are plain text headers, so they must not be HTML-escaped.
func renderSubject(templateStr string, data interface{}) (string, error) {
	tmpl, err := texttemplate.New("subject").Option("missingkey=zero").Parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("email").Option("missingkey=zero").Parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

var emailTemplates = map[models.NotificationEvent]EmailTemplate{
	models.NotificationApplicationReceived: {
		Subject: "We received your application to {{.popup_name}}",
		Body: `<p>Hi {{.first_name}},</p>
<p>Thanks for applying to <strong>{{.popup_name}}</strong>. Your application is now under review and we will get back to you soon.</p>
<p>You can follow its status at <a href="{{.portal_url}}">{{.portal_url}}</a>.</p>`,
	},
	models.NotificationApplicationAccepted: {
		Subject: "You're in! Your application to {{.popup_name}} was accepted",
		Body: `<p>Hi {{.first_name}},</p>
<p>Great news: your application to <strong>{{.popup_name}}</strong> has been accepted.</p>
<p>Head to <a href="{{.portal_url}}">{{.portal_url}}</a> to complete your registration.</p>`,
	},
	models.NotificationApplicationRejected: {
		Subject: "An update on your application to {{.popup_name}}",
		Body: `<p>Hi {{.first_name}},</p>
<p>Thank you for your interest in <strong>{{.popup_name}}</strong>. Unfortunately we are unable to offer you a spot this time.</p>
{{if .reason}}<p>{{.reason}}</p>{{end}}`,
	},
}
