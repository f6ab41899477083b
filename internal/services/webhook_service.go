// internal/services/webhook_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/javajoker/popup-portal/internal/metrics"
)

var ErrInvalidSignature = errors.New("webhook signature verification failed")

// WebhookEvent is a provider notification reduced to what the ledger needs.
// An empty Decision means the event carries nothing the ledger acts on.
type WebhookEvent struct {
	Provider          string
	EventID           string
	EventType         string
	ExternalReference string
	Decision          ProviderDecision
	ObservedAt        time.Time
}

func (e *WebhookEvent) Fingerprint() string {
	return fmt.Sprintf("%s:%s:%s", e.Provider, e.ExternalReference, e.EventType)
}

// EventVerifier authenticates a raw delivery and maps it to a WebhookEvent.
type EventVerifier interface {
	Verify(payload []byte, signature string) (*WebhookEvent, error)
}

type WebhookResult string

const (
	WebhookProcessed        WebhookResult = "processed"
	WebhookDuplicate        WebhookResult = "duplicate"
	WebhookAlreadyResolved  WebhookResult = "already_resolved"
	WebhookUnknownReference WebhookResult = "unknown_reference"
	WebhookIgnored          WebhookResult = "ignored"
	WebhookFailed           WebhookResult = "failed"
)

type WebhookService struct {
	ledger *FeePaymentService
	cache  FingerprintCache
	log    logrus.FieldLogger
}

// NewWebhookService accepts a nil cache; idempotency then rests on the ledger alone.
func NewWebhookService(ledger *FeePaymentService, cache FingerprintCache, log logrus.FieldLogger) *WebhookService {
	return &WebhookService{
		ledger: ledger,
		cache:  cache,
		log:    log.WithField("component", "webhooks"),
	}
}

// Handle returns an error only when the provider should retry the delivery.
func (s *WebhookService) Handle(ctx context.Context, event *WebhookEvent) (WebhookResult, error) {
	result, err := s.handle(ctx, event)
	metrics.WebhookEvents.WithLabelValues(string(result)).Inc()
	return result, err
}

func (s *WebhookService) handle(ctx context.Context, event *WebhookEvent) (WebhookResult, error) {
	logger := s.log.WithFields(logrus.Fields{
		"provider":           event.Provider,
		"event_id":           event.EventID,
		"event_type":         event.EventType,
		"external_reference": event.ExternalReference,
	})

	if event.Decision == "" || event.ExternalReference == "" {
		logger.Debug("Webhook event ignored")
		return WebhookIgnored, nil
	}

	fingerprint := event.Fingerprint()
	if s.cache != nil {
		seen, err := s.cache.Seen(ctx, fingerprint)
		switch {
		case err != nil:
			logger.WithError(err).Warn("Webhook fingerprint cache unavailable, relying on ledger state")
		case seen:
			logger.Info("Duplicate webhook delivery acknowledged")
			return WebhookDuplicate, nil
		}
	}

	outcome, err := s.ledger.RecordProviderDecision(ctx, event.ExternalReference, event.Decision, event.ObservedAt)
	if err != nil {
		switch KindOf(err) {
		case KindUnknownReference:
			logger.Warn("Webhook for unknown fee payment reference acknowledged")
			return WebhookUnknownReference, nil
		case KindInfrastructure:
			logger.WithError(err).Error("Webhook processing failed, provider will retry")
			return WebhookFailed, err
		default:
			logger.WithError(err).Warn("Webhook rejected by ledger, acknowledged")
			return WebhookIgnored, nil
		}
	}

	// The decision is committed; remember it even if the caller has gone away.
	s.remember(context.WithoutCancel(ctx), logger, fingerprint)

	if outcome == OutcomeAlreadyResolved {
		return WebhookAlreadyResolved, nil
	}

	logger.WithField("decision", event.Decision).Info("Webhook processed")
	return WebhookProcessed, nil
}

func (s *WebhookService) remember(ctx context.Context, logger logrus.FieldLogger, fingerprint string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Remember(ctx, fingerprint); err != nil {
		logger.WithError(err).Warn("Failed to record webhook fingerprint")
	}
}

type StripeEventVerifier struct {
	secret string
}

func NewStripeEventVerifier(secret string) *StripeEventVerifier {
	return &StripeEventVerifier{secret: secret}
}

func (v *StripeEventVerifier) Verify(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, v.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return MapStripeEvent(event)
}

// MapStripeEvent turns a Checkout Session event into a ledger decision.
func MapStripeEvent(event stripe.Event) (*WebhookEvent, error) {
	out := &WebhookEvent{
		Provider:   "stripe",
		EventID:    event.ID,
		EventType:  string(event.Type),
		ObservedAt: time.Now().UTC(),
	}
	if event.Created > 0 {
		out.ObservedAt = time.Unix(event.Created, 0).UTC()
	}

	if !strings.HasPrefix(out.EventType, "checkout.session.") || event.Data == nil {
		return out, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode checkout session: %w", err)
	}
	out.ExternalReference = sess.ID

	switch out.EventType {
	case "checkout.session.completed":
		if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			out.Decision = DecisionApproved
		}
	case "checkout.session.async_payment_succeeded":
		out.Decision = DecisionApproved
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		out.Decision = DecisionFailed
	}

	return out, nil
}
