// internal/services/webhook_service_test.go
package services_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/javajoker/popup-portal/internal/models"
	"github.com/javajoker/popup-portal/internal/services"
	"github.com/javajoker/popup-portal/internal/testutil"
)

const testWebhookSecret = "whsec_test"

func checkoutEventPayload(eventType, sessionID, paymentStatus string) []byte {
	payload, _ := json.Marshal(map[string]interface{}{
		"id":          "evt_" + uuid.NewString()[:8],
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"created":     time.Now().Unix(),
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":             sessionID,
				"object":         "checkout.session",
				"payment_status": paymentStatus,
			},
		},
	})
	return payload
}

func signPayload(payload []byte, secret string) string {
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig))
}

func TestMapStripeEvent(t *testing.T) {
	tests := []struct {
		eventType     string
		paymentStatus string
		want          services.ProviderDecision
	}{
		{"checkout.session.completed", "paid", services.DecisionApproved},
		{"checkout.session.completed", "unpaid", ""},
		{"checkout.session.async_payment_succeeded", "paid", services.DecisionApproved},
		{"checkout.session.async_payment_failed", "unpaid", services.DecisionFailed},
		{"checkout.session.expired", "unpaid", services.DecisionFailed},
		{"charge.refunded", "paid", ""},
	}

	for _, tt := range tests {
		t.Run(tt.eventType+"/"+tt.paymentStatus, func(t *testing.T) {
			var event stripe.Event
			require.NoError(t, json.Unmarshal(checkoutEventPayload(tt.eventType, "cs_test_map", tt.paymentStatus), &event))

			mapped, err := services.MapStripeEvent(event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, mapped.Decision)
			assert.Equal(t, tt.eventType, mapped.EventType)
			assert.Equal(t, "stripe", mapped.Provider)
			if tt.eventType != "charge.refunded" {
				assert.Equal(t, "cs_test_map", mapped.ExternalReference)
			}
		})
	}
}

func TestStripeEventVerifier(t *testing.T) {
	verifier := services.NewStripeEventVerifier(testWebhookSecret)
	payload := checkoutEventPayload("checkout.session.completed", "cs_test_sig", "paid")

	event, err := verifier.Verify(payload, signPayload(payload, testWebhookSecret))
	require.NoError(t, err)
	assert.Equal(t, "cs_test_sig", event.ExternalReference)
	assert.Equal(t, services.DecisionApproved, event.Decision)
	assert.Equal(t, "stripe:cs_test_sig:checkout.session.completed", event.Fingerprint())

	_, err = verifier.Verify(payload, signPayload(payload, "whsec_other"))
	assert.True(t, errors.Is(err, services.ErrInvalidSignature))

	_, err = verifier.Verify(payload, "")
	assert.True(t, errors.Is(err, services.ErrInvalidSignature))
}

type WebhookServiceTestSuite struct {
	lifecycleSuite

	redis    *miniredis.Miniredis
	webhooks *services.WebhookService
}

func TestWebhookServiceSuite(t *testing.T) {
	suite.Run(t, new(WebhookServiceTestSuite))
}

func (s *WebhookServiceTestSuite) SetupTest() {
	s.lifecycleSuite.SetupTest()

	s.redis = miniredis.RunT(s.T())
	client := redis.NewClient(&redis.Options{Addr: s.redis.Addr()})
	s.T().Cleanup(func() { client.Close() })

	s.webhooks = services.NewWebhookService(s.feePayments, services.NewRedisFingerprintCache(client, time.Hour), s.log)
}

func (s *WebhookServiceTestSuite) pendingPayment(requiresApproval bool) (*models.Application, *models.FeePayment) {
	popup := s.popup(testutil.PopupOptions{Fee: "5", RequiresApproval: requiresApproval})
	humanID := uuid.New()
	application := s.draft(popup.ID, humanID)
	payment, err := s.feePayments.CreateFeePayment(s.ctx, application.ID, humanID)
	s.Require().NoError(err)
	return application, payment
}

func completed(ref string) *services.WebhookEvent {
	return &services.WebhookEvent{
		Provider:          "stripe",
		EventID:           "evt_" + ref,
		EventType:         "checkout.session.completed",
		ExternalReference: ref,
		Decision:          services.DecisionApproved,
		ObservedAt:        time.Now(),
	}
}

func (s *WebhookServiceTestSuite) TestReplayIsShortCircuitedByCache() {
	application, payment := s.pendingPayment(true)
	event := completed(payment.ExternalReference)

	result, err := s.webhooks.Handle(s.ctx, event)
	s.Require().NoError(err)
	s.Equal(services.WebhookProcessed, result)

	key := "webhook:" + event.Fingerprint()
	s.True(s.redis.Exists(key))
	s.Equal(time.Hour, s.redis.TTL(key))

	result, err = s.webhooks.Handle(s.ctx, event)
	s.Require().NoError(err)
	s.Equal(services.WebhookDuplicate, result)

	s.Equal(models.ApplicationStatusInReview, s.reload(application.ID).Status)
	s.Equal(int64(1), testutil.CountEmailLogs(s.T(), s.db, application.ID, models.NotificationApplicationReceived))
}

func (s *WebhookServiceTestSuite) TestLedgerDedupesWhenCacheIsCold() {
	_, payment := s.pendingPayment(true)
	event := completed(payment.ExternalReference)

	_, err := s.webhooks.Handle(s.ctx, event)
	s.Require().NoError(err)

	s.redis.FlushAll()

	result, err := s.webhooks.Handle(s.ctx, event)
	s.Require().NoError(err)
	s.Equal(services.WebhookAlreadyResolved, result)
}

func (s *WebhookServiceTestSuite) TestUnknownReferenceIsAcknowledged() {
	s.logs.Reset()

	result, err := s.webhooks.Handle(s.ctx, completed("cs_unknown"))
	s.Require().NoError(err)
	s.Equal(services.WebhookUnknownReference, result)

	entry := s.logs.LastEntry()
	s.Require().NotNil(entry)
	s.Equal(logrus.WarnLevel, entry.Level)
	s.Equal("cs_unknown", entry.Data["external_reference"])
}

func (s *WebhookServiceTestSuite) TestIgnoredEventsNeverTouchTheLedger() {
	event := &services.WebhookEvent{
		Provider:          "stripe",
		EventType:         "checkout.session.completed",
		ExternalReference: "cs_async",
	}

	result, err := s.webhooks.Handle(s.ctx, event)
	s.Require().NoError(err)
	s.Equal(services.WebhookIgnored, result)
	s.Empty(s.redis.Keys())
}

func (s *WebhookServiceTestSuite) TestInfrastructureFailureLeavesNoFingerprint() {
	_, payment := s.pendingPayment(true)
	event := completed(payment.ExternalReference)

	sqlDB, err := s.db.DB()
	s.Require().NoError(err)
	s.Require().NoError(sqlDB.Close())

	result, err := s.webhooks.Handle(s.ctx, event)
	s.Require().Error(err)
	s.Equal(services.WebhookFailed, result)
	s.Equal(services.KindInfrastructure, services.KindOf(err))
	s.False(s.redis.Exists("webhook:" + event.Fingerprint()))
}

// cancellingCache drops the request context as soon as the fingerprint has been checked,
// the way a provider hanging up mid-delivery does.
type cancellingCache struct {
	services.FingerprintCache
	cancel context.CancelFunc
}

func (c *cancellingCache) Seen(ctx context.Context, fingerprint string) (bool, error) {
	seen, err := c.FingerprintCache.Seen(ctx, fingerprint)
	c.cancel()
	return seen, err
}

func (s *WebhookServiceTestSuite) TestRedeliveryAfterAbortedRequestIsApplied() {
	client := redis.NewClient(&redis.Options{Addr: s.redis.Addr()})
	s.T().Cleanup(func() { client.Close() })
	cache := services.NewRedisFingerprintCache(client, time.Hour)

	application, payment := s.pendingPayment(true)
	event := completed(payment.ExternalReference)

	ctx, cancel := context.WithCancel(s.ctx)
	aborted := services.NewWebhookService(s.feePayments, &cancellingCache{FingerprintCache: cache, cancel: cancel}, s.log)

	result, err := aborted.Handle(ctx, event)
	s.Require().Error(err)
	s.Equal(services.WebhookFailed, result)
	s.False(s.redis.Exists("webhook:" + event.Fingerprint()))
	s.Equal(models.FeePaymentStatusPending, s.payment(payment.ID).Status)

	result, err = s.webhooks.Handle(s.ctx, event)
	s.Require().NoError(err)
	s.Equal(services.WebhookProcessed, result)
	s.Equal(models.FeePaymentStatusApproved, s.payment(payment.ID).Status)
	s.Equal(models.ApplicationStatusInReview, s.reload(application.ID).Status)
	s.True(s.redis.Exists("webhook:" + event.Fingerprint()))

	result, err = s.webhooks.Handle(s.ctx, event)
	s.Require().NoError(err)
	s.Equal(services.WebhookDuplicate, result)
}

func (s *WebhookServiceTestSuite) TestFingerprintIsRecordedWhenCallerGoesAway() {
	client := redis.NewClient(&redis.Options{Addr: s.redis.Addr()})
	s.T().Cleanup(func() { client.Close() })

	_, payment := s.pendingPayment(true)
	event := completed(payment.ExternalReference)

	ctx, cancel := context.WithCancel(s.ctx)
	webhooks := services.NewWebhookService(s.feePayments, &cancelOnRemember{
		RedisFingerprintCache: services.NewRedisFingerprintCache(client, time.Hour),
		cancel:                cancel,
	}, s.log)

	result, err := webhooks.Handle(ctx, event)
	s.Require().NoError(err)
	s.Equal(services.WebhookProcessed, result)
	s.True(s.redis.Exists("webhook:" + event.Fingerprint()))
}

type cancelOnRemember struct {
	*services.RedisFingerprintCache
	cancel context.CancelFunc
}

func (c *cancelOnRemember) Remember(ctx context.Context, fingerprint string) error {
	c.cancel()
	return c.RedisFingerprintCache.Remember(ctx, fingerprint)
}

func (s *WebhookServiceTestSuite) TestCacheOutageFallsBackToLedger() {
	client, mock := redismock.NewClientMock()
	webhooks := services.NewWebhookService(s.feePayments, services.NewRedisFingerprintCache(client, time.Hour), s.log)

	application, payment := s.pendingPayment(false)
	event := completed(payment.ExternalReference)
	key := "webhook:" + event.Fingerprint()

	mock.ExpectExists(key).SetErr(errors.New("connection refused"))
	mock.CustomMatch(func(expected, actual []interface{}) error {
		if len(actual) < 2 || actual[0] != "set" || actual[1] != key {
			return fmt.Errorf("unexpected command %v", actual)
		}
		return nil
	}).ExpectSet(key, 0, time.Hour).SetErr(errors.New("connection refused"))

	s.logs.Reset()
	result, err := webhooks.Handle(s.ctx, event)
	s.Require().NoError(err)
	s.Equal(services.WebhookProcessed, result)
	s.Equal(models.ApplicationStatusAccepted, s.reload(application.ID).Status)
	s.NoError(mock.ExpectationsWereMet())

	var warnings int
	for _, entry := range s.logs.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warnings++
		}
	}
	s.GreaterOrEqual(warnings, 2)
}

func (s *WebhookServiceTestSuite) TestNilCacheUsesLedgerOnly() {
	webhooks := services.NewWebhookService(s.feePayments, nil, s.log)
	_, payment := s.pendingPayment(true)
	event := completed(payment.ExternalReference)

	result, err := webhooks.Handle(s.ctx, event)
	s.Require().NoError(err)
	s.Equal(services.WebhookProcessed, result)

	result, err = webhooks.Handle(s.ctx, event)
	s.Require().NoError(err)
	s.Equal(services.WebhookAlreadyResolved, result)
}
