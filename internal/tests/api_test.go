// internal/tests/api_test.go
package tests

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
	"gorm.io/gorm"

	"github.com/javajoker/popup-portal/internal/i18n"
	"github.com/javajoker/popup-portal/internal/middleware"
	"github.com/javajoker/popup-portal/internal/models"
	"github.com/javajoker/popup-portal/internal/router"
	"github.com/javajoker/popup-portal/internal/services"
	"github.com/javajoker/popup-portal/internal/testutil"
	"github.com/javajoker/popup-portal/internal/utils"
)

type APITestSuite struct {
	suite.Suite
	db       *gorm.DB
	router   *gin.Engine
	services *router.Services
	provider *testutil.FakeProvider
	mailer   *testutil.RecordingMailer
	humanID  uuid.UUID
	token    string
}

func (suite *APITestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
	suite.Require().NoError(i18n.Initialize("en"))
}

func (suite *APITestSuite) SetupTest() {
	suite.db = testutil.NewDB(suite.T())
	suite.provider = &testutil.FakeProvider{}
	suite.mailer = &testutil.RecordingMailer{}

	r, svc, err := router.Initialize(router.Dependencies{
		DB:       suite.db,
		Config:   testutil.Config(),
		Logger:   testutil.QuietLogger(),
		Mailer:   suite.mailer,
		Provider: suite.provider,
		Verifier: services.NewStripeEventVerifier("whsec_test"),
	})
	suite.Require().NoError(err)
	suite.router = r
	suite.services = svc

	suite.humanID = uuid.New()
	suite.token = suite.tokenFor(suite.humanID, models.UserTypeCitizen)
}

func (suite *APITestSuite) TearDownTest() {
	suite.services.Notifications.Wait()
}

func (suite *APITestSuite) tokenFor(id uuid.UUID, userType models.UserType) string {
	token, err := utils.GenerateJWT(id, "ada@example.com", string(userType), time.Hour)
	suite.Require().NoError(err)
	return token
}

func (suite *APITestSuite) do(method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	var reader *bytes.Buffer
	switch b := body.(type) {
	case nil:
		reader = &bytes.Buffer{}
	case []byte:
		reader = bytes.NewBuffer(b)
	default:
		jsonData, _ := json.Marshal(b)
		reader = bytes.NewBuffer(jsonData)
	}

	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)

	var response map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &response)
	return w, response
}

func (suite *APITestSuite) asHuman() map[string]string {
	return map[string]string{"Authorization": "Bearer " + suite.token}
}

func errorCode(response map[string]interface{}) string {
	apiErr, _ := response["error"].(map[string]interface{})
	code, _ := apiErr["code"].(string)
	return code
}

func data(response map[string]interface{}) map[string]interface{} {
	d, _ := response["data"].(map[string]interface{})
	return d
}

func (suite *APITestSuite) createApplication(popupID uuid.UUID) string {
	w, response := suite.do("POST", "/v1/applications", map[string]interface{}{
		"popup_id":   popupID,
		"email":      "ada@example.com",
		"first_name": "Ada",
		"data":       map[string]interface{}{"bio": "builder"},
	}, suite.asHuman())
	suite.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	return data(response)["id"].(string)
}

func (suite *APITestSuite) signedCheckoutEvent(eventType, sessionID, paymentStatus string) ([]byte, string) {
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
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, "whsec_test")
	return payload, fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig))
}

func (suite *APITestSuite) TestPaidSubmissionFlow() {
	popup := testutil.CreatePopup(suite.T(), suite.db, testutil.PopupOptions{Fee: "5", RequiresApproval: true})

	w, response := suite.do("GET", "/v1/popups/"+popup.ID.String()+"/policy", nil, nil)
	assert.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Equal(suite.T(), true, data(response)["fee_required"])

	applicationID := suite.createApplication(popup.ID)

	w, response = suite.do("POST", "/v1/applications/"+applicationID+"/submit", nil, suite.asHuman())
	assert.Equal(suite.T(), http.StatusPaymentRequired, w.Code)
	assert.Equal(suite.T(), string(services.KindPaymentRequired), errorCode(response))

	w, response = suite.do("POST", "/v1/applications/"+applicationID+"/fee-payments", nil, suite.asHuman())
	suite.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	ref := data(response)["external_reference"].(string)
	assert.NotEmpty(suite.T(), data(response)["checkout_url"])

	payload, sig := suite.signedCheckoutEvent("checkout.session.completed", ref, "paid")
	w, response = suite.do("POST", "/webhooks/stripe", payload, map[string]string{"Stripe-Signature": sig})
	assert.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Equal(suite.T(), string(services.WebhookProcessed), data(response)["result"])

	w, response = suite.do("GET", "/v1/applications/"+applicationID, nil, suite.asHuman())
	assert.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Equal(suite.T(), string(models.ApplicationStatusInReview), data(response)["status"])
	assert.Equal(suite.T(), true, data(response)["fee_paid"])

	w, response = suite.do("POST", "/v1/applications/"+applicationID+"/fee-payments", nil, suite.asHuman())
	assert.Equal(suite.T(), http.StatusConflict, w.Code)
	assert.Equal(suite.T(), string(services.KindAlreadyPaid), errorCode(response))
}

func (suite *APITestSuite) TestFeeFreeCheckoutIsRejected() {
	popup := testutil.CreatePopup(suite.T(), suite.db, testutil.PopupOptions{})
	applicationID := suite.createApplication(popup.ID)

	w, response := suite.do("POST", "/v1/applications/"+applicationID+"/fee-payments", nil, suite.asHuman())
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
	assert.Equal(suite.T(), string(services.KindFeeNotRequired), errorCode(response))
}

func (suite *APITestSuite) TestOtherHumansCannotTouchApplication() {
	popup := testutil.CreatePopup(suite.T(), suite.db, testutil.PopupOptions{Fee: "5"})
	applicationID := suite.createApplication(popup.ID)

	other := map[string]string{"Authorization": "Bearer " + suite.tokenFor(uuid.New(), models.UserTypeCitizen)}
	w, response := suite.do("POST", "/v1/applications/"+applicationID+"/fee-payments", nil, other)
	assert.Equal(suite.T(), http.StatusForbidden, w.Code)
	assert.Equal(suite.T(), string(services.KindForbidden), errorCode(response))

	w, _ = suite.do("POST", "/v1/applications/"+applicationID+"/fee-payments", nil, nil)
	assert.Equal(suite.T(), http.StatusUnauthorized, w.Code)
}

func (suite *APITestSuite) TestWebhookResponses() {
	payload, sig := suite.signedCheckoutEvent("checkout.session.completed", "cs_unknown", "paid")
	w, response := suite.do("POST", "/webhooks/stripe", payload, map[string]string{"Stripe-Signature": sig})
	assert.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Equal(suite.T(), string(services.WebhookUnknownReference), data(response)["result"])

	w, _ = suite.do("POST", "/webhooks/stripe", payload, map[string]string{"Stripe-Signature": "t=1,v1=deadbeef"})
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)

	payload, sig = suite.signedCheckoutEvent("checkout.session.completed", "cs_async", "unpaid")
	w, response = suite.do("POST", "/webhooks/stripe", payload, map[string]string{"Stripe-Signature": sig})
	assert.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Equal(suite.T(), string(services.WebhookIgnored), data(response)["result"])
}

func (suite *APITestSuite) TestWebhookAsksForRetryOnStorageFailure() {
	popup := testutil.CreatePopup(suite.T(), suite.db, testutil.PopupOptions{Fee: "5"})
	applicationID := suite.createApplication(popup.ID)
	w, response := suite.do("POST", "/v1/applications/"+applicationID+"/fee-payments", nil, suite.asHuman())
	suite.Require().Equal(http.StatusCreated, w.Code)
	ref := data(response)["external_reference"].(string)

	sqlDB, err := suite.db.DB()
	suite.Require().NoError(err)
	suite.Require().NoError(sqlDB.Close())

	payload, sig := suite.signedCheckoutEvent("checkout.session.completed", ref, "paid")
	w, response = suite.do("POST", "/webhooks/stripe", payload, map[string]string{"Stripe-Signature": sig})
	assert.Equal(suite.T(), http.StatusInternalServerError, w.Code)
	assert.Equal(suite.T(), string(services.KindInfrastructure), errorCode(response))
}

func (suite *APITestSuite) TestReviewWithAPIKey() {
	popup := testutil.CreatePopup(suite.T(), suite.db, testutil.PopupOptions{RequiresApproval: true})
	w, response := suite.do("POST", "/v1/applications", map[string]interface{}{
		"popup_id": popup.ID,
		"email":    "ada@example.com",
		"status":   "in_review",
	}, suite.asHuman())
	suite.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	applicationID := data(response)["id"].(string)
	assert.Equal(suite.T(), string(models.ApplicationStatusInReview), data(response)["status"])

	_, rawKey, err := suite.services.AppKeys.CreateKey(context.Background(), "review-bot")
	suite.Require().NoError(err)
	asApp := map[string]string{middleware.APIKeyHeader: rawKey}

	w, response = suite.do("GET", "/v1/reviews/applications?popup_id="+popup.ID.String(), nil, asApp)
	assert.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Len(suite.T(), response["data"], 1)

	w, _ = suite.do("GET", "/v1/reviews/applications", nil, map[string]string{middleware.APIKeyHeader: "pk_bogus.secret"})
	assert.Equal(suite.T(), http.StatusUnauthorized, w.Code)

	w, _ = suite.do("GET", "/v1/reviews/applications", nil, suite.asHuman())
	assert.Equal(suite.T(), http.StatusForbidden, w.Code)

	w, response = suite.do("POST", "/v1/reviews/applications/"+applicationID, map[string]interface{}{
		"decision": "accept",
	}, asApp)
	assert.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Equal(suite.T(), string(models.ApplicationStatusAccepted), data(response)["status"])
	assert.Equal(suite.T(), "app:review-bot", data(response)["reviewed_by"])

	w, response = suite.do("POST", "/v1/reviews/applications/"+applicationID, map[string]interface{}{
		"decision": "reject",
	}, asApp)
	assert.Equal(suite.T(), http.StatusConflict, w.Code)
	assert.Equal(suite.T(), string(services.KindInvalidState), errorCode(response))
}

func (suite *APITestSuite) TestAdminPopupManagement() {
	admin := map[string]string{"Authorization": "Bearer " + suite.tokenFor(uuid.New(), models.UserTypeAdmin)}

	w, response := suite.do("POST", "/v1/admin/popups", map[string]interface{}{
		"slug":              "edge-city",
		"name":              "Edge City",
		"requires_approval": true,
		"application_fee":   "10.00",
	}, admin)
	suite.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	popupID := data(response)["id"].(string)

	w, _ = suite.do("POST", "/v1/admin/popups", map[string]interface{}{
		"slug": "edge-city",
		"name": "Duplicate",
	}, admin)
	assert.Equal(suite.T(), http.StatusConflict, w.Code)

	w, _ = suite.do("POST", "/v1/admin/popups", map[string]interface{}{"slug": "x", "name": "X"}, suite.asHuman())
	assert.Equal(suite.T(), http.StatusForbidden, w.Code)

	w, _ = suite.do("PUT", "/v1/admin/popups/"+popupID+"/fee", map[string]interface{}{
		"application_fee": "0",
	}, admin)
	assert.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())

	w, response = suite.do("GET", "/v1/popups/"+popupID+"/policy", nil, nil)
	assert.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Equal(suite.T(), false, data(response)["fee_required"])
}

func (suite *APITestSuite) TestHealth() {
	w, response := suite.do("GET", "/health", nil, nil)
	assert.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Equal(suite.T(), "healthy", response["status"])
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}
