// internal/middleware/auth_test.go
package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/popup-portal/internal/i18n"
	"github.com/javajoker/popup-portal/internal/models"
	"github.com/javajoker/popup-portal/internal/services"
	"github.com/javajoker/popup-portal/internal/utils"
)

type stubKeys struct {
	app *models.AuthorizedApp
	err error
}

func (s *stubKeys) Authenticate(ctx context.Context, rawKey string) (*models.AuthorizedApp, error) {
	return s.app, s.err
}

func newTestRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	_ = i18n.Initialize("en")
	utils.SetJWTSecret("middleware-test")

	r := gin.New()
	r.Use(I18nMiddleware("en"))
	handlers = append(handlers, func(c *gin.Context) {
		reviewer, _ := c.Get("reviewer")
		reviewerStr, _ := reviewer.(string)
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("user_id"), "reviewer": reviewerStr})
	})
	r.GET("/", handlers...)
	return r
}

func serve(r *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func bearer(t *testing.T, userType models.UserType) (uuid.UUID, string) {
	t.Helper()
	id := uuid.New()
	token, err := utils.GenerateJWT(id, "someone@example.com", string(userType), time.Hour)
	require.NoError(t, err)
	return id, "Bearer " + token
}

func TestAuthRequired(t *testing.T) {
	r := newTestRouter(AuthRequired())

	assert.Equal(t, http.StatusUnauthorized, serve(r, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, map[string]string{"Authorization": "Token abc"}).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, map[string]string{"Authorization": "Bearer not-a-jwt"}).Code)

	id, header := bearer(t, models.UserTypeCitizen)
	w := serve(r, map[string]string{"Authorization": header})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id.String())
}

func TestAdminRequired(t *testing.T) {
	r := newTestRouter(AuthRequired(), AdminRequired())

	_, citizen := bearer(t, models.UserTypeCitizen)
	assert.Equal(t, http.StatusForbidden, serve(r, map[string]string{"Authorization": citizen}).Code)

	_, admin := bearer(t, models.UserTypeAdmin)
	assert.Equal(t, http.StatusOK, serve(r, map[string]string{"Authorization": admin}).Code)
}

func TestReviewerRequired(t *testing.T) {
	log, hook := test.NewNullLogger()
	app := &models.AuthorizedApp{Name: "review-bot"}
	app.ID = uuid.New()

	r := newTestRouter(ReviewerRequired(&stubKeys{app: app}, log))
	w := serve(r, map[string]string{APIKeyHeader: "pk_abc.secret"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "app:review-bot")

	r = newTestRouter(ReviewerRequired(&stubKeys{err: services.ErrInvalidAPIKey}, log))
	assert.Equal(t, http.StatusUnauthorized, serve(r, map[string]string{APIKeyHeader: "pk_abc.wrong"}).Code)

	r = newTestRouter(ReviewerRequired(&stubKeys{err: errors.New("db down")}, log))
	assert.Equal(t, http.StatusInternalServerError, serve(r, map[string]string{APIKeyHeader: "pk_abc.secret"}).Code)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "API key authentication failed", hook.LastEntry().Message)

	r = newTestRouter(ReviewerRequired(&stubKeys{}, log))
	_, citizen := bearer(t, models.UserTypeCitizen)
	assert.Equal(t, http.StatusForbidden, serve(r, map[string]string{"Authorization": citizen}).Code)

	adminID, admin := bearer(t, models.UserTypeAdmin)
	w = serve(r, map[string]string{"Authorization": admin})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "admin:"+adminID.String())

	assert.Equal(t, http.StatusUnauthorized, serve(r, nil).Code)
}

func TestOptionalAuth(t *testing.T) {
	r := newTestRouter(OptionalAuth())
	assert.Equal(t, http.StatusOK, serve(r, nil).Code)

	id, header := bearer(t, models.UserTypeCitizen)
	w := serve(r, map[string]string{"Authorization": header})
	assert.Contains(t, w.Body.String(), id.String())
}

func TestPreferredLanguage(t *testing.T) {
	_ = i18n.Initialize("en")

	tests := []struct {
		header string
		want   string
	}{
		{"", "en"},
		{"es-MX,es;q=0.9,en;q=0.8", "es"},
		{"fr-FR, en;q=0.5", "en"},
		{"de", "en"},
		{"es_ES", "es"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, preferredLanguage(tt.header, "en"), tt.header)
	}
}

func TestExtractResource(t *testing.T) {
	id := uuid.New()

	assert.Equal(t, "applications", extractResourceType("/v1/applications/"+id.String()))
	assert.Equal(t, "applications", extractResourceType("/v1/reviews/applications/"+id.String()))
	assert.Equal(t, "stripe", extractResourceType("/webhooks/stripe"))

	assert.Equal(t, id.String(), extractResourceID("/v1/applications/"+id.String()+"/submit"))
	assert.Empty(t, extractResourceID("/v1/applications"))
}
