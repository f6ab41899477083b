// internal/middleware/auth.go
package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/popup-portal/internal/i18n"
	"github.com/javajoker/popup-portal/internal/models"
	"github.com/javajoker/popup-portal/internal/services"
	"github.com/javajoker/popup-portal/internal/utils"
)

const APIKeyHeader = "X-API-Key"

// APIKeyAuthenticator resolves a raw reviewer API key to the app that owns it.
type APIKeyAuthenticator interface {
	Authenticate(ctx context.Context, rawKey string) (*models.AuthorizedApp, error)
}

func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		lang := utils.GetLangFromContext(c)

		claims, key := bearerClaims(c)
		if key != "" {
			utils.UnauthorizedResponse(c, i18n.T(lang, key))
			c.Abort()
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		userType, exists := c.Get("user_type")
		if !exists || userType != string(models.UserTypeAdmin) {
			utils.ForbiddenResponse(c, "")
			c.Abort()
			return
		}
		c.Next()
	}
}

// ReviewerRequired admits an admin JWT or the API key of an active authorized app,
// and records who is acting as "reviewer" in the context.
func ReviewerRequired(keys APIKeyAuthenticator, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		lang := utils.GetLangFromContext(c)

		if rawKey := c.GetHeader(APIKeyHeader); rawKey != "" {
			app, err := keys.Authenticate(c.Request.Context(), rawKey)
			if err != nil {
				if errors.Is(err, services.ErrInvalidAPIKey) {
					utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthInvalidKey))
				} else {
					log.WithError(err).Error("API key authentication failed")
					utils.InternalErrorResponse(c, "")
				}
				c.Abort()
				return
			}

			c.Set("app_id", app.ID.String())
			c.Set("reviewer", app.Actor())
			c.Next()
			return
		}

		claims, key := bearerClaims(c)
		if key != "" {
			utils.UnauthorizedResponse(c, i18n.T(lang, key))
			c.Abort()
			return
		}
		if claims.UserType != string(models.UserTypeAdmin) {
			utils.ForbiddenResponse(c, "")
			c.Abort()
			return
		}

		setClaims(c, claims)
		c.Set("reviewer", "admin:"+claims.UserID)
		c.Next()
	}
}

func OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, key := bearerClaims(c); key == "" {
			setClaims(c, claims)
		}
		c.Next()
	}
}

// bearerClaims returns the token claims, or the i18n key describing why there are none.
func bearerClaims(c *gin.Context) (*utils.JWTClaims, string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return nil, i18n.KeyAuthRequired
	}

	// Extract token from "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, i18n.KeyAuthInvalidToken
	}

	claims, err := utils.ValidateJWT(parts[1])
	if err != nil {
		return nil, i18n.KeyAuthTokenExpired
	}
	return claims, ""
}

func setClaims(c *gin.Context, claims *utils.JWTClaims) {
	c.Set("user_id", claims.UserID)
	c.Set("email", claims.Email)
	c.Set("user_type", claims.UserType)
}
