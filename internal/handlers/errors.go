// internal/handlers/errors.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/popup-portal/internal/i18n"
	"github.com/javajoker/popup-portal/internal/services"
	"github.com/javajoker/popup-portal/internal/utils"
)

var kindStatus = map[services.ErrorKind]int{
	services.KindNotFound:         http.StatusNotFound,
	services.KindForbidden:        http.StatusForbidden,
	services.KindInvalidState:     http.StatusConflict,
	services.KindFeeNotRequired:   http.StatusBadRequest,
	services.KindAlreadyPaid:      http.StatusConflict,
	services.KindPaymentRequired:  http.StatusPaymentRequired,
	services.KindUnknownReference: http.StatusNotFound,
	services.KindConflict:         http.StatusConflict,
	services.KindValidation:       http.StatusBadRequest,
	services.KindInfrastructure:   http.StatusInternalServerError,
}

var kindMessage = map[services.ErrorKind]string{
	services.KindFeeNotRequired:  i18n.KeyFeeNotRequired,
	services.KindAlreadyPaid:     i18n.KeyFeeAlreadyPaid,
	services.KindPaymentRequired: i18n.KeyApplicationPaymentRequired,
	services.KindInfrastructure:  i18n.KeyInternalError,
}

// respondError writes the envelope for a service error. Infrastructure details never
// reach the client; they are logged instead.
func respondError(c *gin.Context, log logrus.FieldLogger, err error) {
	lang := utils.GetLangFromContext(c)

	var se *services.ServiceError
	if !errors.As(err, &se) {
		se = &services.ServiceError{Kind: services.KindInfrastructure, Err: err}
	}

	status, ok := kindStatus[se.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	message := se.Message
	if key, ok := kindMessage[se.Kind]; ok && (message == "" || se.Kind == services.KindInfrastructure) {
		message = i18n.T(lang, key)
	}

	if status >= http.StatusInternalServerError {
		log.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).Error("Request failed")
		utils.ErrorResponse(c, status, string(se.Kind), message, nil)
		return
	}

	utils.ErrorResponse(c, status, string(se.Kind), message, se.Details)
}

// bindAndValidate binds the JSON body into req and runs struct validation. It writes the
// error response itself and reports whether the handler should continue.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	lang := utils.GetLangFromContext(c)

	if err := c.ShouldBindJSON(req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return false
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return false
	}
	return true
}

// currentActor returns the authenticated human id or writes a 401.
func currentActor(c *gin.Context) (uuid.UUID, bool) {
	id, ok := utils.GetActorIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return uuid.Nil, false
	}
	return id, true
}

func parseIDParam(c *gin.Context, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid "+label+" ID", nil)
		return uuid.Nil, false
	}
	return id, true
}
