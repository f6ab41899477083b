// internal/handlers/review.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/popup-portal/internal/models"
	"github.com/javajoker/popup-portal/internal/services"
	"github.com/javajoker/popup-portal/internal/utils"
)

// ReviewHandler serves admins and authorized reviewer apps.
type ReviewHandler struct {
	applications *services.ApplicationService
	log          logrus.FieldLogger
}

func NewReviewHandler(applications *services.ApplicationService, log logrus.FieldLogger) *ReviewHandler {
	return &ReviewHandler{
		applications: applications,
		log:          log,
	}
}

// GET /v1/reviews/applications
func (h *ReviewHandler) ListApplications(c *gin.Context) {
	params := utils.GetPaginationParams(c)
	search := services.ApplicationSearchParams{PaginationParams: params}

	if popupIDStr := c.Query("popup_id"); popupIDStr != "" {
		popupID, err := uuid.Parse(popupIDStr)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid popup ID", nil)
			return
		}
		search.PopupID = &popupID
	}

	status := models.ApplicationStatusInReview
	if s := c.Query("status"); s != "" {
		status = models.ApplicationStatus(s)
		if !status.IsValid() {
			utils.BadRequestResponse(c, "Invalid status filter", nil)
			return
		}
	}
	search.Status = &status

	applications, total, err := h.applications.ListApplications(c.Request.Context(), &search)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(applications, total, params))
}

// GET /v1/reviews/applications/:id
func (h *ReviewHandler) GetApplication(c *gin.Context) {
	id, ok := parseIDParam(c, "application")
	if !ok {
		return
	}

	application, err := h.applications.GetApplicationForReview(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	utils.SuccessResponse(c, application)
}

// POST /v1/reviews/applications/:id
func (h *ReviewHandler) ReviewApplication(c *gin.Context) {
	reviewer, ok := utils.GetReviewerFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}
	id, ok := parseIDParam(c, "application")
	if !ok {
		return
	}

	var req services.ReviewApplicationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	application, err := h.applications.ReviewApplication(c.Request.Context(), id, reviewer, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	utils.SuccessResponse(c, application)
}
