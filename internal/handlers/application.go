// internal/handlers/application.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/popup-portal/internal/models"
	"github.com/javajoker/popup-portal/internal/services"
	"github.com/javajoker/popup-portal/internal/utils"
)

type ApplicationHandler struct {
	applications *services.ApplicationService
	log          logrus.FieldLogger
}

func NewApplicationHandler(applications *services.ApplicationService, log logrus.FieldLogger) *ApplicationHandler {
	return &ApplicationHandler{
		applications: applications,
		log:          log,
	}
}

// POST /v1/applications
func (h *ApplicationHandler) CreateApplication(c *gin.Context) {
	humanID, ok := currentActor(c)
	if !ok {
		return
	}

	var req services.CreateApplicationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	application, err := h.applications.CreateApplication(c.Request.Context(), humanID, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	utils.CreatedResponse(c, application)
}

// GET /v1/applications
func (h *ApplicationHandler) ListMyApplications(c *gin.Context) {
	humanID, ok := currentActor(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	search := services.ApplicationSearchParams{
		PaginationParams: params,
		HumanID:          &humanID,
	}
	if status := c.Query("status"); status != "" {
		s := models.ApplicationStatus(status)
		if !s.IsValid() {
			utils.BadRequestResponse(c, "Invalid status filter", nil)
			return
		}
		search.Status = &s
	}

	applications, total, err := h.applications.ListApplications(c.Request.Context(), &search)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(applications, total, params))
}

// GET /v1/applications/:id
func (h *ApplicationHandler) GetApplication(c *gin.Context) {
	humanID, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "application")
	if !ok {
		return
	}

	application, err := h.applications.GetApplication(c.Request.Context(), id, humanID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	utils.SuccessResponse(c, application)
}

// PUT /v1/applications/:id
func (h *ApplicationHandler) UpdateApplication(c *gin.Context) {
	humanID, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "application")
	if !ok {
		return
	}

	var req services.UpdateApplicationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	application, err := h.applications.UpdateApplication(c.Request.Context(), id, humanID, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	utils.SuccessResponse(c, application)
}

// POST /v1/applications/:id/submit
func (h *ApplicationHandler) SubmitApplication(c *gin.Context) {
	humanID, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "application")
	if !ok {
		return
	}

	application, err := h.applications.RequestSubmission(c.Request.Context(), id, humanID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	utils.SuccessResponse(c, application)
}
