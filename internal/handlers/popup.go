// internal/handlers/popup.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/popup-portal/internal/services"
	"github.com/javajoker/popup-portal/internal/utils"
)

type PopupHandler struct {
	policies *services.PolicyService
	log      logrus.FieldLogger
}

type SetApplicationFeeRequest struct {
	ApplicationFee decimal.Decimal `json:"application_fee"`
	Currency       string          `json:"currency" validate:"omitempty,len=3"`
}

func NewPopupHandler(policies *services.PolicyService, log logrus.FieldLogger) *PopupHandler {
	return &PopupHandler{
		policies: policies,
		log:      log,
	}
}

// GET /v1/popups/:id/policy
func (h *PopupHandler) GetPolicy(c *gin.Context) {
	id, ok := parseIDParam(c, "popup")
	if !ok {
		return
	}

	policy, err := h.policies.Resolve(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"policy":       policy,
		"fee_required": policy.FeeRequired(),
	})
}

// POST /v1/admin/popups
func (h *PopupHandler) CreatePopup(c *gin.Context) {
	var req services.CreatePopupRequest
	if !bindAndValidate(c, &req) {
		return
	}

	popup, err := h.policies.CreatePopup(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	utils.CreatedResponse(c, popup)
}

// PUT /v1/admin/popups/:id/fee
func (h *PopupHandler) SetApplicationFee(c *gin.Context) {
	id, ok := parseIDParam(c, "popup")
	if !ok {
		return
	}

	var req SetApplicationFeeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	popup, err := h.policies.SetApplicationFee(c.Request.Context(), id, req.ApplicationFee, req.Currency)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	utils.SuccessResponse(c, popup)
}
