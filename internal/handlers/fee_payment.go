// internal/handlers/fee_payment.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/popup-portal/internal/services"
	"github.com/javajoker/popup-portal/internal/utils"
)

type FeePaymentHandler struct {
	feePayments *services.FeePaymentService
	log         logrus.FieldLogger
}

func NewFeePaymentHandler(feePayments *services.FeePaymentService, log logrus.FieldLogger) *FeePaymentHandler {
	return &FeePaymentHandler{
		feePayments: feePayments,
		log:         log,
	}
}

// POST /v1/applications/:id/fee-payments
func (h *FeePaymentHandler) CreateFeePayment(c *gin.Context) {
	humanID, ok := currentActor(c)
	if !ok {
		return
	}
	applicationID, ok := parseIDParam(c, "application")
	if !ok {
		return
	}

	payment, err := h.feePayments.CreateFeePayment(c.Request.Context(), applicationID, humanID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	utils.CreatedResponse(c, payment)
}

// GET /v1/applications/:id/fee-payments
func (h *FeePaymentHandler) ListFeePayments(c *gin.Context) {
	humanID, ok := currentActor(c)
	if !ok {
		return
	}
	applicationID, ok := parseIDParam(c, "application")
	if !ok {
		return
	}

	payments, err := h.feePayments.ListFeePayments(c.Request.Context(), applicationID, humanID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	utils.SuccessResponse(c, payments)
}

// GET /v1/fee-payments/:id
func (h *FeePaymentHandler) GetFeePayment(c *gin.Context) {
	humanID, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "fee payment")
	if !ok {
		return
	}

	payment, err := h.feePayments.GetFeePayment(c.Request.Context(), id, humanID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	utils.SuccessResponse(c, payment)
}

// POST /v1/fee-payments/:id/cancel
func (h *FeePaymentHandler) CancelFeePayment(c *gin.Context) {
	humanID, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "fee payment")
	if !ok {
		return
	}

	payment, err := h.feePayments.CancelFeePayment(c.Request.Context(), id, humanID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	utils.SuccessResponse(c, payment)
}
