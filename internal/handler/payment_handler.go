package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ultima-training/ultima-api/internal/models"
	"github.com/ultima-training/ultima-api/internal/service"
	appErrors "github.com/ultima-training/ultima-api/pkg/errors"
	"github.com/ultima-training/ultima-api/pkg/response"
)

// PaymentHandler exposes payment and refund endpoints.
type PaymentHandler struct {
	payments *service.PaymentService
	logger   *zap.Logger
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments *service.PaymentService, logger *zap.Logger) *PaymentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentHandler{payments: payments, logger: logger}
}

// List godoc
// @Summary List payments visible to the caller
// @Tags Payments
// @Produce json
// @Param enrollmentId query string false "Filter by enrollment"
// @Param method query string false "Filter by method"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /payments [get]
func (h *PaymentHandler) List(c *gin.Context) {
	var filter models.PaymentFilter
	filter.EnrollmentID = c.Query("enrollmentId")
	filter.Method = models.PaymentMethod(strings.ToUpper(c.Query("method")))
	filter.Status = models.PaymentStatus(strings.ToUpper(c.Query("status")))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	payments, pagination, err := h.payments.List(c.Request.Context(), actorFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, pagination)
}

// Create godoc
// @Summary Open a payment for a pending enrollment
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body service.CreatePaymentRequest true "Payment payload"
// @Success 201 {object} response.Envelope
// @Router /payments [post]
func (h *PaymentHandler) Create(c *gin.Context) {
	var req service.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	payment, err := h.payments.Create(c.Request.Context(), actorFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, payment)
}

// Confirm godoc
// @Summary Confirm a payment with processor evidence
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Payment ID"
// @Param payload body service.ConfirmPaymentRequest true "Confirmation payload"
// @Success 200 {object} response.Envelope
// @Router /payments/{id}/confirm [put]
func (h *PaymentHandler) Confirm(c *gin.Context) {
	var req service.ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	payment, err := h.payments.Confirm(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payment, nil)
}

// ApproveBankTransfer godoc
// @Summary Approve a bank transfer receipt and settle the payment
// @Tags Payments
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Router /payments/{id}/approve [put]
func (h *PaymentHandler) ApproveBankTransfer(c *gin.Context) {
	payment, err := h.payments.ApproveBankTransfer(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payment, nil)
}

// RequestRefund godoc
// @Summary Request a refund for a completed payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Payment ID"
// @Param payload body service.RefundRequest true "Refund payload"
// @Success 201 {object} response.Envelope
// @Router /payments/{id}/refund [post]
func (h *PaymentHandler) RequestRefund(c *gin.Context) {
	var req service.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	refund, err := h.payments.RequestRefund(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, refund)
}

type resolveRefundRequest struct {
	Status models.RefundStatus `json:"status" binding:"required"`
}

// ResolveRefund godoc
// @Summary Move a refund request to processing, completed or rejected
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Refund ID"
// @Param payload body resolveRefundRequest true "Resolution payload"
// @Success 200 {object} response.Envelope
// @Router /payments/refunds/{id} [put]
func (h *PaymentHandler) ResolveRefund(c *gin.Context) {
	var req resolveRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	status := models.RefundStatus(strings.ToUpper(string(req.Status)))
	if err := h.payments.ResolveRefund(c.Request.Context(), actorFromContext(c), c.Param("id"), status); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"resolved": true}, nil)
}

type paypalWebhookEvent struct {
	EventType string `json:"event_type"`
	Resource  struct {
		ID       string `json:"id"`
		CustomID string `json:"custom_id"`
	} `json:"resource"`
}

// PayPalWebhook godoc
// @Summary Receive PayPal capture notifications
// @Tags Payments
// @Accept json
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /payments/webhooks/paypal [post]
func (h *PaymentHandler) PayPalWebhook(c *gin.Context) {
	var event paypalWebhookEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid webhook payload"))
		return
	}
	if event.EventType != "PAYMENT.CAPTURE.COMPLETED" {
		// Acknowledge everything else so PayPal stops retrying.
		response.JSON(c, http.StatusOK, gin.H{"ignored": true}, nil)
		return
	}
	if err := h.payments.HandlePayPalCapture(c.Request.Context(), event.Resource.ID, event.Resource.CustomID); err != nil {
		h.logger.Error("paypal webhook processing failed",
			zap.String("capture_id", event.Resource.ID), zap.Error(err))
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"received": true}, nil)
}
