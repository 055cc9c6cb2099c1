package payment

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"paygate/internal/gateway"
	"paygate/internal/middleware"
	"paygate/internal/pkg/response"
)

type Handler struct {
	service *Service
	loggerf func(format string, args ...interface{})
}

func NewHandler(service *Service, loggerf func(format string, args ...interface{})) *Handler {
	if loggerf == nil {
		loggerf = func(string, ...interface{}) {}
	}
	return &Handler{service: service, loggerf: loggerf}
}

func (h *Handler) RegisterProtectedRoutes(rg *gin.RouterGroup) {
	rg.POST("/payments", h.Initiate)
	rg.POST("/payments/checkout-session", h.CreateCheckoutSession)
	rg.GET("/payments", h.List)
	rg.GET("/payments/stats", middleware.AdminOnly(), h.Stats)
	rg.GET("/payments/gateways", h.Gateways)
	rg.GET("/payments/:transaction_id", h.GetDetails)
	rg.POST("/payments/:transaction_id/confirm", h.Confirm)
	rg.POST("/payments/:transaction_id/refund", h.Refund)
	rg.POST("/payments/:transaction_id/cancel", h.Cancel)
}

func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	rg.POST("/payments/webhook/:gateway", h.Webhook)
}

// Initiate godoc
// @Summary      Initiate a payment
// @Description  Creates a payment record and opens a provider-side intent
// @Tags         Payments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        body body InitiatePaymentRequest true "Payment intent payload"
// @Success      200 {object} PaymentResult
// @Failure      400 {object} map[string]interface{}
// @Router       /payments [post]
func (h *Handler) Initiate(c *gin.Context) {
	var req InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	req.IPAddress = c.ClientIP()

	result, err := h.service.Initiate(c.Request.Context(), actorID(c), req)
	if err != nil {
		h.abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Confirm godoc
// @Summary      Confirm a payment
// @Description  Captures/validates the provider-side intent and finalizes the record
// @Tags         Payments
// @Security     BearerAuth
// @Produce      json
// @Param        transaction_id path string true "Transaction ID"
// @Success      200 {object} PaymentResult
// @Router       /payments/{transaction_id}/confirm [post]
func (h *Handler) Confirm(c *gin.Context) {
	var req ConfirmPaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}

	result, err := h.service.Confirm(c.Request.Context(), actorID(c), c.Param("transaction_id"), req.GatewayPaymentID)
	if err != nil {
		h.abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Refund godoc
// @Summary      Refund a completed payment
// @Tags         Payments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        transaction_id path string true "Transaction ID"
// @Param        body body RefundPaymentRequest false "Refund amount and reason"
// @Success      200 {object} PaymentResult
// @Router       /payments/{transaction_id}/refund [post]
func (h *Handler) Refund(c *gin.Context) {
	var req RefundPaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}

	result, err := h.service.Refund(c.Request.Context(), actorID(c), c.Param("transaction_id"), req.Amount, req.Reason)
	if err != nil {
		h.abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Cancel godoc
// @Summary      Cancel a pending or processing payment
// @Tags         Payments
// @Security     BearerAuth
// @Produce      json
// @Param        transaction_id path string true "Transaction ID"
// @Success      200 {object} PaymentResult
// @Router       /payments/{transaction_id}/cancel [post]
func (h *Handler) Cancel(c *gin.Context) {
	result, err := h.service.Cancel(c.Request.Context(), actorID(c), c.Param("transaction_id"))
	if err != nil {
		h.abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetDetails godoc
// @Summary      Get one payment with best-effort live provider status
// @Tags         Payments
// @Security     BearerAuth
// @Produce      json
// @Param        transaction_id path string true "Transaction ID"
// @Success      200 {object} PaymentResult
// @Router       /payments/{transaction_id} [get]
func (h *Handler) GetDetails(c *gin.Context) {
	result, err := h.service.GetDetails(c.Request.Context(), c.Param("transaction_id"))
	if err != nil {
		h.abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// List godoc
// @Summary      List the caller's payments
// @Tags         Payments
// @Security     BearerAuth
// @Produce      json
// @Success      200 {object} PaymentPage
// @Router       /payments [get]
func (h *Handler) List(c *gin.Context) {
	var req ListPaymentsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	page, err := h.service.ListByUser(c.Request.Context(), actorID(c), req)
	if err != nil {
		h.abortWithServiceError(c, err)
		return
	}
	response.Paginated(c, page.Payments, page.Total, page.Page, page.PerPage)
}

// Stats godoc
// @Summary      Payment aggregates by status and gateway
// @Tags         Payments
// @Security     BearerAuth
// @Produce      json
// @Router       /payments/stats [get]
func (h *Handler) Stats(c *gin.Context) {
	var req ListPaymentsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), req)
	if err != nil {
		h.abortWithServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// Gateways godoc
// @Summary      List available payment gateways
// @Tags         Payments
// @Security     BearerAuth
// @Produce      json
// @Router       /payments/gateways [get]
func (h *Handler) Gateways(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"gateways": h.service.AvailableGateways()})
}

// CreateCheckoutSession godoc
// @Summary      Create a Stripe hosted checkout session
// @Tags         Payments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        body body CheckoutSessionRequest true "Checkout payload"
// @Router       /payments/checkout-session [post]
func (h *Handler) CreateCheckoutSession(c *gin.Context) {
	var req CheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	result, err := h.service.CreateCheckoutSession(c.Request.Context(), req)
	if err != nil {
		h.abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Webhook godoc
// @Summary      Ingest a provider webhook
// @Description  Verifies the signature, normalizes the event and applies the
// @Description  matching state transition. Unknown transactions are acknowledged.
// @Tags         Payments
// @Accept       json
// @Produce      json
// @Param        gateway path string true "Gateway name"
// @Success      200 {object} gateway.WebhookEvent
// @Failure      403 {object} map[string]interface{}
// @Router       /payments/webhook/{gateway} [post]
func (h *Handler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "unreadable payload")
		return
	}

	gatewayName := c.Param("gateway")
	h.loggerf("level=info msg=webhook received gateway=%s bytes=%d", gatewayName, len(payload))

	evt, err := h.service.HandleWebhook(c.Request.Context(), gatewayName, payload, webhookSignature(c))
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			response.Error(c, http.StatusForbidden, "INVALID_SIGNATURE", "webhook signature verification failed")
			return
		}
		h.abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, evt)
}

func (h *Handler) abortWithServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, ErrNotFound):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ErrInvalidState):
		response.Error(c, http.StatusConflict, "INVALID_STATE", err.Error())
	case errors.Is(err, gateway.ErrUnsupportedGateway):
		response.Error(c, http.StatusBadRequest, "UNSUPPORTED_GATEWAY", err.Error())
	default:
		h.loggerf("level=error msg=payment operation failed err=%v", err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func actorID(c *gin.Context) int64 {
	return c.GetInt64("user_id")
}

// webhookSignature pulls the provider's signature header. Each provider uses
// its own header name; SSLCommerz embeds the hash in the payload itself.
func webhookSignature(c *gin.Context) string {
	for _, header := range []string{"Stripe-Signature", "Paypal-Transmission-Sig", "X-Webhook-Signature"} {
		if v := c.GetHeader(header); v != "" {
			return v
		}
	}
	return ""
}
