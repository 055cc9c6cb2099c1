package payment

import (
	"github.com/shopspring/decimal"

	"paygate/internal/domain"
)

type InitiatePaymentRequest struct {
	Gateway       string            `json:"gateway" example:"stripe"`
	Amount        decimal.Decimal   `json:"amount" binding:"required" example:"25.00"`
	Currency      string            `json:"currency" example:"USD"`
	PaymentType   string            `json:"payment_type" example:"one_time"`
	Description   string            `json:"description" example:"Donation to winter campaign"`
	CustomerEmail string            `json:"customer_email" example:"donor@example.com"`
	CustomerName  string            `json:"customer_name" example:"Jane Donor"`
	CustomerPhone string            `json:"customer_phone" example:"+8801700000000"`
	PayableType   string            `json:"payable_type" example:"donation"`
	PayableID     int64             `json:"payable_id" example:"42"`
	Metadata      map[string]string `json:"metadata"`
	SuccessURL    string            `json:"success_url"`
	CancelURL     string            `json:"cancel_url"`

	// Filled by the handler, never bound from the request body.
	UserID    int64  `json:"-"`
	IPAddress string `json:"-"`
}

type ConfirmPaymentRequest struct {
	GatewayPaymentID string `json:"gateway_payment_id"`
}

type RefundPaymentRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason"`
}

type CheckoutSessionRequest struct {
	Amount      decimal.Decimal   `json:"amount" binding:"required"`
	Currency    string            `json:"currency"`
	ProductName string            `json:"product_name"`
	Description string            `json:"description"`
	SuccessURL  string            `json:"success_url" binding:"required"`
	CancelURL   string            `json:"cancel_url" binding:"required"`
	Metadata    map[string]string `json:"metadata"`
}

type ListPaymentsRequest struct {
	Status   string `form:"status"`
	Gateway  string `form:"gateway"`
	Search   string `form:"search"`
	FromDate string `form:"from_date"`
	ToDate   string `form:"to_date"`
	Page     int    `form:"page"`
	PerPage  int    `form:"per_page"`
}

// PaymentResult is the envelope every orchestrator operation returns.
type PaymentResult struct {
	Success         bool            `json:"success"`
	Payment         *domain.Payment `json:"payment,omitempty"`
	Error           string          `json:"error,omitempty"`
	Warning         string          `json:"warning,omitempty"`
	Message         string          `json:"message,omitempty"`
	GatewayResponse interface{}     `json:"gateway_response,omitempty"`
}

type PaymentPage struct {
	Payments []domain.Payment `json:"payments"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PerPage  int              `json:"per_page"`
}
