package gateway

import "github.com/shopspring/decimal"

// Failure codes carried by result types. Provider declines keep the provider's
// own error code where one exists.
const (
	CodeNotConfigured = "not_configured"
	CodeNetworkError  = "network_error"
)

// Normalized webhook statuses shared by every adapter.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusRefunded  = "refunded"
	StatusApproved  = "approved"
	StatusCancelled = "cancelled"
)

type IntentRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Description   string
	CustomerID    string
	CustomerEmail string
	CustomerName  string
	CustomerPhone string
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

type IntentResult struct {
	Success      bool   `json:"success"`
	IntentID     string `json:"intent_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	Status       string `json:"status,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	SessionKey   string `json:"session_key,omitempty"`
	Error        string `json:"error,omitempty"`
	Code         string `json:"code,omitempty"`
}

type ConfirmResult struct {
	Success   bool            `json:"success"`
	IntentID  string          `json:"intent_id,omitempty"`
	CaptureID string          `json:"capture_id,omitempty"`
	Status    string          `json:"status,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      string          `json:"code,omitempty"`
}

type RefundResult struct {
	Success  bool            `json:"success"`
	RefundID string          `json:"refund_id,omitempty"`
	Status   string          `json:"status,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	Error    string          `json:"error,omitempty"`
	Code     string          `json:"code,omitempty"`
}

type DetailsResult struct {
	Success  bool            `json:"success"`
	IntentID string          `json:"intent_id,omitempty"`
	Status   string          `json:"status,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`
	Error    string          `json:"error,omitempty"`
	Code     string          `json:"code,omitempty"`
}

type CustomerData struct {
	Email    string
	Name     string
	Phone    string
	Metadata map[string]string
}

type CustomerResult struct {
	Success    bool   `json:"success"`
	CustomerID string `json:"customer_id,omitempty"`
	Error      string `json:"error,omitempty"`
	Message    string `json:"message,omitempty"`
}

type CheckoutRequest struct {
	Amount      decimal.Decimal
	Currency    string
	ProductName string
	Description string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

type CheckoutResult struct {
	Success     bool   `json:"success"`
	SessionID   string `json:"session_id,omitempty"`
	CheckoutURL string `json:"checkout_url,omitempty"`
	Error       string `json:"error,omitempty"`
	Code        string `json:"code,omitempty"`
}

// WebhookEvent is the common shape every adapter maps provider payloads into.
// Handled is false for event types the adapter does not recognize; those are
// recorded by the caller, never treated as errors.
type WebhookEvent struct {
	Event                 string          `json:"event"`
	Status                string          `json:"status,omitempty"`
	ProviderTransactionID string          `json:"provider_transaction_id,omitempty"`
	CaptureID             string          `json:"capture_id,omitempty"`
	Amount                decimal.Decimal `json:"amount"`
	Error                 string          `json:"error,omitempty"`
	Handled               bool            `json:"handled"`
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromMinorUnits(v int64) decimal.Decimal {
	return decimal.NewFromInt(v).Div(decimal.NewFromInt(100))
}
