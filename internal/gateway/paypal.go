package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	paypalsdk "github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"

	"paygate/internal/config"
	"paygate/internal/domain"
)

const paypalNotConfiguredMsg = "PayPal gateway is not configured. Please set PAYPAL_CLIENT_ID and PAYPAL_CLIENT_SECRET environment variables."

// PayPal wraps the checkout-orders API. The OAuth access token is fetched
// once on first use and cached by the underlying client for the adapter's
// lifetime; the client refreshes it when it expires.
type PayPal struct {
	client        *paypalsdk.Client
	currency      string
	webhookSecret string
	configured    bool

	mu       sync.Mutex
	tokenSet bool
}

func NewPayPal(cfg config.PayPalConfig, timeout time.Duration) *PayPal {
	g := &PayPal{
		currency:      strings.ToUpper(cfg.Currency),
		webhookSecret: cfg.WebhookSecret,
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return g
	}

	client, err := paypalsdk.NewClient(cfg.ClientID, cfg.ClientSecret, cfg.APIBase)
	if err != nil {
		return g
	}
	client.Client = &http.Client{Timeout: timeout}

	g.client = client
	g.configured = true
	return g
}

func (g *PayPal) Name() string { return domain.GatewayPayPal }

func (g *PayPal) ensureToken(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tokenSet {
		return nil
	}
	if _, err := g.client.GetAccessToken(ctx); err != nil {
		return err
	}
	g.tokenSet = true
	return nil
}

func (g *PayPal) CreatePaymentIntent(ctx context.Context, req IntentRequest) IntentResult {
	if !g.configured {
		return IntentResult{Error: paypalNotConfiguredMsg, Code: CodeNotConfigured}
	}
	if err := g.ensureToken(ctx); err != nil {
		msg, code := paypalFailure(err)
		return IntentResult{Error: "Failed to authenticate with PayPal: " + msg, Code: code}
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = g.currency
	}
	description := req.Description
	if description == "" {
		description = "Payment"
	}

	units := []paypalsdk.PurchaseUnitRequest{{
		ReferenceID: req.TransactionID,
		Description: description,
		Amount: &paypalsdk.PurchaseUnitAmount{
			Currency: currency,
			Value:    req.Amount.StringFixed(2),
		},
	}}
	appContext := &paypalsdk.ApplicationContext{
		ReturnURL: req.SuccessURL,
		CancelURL: req.CancelURL,
	}

	order, err := g.client.CreateOrder(ctx, "CAPTURE", units, nil, appContext)
	if err != nil {
		msg, code := paypalFailure(err)
		return IntentResult{Error: msg, Code: code}
	}

	return IntentResult{
		Success:     true,
		IntentID:    order.ID,
		Status:      order.Status,
		RedirectURL: approvalURL(order),
	}
}

func (g *PayPal) ConfirmPayment(ctx context.Context, providerID string) ConfirmResult {
	if !g.configured {
		return ConfirmResult{Error: paypalNotConfiguredMsg, Code: CodeNotConfigured}
	}
	if err := g.ensureToken(ctx); err != nil {
		msg, code := paypalFailure(err)
		return ConfirmResult{Error: "Failed to authenticate with PayPal: " + msg, Code: code}
	}

	capture, err := g.client.CaptureOrder(ctx, providerID, paypalsdk.CaptureOrderRequest{})
	if err != nil {
		msg, code := paypalFailure(err)
		return ConfirmResult{Error: msg, Code: code}
	}

	res := ConfirmResult{
		Success:  capture.Status == "COMPLETED",
		IntentID: capture.ID,
		Status:   capture.Status,
		Currency: g.currency,
	}
	if len(capture.PurchaseUnits) > 0 && capture.PurchaseUnits[0].Payments != nil &&
		len(capture.PurchaseUnits[0].Payments.Captures) > 0 {
		captured := capture.PurchaseUnits[0].Payments.Captures[0]
		res.CaptureID = captured.ID
		if captured.Amount != nil {
			if amount, err := decimal.NewFromString(captured.Amount.Value); err == nil {
				res.Amount = amount
			}
			res.Currency = captured.Amount.Currency
		}
	}
	if !res.Success {
		res.Error = "capture not completed: " + capture.Status
	}
	return res
}

func (g *PayPal) RefundPayment(ctx context.Context, providerID string, amount *decimal.Decimal) RefundResult {
	if !g.configured {
		return RefundResult{Error: paypalNotConfiguredMsg, Code: CodeNotConfigured}
	}
	if err := g.ensureToken(ctx); err != nil {
		msg, code := paypalFailure(err)
		return RefundResult{Error: "Failed to authenticate with PayPal: " + msg, Code: code}
	}

	req := paypalsdk.RefundCaptureRequest{}
	if amount != nil {
		req.Amount = &paypalsdk.Money{
			Currency: g.currency,
			Value:    amount.StringFixed(2),
		}
	}

	refund, err := g.client.RefundCapture(ctx, providerID, req)
	if err != nil {
		msg, code := paypalFailure(err)
		return RefundResult{Error: msg, Code: code}
	}

	res := RefundResult{
		Success:  true,
		RefundID: refund.ID,
		Status:   refund.Status,
	}
	if amount != nil {
		res.Amount = *amount
	}
	return res
}

func (g *PayPal) GetPaymentDetails(ctx context.Context, providerID string) DetailsResult {
	if !g.configured {
		return DetailsResult{Error: paypalNotConfiguredMsg, Code: CodeNotConfigured}
	}
	if err := g.ensureToken(ctx); err != nil {
		msg, code := paypalFailure(err)
		return DetailsResult{Error: "Failed to authenticate with PayPal: " + msg, Code: code}
	}

	order, err := g.client.GetOrder(ctx, providerID)
	if err != nil {
		msg, code := paypalFailure(err)
		return DetailsResult{Error: msg, Code: code}
	}

	res := DetailsResult{
		Success:  true,
		IntentID: order.ID,
		Status:   order.Status,
		Currency: g.currency,
	}
	if len(order.PurchaseUnits) > 0 && order.PurchaseUnits[0].Amount != nil {
		unit := order.PurchaseUnits[0].Amount
		if amount, err := decimal.NewFromString(unit.Value); err == nil {
			res.Amount = amount
		}
		res.Currency = unit.Currency
	}
	return res
}

// CreateCustomer is a no-op: PayPal has no customer registration concept in
// the orders flow, so the orchestrator can treat customer creation as
// always-attempted.
func (g *PayPal) CreateCustomer(ctx context.Context, data CustomerData) CustomerResult {
	return CustomerResult{Success: true, Message: "PayPal does not require customer creation"}
}

func (g *PayPal) HandleWebhook(payload []byte) WebhookEvent {
	var evt struct {
		EventType string `json:"event_type"`
		Resource  struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Amount struct {
				CurrencyCode string `json:"currency_code"`
				Value        string `json:"value"`
			} `json:"amount"`
			SupplementaryData struct {
				RelatedIDs struct {
					OrderID string `json:"order_id"`
				} `json:"related_ids"`
			} `json:"supplementary_data"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return WebhookEvent{Event: "invalid_payload", Error: err.Error()}
	}

	amount, _ := decimal.NewFromString(evt.Resource.Amount.Value)

	// Capture-scoped events identify the capture, not the order the record
	// was created with; supplementary_data links back to the order id.
	orderID := evt.Resource.SupplementaryData.RelatedIDs.OrderID
	if orderID == "" {
		orderID = evt.Resource.ID
	}

	switch evt.EventType {
	case "CHECKOUT.ORDER.APPROVED":
		return WebhookEvent{
			Event:                 "payment_approved",
			Status:                StatusApproved,
			ProviderTransactionID: evt.Resource.ID,
			Handled:               true,
		}
	case "PAYMENT.CAPTURE.COMPLETED":
		return WebhookEvent{
			Event:                 "payment_completed",
			Status:                StatusCompleted,
			ProviderTransactionID: orderID,
			CaptureID:             evt.Resource.ID,
			Amount:                amount,
			Handled:               true,
		}
	case "PAYMENT.CAPTURE.REFUNDED":
		return WebhookEvent{
			Event:                 "payment_refunded",
			Status:                StatusRefunded,
			ProviderTransactionID: orderID,
			CaptureID:             evt.Resource.ID,
			Amount:                amount,
			Handled:               true,
		}
	default:
		return WebhookEvent{Event: evt.EventType}
	}
}

// ValidateWebhookSignature checks an HMAC-SHA256 of the raw payload keyed by
// the configured webhook secret. The signature header may carry either hex or
// base64 encoding. Without a configured secret nothing is trusted.
func (g *PayPal) ValidateWebhookSignature(payload []byte, signature string) bool {
	if g.webhookSecret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	if decoded, err := hex.DecodeString(strings.TrimSpace(signature)); err == nil {
		if hmac.Equal(expected, decoded) {
			return true
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature)); err == nil {
		if hmac.Equal(expected, decoded) {
			return true
		}
	}
	return false
}

func approvalURL(order *paypalsdk.Order) string {
	for _, link := range order.Links {
		if link.Rel == "approve" {
			return link.Href
		}
	}
	return ""
}

func paypalFailure(err error) (msg, code string) {
	var pErr *paypalsdk.ErrorResponse
	if errors.As(err, &pErr) {
		msg = pErr.Message
		if msg == "" {
			msg = err.Error()
		}
		return msg, pErr.Name
	}
	return err.Error(), CodeNetworkError
}
