package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v79"
	stripeclient "github.com/stripe/stripe-go/v79/client"
	stripewebhook "github.com/stripe/stripe-go/v79/webhook"

	"paygate/internal/config"
	"paygate/internal/domain"
)

const stripeNotConfiguredMsg = "Stripe gateway is not configured. Please set STRIPE_SECRET_KEY environment variable."

// Stripe wraps the Stripe payment-intent API. The client is nil when no
// secret key is configured; every network-issuing method checks the flag
// before touching it.
type Stripe struct {
	client        *stripeclient.API
	webhookSecret string
	currency      string
	configured    bool
}

func NewStripe(cfg config.StripeConfig, timeout time.Duration) *Stripe {
	g := &Stripe{
		webhookSecret: cfg.WebhookSecret,
		currency:      strings.ToLower(cfg.Currency),
	}
	if cfg.SecretKey == "" {
		return g
	}

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: timeout},
	})
	api := &stripeclient.API{}
	api.Init(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	g.client = api
	g.configured = true
	return g
}

func (g *Stripe) Name() string { return domain.GatewayStripe }

func (g *Stripe) CreatePaymentIntent(ctx context.Context, req IntentRequest) IntentResult {
	if !g.configured {
		return IntentResult{Error: stripeNotConfiguredMsg, Code: CodeNotConfigured}
	}

	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = g.currency
	}

	params := &stripe.PaymentIntentParams{
		Params:             stripe.Params{Context: ctx},
		Amount:             stripe.Int64(toMinorUnits(req.Amount)),
		Currency:           stripe.String(currency),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(req.CustomerEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.client.PaymentIntents.New(params)
	if err != nil {
		msg, code := stripeFailure(err)
		return IntentResult{Error: msg, Code: code}
	}

	return IntentResult{
		Success:      true,
		IntentID:     pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
	}
}

func (g *Stripe) ConfirmPayment(ctx context.Context, providerID string) ConfirmResult {
	if !g.configured {
		return ConfirmResult{Error: stripeNotConfiguredMsg, Code: CodeNotConfigured}
	}

	pi, err := g.client.PaymentIntents.Get(providerID, &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		msg, code := stripeFailure(err)
		return ConfirmResult{Error: msg, Code: code}
	}

	if pi.Status == stripe.PaymentIntentStatusRequiresConfirmation {
		pi, err = g.client.PaymentIntents.Confirm(providerID, &stripe.PaymentIntentConfirmParams{
			Params: stripe.Params{Context: ctx},
		})
		if err != nil {
			msg, code := stripeFailure(err)
			return ConfirmResult{Error: msg, Code: code}
		}
	}

	res := ConfirmResult{
		Success:  pi.Status == stripe.PaymentIntentStatusSucceeded,
		IntentID: pi.ID,
		Status:   string(pi.Status),
		Amount:   fromMinorUnits(pi.Amount),
		Currency: string(pi.Currency),
	}
	if !res.Success {
		res.Error = "payment intent not succeeded: " + string(pi.Status)
	}
	return res
}

func (g *Stripe) RefundPayment(ctx context.Context, providerID string, amount *decimal.Decimal) RefundResult {
	if !g.configured {
		return RefundResult{Error: stripeNotConfiguredMsg, Code: CodeNotConfigured}
	}

	params := &stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(providerID),
	}
	if amount != nil {
		params.Amount = stripe.Int64(toMinorUnits(*amount))
	}

	ref, err := g.client.Refunds.New(params)
	if err != nil {
		msg, code := stripeFailure(err)
		return RefundResult{Error: msg, Code: code}
	}

	return RefundResult{
		Success:  true,
		RefundID: ref.ID,
		Status:   string(ref.Status),
		Amount:   fromMinorUnits(ref.Amount),
	}
}

func (g *Stripe) GetPaymentDetails(ctx context.Context, providerID string) DetailsResult {
	if !g.configured {
		return DetailsResult{Error: stripeNotConfiguredMsg, Code: CodeNotConfigured}
	}

	pi, err := g.client.PaymentIntents.Get(providerID, &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		msg, code := stripeFailure(err)
		return DetailsResult{Error: msg, Code: code}
	}

	return DetailsResult{
		Success:  true,
		IntentID: pi.ID,
		Status:   string(pi.Status),
		Amount:   fromMinorUnits(pi.Amount),
		Currency: string(pi.Currency),
	}
}

func (g *Stripe) CreateCustomer(ctx context.Context, data CustomerData) CustomerResult {
	if !g.configured {
		return CustomerResult{Error: stripeNotConfiguredMsg}
	}

	params := &stripe.CustomerParams{Params: stripe.Params{Context: ctx}}
	if data.Email != "" {
		params.Email = stripe.String(data.Email)
	}
	if data.Name != "" {
		params.Name = stripe.String(data.Name)
	}
	if data.Phone != "" {
		params.Phone = stripe.String(data.Phone)
	}
	for k, v := range data.Metadata {
		params.AddMetadata(k, v)
	}

	cust, err := g.client.Customers.New(params)
	if err != nil {
		msg, _ := stripeFailure(err)
		return CustomerResult{Error: msg}
	}

	return CustomerResult{Success: true, CustomerID: cust.ID}
}

// CreateCheckoutSession builds a hosted checkout page for a one-off charge.
// Stripe-specific; not part of the Gateway contract.
func (g *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) CheckoutResult {
	if !g.configured {
		return CheckoutResult{Error: stripeNotConfiguredMsg, Code: CodeNotConfigured}
	}

	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = g.currency
	}
	name := req.ProductName
	if name == "" {
		name = "Payment"
	}

	params := &stripe.CheckoutSessionParams{
		Params:             stripe.Params{Context: ctx},
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(toMinorUnits(req.Amount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
			},
		}},
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		msg, code := stripeFailure(err)
		return CheckoutResult{Error: msg, Code: code}
	}

	return CheckoutResult{Success: true, SessionID: sess.ID, CheckoutURL: sess.URL}
}

func (g *Stripe) HandleWebhook(payload []byte) WebhookEvent {
	var evt struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID               string `json:"id"`
				Amount           int64  `json:"amount"`
				AmountRefunded   int64  `json:"amount_refunded"`
				PaymentIntent    string `json:"payment_intent"`
				LastPaymentError struct {
					Message string `json:"message"`
				} `json:"last_payment_error"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return WebhookEvent{Event: "invalid_payload", Error: err.Error()}
	}

	obj := evt.Data.Object
	switch evt.Type {
	case "payment_intent.succeeded":
		return WebhookEvent{
			Event:                 "payment_completed",
			Status:                StatusCompleted,
			ProviderTransactionID: obj.ID,
			Amount:                fromMinorUnits(obj.Amount),
			Handled:               true,
		}
	case "payment_intent.payment_failed":
		msg := obj.LastPaymentError.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return WebhookEvent{
			Event:                 "payment_failed",
			Status:                StatusFailed,
			ProviderTransactionID: obj.ID,
			Error:                 msg,
			Handled:               true,
		}
	case "charge.refunded":
		id := obj.PaymentIntent
		if id == "" {
			id = obj.ID
		}
		return WebhookEvent{
			Event:                 "payment_refunded",
			Status:                StatusRefunded,
			ProviderTransactionID: id,
			Amount:                fromMinorUnits(obj.AmountRefunded),
			Handled:               true,
		}
	default:
		return WebhookEvent{Event: evt.Type}
	}
}

func (g *Stripe) ValidateWebhookSignature(payload []byte, signature string) bool {
	if g.webhookSecret == "" {
		return false
	}
	// IgnoreAPIVersionMismatch: this is an authenticity check, not a schema
	// check; a genuine event pinned to another API version must still pass.
	_, err := stripewebhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		stripewebhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	return err == nil
}

// stripeFailure splits provider declines (structured *stripe.Error) from
// transport problems, which are reported as network errors.
func stripeFailure(err error) (msg, code string) {
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		msg = sErr.Msg
		if msg == "" {
			msg = err.Error()
		}
		return msg, string(sErr.Code)
	}
	return err.Error(), CodeNetworkError
}
