package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway is the uniform capability contract wrapping one external payment
// provider. Provider errors are converted to structured failure results inside
// each adapter; they never propagate as Go errors across this boundary.
//
// The adapters are contract-compatible, not semantically identical: Stripe's
// ConfirmPayment is safe to retry, SSLCommerz's performs a fresh server-side
// validation call against the provider each time.
type Gateway interface {
	Name() string

	// CreatePaymentIntent begins a charge/order with the provider. One
	// outbound network call, plus an implicit OAuth token fetch for PayPal
	// when no cached token exists.
	CreatePaymentIntent(ctx context.Context, req IntentRequest) IntentResult

	// ConfirmPayment finalizes/captures a previously created intent.
	ConfirmPayment(ctx context.Context, providerID string) ConfirmResult

	// RefundPayment issues a full refund when amount is nil, partial
	// otherwise.
	RefundPayment(ctx context.Context, providerID string, amount *decimal.Decimal) RefundResult

	// GetPaymentDetails is a read-only status query, safe to poll.
	GetPaymentDetails(ctx context.Context, providerID string) DetailsResult

	// CreateCustomer registers a customer with the provider. Providers
	// without a customer concept return success with an empty id.
	CreateCustomer(ctx context.Context, data CustomerData) CustomerResult

	// HandleWebhook maps a provider event payload to the normalized shape.
	// Unknown event types return Handled=false and never raise.
	HandleWebhook(payload []byte) WebhookEvent

	// ValidateWebhookSignature verifies payload authenticity before the
	// caller trusts the event.
	ValidateWebhookSignature(payload []byte, signature string) bool
}
