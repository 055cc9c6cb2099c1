package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"paygate/internal/config"
	"paygate/internal/domain"
	"paygate/internal/gateway"
	"paygate/internal/repository"
)

// Service drives the payment lifecycle across whatever adapter the record's
// gateway resolves to. All state changes go through the store's guarded
// transition methods, so a racing webhook and a manual confirm cannot
// overwrite each other's terminal outcome.
type Service struct {
	payments paymentStore
	gateways gatewayResolver
	cfg      *config.PaymentConfig
	loggerf  func(format string, args ...interface{})
	now      func() time.Time
}

func NewService(payments paymentStore, gateways gatewayResolver, cfg *config.PaymentConfig, loggerf func(format string, args ...interface{})) *Service {
	if loggerf == nil {
		loggerf = func(string, ...interface{}) {}
	}
	return &Service{
		payments: payments,
		gateways: gateways,
		cfg:      cfg,
		loggerf:  loggerf,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Initiate validates the intent, records a pending payment and asks the
// adapter to open a provider-side intent. Adapter failures are durably
// recorded on the payment (status=failed) for audit; the record never stays
// pending once the adapter has answered.
func (s *Service) Initiate(ctx context.Context, actorID int64, req InitiatePaymentRequest) (*PaymentResult, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}
	if len(currency) != 3 {
		return nil, fmt.Errorf("%w: currency must be a 3-letter code", ErrValidation)
	}

	gatewayName := req.Gateway
	if gatewayName == "" {
		gatewayName = s.cfg.DefaultGateway
	}
	gw, err := s.gateways.Resolve(gatewayName)
	if err != nil {
		return nil, err
	}

	paymentType := req.PaymentType
	if paymentType == "" {
		paymentType = domain.PaymentTypeOneTime
	}

	userID := req.UserID
	if userID == 0 {
		userID = actorID
	}

	p := &domain.Payment{
		TransactionID: uuid.NewString(),
		UserID:        userID,
		Gateway:       gatewayName,
		Amount:        req.Amount,
		Currency:      currency,
		Status:        domain.PaymentPending,
		PaymentType:   paymentType,
		PayableType:   req.PayableType,
		PayableID:     req.PayableID,
		Description:   req.Description,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		IPAddress:     req.IPAddress,
		CreatedBy:     actorID,
	}
	if len(req.Metadata) > 0 {
		p.Metadata = rawJSON(req.Metadata)
	}

	if req.CustomerEmail != "" {
		cust := gw.CreateCustomer(ctx, gateway.CustomerData{
			Email: req.CustomerEmail,
			Name:  req.CustomerName,
			Phone: req.CustomerPhone,
		})
		if cust.Success && cust.CustomerID != "" {
			p.GatewayCustomerID = cust.CustomerID
		}
	}

	if err := s.payments.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create payment record: %w", err)
	}

	res := gw.CreatePaymentIntent(ctx, gateway.IntentRequest{
		TransactionID: p.TransactionID,
		Amount:        p.Amount,
		Currency:      currency,
		Description:   req.Description,
		CustomerID:    p.GatewayCustomerID,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
		Metadata:      req.Metadata,
	})
	raw := rawJSON(res)

	if !res.Success {
		s.loggerf("level=error msg=payment initiation failed transaction_id=%s gateway=%s err=%s code=%s",
			p.TransactionID, gatewayName, res.Error, res.Code)
		if _, err := s.payments.MarkFailed(ctx, p.TransactionID, res.Error, raw, s.now(), actorID); err != nil {
			return nil, fmt.Errorf("record failed initiation: %w", err)
		}
		p.Status = domain.PaymentFailed
		p.GatewayResponse = raw
		return &PaymentResult{Success: false, Payment: p, Error: res.Error}, nil
	}

	if err := s.payments.MarkProcessing(ctx, p.TransactionID, res.IntentID, raw, actorID); err != nil {
		return nil, fmt.Errorf("attach gateway intent: %w", err)
	}
	p.Status = domain.PaymentProcessing
	p.GatewayTransactionID = res.IntentID
	p.GatewayResponse = raw

	s.loggerf("level=info msg=payment initiated transaction_id=%s gateway=%s intent_id=%s",
		p.TransactionID, gatewayName, res.IntentID)
	return &PaymentResult{Success: true, Payment: p, GatewayResponse: res}, nil
}

// Confirm finalizes the provider-side intent and applies the matching
// terminal transition. Only pending/processing records can be confirmed;
// retrying a confirmed payment returns ErrInvalidState rather than issuing
// another capture (SSLCommerz validation is not free to repeat).
func (s *Service) Confirm(ctx context.Context, actorID int64, transactionID, gatewayPaymentID string) (*PaymentResult, error) {
	p, err := s.findByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.PaymentPending && p.Status != domain.PaymentProcessing {
		return nil, fmt.Errorf("%w: payment is %s, only pending or processing payments can be confirmed", ErrInvalidState, p.Status)
	}

	gw, err := s.gateways.Resolve(p.Gateway)
	if err != nil {
		return nil, err
	}

	providerID := gatewayPaymentID
	if providerID == "" {
		providerID = p.GatewayTransactionID
	}
	if providerID == "" {
		return nil, fmt.Errorf("%w: payment has no gateway transaction id", ErrValidation)
	}

	res := gw.ConfirmPayment(ctx, providerID)
	raw := rawJSON(res)

	if !res.Success {
		if _, err := s.payments.MarkFailed(ctx, p.TransactionID, res.Error, raw, s.now(), actorID); err != nil &&
			!errors.Is(err, domain.ErrInvalidTransition) {
			return nil, fmt.Errorf("record failed confirmation: %w", err)
		}
		fresh, _ := s.payments.GetByTransactionID(ctx, p.TransactionID)
		if fresh == nil {
			fresh = p
		}
		return &PaymentResult{Success: false, Payment: fresh, Error: orMessage(res.Error, "Payment confirmation failed")}, nil
	}

	// cross-check the provider-reported amount when one is present
	if !res.Amount.IsZero() && !res.Amount.Equal(p.Amount) {
		s.loggerf("level=error msg=confirmation amount mismatch transaction_id=%s expected=%s got=%s",
			p.TransactionID, p.Amount.String(), res.Amount.String())
		if _, err := s.payments.MarkFailed(ctx, p.TransactionID, "amount mismatch on confirmation", raw, s.now(), actorID); err != nil &&
			!errors.Is(err, domain.ErrInvalidTransition) {
			return nil, fmt.Errorf("record failed confirmation: %w", err)
		}
		fresh, _ := s.payments.GetByTransactionID(ctx, p.TransactionID)
		if fresh == nil {
			fresh = p
		}
		return &PaymentResult{Success: false, Payment: fresh, Error: "Confirmed amount does not match payment amount"}, nil
	}

	if _, err := s.payments.MarkCompleted(ctx, p.TransactionID, res.CaptureID, raw, s.now(), actorID); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: payment is no longer confirmable", ErrInvalidState)
		}
		return nil, fmt.Errorf("record completed payment: %w", err)
	}

	fresh, err := s.findByTransactionID(ctx, p.TransactionID)
	if err != nil {
		return nil, err
	}
	s.loggerf("level=info msg=payment confirmed transaction_id=%s gateway=%s", p.TransactionID, p.Gateway)
	return &PaymentResult{Success: true, Payment: fresh, Message: "Payment confirmed successfully", GatewayResponse: res}, nil
}

// Refund refunds a completed payment, fully when amount is nil. The adapter
// is never called for records in any other state.
func (s *Service) Refund(ctx context.Context, actorID int64, transactionID string, amount *decimal.Decimal, reason string) (*PaymentResult, error) {
	p, err := s.findByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !p.IsCompleted() {
		return nil, fmt.Errorf("%w: only completed payments can be refunded", ErrInvalidState)
	}
	if amount != nil {
		if !amount.IsPositive() {
			return nil, fmt.Errorf("%w: refund amount must be greater than zero", ErrValidation)
		}
		if amount.GreaterThan(p.Amount) {
			return nil, fmt.Errorf("%w: refund amount exceeds original amount", ErrValidation)
		}
	}

	gw, err := s.gateways.Resolve(p.Gateway)
	if err != nil {
		return nil, err
	}

	// PayPal and SSLCommerz refund against the capture (bank) transaction,
	// not the order/intent the record was initiated with.
	refundTarget := p.GatewayTransactionID
	if p.GatewayCaptureID != "" {
		refundTarget = p.GatewayCaptureID
	}
	res := gw.RefundPayment(ctx, refundTarget, amount)
	if !res.Success {
		return &PaymentResult{Success: false, Payment: p, Error: orMessage(res.Error, "Refund failed")}, nil
	}

	refundAmount := p.Amount
	if amount != nil {
		refundAmount = *amount
	}
	if _, err := s.payments.MarkRefunded(ctx, p.TransactionID, refundAmount, reason, rawJSON(res), s.now(), actorID); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: payment is no longer refundable", ErrInvalidState)
		}
		return nil, fmt.Errorf("record refund: %w", err)
	}

	fresh, err := s.findByTransactionID(ctx, p.TransactionID)
	if err != nil {
		return nil, err
	}
	s.loggerf("level=info msg=payment refunded transaction_id=%s amount=%s", p.TransactionID, refundAmount.String())
	return &PaymentResult{Success: true, Payment: fresh, GatewayResponse: res}, nil
}

// Cancel aborts a payment that has not reached a terminal state. No provider
// call is made; cancellation is the caller's explicit decision.
func (s *Service) Cancel(ctx context.Context, actorID int64, transactionID string) (*PaymentResult, error) {
	p, err := s.findByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.PaymentPending && p.Status != domain.PaymentProcessing {
		return nil, fmt.Errorf("%w: payment is %s, only pending or processing payments can be cancelled", ErrInvalidState, p.Status)
	}

	if _, err := s.payments.MarkCancelled(ctx, p.TransactionID, actorID); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: payment is no longer cancellable", ErrInvalidState)
		}
		return nil, fmt.Errorf("record cancellation: %w", err)
	}

	fresh, err := s.findByTransactionID(ctx, p.TransactionID)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Success: true, Payment: fresh}, nil
}

// GetDetails joins the local record with a best-effort live provider query.
// The local record is always returned, with a warning when the provider
// cannot be reached.
func (s *Service) GetDetails(ctx context.Context, transactionID string) (*PaymentResult, error) {
	p, err := s.findByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	result := &PaymentResult{Success: true, Payment: p}

	gw, err := s.gateways.Resolve(p.Gateway)
	if err != nil || p.GatewayTransactionID == "" {
		result.Warning = "Could not fetch gateway details"
		return result, nil
	}

	details := gw.GetPaymentDetails(ctx, p.GatewayTransactionID)
	if !details.Success {
		s.loggerf("level=warn msg=gateway details unavailable transaction_id=%s gateway=%s err=%s",
			p.TransactionID, p.Gateway, details.Error)
		result.Warning = "Could not fetch gateway details"
		return result, nil
	}

	result.GatewayResponse = details
	return result, nil
}

// HandleWebhook verifies, normalizes and applies one provider notification.
// Duplicate deliveries and webhooks for unknown transactions are logged and
// ignored; they never produce an error response to the provider.
func (s *Service) HandleWebhook(ctx context.Context, gatewayName string, payload []byte, signature string) (*gateway.WebhookEvent, error) {
	gw, err := s.gateways.Resolve(gatewayName)
	if err != nil {
		return nil, err
	}

	if !gw.ValidateWebhookSignature(payload, signature) {
		s.loggerf("level=error msg=webhook signature rejected gateway=%s", gatewayName)
		return nil, ErrInvalidSignature
	}

	evt := gw.HandleWebhook(payload)
	if !evt.Handled || evt.ProviderTransactionID == "" {
		s.loggerf("level=info msg=unhandled webhook event gateway=%s event=%s", gatewayName, evt.Event)
		return &evt, nil
	}

	p, err := s.payments.GetByGatewayTransactionID(ctx, evt.ProviderTransactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.loggerf("level=info msg=webhook for unknown transaction gateway=%s provider_id=%s event=%s",
				gatewayName, evt.ProviderTransactionID, evt.Event)
			return &evt, nil
		}
		return nil, err
	}

	switch evt.Status {
	case gateway.StatusCompleted:
		changed, err := s.payments.MarkCompleted(ctx, p.TransactionID, evt.CaptureID, rawJSON(evt), s.now(), 0)
		if err := s.ignoreLateTransition(err, gatewayName, p.TransactionID, evt.Event); err != nil {
			return nil, err
		}
		if !changed {
			s.loggerf("level=info msg=duplicate webhook ignored transaction_id=%s event=%s", p.TransactionID, evt.Event)
		}
	case gateway.StatusFailed:
		if _, err := s.payments.MarkFailed(ctx, p.TransactionID, evt.Error, rawJSON(evt), s.now(), 0); err != nil {
			if err := s.ignoreLateTransition(err, gatewayName, p.TransactionID, evt.Event); err != nil {
				return nil, err
			}
		}
	case gateway.StatusRefunded:
		amount := evt.Amount
		if amount.IsZero() {
			amount = p.Amount
		}
		if _, err := s.payments.MarkRefunded(ctx, p.TransactionID, amount, "", rawJSON(evt), s.now(), 0); err != nil {
			if err := s.ignoreLateTransition(err, gatewayName, p.TransactionID, evt.Event); err != nil {
				return nil, err
			}
		}
	default:
		s.loggerf("level=info msg=webhook status ignored gateway=%s status=%s event=%s", gatewayName, evt.Status, evt.Event)
	}

	return &evt, nil
}

// ListByUser returns the caller's payments, newest first.
func (s *Service) ListByUser(ctx context.Context, userID int64, req ListPaymentsRequest) (*PaymentPage, error) {
	filters, err := s.buildFilters(req)
	if err != nil {
		return nil, err
	}
	filters.UserID = userID

	payments, total, err := s.payments.List(ctx, filters)
	if err != nil {
		return nil, err
	}
	return &PaymentPage{
		Payments: payments,
		Total:    total,
		Page:     filters.Page,
		PerPage:  filters.PerPage,
	}, nil
}

// Stats aggregates counts and sums by status and gateway.
func (s *Service) Stats(ctx context.Context, req ListPaymentsRequest) (*repository.PaymentStats, error) {
	filters, err := s.buildFilters(req)
	if err != nil {
		return nil, err
	}
	return s.payments.Stats(ctx, filters)
}

func (s *Service) AvailableGateways() []string {
	return s.gateways.Available()
}

// CreateCheckoutSession is a Stripe-only hosted checkout flow.
func (s *Service) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*gateway.CheckoutResult, error) {
	gw, err := s.gateways.Resolve(domain.GatewayStripe)
	if err != nil {
		return nil, err
	}
	stripeGw, ok := gw.(*gateway.Stripe)
	if !ok {
		return nil, fmt.Errorf("%w: checkout sessions require the stripe gateway", ErrValidation)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	}

	res := stripeGw.CreateCheckoutSession(ctx, gateway.CheckoutRequest{
		Amount:      req.Amount,
		Currency:    req.Currency,
		ProductName: req.ProductName,
		Description: req.Description,
		SuccessURL:  req.SuccessURL,
		CancelURL:   req.CancelURL,
		Metadata:    req.Metadata,
	})
	return &res, nil
}

func (s *Service) findByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	p, err := s.payments.GetByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, transactionID)
		}
		return nil, err
	}
	return p, nil
}

func (s *Service) buildFilters(req ListPaymentsRequest) (repository.PaymentFilters, error) {
	filters := repository.PaymentFilters{
		Status:  req.Status,
		Gateway: req.Gateway,
		Search:  req.Search,
		Page:    req.Page,
		PerPage: req.PerPage,
	}
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.PerPage < 1 {
		filters.PerPage = 15
	}
	if filters.PerPage > 100 {
		filters.PerPage = 100
	}

	if req.FromDate != "" {
		t, err := time.Parse("2006-01-02", req.FromDate)
		if err != nil {
			return filters, fmt.Errorf("%w: invalid from_date", ErrValidation)
		}
		filters.FromDate = &t
	}
	if req.ToDate != "" {
		t, err := time.Parse("2006-01-02", req.ToDate)
		if err != nil {
			return filters, fmt.Errorf("%w: invalid to_date", ErrValidation)
		}
		end := t.Add(24*time.Hour - time.Nanosecond)
		filters.ToDate = &end
	}
	return filters, nil
}

// ignoreLateTransition swallows transition conflicts from out-of-order
// provider notifications; anything else is a real storage fault.
func (s *Service) ignoreLateTransition(err error, gatewayName, transactionID, event string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrInvalidTransition) {
		s.loggerf("level=info msg=late webhook transition ignored gateway=%s transaction_id=%s event=%s",
			gatewayName, transactionID, event)
		return nil
	}
	return err
}

func rawJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func orMessage(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}
