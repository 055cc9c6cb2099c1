package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"paygate/internal/config"
	"paygate/internal/domain"
	"paygate/internal/gateway"
	"paygate/internal/repository"
)

// fakeStore is an in-memory paymentStore with the same transition guards as
// the real repository.
type fakeStore struct {
	payments map[string]*domain.Payment

	createErr       error
	markFailedCalls int
	completedCalls  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{payments: make(map[string]*domain.Payment)}
}

func (s *fakeStore) Create(ctx context.Context, p *domain.Payment) error {
	if s.createErr != nil {
		return s.createErr
	}
	p.ID = int64(len(s.payments) + 1)
	cp := *p
	s.payments[p.TransactionID] = &cp
	return nil
}

func (s *fakeStore) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	p, ok := s.payments[transactionID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) GetByGatewayTransactionID(ctx context.Context, gatewayTransactionID string) (*domain.Payment, error) {
	for _, p := range s.payments {
		if p.GatewayTransactionID == gatewayTransactionID || p.GatewayCaptureID == gatewayTransactionID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeStore) MarkProcessing(ctx context.Context, transactionID, gatewayTransactionID, response string, actorID int64) error {
	p, ok := s.payments[transactionID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if !p.Status.CanTransitionTo(domain.PaymentProcessing) {
		return domain.ErrInvalidTransition
	}
	p.Status = domain.PaymentProcessing
	p.GatewayTransactionID = gatewayTransactionID
	p.GatewayResponse = response
	p.ModifiedBy = actorID
	return nil
}

func (s *fakeStore) MarkCompleted(ctx context.Context, transactionID, captureID, response string, paidAt time.Time, actorID int64) (bool, error) {
	s.completedCalls++
	p, ok := s.payments[transactionID]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	if p.Status == domain.PaymentCompleted {
		return false, nil
	}
	if !p.Status.CanTransitionTo(domain.PaymentCompleted) {
		return false, domain.ErrInvalidTransition
	}
	p.Status = domain.PaymentCompleted
	if captureID != "" {
		p.GatewayCaptureID = captureID
	}
	p.PaidAt = &paidAt
	p.NetAmount = p.CalculateNetAmount()
	p.ModifiedBy = actorID
	return true, nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, transactionID, reason, response string, failedAt time.Time, actorID int64) (bool, error) {
	s.markFailedCalls++
	p, ok := s.payments[transactionID]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	if p.Status == domain.PaymentFailed {
		return false, nil
	}
	if !p.Status.CanTransitionTo(domain.PaymentFailed) {
		return false, domain.ErrInvalidTransition
	}
	p.Status = domain.PaymentFailed
	p.FailedAt = &failedAt
	if reason != "" {
		p.Description = reason
	}
	return true, nil
}

func (s *fakeStore) MarkRefunded(ctx context.Context, transactionID string, amount decimal.Decimal, reason, response string, refundedAt time.Time, actorID int64) (bool, error) {
	p, ok := s.payments[transactionID]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	if p.Status == domain.PaymentRefunded {
		return false, nil
	}
	if !p.Status.CanTransitionTo(domain.PaymentRefunded) {
		return false, domain.ErrInvalidTransition
	}
	p.Status = domain.PaymentRefunded
	p.RefundAmount = decimal.NewNullDecimal(amount)
	p.RefundReason = reason
	p.RefundedAt = &refundedAt
	return true, nil
}

func (s *fakeStore) MarkCancelled(ctx context.Context, transactionID string, actorID int64) (bool, error) {
	p, ok := s.payments[transactionID]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	if p.Status == domain.PaymentCancelled {
		return false, nil
	}
	if !p.Status.CanTransitionTo(domain.PaymentCancelled) {
		return false, domain.ErrInvalidTransition
	}
	p.Status = domain.PaymentCancelled
	return true, nil
}

func (s *fakeStore) List(ctx context.Context, f repository.PaymentFilters) ([]domain.Payment, int64, error) {
	var out []domain.Payment
	for _, p := range s.payments {
		if f.UserID != 0 && p.UserID != f.UserID {
			continue
		}
		out = append(out, *p)
	}
	return out, int64(len(out)), nil
}

func (s *fakeStore) Stats(ctx context.Context, f repository.PaymentFilters) (*repository.PaymentStats, error) {
	return &repository.PaymentStats{TotalPayments: int64(len(s.payments))}, nil
}

// fakeGateway is a scriptable adapter.
type fakeGateway struct {
	name string

	intentResult   gateway.IntentResult
	confirmResult  gateway.ConfirmResult
	refundResult   gateway.RefundResult
	detailsResult  gateway.DetailsResult
	customerResult gateway.CustomerResult
	webhookEvent   gateway.WebhookEvent
	signatureOK    bool

	confirmCalls int
	refundCalls  int
	lastRefundID string
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) CreatePaymentIntent(ctx context.Context, req gateway.IntentRequest) gateway.IntentResult {
	return g.intentResult
}

func (g *fakeGateway) ConfirmPayment(ctx context.Context, providerID string) gateway.ConfirmResult {
	g.confirmCalls++
	return g.confirmResult
}

func (g *fakeGateway) RefundPayment(ctx context.Context, providerID string, amount *decimal.Decimal) gateway.RefundResult {
	g.refundCalls++
	g.lastRefundID = providerID
	return g.refundResult
}

func (g *fakeGateway) GetPaymentDetails(ctx context.Context, providerID string) gateway.DetailsResult {
	return g.detailsResult
}

func (g *fakeGateway) CreateCustomer(ctx context.Context, data gateway.CustomerData) gateway.CustomerResult {
	return g.customerResult
}

func (g *fakeGateway) HandleWebhook(payload []byte) gateway.WebhookEvent {
	return g.webhookEvent
}

func (g *fakeGateway) ValidateWebhookSignature(payload []byte, signature string) bool {
	return g.signatureOK
}

func testService(t *testing.T, gw *fakeGateway) (*Service, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	registry := gateway.NewRegistry()
	if gw != nil {
		registry.Register(gw.name, func() gateway.Gateway { return gw })
	}
	cfg := &config.PaymentConfig{DefaultGateway: domain.GatewayStripe, DefaultCurrency: "USD"}
	return NewService(store, registry, cfg, nil), store
}

func seedPayment(store *fakeStore, status domain.PaymentStatus) *domain.Payment {
	p := &domain.Payment{
		TransactionID:        "txn-1",
		UserID:               7,
		Gateway:              domain.GatewayStripe,
		GatewayTransactionID: "pi_123",
		Amount:               decimal.NewFromInt(25),
		Currency:             "USD",
		Status:               status,
	}
	store.payments[p.TransactionID] = p
	return p
}

func TestService_Initiate_Success(t *testing.T) {
	gw := &fakeGateway{
		name:         domain.GatewayStripe,
		intentResult: gateway.IntentResult{Success: true, IntentID: "pi_123", ClientSecret: "secret"},
	}
	svc, store := testService(t, gw)

	res, err := svc.Initiate(context.Background(), 7, InitiatePaymentRequest{
		Gateway: domain.GatewayStripe,
		Amount:  decimal.NewFromInt(25),
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.PaymentProcessing, res.Payment.Status)
	assert.Equal(t, "pi_123", res.Payment.GatewayTransactionID)

	stored := store.payments[res.Payment.TransactionID]
	require.NotNil(t, stored)
	assert.Equal(t, domain.PaymentProcessing, stored.Status)
	assert.Equal(t, "USD", stored.Currency)
	assert.Equal(t, int64(7), stored.UserID)
}

func TestService_Initiate_UnknownGatewayCreatesNoRecord(t *testing.T) {
	svc, store := testService(t, nil)

	_, err := svc.Initiate(context.Background(), 7, InitiatePaymentRequest{
		Gateway: "bitcoin",
		Amount:  decimal.NewFromInt(25),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrUnsupportedGateway)
	assert.Empty(t, store.payments)
}

func TestService_Initiate_InvalidAmount(t *testing.T) {
	gw := &fakeGateway{name: domain.GatewayStripe}
	svc, store := testService(t, gw)

	_, err := svc.Initiate(context.Background(), 7, InitiatePaymentRequest{
		Gateway: domain.GatewayStripe,
		Amount:  decimal.Zero,
	})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, store.payments)
}

func TestService_Initiate_AdapterFailureRecordsFailedPayment(t *testing.T) {
	gw := &fakeGateway{
		name: domain.GatewayStripe,
		intentResult: gateway.IntentResult{
			Error: "Stripe gateway is not configured. Please set STRIPE_SECRET_KEY environment variable.",
			Code:  gateway.CodeNotConfigured,
		},
	}
	svc, store := testService(t, gw)

	res, err := svc.Initiate(context.Background(), 7, InitiatePaymentRequest{
		Gateway: domain.GatewayStripe,
		Amount:  decimal.NewFromInt(25),
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not configured")

	stored := store.payments[res.Payment.TransactionID]
	require.NotNil(t, stored)
	assert.Equal(t, domain.PaymentFailed, stored.Status)
}

func TestService_Confirm_Success(t *testing.T) {
	gw := &fakeGateway{
		name:          domain.GatewayStripe,
		confirmResult: gateway.ConfirmResult{Success: true, IntentID: "pi_123", Status: "succeeded"},
	}
	svc, store := testService(t, gw)
	seedPayment(store, domain.PaymentProcessing)

	res, err := svc.Confirm(context.Background(), 7, "txn-1", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.PaymentCompleted, res.Payment.Status)
	assert.NotNil(t, res.Payment.PaidAt)
	assert.True(t, res.Payment.NetAmount.Equal(decimal.NewFromInt(25)))
}

func TestService_Confirm_AlreadyCompleted(t *testing.T) {
	gw := &fakeGateway{
		name:          domain.GatewayStripe,
		confirmResult: gateway.ConfirmResult{Success: true},
	}
	svc, store := testService(t, gw)
	seedPayment(store, domain.PaymentCompleted)

	_, err := svc.Confirm(context.Background(), 7, "txn-1", "")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Zero(t, gw.confirmCalls)
}

func TestService_Confirm_AmountMismatchFailsPayment(t *testing.T) {
	gw := &fakeGateway{
		name: domain.GatewayStripe,
		confirmResult: gateway.ConfirmResult{
			Success: true,
			Status:  "succeeded",
			Amount:  decimal.NewFromInt(10),
		},
	}
	svc, store := testService(t, gw)
	seedPayment(store, domain.PaymentProcessing)

	res, err := svc.Confirm(context.Background(), 7, "txn-1", "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "does not match")
	assert.Equal(t, domain.PaymentFailed, store.payments["txn-1"].Status)
}

func TestService_Confirm_UnknownTransaction(t *testing.T) {
	gw := &fakeGateway{name: domain.GatewayStripe}
	svc, _ := testService(t, gw)

	_, err := svc.Confirm(context.Background(), 7, "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_Confirm_ProviderDecline(t *testing.T) {
	gw := &fakeGateway{
		name:          domain.GatewayStripe,
		confirmResult: gateway.ConfirmResult{Error: "card declined", Code: "card_declined"},
	}
	svc, store := testService(t, gw)
	seedPayment(store, domain.PaymentProcessing)

	res, err := svc.Confirm(context.Background(), 7, "txn-1", "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "card declined", res.Error)
	assert.Equal(t, domain.PaymentFailed, store.payments["txn-1"].Status)
}

func TestService_Refund_NonCompletedNeverReachesAdapter(t *testing.T) {
	for _, status := range []domain.PaymentStatus{
		domain.PaymentPending,
		domain.PaymentProcessing,
		domain.PaymentFailed,
		domain.PaymentCancelled,
		domain.PaymentRefunded,
	} {
		gw := &fakeGateway{name: domain.GatewayStripe, refundResult: gateway.RefundResult{Success: true}}
		svc, store := testService(t, gw)
		seedPayment(store, status)

		_, err := svc.Refund(context.Background(), 7, "txn-1", nil, "")
		assert.ErrorIs(t, err, ErrInvalidState, "status %s", status)
		assert.Zero(t, gw.refundCalls, "status %s", status)
	}
}

func TestService_Refund_Full(t *testing.T) {
	gw := &fakeGateway{
		name:         domain.GatewayStripe,
		refundResult: gateway.RefundResult{Success: true, RefundID: "re_1"},
	}
	svc, store := testService(t, gw)
	seedPayment(store, domain.PaymentCompleted)

	res, err := svc.Refund(context.Background(), 7, "txn-1", nil, "customer request")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.PaymentRefunded, res.Payment.Status)
	require.True(t, res.Payment.RefundAmount.Valid)
	assert.True(t, res.Payment.RefundAmount.Decimal.Equal(decimal.NewFromInt(25)))
}

func TestService_Refund_Partial(t *testing.T) {
	gw := &fakeGateway{
		name:         domain.GatewayStripe,
		refundResult: gateway.RefundResult{Success: true, RefundID: "re_2"},
	}
	svc, store := testService(t, gw)
	seedPayment(store, domain.PaymentCompleted)

	amount := decimal.NewFromInt(10)
	res, err := svc.Refund(context.Background(), 7, "txn-1", &amount, "")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentRefunded, res.Payment.Status)
	assert.True(t, res.Payment.RefundAmount.Decimal.Equal(decimal.NewFromInt(10)))
}

func TestService_Refund_UsesCaptureID(t *testing.T) {
	gw := &fakeGateway{
		name:         domain.GatewayPayPal,
		refundResult: gateway.RefundResult{Success: true, RefundID: "ref-1"},
	}
	svc, store := testService(t, gw)
	p := seedPayment(store, domain.PaymentCompleted)
	p.Gateway = domain.GatewayPayPal
	p.GatewayTransactionID = "ORDER-1"
	p.GatewayCaptureID = "CAP-1"

	_, err := svc.Refund(context.Background(), 7, "txn-1", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "CAP-1", gw.lastRefundID)
}

func TestService_Refund_AmountExceedsOriginal(t *testing.T) {
	gw := &fakeGateway{name: domain.GatewayStripe}
	svc, store := testService(t, gw)
	seedPayment(store, domain.PaymentCompleted)

	amount := decimal.NewFromInt(26)
	_, err := svc.Refund(context.Background(), 7, "txn-1", &amount, "")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, gw.refundCalls)
}

func TestService_Cancel(t *testing.T) {
	gw := &fakeGateway{name: domain.GatewayStripe}
	svc, store := testService(t, gw)
	seedPayment(store, domain.PaymentPending)

	res, err := svc.Cancel(context.Background(), 7, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCancelled, res.Payment.Status)

	_, err = svc.Cancel(context.Background(), 7, "txn-1")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestService_GetDetails_ProviderDown(t *testing.T) {
	gw := &fakeGateway{
		name:          domain.GatewayStripe,
		detailsResult: gateway.DetailsResult{Error: "timeout", Code: gateway.CodeNetworkError},
	}
	svc, store := testService(t, gw)
	seedPayment(store, domain.PaymentCompleted)

	res, err := svc.GetDetails(context.Background(), "txn-1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Could not fetch gateway details", res.Warning)
	assert.NotNil(t, res.Payment)
}

func TestService_HandleWebhook_InvalidSignature(t *testing.T) {
	gw := &fakeGateway{name: domain.GatewayStripe, signatureOK: false}
	svc, _ := testService(t, gw)

	_, err := svc.HandleWebhook(context.Background(), domain.GatewayStripe, []byte(`{}`), "bad")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestService_HandleWebhook_CompletesPayment(t *testing.T) {
	gw := &fakeGateway{
		name:        domain.GatewayStripe,
		signatureOK: true,
		webhookEvent: gateway.WebhookEvent{
			Event:                 "payment_completed",
			Status:                gateway.StatusCompleted,
			ProviderTransactionID: "pi_123",
			Handled:               true,
		},
	}
	svc, store := testService(t, gw)
	seedPayment(store, domain.PaymentProcessing)

	evt, err := svc.HandleWebhook(context.Background(), domain.GatewayStripe, []byte(`{}`), "sig")
	require.NoError(t, err)
	assert.True(t, evt.Handled)
	assert.Equal(t, domain.PaymentCompleted, store.payments["txn-1"].Status)
}

func TestService_HandleWebhook_MatchesByCaptureID(t *testing.T) {
	gw := &fakeGateway{
		name:          domain.GatewayPayPal,
		confirmResult: gateway.ConfirmResult{Success: true, IntentID: "ORDER-1", CaptureID: "CAP-1", Status: "COMPLETED"},
		signatureOK:   true,
		webhookEvent: gateway.WebhookEvent{
			Status:                gateway.StatusRefunded,
			ProviderTransactionID: "CAP-1",
			Handled:               true,
		},
	}
	svc, store := testService(t, gw)
	p := seedPayment(store, domain.PaymentProcessing)
	p.Gateway = domain.GatewayPayPal
	p.GatewayTransactionID = "ORDER-1"

	_, err := svc.Confirm(context.Background(), 7, "txn-1", "")
	require.NoError(t, err)
	assert.Equal(t, "CAP-1", store.payments["txn-1"].GatewayCaptureID)

	// a capture-addressed notification still finds the record
	_, err = svc.HandleWebhook(context.Background(), domain.GatewayPayPal, []byte(`{}`), "sig")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentRefunded, store.payments["txn-1"].Status)
}

func TestService_HandleWebhook_DuplicateIsIdempotent(t *testing.T) {
	gw := &fakeGateway{
		name:        domain.GatewayStripe,
		signatureOK: true,
		webhookEvent: gateway.WebhookEvent{
			Status:                gateway.StatusCompleted,
			ProviderTransactionID: "pi_123",
			Handled:               true,
		},
	}
	svc, store := testService(t, gw)
	seedPayment(store, domain.PaymentProcessing)

	_, err := svc.HandleWebhook(context.Background(), domain.GatewayStripe, []byte(`{}`), "sig")
	require.NoError(t, err)
	paidAt := store.payments["txn-1"].PaidAt
	require.NotNil(t, paidAt)

	_, err = svc.HandleWebhook(context.Background(), domain.GatewayStripe, []byte(`{}`), "sig")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, store.payments["txn-1"].Status)
	assert.Equal(t, paidAt, store.payments["txn-1"].PaidAt)
	assert.Equal(t, 2, store.completedCalls)
}

func TestService_HandleWebhook_UnknownTransaction(t *testing.T) {
	gw := &fakeGateway{
		name:        domain.GatewayStripe,
		signatureOK: true,
		webhookEvent: gateway.WebhookEvent{
			Status:                gateway.StatusCompleted,
			ProviderTransactionID: "pi_unknown",
			Handled:               true,
		},
	}
	svc, _ := testService(t, gw)

	evt, err := svc.HandleWebhook(context.Background(), domain.GatewayStripe, []byte(`{}`), "sig")
	require.NoError(t, err)
	assert.True(t, evt.Handled)
}

func TestService_HandleWebhook_LateFailureAfterCompletionIgnored(t *testing.T) {
	gw := &fakeGateway{
		name:        domain.GatewayStripe,
		signatureOK: true,
		webhookEvent: gateway.WebhookEvent{
			Status:                gateway.StatusFailed,
			ProviderTransactionID: "pi_123",
			Error:                 "expired card",
			Handled:               true,
		},
	}
	svc, store := testService(t, gw)
	seedPayment(store, domain.PaymentCompleted)

	_, err := svc.HandleWebhook(context.Background(), domain.GatewayStripe, []byte(`{}`), "sig")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, store.payments["txn-1"].Status)
}

func TestService_ListByUser_ScopesToCaller(t *testing.T) {
	gw := &fakeGateway{name: domain.GatewayStripe}
	svc, store := testService(t, gw)
	seedPayment(store, domain.PaymentCompleted)
	store.payments["txn-2"] = &domain.Payment{TransactionID: "txn-2", UserID: 99, Status: domain.PaymentPending}

	page, err := svc.ListByUser(context.Background(), 7, ListPaymentsRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 15, page.PerPage)
}

func TestService_BuildFilters_RejectsBadDates(t *testing.T) {
	gw := &fakeGateway{name: domain.GatewayStripe}
	svc, _ := testService(t, gw)

	_, err := svc.ListByUser(context.Background(), 7, ListPaymentsRequest{FromDate: "01-02-2026"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestService_Initiate_CreateFailure(t *testing.T) {
	gw := &fakeGateway{
		name:         domain.GatewayStripe,
		intentResult: gateway.IntentResult{Success: true, IntentID: "pi_1"},
	}
	svc, store := testService(t, gw)
	store.createErr = errors.New("db down")

	_, err := svc.Initiate(context.Background(), 7, InitiatePaymentRequest{
		Gateway: domain.GatewayStripe,
		Amount:  decimal.NewFromInt(25),
	})
	require.Error(t, err)
}
