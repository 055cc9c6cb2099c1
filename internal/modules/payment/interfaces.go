package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"paygate/internal/domain"
	"paygate/internal/gateway"
	"paygate/internal/repository"
)

type paymentStore interface {
	Create(ctx context.Context, p *domain.Payment) error
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error)
	GetByGatewayTransactionID(ctx context.Context, gatewayTransactionID string) (*domain.Payment, error)
	MarkProcessing(ctx context.Context, transactionID, gatewayTransactionID, response string, actorID int64) error
	MarkCompleted(ctx context.Context, transactionID, captureID, response string, paidAt time.Time, actorID int64) (bool, error)
	MarkFailed(ctx context.Context, transactionID, reason, response string, failedAt time.Time, actorID int64) (bool, error)
	MarkRefunded(ctx context.Context, transactionID string, amount decimal.Decimal, reason, response string, refundedAt time.Time, actorID int64) (bool, error)
	MarkCancelled(ctx context.Context, transactionID string, actorID int64) (bool, error)
	List(ctx context.Context, f repository.PaymentFilters) ([]domain.Payment, int64, error)
	Stats(ctx context.Context, f repository.PaymentFilters) (*repository.PaymentStats, error)
}

type gatewayResolver interface {
	Resolve(name string) (gateway.Gateway, error)
	Available() []string
}
