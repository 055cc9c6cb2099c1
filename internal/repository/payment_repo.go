package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"paygate/internal/domain"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

type PaymentFilters struct {
	UserID         int64
	Status         string
	Gateway        string
	Search         string
	FromDate       *time.Time
	ToDate         *time.Time
	Page           int
	PerPage        int
	IncludeDeleted bool
}

type GatewayStat struct {
	Gateway string          `json:"gateway"`
	Count   int64           `json:"count"`
	Total   decimal.Decimal `json:"total"`
}

type PaymentStats struct {
	TotalPayments     int64           `json:"total_payments"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	CompletedPayments int64           `json:"completed_payments"`
	CompletedAmount   decimal.Decimal `json:"completed_amount"`
	PendingPayments   int64           `json:"pending_payments"`
	FailedPayments    int64           `json:"failed_payments"`
	RefundedPayments  int64           `json:"refunded_payments"`
	ByGateway         []GatewayStat   `json:"by_gateway"`
}

func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PaymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	var p domain.Payment
	if err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByGatewayTransactionID matches the provider-side id against both the
// intent/order id and the capture id: PayPal capture webhooks carry the
// capture id, not the order id the record was created with.
func (r *PaymentRepository) GetByGatewayTransactionID(ctx context.Context, gatewayTransactionID string) (*domain.Payment, error) {
	var p domain.Payment
	err := r.db.WithContext(ctx).
		Where("gateway_transaction_id = ? OR gateway_capture_id = ?", gatewayTransactionID, gatewayTransactionID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkProcessing attaches the provider intent id after a successful
// createPaymentIntent call. Only legal from pending.
func (r *PaymentRepository) MarkProcessing(ctx context.Context, transactionID, gatewayTransactionID, response string, actorID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := lockPayment(tx, transactionID)
		if err != nil {
			return err
		}
		if !p.Status.CanTransitionTo(domain.PaymentProcessing) {
			return domain.ErrInvalidTransition
		}
		return tx.Model(&domain.Payment{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
			"status":                 domain.PaymentProcessing,
			"gateway_transaction_id": gatewayTransactionID,
			"gateway_response":       response,
			"modified_by":            actorID,
		}).Error
	})
}

// MarkCompleted applies the completed transition exactly once. A second call
// for an already-completed payment is a no-op returning changed=false, so
// duplicate webhook deliveries never re-stamp paid_at. net_amount is
// recomputed from amount and gateway_fee inside the same locked transaction.
// captureID, when the provider reports one, is stored for later refund and
// webhook matching.
func (r *PaymentRepository) MarkCompleted(ctx context.Context, transactionID, captureID, response string, paidAt time.Time, actorID int64) (bool, error) {
	var changed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := lockPayment(tx, transactionID)
		if err != nil {
			return err
		}
		if p.Status == domain.PaymentCompleted {
			return nil
		}
		if !p.Status.CanTransitionTo(domain.PaymentCompleted) {
			return domain.ErrInvalidTransition
		}
		updates := map[string]interface{}{
			"status":      domain.PaymentCompleted,
			"paid_at":     paidAt,
			"net_amount":  p.CalculateNetAmount(),
			"modified_by": actorID,
		}
		if captureID != "" {
			updates["gateway_capture_id"] = captureID
		}
		if response != "" {
			updates["gateway_response"] = response
		}
		if err := tx.Model(&domain.Payment{}).Where("id = ?", p.ID).Updates(updates).Error; err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

func (r *PaymentRepository) MarkFailed(ctx context.Context, transactionID, reason, response string, failedAt time.Time, actorID int64) (bool, error) {
	var changed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := lockPayment(tx, transactionID)
		if err != nil {
			return err
		}
		if p.Status == domain.PaymentFailed {
			return nil
		}
		if !p.Status.CanTransitionTo(domain.PaymentFailed) {
			return domain.ErrInvalidTransition
		}
		updates := map[string]interface{}{
			"status":      domain.PaymentFailed,
			"failed_at":   failedAt,
			"modified_by": actorID,
		}
		if reason != "" {
			updates["description"] = reason
		}
		if response != "" {
			updates["gateway_response"] = response
		}
		if err := tx.Model(&domain.Payment{}).Where("id = ?", p.ID).Updates(updates).Error; err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

func (r *PaymentRepository) MarkRefunded(ctx context.Context, transactionID string, amount decimal.Decimal, reason, response string, refundedAt time.Time, actorID int64) (bool, error) {
	var changed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := lockPayment(tx, transactionID)
		if err != nil {
			return err
		}
		if p.Status == domain.PaymentRefunded {
			return nil
		}
		if !p.Status.CanTransitionTo(domain.PaymentRefunded) {
			return domain.ErrInvalidTransition
		}
		updates := map[string]interface{}{
			"status":        domain.PaymentRefunded,
			"refunded_at":   refundedAt,
			"refund_amount": amount,
			"modified_by":   actorID,
		}
		if reason != "" {
			updates["refund_reason"] = reason
		}
		if response != "" {
			updates["gateway_response"] = response
		}
		if err := tx.Model(&domain.Payment{}).Where("id = ?", p.ID).Updates(updates).Error; err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

func (r *PaymentRepository) MarkCancelled(ctx context.Context, transactionID string, actorID int64) (bool, error) {
	var changed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := lockPayment(tx, transactionID)
		if err != nil {
			return err
		}
		if p.Status == domain.PaymentCancelled {
			return nil
		}
		if !p.Status.CanTransitionTo(domain.PaymentCancelled) {
			return domain.ErrInvalidTransition
		}
		if err := tx.Model(&domain.Payment{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
			"status":      domain.PaymentCancelled,
			"modified_by": actorID,
		}).Error; err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

func (r *PaymentRepository) List(ctx context.Context, f PaymentFilters) ([]domain.Payment, int64, error) {
	q := r.filtered(ctx, f)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	perPage := f.PerPage
	if perPage < 1 {
		perPage = 15
	}

	var payments []domain.Payment
	err := q.Order("created_at DESC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&payments).Error
	if err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

func (r *PaymentRepository) Stats(ctx context.Context, f PaymentFilters) (*PaymentStats, error) {
	stats := &PaymentStats{}

	if err := r.filtered(ctx, f).Count(&stats.TotalPayments).Error; err != nil {
		return nil, err
	}
	if err := r.filtered(ctx, f).Select("COALESCE(SUM(amount), 0)").Row().Scan(&stats.TotalAmount); err != nil {
		return nil, err
	}

	if err := r.filtered(ctx, f).Where("status = ?", domain.PaymentCompleted).Count(&stats.CompletedPayments).Error; err != nil {
		return nil, err
	}
	if err := r.filtered(ctx, f).Where("status = ?", domain.PaymentCompleted).
		Select("COALESCE(SUM(amount), 0)").Row().Scan(&stats.CompletedAmount); err != nil {
		return nil, err
	}

	if err := r.filtered(ctx, f).Where("status = ?", domain.PaymentPending).Count(&stats.PendingPayments).Error; err != nil {
		return nil, err
	}
	if err := r.filtered(ctx, f).Where("status = ?", domain.PaymentFailed).Count(&stats.FailedPayments).Error; err != nil {
		return nil, err
	}
	if err := r.filtered(ctx, f).Where("status = ?", domain.PaymentRefunded).Count(&stats.RefundedPayments).Error; err != nil {
		return nil, err
	}

	err := r.filtered(ctx, f).
		Select("gateway, COUNT(*) as count, COALESCE(SUM(amount), 0) as total").
		Group("gateway").
		Scan(&stats.ByGateway).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *PaymentRepository) filtered(ctx context.Context, f PaymentFilters) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&domain.Payment{})
	if f.IncludeDeleted {
		q = q.Unscoped()
	}
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Gateway != "" {
		q = q.Where("gateway = ?", f.Gateway)
	}
	if f.FromDate != nil {
		q = q.Where("created_at >= ?", *f.FromDate)
	}
	if f.ToDate != nil {
		q = q.Where("created_at <= ?", *f.ToDate)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		q = q.Where(
			"transaction_id LIKE ? OR gateway_transaction_id LIKE ? OR customer_email LIKE ? OR customer_name LIKE ?",
			like, like, like, like,
		)
	}
	return q
}

func lockPayment(tx *gorm.DB, transactionID string) (*domain.Payment, error) {
	var p domain.Payment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("transaction_id = ?", transactionID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}
