package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
	PaymentCancelled  PaymentStatus = "cancelled"
)

const (
	GatewayStripe     = "stripe"
	GatewayPayPal     = "paypal"
	GatewaySSLCommerz = "sslcommerz"
	GatewayManual     = "manual"
)

const (
	PaymentTypeOneTime      = "one_time"
	PaymentTypeSubscription = "subscription"
	PaymentTypeRecurring    = "recurring"
)

var ErrInvalidTransition = errors.New("invalid_payment_status_transition")

// statusTransitions is the full forward-only state machine. A status absent
// from the map is terminal.
var statusTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:    {PaymentProcessing, PaymentFailed, PaymentCancelled},
	PaymentProcessing: {PaymentCompleted, PaymentFailed, PaymentCancelled},
	PaymentCompleted:  {PaymentRefunded},
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s PaymentStatus) IsTerminal() bool {
	return len(statusTransitions[s]) == 0
}

// Payment is the durable record of one attempt to move money through a
// gateway. Rows are never physically deleted; DeletedAt only hides them from
// default queries.
type Payment struct {
	ID                   int64           `gorm:"primaryKey" json:"id"`
	TransactionID        string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_id"`
	UserID               int64           `gorm:"index" json:"user_id"`
	Gateway              string          `gorm:"type:varchar(20);index;not null" json:"gateway"`
	GatewayTransactionID string          `gorm:"type:varchar(191);index" json:"gateway_transaction_id"`
	GatewayCaptureID     string          `gorm:"type:varchar(191);index" json:"gateway_capture_id,omitempty"`
	GatewayCustomerID    string          `gorm:"type:varchar(191)" json:"gateway_customer_id,omitempty"`
	Amount               decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency             string          `gorm:"type:varchar(3);not null" json:"currency"`
	GatewayFee           decimal.Decimal `gorm:"type:decimal(12,2);default:0" json:"gateway_fee"`
	NetAmount            decimal.Decimal `gorm:"type:decimal(12,2)" json:"net_amount"`
	Status               PaymentStatus   `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	PaymentMethod        string          `gorm:"type:varchar(50)" json:"payment_method,omitempty"`
	PaymentType          string          `gorm:"type:varchar(20);default:'one_time'" json:"payment_type"`
	PayableType          string          `gorm:"type:varchar(100)" json:"payable_type,omitempty"`
	PayableID            int64           `json:"payable_id,omitempty"`
	Description          string          `gorm:"type:text" json:"description,omitempty"`
	CustomerEmail        string          `gorm:"type:varchar(191)" json:"customer_email,omitempty"`
	CustomerName         string          `gorm:"type:varchar(191)" json:"customer_name,omitempty"`
	CustomerPhone        string          `gorm:"type:varchar(32)" json:"customer_phone,omitempty"`
	BillingAddress       string          `gorm:"type:text" json:"billing_address,omitempty"`
	IPAddress            string          `gorm:"type:varchar(45)" json:"ip_address,omitempty"`
	GatewayResponse      string          `gorm:"type:text" json:"gateway_response,omitempty"`
	Metadata             string          `gorm:"type:text" json:"metadata,omitempty"`
	RefundAmount         decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"refund_amount,omitempty"`
	RefundReason         string          `gorm:"type:text" json:"refund_reason,omitempty"`
	PaidAt               *time.Time      `json:"paid_at,omitempty"`
	FailedAt             *time.Time      `json:"failed_at,omitempty"`
	RefundedAt           *time.Time      `json:"refunded_at,omitempty"`
	CreatedBy            int64           `json:"created_by,omitempty"`
	ModifiedBy           int64           `json:"modified_by,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	DeletedAt            gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (Payment) TableName() string { return "payments" }

func (p *Payment) IsPending() bool    { return p.Status == PaymentPending }
func (p *Payment) IsProcessing() bool { return p.Status == PaymentProcessing }
func (p *Payment) IsCompleted() bool  { return p.Status == PaymentCompleted }
func (p *Payment) IsFailed() bool     { return p.Status == PaymentFailed }
func (p *Payment) IsRefunded() bool   { return p.Status == PaymentRefunded }

// CalculateNetAmount returns amount minus the gateway fee. NetAmount is always
// derived from these two columns, never set independently.
func (p *Payment) CalculateNetAmount() decimal.Decimal {
	return p.Amount.Sub(p.GatewayFee)
}

func KnownGateway(name string) bool {
	switch name {
	case GatewayStripe, GatewayPayPal, GatewaySSLCommerz, GatewayManual:
		return true
	}
	return false
}
