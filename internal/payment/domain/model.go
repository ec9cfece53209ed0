package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentStatusApplied  PaymentStatus = "applied"
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusReversed PaymentStatus = "reversed"
)

// Payment belongs to exactly one invoice. Rows are never deleted; reversals
// flip the status and the invoice balance is recomputed from applied rows.
type Payment struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvoiceID   snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	Amount      decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	PaymentDate time.Time       `gorm:"not null" json:"payment_date"`
	Method      string          `gorm:"type:text;not null" json:"method"`
	Reference   *string         `gorm:"type:text" json:"reference,omitempty"`
	Status      PaymentStatus   `gorm:"type:text;not null" json:"status"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"not null" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	ListByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]Payment, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to PaymentStatus, at time.Time) (bool, error)
}

type Service interface {
	Record(ctx context.Context, req RecordPaymentRequest) (*Payment, error)
	Settle(ctx context.Context, id string) (*Payment, error)
	Fail(ctx context.Context, id string) (*Payment, error)
	Reverse(ctx context.Context, id string) (*Payment, error)
	Get(ctx context.Context, id string) (*Payment, error)
	ListByInvoice(ctx context.Context, invoiceID string) ([]Payment, error)
}

type RecordPaymentRequest struct {
	InvoiceID   string          `json:"invoice_id"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
	Reference   string          `json:"reference"`
	PaymentDate time.Time       `json:"payment_date"`
	Status      PaymentStatus   `json:"status"`
}

var (
	ErrInvalidID         = errors.New("invalid_id")
	ErrInvalidInvoiceID  = errors.New("invalid_invoice_id")
	ErrInvalidAmount     = errors.New("invalid_payment_amount")
	ErrInvalidMethod     = errors.New("invalid_payment_method")
	ErrInvalidStatus     = errors.New("invalid_payment_status")
	ErrNotFound          = errors.New("payment_not_found")
	ErrInvoiceNotFound   = errors.New("invoice_not_found")
	ErrInvoiceNotPayable = errors.New("invoice_not_payable")
	ErrExceedsBalance    = errors.New("payment_exceeds_balance")
	ErrInvalidTransition = errors.New("invalid_payment_transition")
)
