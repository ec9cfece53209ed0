package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingcycledomain "github.com/smallbiznis/logibill/internal/billingcycle/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	InsertLines(ctx context.Context, db *gorm.DB, lines []InvoiceLine) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Invoice, error)
	ListLines(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]InvoiceLine, error)
	ListPayments(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]InvoicePayment, error)

	// UpdateStatus applies fields only while the invoice is still in status
	// from. It reports false when the row moved on.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from InvoiceStatus, fields map[string]any) (bool, error)
	ListOverdueCandidates(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) ([]Invoice, error)

	// SumBilledForPeriod totals line amounts already billed on live invoices
	// for the same customer, cycle and period.
	SumBilledForPeriod(ctx context.Context, db *gorm.DB, period PeriodKey) (decimal.Decimal, error)
}

type PeriodKey struct {
	CustomerID   snowflake.ID
	BillingCycle billingcycledomain.BillingCycle
	PeriodStart  time.Time
	PeriodEnd    time.Time
}

type ListFilter struct {
	CustomerID *snowflake.ID
	Status     InvoiceStatus
	Cursor     *InvoiceCursor
	Limit      int
}

type InvoiceCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}
