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
	// Insert stores the activity and reports false when the natural key
	// already exists.
	Insert(ctx context.Context, db *gorm.DB, activity *BillingActivity) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BillingActivity, error)
	FindByNaturalKey(ctx context.Context, db *gorm.DB, customerID snowflake.ID, referenceID string, activityDate time.Time, activityType string) (*BillingActivity, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*BillingActivity, error)

	ListPendingCustomers(ctx context.Context, db *gorm.DB, customerID *snowflake.ID, limit int) ([]snowflake.ID, error)
	ListPendingForCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID, limit int) ([]BillingActivity, error)
	// MarkRated and MarkError only touch activities still pending.
	MarkRated(ctx context.Context, db *gorm.DB, update RatingUpdate) (bool, error)
	MarkError(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) (bool, error)
	MarkManualOverride(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	Requeue(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)

	ListForPeriod(ctx context.Context, db *gorm.DB, filter PeriodFilter) ([]BillingActivity, error)
	AttachToInvoice(ctx context.Context, db *gorm.DB, ids []snowflake.ID, invoiceID, lineID snowflake.ID, at time.Time) (int64, error)
	ReleaseFromInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, at time.Time) error
}

type ListFilter struct {
	CustomerID   *snowflake.ID
	RatingStatus RatingStatus
	InvoiceID    *snowflake.ID
	From         *time.Time
	To           *time.Time
	Cursor       *ActivityCursor
	Limit        int
}

type ActivityCursor struct {
	ID           snowflake.ID
	ActivityDate time.Time
}

// PeriodFilter selects uninvoiced activities of one customer and cycle whose
// billing_period_start falls in [PeriodStart, PeriodEnd).
type PeriodFilter struct {
	CustomerID   snowflake.ID
	BillingCycle billingcycledomain.BillingCycle
	PeriodStart  time.Time
	PeriodEnd    time.Time
}

type RatingUpdate struct {
	ID          snowflake.ID
	RateCardID  snowflake.ID
	RateApplied decimal.Decimal
	Amount      decimal.Decimal
	RatedAt     time.Time
}
