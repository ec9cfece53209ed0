package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/logibill/pkg/db/pagination"
)

type Service interface {
	Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error)
	IngestBatch(ctx context.Context, reqs []IngestRequest) ([]IngestResult, error)
	Get(ctx context.Context, id string) (*BillingActivity, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

type IngestRequest struct {
	CustomerID   string          `json:"customer_id"`
	ActivityDate time.Time       `json:"activity_date"`
	Type         string          `json:"type"`
	Category     string          `json:"category"`
	Description  string          `json:"description"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         string          `json:"unit"`
	Zone         string          `json:"zone"`
	ReferenceID  string          `json:"reference_id"`
	BillingCycle string          `json:"billing_cycle"`
	Metadata     map[string]any  `json:"metadata"`

	// RateApplied and Amount are only honored together with IsManualOverride.
	IsManualOverride bool                `json:"is_manual_override"`
	RateApplied      decimal.NullDecimal `json:"rate_applied"`
	Amount           decimal.NullDecimal `json:"amount"`
}

type IngestResult struct {
	Outcome  IngestOutcome    `json:"outcome"`
	Activity *BillingActivity `json:"activity"`
}

type ListRequest struct {
	pagination.Pagination
	CustomerID   string
	RatingStatus string
	InvoiceID    string
	From         *time.Time
	To           *time.Time
}

type ListResponse struct {
	pagination.PageInfo
	Activities []BillingActivity `json:"activities"`
}

var (
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidCustomer     = errors.New("invalid_customer")
	ErrInvalidActivityDate = errors.New("invalid_activity_date")
	ErrInvalidType         = errors.New("invalid_activity_type")
	ErrInvalidQuantity     = errors.New("invalid_quantity")
	ErrInvalidOverride     = errors.New("invalid_manual_override")
	ErrInvalidStatus       = errors.New("invalid_rating_status")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrEmptyBatch          = errors.New("empty_batch")
	ErrBatchTooLarge       = errors.New("batch_too_large")
	ErrNotFound            = errors.New("billing_activity_not_found")
)
