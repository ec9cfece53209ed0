package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/logibill/pkg/db/pagination"
)

type Service interface {
	Generate(ctx context.Context, req GenerateRequest) (*Invoice, error)
	Issue(ctx context.Context, id string) (*Invoice, error)
	MarkSent(ctx context.Context, id string) (*Invoice, error)
	MarkOverdue(ctx context.Context, asOf time.Time) (int, error)
	Void(ctx context.Context, id string, reason string) (*Invoice, error)
	Credit(ctx context.Context, id string, reason string) (*Invoice, error)
	Get(ctx context.Context, id string) (*InvoiceDetail, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
}

type GenerateRequest struct {
	CustomerID   string    `json:"customer_id"`
	BillingCycle string    `json:"billing_cycle"`
	PeriodStart  time.Time `json:"period_start"`
	PeriodEnd    time.Time `json:"period_end"`
}

type ListInvoiceRequest struct {
	pagination.Pagination
	CustomerID string
	Status     string
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

// InvoicePayment is the payment view embedded in invoice detail.
type InvoicePayment struct {
	ID          snowflake.ID    `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
	Status      string          `json:"status"`
	PaymentDate time.Time       `json:"payment_date"`
}

type InvoiceDetail struct {
	Invoice
	Lines    []InvoiceLine    `json:"lines"`
	Payments []InvoicePayment `json:"payments"`
}

var (
	ErrInvalidInvoiceID  = errors.New("invalid_invoice_id")
	ErrInvalidCustomer   = errors.New("invalid_customer")
	ErrInvalidPeriod     = errors.New("invalid_period")
	ErrInvalidStatus     = errors.New("invalid_invoice_status")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
	ErrInvoiceNotFound   = errors.New("invoice_not_found")
	ErrIncompleteRating  = errors.New("incomplete_rating")
	ErrDuplicateDraft    = errors.New("duplicate_draft")
	ErrInvalidTransition = errors.New("invalid_invoice_transition")
	ErrLineTotalMismatch = errors.New("line_total_mismatch")
	ErrActivitiesChanged = errors.New("invoice_activities_changed")
)
