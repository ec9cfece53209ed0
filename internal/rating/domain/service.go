// Package domain defines the rating pipeline contract and the error taxonomy
// shared by rating and invoicing.
package domain

import (
	"context"
	"errors"

	billingactivitydomain "github.com/smallbiznis/logibill/internal/billingactivity/domain"
	invoicedomain "github.com/smallbiznis/logibill/internal/invoice/domain"
	"github.com/smallbiznis/logibill/internal/ratecard/document"
	ratecarddomain "github.com/smallbiznis/logibill/internal/ratecard/domain"
	"github.com/smallbiznis/logibill/internal/rateresolver"
)

type Service interface {
	RateActivity(ctx context.Context, id string) (*ActivityResult, error)
	Run(ctx context.Context, req RunRequest) (RunResult, error)
	ListErrors(ctx context.Context, req ListErrorsRequest) ([]billingactivitydomain.BillingActivity, error)
	Requeue(ctx context.Context, id string) (*billingactivitydomain.BillingActivity, error)
}

type Outcome string

const (
	OutcomeRated   Outcome = "rated"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

type ActivityResult struct {
	Outcome  Outcome                                `json:"outcome"`
	Error    string                                 `json:"error,omitempty"`
	Activity *billingactivitydomain.BillingActivity `json:"activity"`
}

type RunRequest struct {
	CustomerID string `json:"customer_id"`
	// Limit caps the activities rated per customer. Zero rates everything pending.
	Limit int `json:"limit"`
}

type RunResult struct {
	Customers int `json:"customers"`
	Rated     int `json:"rated"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type ListErrorsRequest struct {
	CustomerID string
	Limit      int
}

var (
	ErrInvalidID       = errors.New("invalid_id")
	ErrInvalidCustomer = errors.New("invalid_customer")
	ErrNotFound        = errors.New("billing_activity_not_found")
	ErrNotRequeueable  = errors.New("activity_not_requeueable")
)

// IsConfigurationError reports pricing setup errors. They are never retried
// automatically and block only the affected activity.
func IsConfigurationError(err error) bool {
	return errors.Is(err, rateresolver.ErrNoRateCard) ||
		errors.Is(err, document.ErrTierGap) ||
		errors.Is(err, document.ErrUnknownZone) ||
		errors.Is(err, document.ErrUnknownService) ||
		errors.Is(err, document.ErrInvalidDocument)
}

// IsInvariantViolation reports losers of a uniqueness race. Callers re-read
// state and retry or treat the write as done.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ratecarddomain.ErrDuplicateActiveCard) ||
		errors.Is(err, invoicedomain.ErrDuplicateDraft)
}

// IsPreconditionError reports conditions the caller must resolve first.
func IsPreconditionError(err error) bool {
	return errors.Is(err, invoicedomain.ErrIncompleteRating) ||
		errors.Is(err, ratecarddomain.ErrOutstandingActivities)
}
