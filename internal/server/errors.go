package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/logibill/internal/audit/domain"
	billingactivitydomain "github.com/smallbiznis/logibill/internal/billingactivity/domain"
	billingcycledomain "github.com/smallbiznis/logibill/internal/billingcycle/domain"
	invoicedomain "github.com/smallbiznis/logibill/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/logibill/internal/payment/domain"
	"github.com/smallbiznis/logibill/internal/ratecard/document"
	ratecarddomain "github.com/smallbiznis/logibill/internal/ratecard/domain"
	ratingdomain "github.com/smallbiznis/logibill/internal/rating/domain"
	"github.com/smallbiznis/logibill/internal/rateresolver"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

var validationErrors = []error{
	ErrInvalidRequest,
	billingcycledomain.ErrInvalidBillingCycle,
	ratecarddomain.ErrInvalidID,
	ratecarddomain.ErrInvalidCustomer,
	ratecarddomain.ErrInvalidEffectiveFrom,
	ratecarddomain.ErrInvalidWindow,
	ratecarddomain.ErrInvalidMinimum,
	ratecarddomain.ErrInvalidCycleOverride,
	ratecarddomain.ErrInvalidType,
	ratecarddomain.ErrInvalidParent,
	ratecarddomain.ErrInvalidReference,
	ratecarddomain.ErrInvalidContractRole,
	ratecarddomain.ErrContractCustomer,
	billingactivitydomain.ErrInvalidID,
	billingactivitydomain.ErrInvalidCustomer,
	billingactivitydomain.ErrInvalidActivityDate,
	billingactivitydomain.ErrInvalidType,
	billingactivitydomain.ErrInvalidQuantity,
	billingactivitydomain.ErrInvalidOverride,
	billingactivitydomain.ErrInvalidStatus,
	billingactivitydomain.ErrInvalidPageToken,
	billingactivitydomain.ErrEmptyBatch,
	billingactivitydomain.ErrBatchTooLarge,
	ratingdomain.ErrInvalidID,
	ratingdomain.ErrInvalidCustomer,
	invoicedomain.ErrInvalidInvoiceID,
	invoicedomain.ErrInvalidCustomer,
	invoicedomain.ErrInvalidPeriod,
	invoicedomain.ErrInvalidStatus,
	invoicedomain.ErrInvalidPageToken,
	paymentdomain.ErrInvalidID,
	paymentdomain.ErrInvalidInvoiceID,
	paymentdomain.ErrInvalidAmount,
	paymentdomain.ErrInvalidMethod,
	paymentdomain.ErrInvalidStatus,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidTimeRange,
	auditdomain.ErrInvalidAction,
}

var notFoundErrors = []error{
	ErrNotFound,
	ratecarddomain.ErrNotFound,
	ratecarddomain.ErrNoActiveCard,
	ratecarddomain.ErrContractNotFound,
	billingactivitydomain.ErrNotFound,
	ratingdomain.ErrNotFound,
	invoicedomain.ErrInvoiceNotFound,
	paymentdomain.ErrNotFound,
	paymentdomain.ErrInvoiceNotFound,
	gorm.ErrRecordNotFound,
}

var conflictErrors = []error{
	ErrConflict,
	ratecarddomain.ErrConflict,
	ratecarddomain.ErrDuplicateContract,
	ratecarddomain.ErrLineageCycle,
	ratingdomain.ErrNotRequeueable,
	invoicedomain.ErrInvalidTransition,
	invoicedomain.ErrActivitiesChanged,
	paymentdomain.ErrInvalidTransition,
	paymentdomain.ErrInvoiceNotPayable,
}

var unprocessableErrors = []error{
	paymentdomain.ErrExceedsBalance,
}

// taxonomyErrors only supply codes; the rating domain helpers classify them.
var taxonomyErrors = []error{
	ratecarddomain.ErrDuplicateActiveCard,
	invoicedomain.ErrDuplicateDraft,
	invoicedomain.ErrIncompleteRating,
	ratecarddomain.ErrOutstandingActivities,
	rateresolver.ErrNoRateCard,
	document.ErrInvalidDocument,
	document.ErrUnknownService,
	document.ErrTierGap,
	document.ErrUnknownZone,
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if code, ok := matchSentinel(err, validationErrors); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	if code, ok := matchSentinel(err, notFoundErrors); ok {
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    code,
			Message: "not found",
		}
	}

	switch {
	case ratingdomain.IsInvariantViolation(err):
		return http.StatusConflict, errorPayload{
			Type:    "invariant_violation",
			Code:    sentinelCode(err),
			Message: err.Error(),
		}
	case ratingdomain.IsPreconditionError(err):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "precondition_failed",
			Code:    sentinelCode(err),
			Message: err.Error(),
		}
	case ratingdomain.IsConfigurationError(err):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "configuration_error",
			Code:    sentinelCode(err),
			Message: err.Error(),
		}
	}

	if code, ok := matchSentinel(err, conflictErrors); ok {
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    code,
			Message: err.Error(),
		}
	}
	if code, ok := matchSentinel(err, unprocessableErrors); ok {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "unprocessable",
			Code:    code,
			Message: err.Error(),
		}
	}

	switch {
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger with the same taxonomy the
// client sees.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if code == "" {
		code = http.StatusText(status)
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func matchSentinel(err error, sentinels []error) (string, bool) {
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error(), true
		}
	}
	return "", false
}

var taxonomy = [][]error{taxonomyErrors, validationErrors, notFoundErrors, conflictErrors, unprocessableErrors}

// sentinelCode returns the snake_case code of the innermost known sentinel,
// falling back to the first segment of the message.
func sentinelCode(err error) string {
	for _, group := range taxonomy {
		if code, ok := matchSentinel(err, group); ok {
			return code
		}
	}
	msg := err.Error()
	if idx := strings.Index(msg, ":"); idx > 0 {
		return msg[:idx]
	}
	return msg
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
