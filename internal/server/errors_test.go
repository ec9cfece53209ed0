package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	invoicedomain "github.com/smallbiznis/logibill/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/logibill/internal/payment/domain"
	ratecarddomain "github.com/smallbiznis/logibill/internal/ratecard/domain"
	"github.com/smallbiznis/logibill/internal/rateresolver"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"binding errors", newValidationError("type", "required", "this field is required"), http.StatusBadRequest, "validation_error"},
		{"domain validation", paymentdomain.ErrInvalidAmount, http.StatusBadRequest, "validation_error"},
		{"not found", invoicedomain.ErrInvoiceNotFound, http.StatusNotFound, "not_found"},
		{"duplicate draft", invoicedomain.ErrDuplicateDraft, http.StatusConflict, "invariant_violation"},
		{"incomplete rating", fmt.Errorf("generate: %w", invoicedomain.ErrIncompleteRating), http.StatusUnprocessableEntity, "precondition_failed"},
		{"no rate card", rateresolver.ErrNoRateCard, http.StatusUnprocessableEntity, "configuration_error"},
		{"transition", fmt.Errorf("%w: paid to draft", invoicedomain.ErrInvalidTransition), http.StatusConflict, "conflict"},
		{"lineage cycle", ratecarddomain.ErrLineageCycle, http.StatusConflict, "conflict"},
		{"overpayment", paymentdomain.ErrExceedsBalance, http.StatusUnprocessableEntity, "unprocessable"},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, payload := mapError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantType, payload.Type)
		})
	}
}

func TestMapError_SentinelFieldAndCode(t *testing.T) {
	_, payload := mapError(fmt.Errorf("record: %w", paymentdomain.ErrInvalidMethod))
	if assert.Len(t, payload.Errors, 1) {
		assert.Equal(t, "invalid_payment_method", payload.Errors[0].Code)
		assert.Equal(t, "payment_method", payload.Errors[0].Field)
	}

	_, payload = mapError(fmt.Errorf("generate: %w", invoicedomain.ErrDuplicateDraft))
	assert.Equal(t, invoicedomain.ErrDuplicateDraft.Error(), payload.Code)
}
