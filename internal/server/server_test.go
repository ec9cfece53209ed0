package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	auditrepo "github.com/smallbiznis/logibill/internal/audit/repository"
	auditservice "github.com/smallbiznis/logibill/internal/audit/service"
	billingactivityrepo "github.com/smallbiznis/logibill/internal/billingactivity/repository"
	billingactivityservice "github.com/smallbiznis/logibill/internal/billingactivity/service"
	"github.com/smallbiznis/logibill/internal/config"
	invoicerepo "github.com/smallbiznis/logibill/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/logibill/internal/invoice/service"
	paymentrepo "github.com/smallbiznis/logibill/internal/payment/repository"
	paymentservice "github.com/smallbiznis/logibill/internal/payment/service"
	ratecardrepo "github.com/smallbiznis/logibill/internal/ratecard/repository"
	ratecardservice "github.com/smallbiznis/logibill/internal/ratecard/service"
	ratingservice "github.com/smallbiznis/logibill/internal/rating/service"
	"github.com/smallbiznis/logibill/internal/rateresolver"
	"github.com/smallbiznis/logibill/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error errorPayload    `json:"error"`
}

type testServer struct {
	engine     *gin.Engine
	node       *snowflake.Node
	customerID string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	SetupValidator()

	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := testutil.NewClock(2025, time.February, 3)
	log := zap.NewNop()

	cardRepo := ratecardrepo.Provide()
	activityRepo := billingactivityrepo.Provide()
	invoices := invoicerepo.Provide()
	resolver := rateresolver.New(rateresolver.Params{DB: db, Log: log, Repo: cardRepo})
	billing := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
	audit := auditservice.NewService(auditservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: auditrepo.Provide(),
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	NewServer(ServerParams{
		Gin:      engine,
		DB:       db,
		Log:      log,
		Resolver: resolver,
		RateCardSvc: ratecardservice.NewService(ratecardservice.Params{
			DB: db, Log: log, GenID: node, Clock: clk, Repo: cardRepo, AuditSvc: audit,
		}),
		ActivitySvc: billingactivityservice.NewService(billingactivityservice.Params{
			DB: db, Log: log, GenID: node, Clock: clk, Repo: activityRepo, Resolver: resolver, Billing: billing,
		}),
		RatingSvc: ratingservice.NewService(ratingservice.ServiceParam{
			DB: db, Log: log, Clock: clk, ActivityRepo: activityRepo, Resolver: resolver, Billing: billing,
		}),
		InvoiceSvc: invoiceservice.NewService(invoiceservice.ServiceParam{
			DB:           db,
			Log:          log,
			GenID:        node,
			Clock:        clk,
			Repo:         invoices,
			ActivityRepo: activityRepo,
			RateCardRepo: cardRepo,
			Resolver:     resolver,
			Billing:      billing,
			AuditSvc:     audit,
		}),
		PaymentSvc: paymentservice.NewService(paymentservice.Params{
			DB: db, Log: log, GenID: node, Clock: clk, Repo: paymentrepo.Provide(), InvoiceRepo: invoices, AuditSvc: audit,
		}),
		AuditSvc: audit,
	})

	return &testServer{engine: engine, node: node, customerID: node.Generate().String()}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)

	var out envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

type idView struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (ts *testServer) createCard(t *testing.T) string {
	t.Helper()
	status, resp := ts.do(t, http.MethodPost, "/v1/customers/"+ts.customerID+"/rate-cards", map[string]any{
		"name": "2025 contract",
		"rate_document": map[string]any{
			"services": map[string]any{
				"base_order": map[string]any{"type": "flat", "rate": "2.00", "unit": "order", "category": "fulfillment"},
			},
		},
		"effective_from": "2025-01-01",
	})
	require.Equal(t, http.StatusCreated, status)
	return decode[idView](t, resp.Data).ID
}

func TestBillingFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	cardID := ts.createCard(t)

	status, resp := ts.do(t, http.MethodGet, "/v1/customers/"+ts.customerID+"/effective-rates?at=2025-01-15", nil)
	require.Equal(t, http.StatusOK, status)
	rates := decode[struct {
		StandardCardID string   `json:"standard_card_id"`
		Version        int      `json:"version"`
		AdjustmentIDs  []string `json:"adjustment_ids"`
	}](t, resp.Data)
	assert.Equal(t, cardID, rates.StandardCardID)
	assert.Equal(t, 1, rates.Version)
	assert.Empty(t, rates.AdjustmentIDs)

	activity := map[string]any{
		"customer_id":   ts.customerID,
		"activity_date": "2025-01-06",
		"type":          "base_order",
		"quantity":      "10",
		"reference_id":  "WMS-4411",
	}
	status, resp = ts.do(t, http.MethodPost, "/v1/activities", activity)
	require.Equal(t, http.StatusCreated, status)
	first := decode[struct {
		Outcome  string `json:"outcome"`
		Activity idView `json:"activity"`
	}](t, resp.Data)
	assert.Equal(t, "created", first.Outcome)

	// Replays of the same source event return the stored row.
	status, resp = ts.do(t, http.MethodPost, "/v1/activities", activity)
	require.Equal(t, http.StatusOK, status)
	replay := decode[struct {
		Outcome  string `json:"outcome"`
		Activity idView `json:"activity"`
	}](t, resp.Data)
	assert.Equal(t, "duplicate", replay.Outcome)
	assert.Equal(t, first.Activity.ID, replay.Activity.ID)

	status, resp = ts.do(t, http.MethodPost, "/v1/rating/run", map[string]any{})
	require.Equal(t, http.StatusOK, status)
	run := decode[struct {
		Rated int `json:"rated"`
	}](t, resp.Data)
	assert.Equal(t, 1, run.Rated)

	status, resp = ts.do(t, http.MethodPost, "/v1/invoices/generate", map[string]any{
		"customer_id":   ts.customerID,
		"billing_cycle": "monthly",
		"period_start":  "2025-01-01",
		"period_end":    "2025-02-01",
	})
	require.Equal(t, http.StatusCreated, status)
	invoiceID := decode[idView](t, resp.Data).ID

	status, resp = ts.do(t, http.MethodPost, "/v1/invoices/"+invoiceID+"/issue", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "issued", decode[idView](t, resp.Data).Status)

	status, _ = ts.do(t, http.MethodPost, "/v1/invoices/"+invoiceID+"/payments", map[string]any{
		"amount":    "5.00",
		"method":    "bank_transfer",
		"reference": "TRX-88123",
	})
	require.Equal(t, http.StatusCreated, status)

	status, resp = ts.do(t, http.MethodPost, "/v1/invoices/"+invoiceID+"/payments", map[string]any{
		"amount": "100",
		"method": "bank_transfer",
	})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "payment_exceeds_balance", resp.Error.Code)

	status, resp = ts.do(t, http.MethodGet, "/v1/invoices/"+invoiceID, nil)
	require.Equal(t, http.StatusOK, status)
	detail := decode[struct {
		Status     string            `json:"status"`
		Total      decimal.Decimal   `json:"total"`
		BalanceDue decimal.Decimal   `json:"balance_due"`
		Lines      []json.RawMessage `json:"lines"`
		Payments   []json.RawMessage `json:"payments"`
	}](t, resp.Data)
	assert.Equal(t, "partial", detail.Status)
	assert.True(t, detail.Total.Equal(decimal.NewFromInt(20)))
	assert.True(t, detail.BalanceDue.Equal(decimal.NewFromInt(15)))
	assert.Len(t, detail.Lines, 1)
	assert.Len(t, detail.Payments, 1)

	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/invoices/"+invoiceID+"/html", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Balance due")

	status, resp = ts.do(t, http.MethodGet, "/v1/audit-logs?action=invoice.issued", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]json.RawMessage](t, resp.Data), 1)
}

func TestIngestValidation(t *testing.T) {
	ts := newTestServer(t)

	status, resp := ts.do(t, http.MethodPost, "/v1/activities", map[string]any{
		"customer_id":   ts.customerID,
		"activity_date": "2025-01-06",
		"quantity":      "1",
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", resp.Error.Type)
	require.NotEmpty(t, resp.Error.Errors)
	assert.Equal(t, "type", resp.Error.Errors[0].Field)
	assert.Equal(t, "required", resp.Error.Errors[0].Code)

	status, resp = ts.do(t, http.MethodPost, "/v1/activities", map[string]any{
		"customer_id":   ts.customerID,
		"activity_date": "2025-01-06",
		"type":          "base_order",
		"quantity":      "1",
		"billing_cycle": "yearly",
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.NotEmpty(t, resp.Error.Errors)
	assert.Equal(t, "billing_cycle", resp.Error.Errors[0].Code)

	status, resp = ts.do(t, http.MethodPost, "/v1/activities", map[string]any{
		"customer_id":   ts.customerID,
		"activity_date": "06/01/2025",
		"type":          "base_order",
		"quantity":      "1",
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "activity_date", resp.Error.Errors[0].Field)
}

func TestRatingErrorsAndRequeue(t *testing.T) {
	ts := newTestServer(t)

	// No rate card yet: the activity is parked in error.
	status, resp := ts.do(t, http.MethodPost, "/v1/activities", map[string]any{
		"customer_id":   ts.customerID,
		"activity_date": "2025-01-06",
		"type":          "base_order",
		"unit":          "order",
		"quantity":      "3",
	})
	require.Equal(t, http.StatusCreated, status)
	activityID := decode[struct {
		Activity idView `json:"activity"`
	}](t, resp.Data).Activity.ID

	status, resp = ts.do(t, http.MethodPost, "/v1/activities/"+activityID+"/rate", nil)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "failed", decode[struct {
		Outcome string `json:"outcome"`
	}](t, resp.Data).Outcome)

	status, resp = ts.do(t, http.MethodGet, "/v1/rating/errors?customer_id="+ts.customerID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]json.RawMessage](t, resp.Data), 1)

	ts.createCard(t)
	status, resp = ts.do(t, http.MethodPost, "/v1/activities/"+activityID+"/requeue", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pending", decode[struct {
		RatingStatus string `json:"rating_status"`
	}](t, resp.Data).RatingStatus)

	status, resp = ts.do(t, http.MethodPost, "/v1/activities/"+activityID+"/requeue", nil)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "activity_not_requeueable", resp.Error.Code)
}

func TestNotFoundAndHealth(t *testing.T) {
	ts := newTestServer(t)

	status, resp := ts.do(t, http.MethodGet, "/v1/invoices/"+ts.node.Generate().String(), nil)
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "invoice_not_found", resp.Error.Code)

	status, _ = ts.do(t, http.MethodGet, "/v1/customers/"+ts.customerID+"/effective-rates", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = ts.do(t, http.MethodGet, "/v1/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
}
