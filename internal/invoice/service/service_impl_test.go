package service_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/logibill/internal/audit/domain"
	auditrepo "github.com/smallbiznis/logibill/internal/audit/repository"
	auditservice "github.com/smallbiznis/logibill/internal/audit/service"
	billingactivitydomain "github.com/smallbiznis/logibill/internal/billingactivity/domain"
	billingactivityrepo "github.com/smallbiznis/logibill/internal/billingactivity/repository"
	billingactivityservice "github.com/smallbiznis/logibill/internal/billingactivity/service"
	"github.com/smallbiznis/logibill/internal/clock"
	"github.com/smallbiznis/logibill/internal/config"
	invoicedomain "github.com/smallbiznis/logibill/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/logibill/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/logibill/internal/invoice/service"
	"github.com/smallbiznis/logibill/internal/ratecard/document"
	ratecarddomain "github.com/smallbiznis/logibill/internal/ratecard/domain"
	ratecardrepo "github.com/smallbiznis/logibill/internal/ratecard/repository"
	ratecardservice "github.com/smallbiznis/logibill/internal/ratecard/service"
	ratingdomain "github.com/smallbiznis/logibill/internal/rating/domain"
	ratingservice "github.com/smallbiznis/logibill/internal/rating/service"
	"github.com/smallbiznis/logibill/internal/rateresolver"
	"github.com/smallbiznis/logibill/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const minimumCard = `{
  "services": {
    "base_order": {"type": "flat", "rate": "2.00", "unit": "order", "category": "fulfillment", "description": "Order handling"},
    "storage": {"type": "flat", "rate": "0.15", "unit": "pallet_day", "category": "storage"}
  },
  "minimums": {"monthly": "500"}
}`

type fixture struct {
	db         *gorm.DB
	node       *snowflake.Node
	clock      *clock.FakeClock
	cards      ratecarddomain.Service
	activities billingactivitydomain.Service
	rating     ratingdomain.Service
	audit      auditdomain.Service
	svc        invoicedomain.Service
	customerID snowflake.ID
	card       *ratecarddomain.RateCard
}

func setup(t *testing.T, rawCard string) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := testutil.NewClock(2025, time.February, 3)
	cardRepo := ratecardrepo.Provide()
	activityRepo := billingactivityrepo.Provide()
	resolver := rateresolver.New(rateresolver.Params{DB: db, Log: zap.NewNop(), Repo: cardRepo})
	billing := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())

	audit := auditservice.NewService(auditservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: auditrepo.Provide(),
	})
	f := &fixture{
		db:    db,
		node:  node,
		clock: clk,
		audit: audit,
		cards: ratecardservice.NewService(ratecardservice.Params{
			DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: cardRepo,
		}),
		activities: billingactivityservice.NewService(billingactivityservice.Params{
			DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: activityRepo, Resolver: resolver, Billing: billing,
		}),
		rating: ratingservice.NewService(ratingservice.ServiceParam{
			DB: db, Log: zap.NewNop(), Clock: clk, ActivityRepo: activityRepo, Resolver: resolver, Billing: billing,
		}),
		svc: invoiceservice.NewService(invoiceservice.ServiceParam{
			DB:           db,
			Log:          zap.NewNop(),
			GenID:        node,
			Clock:        clk,
			Repo:         invoicerepo.Provide(),
			ActivityRepo: activityRepo,
			RateCardRepo: cardRepo,
			Resolver:     resolver,
			Billing:      billing,
			AuditSvc:     audit,
		}),
		customerID: node.Generate(),
	}

	doc, err := document.Parse([]byte(rawCard))
	require.NoError(t, err)
	f.card, err = f.cards.CreateStandard(context.Background(), ratecarddomain.CreateStandardRequest{
		CustomerID:    f.customerID.String(),
		RateDocument:  doc,
		EffectiveFrom: testutil.Date(2025, 1, 1),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) ingest(t *testing.T, activityType string, quantity int64, date time.Time) *billingactivitydomain.BillingActivity {
	t.Helper()
	res, err := f.activities.Ingest(context.Background(), billingactivitydomain.IngestRequest{
		CustomerID:   f.customerID.String(),
		ActivityDate: date,
		Type:         activityType,
		Quantity:     decimal.NewFromInt(quantity),
	})
	require.NoError(t, err)
	return res.Activity
}

func (f *fixture) rateAll(t *testing.T) {
	t.Helper()
	_, err := f.rating.Run(context.Background(), ratingdomain.RunRequest{})
	require.NoError(t, err)
}

func (f *fixture) january() invoicedomain.GenerateRequest {
	return invoicedomain.GenerateRequest{
		CustomerID:   f.customerID.String(),
		BillingCycle: "monthly",
		PeriodStart:  testutil.Date(2025, 1, 1),
		PeriodEnd:    testutil.Date(2025, 2, 1),
	}
}

func (f *fixture) generate(t *testing.T) *invoicedomain.Invoice {
	t.Helper()
	invoice, err := f.svc.Generate(context.Background(), f.january())
	require.NoError(t, err)
	require.NotNil(t, invoice)
	return invoice
}

func money(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func TestGenerate_AppliesMinimumTopUp(t *testing.T) {
	f := setup(t, minimumCard)
	f.ingest(t, "base_order", 100, testutil.Date(2025, 1, 6))
	f.ingest(t, "base_order", 60, testutil.Date(2025, 1, 14))
	f.ingest(t, "base_order", 50, testutil.Date(2025, 1, 28))
	f.rateAll(t)

	invoice := f.generate(t)
	assert.Equal(t, invoicedomain.InvoiceStatusDraft, invoice.Status)
	assert.True(t, invoice.Subtotal.Equal(money("500")))
	assert.True(t, invoice.Tax.IsZero())
	assert.True(t, invoice.Total.Equal(money("500")))
	assert.True(t, invoice.BalanceDue.Equal(money("500")))
	assert.NotEmpty(t, invoice.InvoiceNumber)

	detail, err := f.svc.Get(context.Background(), invoice.ID.String())
	require.NoError(t, err)
	require.Len(t, detail.Lines, 2)

	orders := detail.Lines[0]
	assert.Equal(t, "Order handling", orders.Description)
	assert.Equal(t, "fulfillment", orders.Category)
	assert.True(t, orders.Quantity.Equal(money("210")))
	assert.True(t, orders.LineTotal.Equal(money("420")))
	assert.Equal(t, 3, orders.ActivityCount)

	topUp := detail.Lines[1]
	assert.True(t, topUp.IsMinimumCharge)
	assert.Nil(t, topUp.ActivityID)
	assert.Equal(t, "Minimum charge", topUp.Description)
	assert.True(t, topUp.LineTotal.Equal(money("80")))

	sum := decimal.Zero
	for _, line := range detail.Lines {
		sum = sum.Add(line.LineTotal)
	}
	assert.True(t, sum.Equal(detail.Subtotal))

	listed, err := f.activities.List(context.Background(), billingactivitydomain.ListRequest{InvoiceID: invoice.ID.String()})
	require.NoError(t, err)
	require.Len(t, listed.Activities, 3)
	for _, activity := range listed.Activities {
		assert.True(t, activity.Invoiced)
		require.NotNil(t, activity.InvoiceLineID)
		assert.Equal(t, orders.ID, *activity.InvoiceLineID)
	}
}

func TestGenerate_MinimumIsBilledOncePerPeriod(t *testing.T) {
	f := setup(t, minimumCard)
	f.ingest(t, "base_order", 10, testutil.Date(2025, 1, 6))
	f.rateAll(t)

	first := f.generate(t)
	assert.True(t, first.Total.Equal(money("500")))
	_, err := f.svc.Issue(context.Background(), first.ID.String())
	require.NoError(t, err)

	// A late activity for the same period is billed without another top-up.
	f.ingest(t, "base_order", 5, testutil.Date(2025, 1, 30))
	f.rateAll(t)

	second := f.generate(t)
	assert.True(t, second.Total.Equal(money("10")))
}

func TestGenerate_MinimumOnlyPeriod(t *testing.T) {
	f := setup(t, minimumCard)

	invoice := f.generate(t)
	assert.True(t, invoice.Total.Equal(money("500")))
}

func TestGenerate_NothingToInvoice(t *testing.T) {
	f := setup(t, `{"services":{"base_order":{"type":"flat","rate":"2.00","unit":"order"}}}`)

	invoice, err := f.svc.Generate(context.Background(), f.january())
	require.NoError(t, err)
	assert.Nil(t, invoice)

	// Activities outside the window or cycle are ignored.
	f.ingest(t, "base_order", 1, testutil.Date(2025, 2, 2))
	f.rateAll(t)
	invoice, err = f.svc.Generate(context.Background(), f.january())
	require.NoError(t, err)
	assert.Nil(t, invoice)
}

func TestGenerate_RejectsIncompleteRating(t *testing.T) {
	f := setup(t, minimumCard)
	f.ingest(t, "base_order", 1, testutil.Date(2025, 1, 6))
	f.rateAll(t)
	pending := f.ingest(t, "base_order", 2, testutil.Date(2025, 1, 7))

	_, err := f.svc.Generate(context.Background(), f.january())
	assert.ErrorIs(t, err, invoicedomain.ErrIncompleteRating)

	// Nothing was attached by the failed attempt.
	stored, err := f.activities.Get(context.Background(), pending.ID.String())
	require.NoError(t, err)
	assert.False(t, stored.Invoiced)

	// An activity parked in error blocks invoicing too.
	_, err = f.activities.Ingest(context.Background(), billingactivitydomain.IngestRequest{
		CustomerID:   f.customerID.String(),
		ActivityDate: testutil.Date(2025, 1, 8),
		Type:         "kitting",
		Unit:         "kit",
		Quantity:     decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	f.rateAll(t)
	_, err = f.svc.Generate(context.Background(), f.january())
	assert.ErrorIs(t, err, invoicedomain.ErrIncompleteRating)
}

func TestGenerate_OneDraftPerPeriod(t *testing.T) {
	f := setup(t, minimumCard)
	f.ingest(t, "base_order", 1, testutil.Date(2025, 1, 6))
	f.rateAll(t)
	f.generate(t)

	f.ingest(t, "base_order", 1, testutil.Date(2025, 1, 9))
	f.rateAll(t)
	_, err := f.svc.Generate(context.Background(), f.january())
	assert.ErrorIs(t, err, invoicedomain.ErrDuplicateDraft)
}

func TestGenerate_Validation(t *testing.T) {
	f := setup(t, minimumCard)

	req := f.january()
	req.CustomerID = "nope"
	_, err := f.svc.Generate(context.Background(), req)
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidCustomer)

	req = f.january()
	req.PeriodEnd = req.PeriodStart
	_, err = f.svc.Generate(context.Background(), req)
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidPeriod)

	req = f.january()
	req.BillingCycle = "yearly"
	_, err = f.svc.Generate(context.Background(), req)
	assert.Error(t, err)
}

func TestIssue_FreezesSnapshot(t *testing.T) {
	f := setup(t, minimumCard)
	to := testutil.Date(2025, 1, 20)
	adjustmentDoc, err := document.Parse([]byte(`{"services":{"base_order":{"type":"flat","rate":"1.50","unit":"order"}}}`))
	require.NoError(t, err)
	adjustment, err := f.cards.CreateAdjustment(context.Background(), ratecarddomain.CreateAdjustmentRequest{
		CustomerID:    f.customerID.String(),
		ParentID:      f.card.ID.String(),
		RateDocument:  adjustmentDoc,
		EffectiveFrom: testutil.Date(2025, 1, 10),
		ExpiresAt:     &to,
	})
	require.NoError(t, err)

	f.ingest(t, "base_order", 1, testutil.Date(2025, 1, 6))
	f.ingest(t, "base_order", 1, testutil.Date(2025, 1, 15))
	f.rateAll(t)
	draft := f.generate(t)
	assert.Nil(t, draft.Snapshot())

	issued, err := f.svc.Issue(context.Background(), draft.ID.String())
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusIssued, issued.Status)
	require.NotNil(t, issued.IssuedAt)
	require.NotNil(t, issued.DueDate)
	assert.True(t, issued.DueDate.Equal(testutil.Date(2025, 3, 5)), "due %s", issued.DueDate)

	snapshot := issued.Snapshot()
	require.NotNil(t, snapshot)
	assert.Len(t, snapshot.Activities, 2)
	assert.Len(t, snapshot.Lines, 3)
	require.Len(t, snapshot.RateCards, 2)
	assert.Equal(t, f.card.ID, snapshot.RateCards[0].ID)
	assert.Equal(t, adjustment.ID, snapshot.RateCards[1].ID)

	var frozen map[string]any
	require.NoError(t, json.Unmarshal(snapshot.RateCards[0].RateDocument, &frozen))
	assert.Contains(t, frozen["services"], "base_order")

	// A later version leaves the issued snapshot untouched.
	f.clock.Advance(24 * time.Hour)
	newDoc, err := document.Parse([]byte(`{"services":{"base_order":{"type":"flat","rate":"9.00","unit":"order"}}}`))
	require.NoError(t, err)
	_, err = f.cards.CreateStandard(context.Background(), ratecarddomain.CreateStandardRequest{
		CustomerID:    f.customerID.String(),
		RateDocument:  newDoc,
		EffectiveFrom: testutil.Date(2025, 2, 1),
	})
	require.NoError(t, err)

	detail, err := f.svc.Get(context.Background(), issued.ID.String())
	require.NoError(t, err)
	assert.Equal(t, snapshot.RateCards, detail.Snapshot().RateCards)

	_, err = f.svc.Issue(context.Background(), issued.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidTransition)

	logs, err := f.audit.List(context.Background(), auditdomain.ListAuditLogRequest{Action: "invoice.issued"})
	require.NoError(t, err)
	assert.Len(t, logs.AuditLogs, 1)
}

func TestVoidDraftReleasesActivities(t *testing.T) {
	f := setup(t, minimumCard)
	activity := f.ingest(t, "base_order", 1, testutil.Date(2025, 1, 6))
	f.rateAll(t)
	draft := f.generate(t)

	voided, err := f.svc.Void(context.Background(), draft.ID.String(), "wrong customer setup")
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusVoid, voided.Status)
	require.NotNil(t, voided.StatusReason)
	assert.Equal(t, "wrong customer setup", *voided.StatusReason)

	stored, err := f.activities.Get(context.Background(), activity.ID.String())
	require.NoError(t, err)
	assert.False(t, stored.Invoiced)
	assert.Nil(t, stored.InvoiceID)

	// The released activity is billed again, and the void invoice does not
	// count toward the minimum.
	regenerated := f.generate(t)
	assert.NotEqual(t, draft.ID, regenerated.ID)
	assert.True(t, regenerated.Total.Equal(money("500")))
}

func TestLifecycleTransitions(t *testing.T) {
	f := setup(t, minimumCard)
	f.ingest(t, "base_order", 1, testutil.Date(2025, 1, 6))
	f.rateAll(t)
	draft := f.generate(t)
	ctx := context.Background()

	_, err := f.svc.MarkSent(ctx, draft.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidTransition)
	_, err = f.svc.Credit(ctx, draft.ID.String(), "")
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidTransition)

	_, err = f.svc.Issue(ctx, draft.ID.String())
	require.NoError(t, err)
	sent, err := f.svc.MarkSent(ctx, draft.ID.String())
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusSent, sent.Status)
	assert.NotNil(t, sent.SentAt)

	moved, err := f.svc.MarkOverdue(ctx, testutil.Date(2025, 3, 5))
	require.NoError(t, err)
	assert.Zero(t, moved)

	moved, err = f.svc.MarkOverdue(ctx, testutil.Date(2025, 3, 6))
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	credited, err := f.svc.Credit(ctx, draft.ID.String(), "goodwill")
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusCredited, credited.Status)
	assert.NotNil(t, credited.CreditedAt)

	_, err = f.svc.Void(ctx, draft.ID.String(), "")
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidTransition)

	_, err = f.svc.Void(ctx, f.node.Generate().String(), "")
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
}

func TestList_FiltersAndPaginates(t *testing.T) {
	f := setup(t, minimumCard)
	for day := 6; day <= 8; day++ {
		f.ingest(t, "base_order", 1, testutil.Date(2025, 1, day))
	}
	f.rateAll(t)
	ctx := context.Background()

	first := f.generate(t)
	_, err := f.svc.Void(ctx, first.ID.String(), "")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	second := f.generate(t)

	page, err := f.svc.List(ctx, invoicedomain.ListInvoiceRequest{CustomerID: f.customerID.String()})
	require.NoError(t, err)
	require.Len(t, page.Invoices, 2)
	assert.Equal(t, second.ID, page.Invoices[0].ID)

	req := invoicedomain.ListInvoiceRequest{CustomerID: f.customerID.String()}
	req.PageSize = 1
	page, err = f.svc.List(ctx, req)
	require.NoError(t, err)
	require.Len(t, page.Invoices, 1)
	assert.True(t, page.HasMore)

	req.PageToken = page.NextPageToken
	page, err = f.svc.List(ctx, req)
	require.NoError(t, err)
	require.Len(t, page.Invoices, 1)
	assert.Equal(t, first.ID, page.Invoices[0].ID)
	assert.False(t, page.HasMore)

	drafts, err := f.svc.List(ctx, invoicedomain.ListInvoiceRequest{Status: "draft"})
	require.NoError(t, err)
	require.Len(t, drafts.Invoices, 1)
	assert.Equal(t, second.ID, drafts.Invoices[0].ID)

	_, err = f.svc.List(ctx, invoicedomain.ListInvoiceRequest{Status: "pending"})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidStatus)
}
