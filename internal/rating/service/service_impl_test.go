package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingactivitydomain "github.com/smallbiznis/logibill/internal/billingactivity/domain"
	billingactivityrepo "github.com/smallbiznis/logibill/internal/billingactivity/repository"
	billingactivityservice "github.com/smallbiznis/logibill/internal/billingactivity/service"
	"github.com/smallbiznis/logibill/internal/config"
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

type fixture struct {
	db         *gorm.DB
	node       *snowflake.Node
	cards      ratecarddomain.Service
	activities billingactivitydomain.Service
	svc        ratingdomain.Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := testutil.NewClock(2025, time.March, 1)
	cardRepo := ratecardrepo.Provide()
	activityRepo := billingactivityrepo.Provide()
	resolver := rateresolver.New(rateresolver.Params{DB: db, Log: zap.NewNop(), Repo: cardRepo})
	billing := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())

	return &fixture{
		db:   db,
		node: node,
		cards: ratecardservice.NewService(ratecardservice.Params{
			DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: cardRepo,
		}),
		activities: billingactivityservice.NewService(billingactivityservice.Params{
			DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: activityRepo, Resolver: resolver, Billing: billing,
		}),
		svc: ratingservice.NewService(ratingservice.ServiceParam{
			DB: db, Log: zap.NewNop(), Clock: clk, ActivityRepo: activityRepo, Resolver: resolver, Billing: billing,
		}),
	}
}

func (f *fixture) standard(t *testing.T, customerID snowflake.ID, raw string, from time.Time) *ratecarddomain.RateCard {
	t.Helper()
	doc, err := document.Parse([]byte(raw))
	require.NoError(t, err)
	card, err := f.cards.CreateStandard(context.Background(), ratecarddomain.CreateStandardRequest{
		CustomerID:    customerID.String(),
		RateDocument:  doc,
		EffectiveFrom: from,
	})
	require.NoError(t, err)
	return card
}

func (f *fixture) adjustment(t *testing.T, parent *ratecarddomain.RateCard, raw string, from time.Time, to *time.Time) {
	t.Helper()
	doc, err := document.Parse([]byte(raw))
	require.NoError(t, err)
	_, err = f.cards.CreateAdjustment(context.Background(), ratecarddomain.CreateAdjustmentRequest{
		CustomerID:    parent.CustomerID.String(),
		ParentID:      parent.ID.String(),
		RateDocument:  doc,
		EffectiveFrom: from,
		ExpiresAt:     to,
	})
	require.NoError(t, err)
}

func (f *fixture) ingest(t *testing.T, req billingactivitydomain.IngestRequest) *billingactivitydomain.BillingActivity {
	t.Helper()
	if req.Unit == "" {
		req.Unit = "order"
	}
	res, err := f.activities.Ingest(context.Background(), req)
	require.NoError(t, err)
	return res.Activity
}

func (f *fixture) rate(t *testing.T, activity *billingactivitydomain.BillingActivity) *ratingdomain.ActivityResult {
	t.Helper()
	res, err := f.svc.RateActivity(context.Background(), activity.ID.String())
	require.NoError(t, err)
	return res
}

const flatV1 = `{"services":{"base_order":{"type":"flat","rate":"2.00","unit":"order"}}}`

func TestRating_FlatRate(t *testing.T) {
	f := setup(t)
	customerID := f.node.Generate()
	card := f.standard(t, customerID, flatV1, testutil.Date(2025, 1, 1))

	activity := f.ingest(t, billingactivitydomain.IngestRequest{
		CustomerID: customerID.String(), ActivityDate: testutil.Date(2025, 1, 15), Type: "base_order", Quantity: decimal.NewFromInt(1),
	})
	res := f.rate(t, activity)

	assert.Equal(t, ratingdomain.OutcomeRated, res.Outcome)
	assert.True(t, res.Activity.Amount.Decimal.Equal(decimal.RequireFromString("2.00")))
	assert.True(t, res.Activity.RateApplied.Decimal.Equal(decimal.RequireFromString("2.00")))
	require.NotNil(t, res.Activity.RateCardID)
	assert.Equal(t, card.ID, *res.Activity.RateCardID)
	assert.Equal(t, billingactivitydomain.RatingStatusRated, res.Activity.RatingStatus)
}

func TestRating_HistoricalVersion(t *testing.T) {
	f := setup(t)
	customerID := f.node.Generate()
	v1 := f.standard(t, customerID, flatV1, testutil.Date(2025, 1, 1))
	f.standard(t, customerID, `{"services":{"base_order":{"type":"flat","rate":"2.50","unit":"order"}}}`, testutil.Date(2025, 2, 1))

	january := f.ingest(t, billingactivitydomain.IngestRequest{
		CustomerID: customerID.String(), ActivityDate: testutil.Date(2025, 1, 20), Type: "base_order", Quantity: decimal.NewFromInt(1),
	})
	february := f.ingest(t, billingactivitydomain.IngestRequest{
		CustomerID: customerID.String(), ActivityDate: testutil.Date(2025, 2, 3), Type: "base_order", Quantity: decimal.NewFromInt(2),
	})

	result, err := f.svc.Run(context.Background(), ratingdomain.RunRequest{CustomerID: customerID.String()})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Rated)

	stored := f.reload(t, january.ID)
	assert.True(t, stored.Amount.Decimal.Equal(decimal.RequireFromString("2.00")))
	assert.Equal(t, v1.ID, *stored.RateCardID)

	stored = f.reload(t, february.ID)
	assert.True(t, stored.Amount.Decimal.Equal(decimal.RequireFromString("5.00")))
}

func TestRating_AdjustmentWindow(t *testing.T) {
	f := setup(t)
	customerID := f.node.Generate()
	v1 := f.standard(t, customerID, flatV1, testutil.Date(2025, 1, 1))
	to := testutil.Date(2025, 1, 20)
	f.adjustment(t, v1, `{"services":{"base_order":{"type":"flat","rate":"1.50","unit":"order"}}}`, testutil.Date(2025, 1, 10), &to)

	inside := f.ingest(t, billingactivitydomain.IngestRequest{
		CustomerID: customerID.String(), ActivityDate: testutil.Date(2025, 1, 15), Type: "base_order", Quantity: decimal.NewFromInt(1),
	})
	after := f.ingest(t, billingactivitydomain.IngestRequest{
		CustomerID: customerID.String(), ActivityDate: testutil.Date(2025, 1, 25), Type: "base_order", Quantity: decimal.NewFromInt(1),
	})

	assert.True(t, f.rate(t, inside).Activity.Amount.Decimal.Equal(decimal.RequireFromString("1.50")))
	res := f.rate(t, after)
	assert.True(t, res.Activity.Amount.Decimal.Equal(decimal.RequireFromString("2.00")))
	assert.Equal(t, v1.ID, *res.Activity.RateCardID)
}

func TestRating_TieredAndZonedAndPercent(t *testing.T) {
	f := setup(t)
	customerID := f.node.Generate()
	f.standard(t, customerID, `{"services":{
		"pick":{"type":"tiered","unit":"line","tiers":[{"min":"0","max":"100","rate":"5"},{"min":"100","rate":"3"}]},
		"parcel":{"type":"zoned","unit":"parcel","zones":{"A":[{"min":"0","rate":"4.10"}],"B":[{"min":"0","rate":"6.35"}]}},
		"insurance":{"type":"flat","unit":"percent","rate":"1.5"}}}`, testutil.Date(2025, 1, 1))

	tiered := f.ingest(t, billingactivitydomain.IngestRequest{
		CustomerID: customerID.String(), ActivityDate: testutil.Date(2025, 1, 5), Type: "pick", Quantity: decimal.NewFromInt(150), Unit: "line",
	})
	res := f.rate(t, tiered)
	assert.True(t, res.Activity.RateApplied.Decimal.Equal(decimal.NewFromInt(3)), "rate %s", res.Activity.RateApplied.Decimal)
	assert.True(t, res.Activity.Amount.Decimal.Equal(decimal.NewFromInt(450)))

	zoned := f.ingest(t, billingactivitydomain.IngestRequest{
		CustomerID: customerID.String(), ActivityDate: testutil.Date(2025, 1, 5), Type: "parcel", Quantity: decimal.NewFromInt(3), Unit: "parcel", Zone: "B",
	})
	res = f.rate(t, zoned)
	assert.True(t, res.Activity.Amount.Decimal.Equal(decimal.RequireFromString("19.05")))

	percent := f.ingest(t, billingactivitydomain.IngestRequest{
		CustomerID: customerID.String(), ActivityDate: testutil.Date(2025, 1, 5), Type: "insurance", Quantity: decimal.RequireFromString("1234.50"), Unit: "percent",
	})
	res = f.rate(t, percent)
	// 1234.50 * 1.5 / 100 = 18.5175
	assert.True(t, res.Activity.Amount.Decimal.Equal(decimal.RequireFromString("18.52")), "amount %s", res.Activity.Amount.Decimal)
}

func TestRating_ConfigurationErrorsParkActivity(t *testing.T) {
	f := setup(t)
	customerID := f.node.Generate()
	f.standard(t, customerID, `{"services":{
		"parcel":{"type":"zoned","unit":"parcel","zones":{"A":[{"min":"0","rate":"4.10"}]}}}}`, testutil.Date(2025, 1, 1))

	tests := []struct {
		name string
		req  billingactivitydomain.IngestRequest
		want string
	}{
		{
			name: "no rate card",
			req:  billingactivitydomain.IngestRequest{CustomerID: customerID.String(), ActivityDate: testutil.Date(2024, 12, 31), Type: "parcel", Unit: "parcel", Quantity: decimal.NewFromInt(1)},
			want: rateresolver.ErrNoRateCard.Error(),
		},
		{
			name: "unknown zone",
			req:  billingactivitydomain.IngestRequest{CustomerID: customerID.String(), ActivityDate: testutil.Date(2025, 1, 2), Type: "parcel", Unit: "parcel", Zone: "Z", Quantity: decimal.NewFromInt(1)},
			want: document.ErrUnknownZone.Error(),
		},
		{
			name: "unknown service",
			req:  billingactivitydomain.IngestRequest{CustomerID: customerID.String(), ActivityDate: testutil.Date(2025, 1, 2), Type: "kitting", Unit: "kit", Quantity: decimal.NewFromInt(1)},
			want: document.ErrUnknownService.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			activity := f.ingest(t, tt.req)
			res := f.rate(t, activity)
			assert.Equal(t, ratingdomain.OutcomeFailed, res.Outcome)
			assert.Contains(t, res.Error, tt.want)
			assert.Equal(t, billingactivitydomain.RatingStatusError, res.Activity.RatingStatus)
			assert.False(t, res.Activity.Amount.Valid)
			assert.Nil(t, res.Activity.RateCardID)
		})
	}

	errored, err := f.svc.ListErrors(context.Background(), ratingdomain.ListErrorsRequest{CustomerID: customerID.String()})
	require.NoError(t, err)
	assert.Len(t, errored, 3)

	// Errored activities are not retried by a run.
	result, err := f.svc.Run(context.Background(), ratingdomain.RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Rated+result.Failed)
}

func TestRating_RequeueAfterFix(t *testing.T) {
	f := setup(t)
	customerID := f.node.Generate()

	activity := f.ingest(t, billingactivitydomain.IngestRequest{
		CustomerID: customerID.String(), ActivityDate: testutil.Date(2025, 1, 15), Type: "base_order", Quantity: decimal.NewFromInt(1),
	})
	assert.Equal(t, ratingdomain.OutcomeFailed, f.rate(t, activity).Outcome)

	_, err := f.svc.Requeue(context.Background(), activity.ID.String())
	require.NoError(t, err)
	_, err = f.svc.Requeue(context.Background(), activity.ID.String())
	assert.ErrorIs(t, err, ratingdomain.ErrNotRequeueable)

	f.standard(t, customerID, flatV1, testutil.Date(2025, 1, 1))
	result, err := f.svc.Run(context.Background(), ratingdomain.RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rated)
	assert.True(t, f.reload(t, activity.ID).Amount.Decimal.Equal(decimal.NewFromInt(2)))
}

func TestRating_IsIdempotent(t *testing.T) {
	f := setup(t)
	customerID := f.node.Generate()
	f.standard(t, customerID, flatV1, testutil.Date(2025, 1, 1))

	activity := f.ingest(t, billingactivitydomain.IngestRequest{
		CustomerID: customerID.String(), ActivityDate: testutil.Date(2025, 1, 15), Type: "base_order", Quantity: decimal.NewFromInt(4),
	})
	first := f.rate(t, activity)
	require.Equal(t, ratingdomain.OutcomeRated, first.Outcome)

	// A later version must not change what was already rated.
	f.standard(t, customerID, `{"services":{"base_order":{"type":"flat","rate":"9.99","unit":"order"}}}`, testutil.Date(2025, 1, 2))

	second := f.rate(t, activity)
	assert.Equal(t, ratingdomain.OutcomeSkipped, second.Outcome)
	assert.True(t, first.Activity.Amount.Decimal.Equal(second.Activity.Amount.Decimal))
	assert.True(t, first.Activity.RateApplied.Decimal.Equal(second.Activity.RateApplied.Decimal))
}

func TestRating_ManualOverrideKeepsCallerValues(t *testing.T) {
	f := setup(t)
	customerID := f.node.Generate()
	f.standard(t, customerID, flatV1, testutil.Date(2025, 1, 1))

	activity := f.ingest(t, billingactivitydomain.IngestRequest{
		CustomerID:       customerID.String(),
		ActivityDate:     testutil.Date(2025, 1, 15),
		Type:             "base_order",
		Quantity:         decimal.NewFromInt(1),
		IsManualOverride: true,
		RateApplied:      decimal.NewNullDecimal(decimal.RequireFromString("0.75")),
		Amount:           decimal.NewNullDecimal(decimal.RequireFromString("0.75")),
	})
	res := f.rate(t, activity)

	assert.Equal(t, ratingdomain.OutcomeRated, res.Outcome)
	assert.True(t, res.Activity.Amount.Decimal.Equal(decimal.RequireFromString("0.75")))
	assert.Nil(t, res.Activity.RateCardID)
}

func TestRating_RunAcrossCustomers(t *testing.T) {
	f := setup(t)

	const customers = 6
	const perCustomer = 7
	for i := 0; i < customers; i++ {
		customerID := f.node.Generate()
		f.standard(t, customerID, flatV1, testutil.Date(2025, 1, 1))
		for j := 0; j < perCustomer; j++ {
			f.ingest(t, billingactivitydomain.IngestRequest{
				CustomerID: customerID.String(), ActivityDate: testutil.Date(2025, 1, j+1), Type: "base_order", Quantity: decimal.NewFromInt(1),
			})
		}
	}

	result, err := f.svc.Run(context.Background(), ratingdomain.RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, customers, result.Customers)
	assert.Equal(t, customers*perCustomer, result.Rated)

	var pending int64
	require.NoError(t, f.db.Model(&billingactivitydomain.BillingActivity{}).
		Where("rating_status = ?", billingactivitydomain.RatingStatusPending).Count(&pending).Error)
	assert.Zero(t, pending)

	again, err := f.svc.Run(context.Background(), ratingdomain.RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Customers)
}

func TestRating_RunHonorsLimit(t *testing.T) {
	f := setup(t)
	customerID := f.node.Generate()
	f.standard(t, customerID, flatV1, testutil.Date(2025, 1, 1))
	for day := 1; day <= 5; day++ {
		f.ingest(t, billingactivitydomain.IngestRequest{
			CustomerID: customerID.String(), ActivityDate: testutil.Date(2025, 1, day), Type: "base_order", Quantity: decimal.NewFromInt(1),
		})
	}

	result, err := f.svc.Run(context.Background(), ratingdomain.RunRequest{Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Rated)
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) *billingactivitydomain.BillingActivity {
	t.Helper()
	activity, err := f.activities.Get(context.Background(), id.String())
	require.NoError(t, err)
	return activity
}
