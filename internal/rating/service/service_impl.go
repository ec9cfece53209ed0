package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	billingactivitydomain "github.com/smallbiznis/logibill/internal/billingactivity/domain"
	"github.com/smallbiznis/logibill/internal/clock"
	"github.com/smallbiznis/logibill/internal/config"
	obslogger "github.com/smallbiznis/logibill/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/logibill/internal/observability/metrics"
	"github.com/smallbiznis/logibill/internal/ratecard/document"
	ratingdomain "github.com/smallbiznis/logibill/internal/rating/domain"
	"github.com/smallbiznis/logibill/internal/rateresolver"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	ActivityRepo billingactivitydomain.Repository
	Resolver     rateresolver.Resolver
	Billing      *config.BillingConfigHolder `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	clock        clock.Clock
	activityRepo billingactivitydomain.Repository
	resolver     rateresolver.Resolver
	billing      *config.BillingConfigHolder
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p ServiceParam) ratingdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("rating.service"),

		clock:        p.Clock,
		activityRepo: p.ActivityRepo,
		resolver:     p.Resolver,
		billing:      p.Billing,
		obsMetrics:   p.ObsMetrics,
	}
}

func (s *Service) RateActivity(ctx context.Context, id string) (*ratingdomain.ActivityResult, error) {
	activityID, err := parseID(id)
	if err != nil {
		return nil, ratingdomain.ErrInvalidID
	}
	activity, err := s.activityRepo.FindByID(ctx, s.db, activityID)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ratingdomain.ErrNotFound
	}

	outcome, reason, err := s.rate(ctx, *activity)
	if err != nil {
		return nil, err
	}
	s.recordOutcomes(ctx, outcomeCounts{outcome: 1})

	stored, err := s.activityRepo.FindByID(ctx, s.db, activityID)
	if err != nil {
		return nil, err
	}
	return &ratingdomain.ActivityResult{Outcome: outcome, Error: reason, Activity: stored}, nil
}

// Run rates pending activities. Customers are rated in parallel up to the
// configured concurrency; each customer's activities are rated in order.
func (s *Service) Run(ctx context.Context, req ratingdomain.RunRequest) (ratingdomain.RunResult, error) {
	var only *snowflake.ID
	if raw := strings.TrimSpace(req.CustomerID); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			return ratingdomain.RunResult{}, ratingdomain.ErrInvalidCustomer
		}
		only = &id
	}

	customers, err := s.activityRepo.ListPendingCustomers(ctx, s.db, only, 0)
	if err != nil {
		return ratingdomain.RunResult{}, err
	}

	cfg := s.billing.Get()
	var (
		mu     sync.Mutex
		totals = outcomeCounts{}
	)

	concurrency := max(cfg.RatingConcurrency, 1)
	batchSize := cfg.RatingBatchSize
	if batchSize <= 0 {
		batchSize = config.DefaultBillingConfig().RatingBatchSize
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, customerID := range customers {
		g.Go(func() error {
			counts, err := s.rateCustomer(gctx, customerID, req.Limit, batchSize)
			mu.Lock()
			totals.add(counts)
			mu.Unlock()
			if err != nil {
				obslogger.ForCustomer(gctx, s.log, customerID.String()).Error("rating run failed for customer", zap.Error(err))
			}
			return err
		})
	}
	err = g.Wait()

	s.recordOutcomes(ctx, totals)
	result := ratingdomain.RunResult{
		Customers: len(customers),
		Rated:     totals[ratingdomain.OutcomeRated],
		Failed:    totals[ratingdomain.OutcomeFailed],
		Skipped:   totals[ratingdomain.OutcomeSkipped],
	}
	s.log.Info("rating run finished",
		zap.Int("customers", result.Customers),
		zap.Int("rated", result.Rated),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
	)
	return result, err
}

func (s *Service) rateCustomer(ctx context.Context, customerID snowflake.ID, limit, batchSize int) (outcomeCounts, error) {
	counts := outcomeCounts{}
	processed := 0
	for {
		size := batchSize
		if limit > 0 && limit-processed < size {
			size = limit - processed
		}
		if size <= 0 {
			return counts, nil
		}

		batch, err := s.activityRepo.ListPendingForCustomer(ctx, s.db, customerID, size)
		if err != nil {
			return counts, err
		}

		progressed := false
		for _, activity := range batch {
			if err := ctx.Err(); err != nil {
				return counts, err
			}
			outcome, _, err := s.rate(ctx, activity)
			if err != nil {
				return counts, err
			}
			counts[outcome]++
			processed++
			if outcome != ratingdomain.OutcomeSkipped {
				progressed = true
			}
		}

		if len(batch) < size || !progressed {
			return counts, nil
		}
	}
}

// rate prices one activity against the rate document in effect on its
// activity date. Configuration errors park the activity in the error state
// and are not returned.
func (s *Service) rate(ctx context.Context, activity billingactivitydomain.BillingActivity) (ratingdomain.Outcome, string, error) {
	if activity.RatingStatus != billingactivitydomain.RatingStatusPending || activity.RateCardID != nil {
		return ratingdomain.OutcomeSkipped, "", nil
	}

	now := s.clock.Now().UTC()
	if activity.IsManualOverride {
		ok, err := s.activityRepo.MarkManualOverride(ctx, s.db, activity.ID, now)
		if err != nil {
			return "", "", err
		}
		if !ok {
			return ratingdomain.OutcomeSkipped, "", nil
		}
		return ratingdomain.OutcomeRated, "", nil
	}

	resolution, err := s.resolver.Resolve(ctx, activity.CustomerID, activity.ActivityDate)
	if err != nil {
		return s.fail(ctx, activity, err, now)
	}

	rate, err := resolution.Document.RateFor(activity.Type, activity.Quantity, activity.ZoneValue())
	if err != nil {
		return s.fail(ctx, activity, err, now)
	}

	unit := activity.Unit
	if svc, ok := resolution.Document.Service(activity.Type); ok && svc.Unit != "" {
		unit = svc.Unit
	}
	amount := document.Price(unit, activity.Quantity, rate)

	ok, err := s.activityRepo.MarkRated(ctx, s.db, billingactivitydomain.RatingUpdate{
		ID:          activity.ID,
		RateCardID:  resolution.StandardCard.ID,
		RateApplied: rate,
		Amount:      amount,
		RatedAt:     now,
	})
	if err != nil {
		return "", "", err
	}
	if !ok {
		return ratingdomain.OutcomeSkipped, "", nil
	}
	return ratingdomain.OutcomeRated, "", nil
}

func (s *Service) fail(ctx context.Context, activity billingactivitydomain.BillingActivity, cause error, now time.Time) (ratingdomain.Outcome, string, error) {
	if !ratingdomain.IsConfigurationError(cause) {
		return "", "", cause
	}

	reason := cause.Error()
	ok, err := s.activityRepo.MarkError(ctx, s.db, activity.ID, reason, now)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return ratingdomain.OutcomeSkipped, "", nil
	}
	obslogger.ForCustomer(ctx, s.log, activity.CustomerID.String()).Warn("activity could not be rated",
		zap.String("activity_id", activity.ID.String()),
		zap.String("type", activity.Type),
		zap.Error(cause),
	)
	return ratingdomain.OutcomeFailed, reason, nil
}

func (s *Service) ListErrors(ctx context.Context, req ratingdomain.ListErrorsRequest) ([]billingactivitydomain.BillingActivity, error) {
	filter := billingactivitydomain.ListFilter{RatingStatus: billingactivitydomain.RatingStatusError}
	if raw := strings.TrimSpace(req.CustomerID); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			return nil, ratingdomain.ErrInvalidCustomer
		}
		filter.CustomerID = &id
	}
	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	filter.Limit = limit

	items, err := s.activityRepo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]billingactivitydomain.BillingActivity, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out, nil
}

// Requeue moves an errored activity back to pending once its pricing setup
// has been fixed.
func (s *Service) Requeue(ctx context.Context, id string) (*billingactivitydomain.BillingActivity, error) {
	activityID, err := parseID(id)
	if err != nil {
		return nil, ratingdomain.ErrInvalidID
	}
	ok, err := s.activityRepo.Requeue(ctx, s.db, activityID, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}

	activity, err := s.activityRepo.FindByID(ctx, s.db, activityID)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ratingdomain.ErrNotFound
	}
	if !ok {
		return nil, ratingdomain.ErrNotRequeueable
	}
	return activity, nil
}

type outcomeCounts map[ratingdomain.Outcome]int

func (c outcomeCounts) add(other outcomeCounts) {
	for outcome, n := range other {
		c[outcome] += n
	}
}

func (s *Service) recordOutcomes(ctx context.Context, counts outcomeCounts) {
	s.obsMetrics.RecordRatingOutcomes(ctx,
		counts[ratingdomain.OutcomeRated],
		counts[ratingdomain.OutcomeFailed],
		counts[ratingdomain.OutcomeSkipped],
	)
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, errors.New("zero id")
	}
	return id, nil
}
