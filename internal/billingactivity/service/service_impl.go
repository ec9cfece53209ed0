package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingactivitydomain "github.com/smallbiznis/logibill/internal/billingactivity/domain"
	billingcycledomain "github.com/smallbiznis/logibill/internal/billingcycle/domain"
	"github.com/smallbiznis/logibill/internal/clock"
	"github.com/smallbiznis/logibill/internal/config"
	obsmetrics "github.com/smallbiznis/logibill/internal/observability/metrics"
	"github.com/smallbiznis/logibill/internal/ratecard/document"
	"github.com/smallbiznis/logibill/internal/rateresolver"
	"github.com/smallbiznis/logibill/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxBatchSize = 1000

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       billingactivitydomain.Repository
	Resolver   rateresolver.Resolver
	Billing    *config.BillingConfigHolder `optional:"true"`
	ObsMetrics *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       billingactivitydomain.Repository
	resolver   rateresolver.Resolver
	billing    *config.BillingConfigHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) billingactivitydomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("billingactivity.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		resolver:   p.Resolver,
		billing:    p.Billing,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Ingest(ctx context.Context, req billingactivitydomain.IngestRequest) (*billingactivitydomain.IngestResult, error) {
	results, err := s.IngestBatch(ctx, []billingactivitydomain.IngestRequest{req})
	if err != nil {
		return nil, err
	}
	return &results[0], nil
}

// IngestBatch stores every activity in one transaction. Activities whose
// natural key already exists are reported as duplicates and leave the stored
// row untouched.
func (s *Service) IngestBatch(ctx context.Context, reqs []billingactivitydomain.IngestRequest) ([]billingactivitydomain.IngestResult, error) {
	if len(reqs) == 0 {
		return nil, billingactivitydomain.ErrEmptyBatch
	}
	if len(reqs) > maxBatchSize {
		return nil, billingactivitydomain.ErrBatchTooLarge
	}

	now := s.clock.Now().UTC()
	activities := make([]billingactivitydomain.BillingActivity, 0, len(reqs))
	for _, req := range reqs {
		activity, err := s.buildActivity(req, now)
		if err != nil {
			return nil, err
		}
		activities = append(activities, activity)
	}

	results := make([]billingactivitydomain.IngestResult, len(activities))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range activities {
			activity := activities[i]
			if err := s.assignCycle(ctx, tx, &activity, reqs[i].BillingCycle); err != nil {
				return err
			}

			inserted, err := s.repo.Insert(ctx, tx, &activity)
			if err != nil {
				return err
			}
			if inserted {
				results[i] = billingactivitydomain.IngestResult{
					Outcome:  billingactivitydomain.IngestOutcomeCreated,
					Activity: &activity,
				}
				continue
			}

			if activity.ReferenceID == nil {
				return errors.New("activity insert affected no rows")
			}
			stored, err := s.repo.FindByNaturalKey(ctx, tx, activity.CustomerID, *activity.ReferenceID, activity.ActivityDate, activity.Type)
			if err != nil {
				return err
			}
			if stored == nil {
				return errors.New("duplicate activity not found by natural key")
			}
			results[i] = billingactivitydomain.IngestResult{
				Outcome:  billingactivitydomain.IngestOutcomeDuplicate,
				Activity: stored,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, result := range results {
		s.obsMetrics.RecordActivityIngest(ctx, string(result.Outcome), string(result.Activity.BillingCycle))
		if result.Outcome == billingactivitydomain.IngestOutcomeDuplicate {
			s.log.Debug("duplicate activity ignored",
				zap.String("activity_id", result.Activity.ID.String()),
				zap.String("customer_id", result.Activity.CustomerID.String()),
			)
		}
	}
	return results, nil
}

func (s *Service) buildActivity(req billingactivitydomain.IngestRequest, now time.Time) (billingactivitydomain.BillingActivity, error) {
	customerID, err := parseID(req.CustomerID)
	if err != nil {
		return billingactivitydomain.BillingActivity{}, billingactivitydomain.ErrInvalidCustomer
	}
	if req.ActivityDate.IsZero() {
		return billingactivitydomain.BillingActivity{}, billingactivitydomain.ErrInvalidActivityDate
	}
	activityType := strings.TrimSpace(req.Type)
	if activityType == "" {
		return billingactivitydomain.BillingActivity{}, billingactivitydomain.ErrInvalidType
	}
	if !req.Quantity.IsPositive() || !document.FitsScale(req.Quantity, document.QuantityScale) {
		return billingactivitydomain.BillingActivity{}, billingactivitydomain.ErrInvalidQuantity
	}

	activity := billingactivitydomain.BillingActivity{
		ID:           s.genID.Generate(),
		CustomerID:   customerID,
		ActivityDate: billingcycledomain.Day(req.ActivityDate),
		Type:         activityType,
		Category:     strings.TrimSpace(req.Category),
		Description:  strings.TrimSpace(req.Description),
		Quantity:     req.Quantity,
		Unit:         strings.TrimSpace(req.Unit),
		RatingStatus: billingactivitydomain.RatingStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if zone := strings.TrimSpace(req.Zone); zone != "" {
		activity.Zone = &zone
	}
	if ref := strings.TrimSpace(req.ReferenceID); ref != "" {
		activity.ReferenceID = &ref
	}
	if len(req.Metadata) > 0 {
		activity.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if req.IsManualOverride {
		if !req.Amount.Valid {
			return billingactivitydomain.BillingActivity{}, billingactivitydomain.ErrInvalidOverride
		}
		if req.RateApplied.Valid && !document.FitsScale(req.RateApplied.Decimal, document.RateScale) {
			return billingactivitydomain.BillingActivity{}, billingactivitydomain.ErrInvalidOverride
		}
		activity.IsManualOverride = true
		activity.Amount = decimal.NewNullDecimal(document.RoundMoney(req.Amount.Decimal))
		activity.RateApplied = req.RateApplied
	} else if req.Amount.Valid || req.RateApplied.Valid {
		return billingactivitydomain.BillingActivity{}, billingactivitydomain.ErrInvalidOverride
	}
	return activity, nil
}

// assignCycle fixes the billing cycle and period bucket at ingestion. The
// cycle comes from the request, then the rate card override for the
// activity's category, then the configured default.
func (s *Service) assignCycle(ctx context.Context, tx *gorm.DB, activity *billingactivitydomain.BillingActivity, requested string) error {
	var cycle billingcycledomain.BillingCycle
	if strings.TrimSpace(requested) != "" {
		parsed, err := billingcycledomain.Parse(requested)
		if err != nil {
			return err
		}
		cycle = parsed
	}

	resolution, err := s.resolver.ResolveTx(ctx, tx, activity.CustomerID, activity.ActivityDate)
	switch {
	case err == nil:
		if svc, ok := resolution.Document.Service(activity.Type); ok {
			if activity.Category == "" {
				activity.Category = svc.Category
			}
			if activity.Description == "" {
				activity.Description = svc.Description
			}
			if activity.Unit == "" {
				activity.Unit = svc.Unit
			}
		}
		if cycle == "" {
			if override, ok := resolution.StandardCard.CycleFor(categoryOrType(activity)); ok {
				cycle = override
			} else if override, ok := resolution.StandardCard.CycleFor(activity.Type); ok {
				cycle = override
			}
		}
	case errors.Is(err, rateresolver.ErrNoRateCard):
		// Rating reports the missing card; ingestion still records the event.
	default:
		return err
	}

	// Without a card entry the type stands in for category and unit.
	// Rating prices with the card's unit once one covers the activity.
	if activity.Category == "" {
		activity.Category = activity.Type
	}
	if activity.Unit == "" {
		activity.Unit = activity.Type
	}
	if cycle == "" {
		cycle = s.defaultCycle()
	}

	activity.BillingCycle = cycle
	activity.BillingPeriodStart = cycle.PeriodStart(activity.ActivityDate)
	return nil
}

func (s *Service) defaultCycle() billingcycledomain.BillingCycle {
	cycle, err := billingcycledomain.Parse(s.billing.Get().DefaultBillingCycle)
	if err != nil {
		return billingcycledomain.BillingCycleMonthly
	}
	return cycle
}

func categoryOrType(activity *billingactivitydomain.BillingActivity) string {
	if activity.Category != "" {
		return activity.Category
	}
	return activity.Type
}

func (s *Service) Get(ctx context.Context, id string) (*billingactivitydomain.BillingActivity, error) {
	activityID, err := parseID(id)
	if err != nil {
		return nil, billingactivitydomain.ErrInvalidID
	}
	activity, err := s.repo.FindByID(ctx, s.db, activityID)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, billingactivitydomain.ErrNotFound
	}
	return activity, nil
}

func (s *Service) List(ctx context.Context, req billingactivitydomain.ListRequest) (billingactivitydomain.ListResponse, error) {
	filter := billingactivitydomain.ListFilter{From: req.From, To: req.To}

	if raw := strings.TrimSpace(req.CustomerID); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			return billingactivitydomain.ListResponse{}, billingactivitydomain.ErrInvalidCustomer
		}
		filter.CustomerID = &id
	}
	if raw := strings.TrimSpace(req.InvoiceID); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			return billingactivitydomain.ListResponse{}, billingactivitydomain.ErrInvalidID
		}
		filter.InvoiceID = &id
	}
	switch status := billingactivitydomain.RatingStatus(strings.TrimSpace(req.RatingStatus)); status {
	case "", billingactivitydomain.RatingStatusPending, billingactivitydomain.RatingStatusRated, billingactivitydomain.RatingStatusError:
		filter.RatingStatus = status
	default:
		return billingactivitydomain.ListResponse{}, billingactivitydomain.ErrInvalidStatus
	}

	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return billingactivitydomain.ListResponse{}, billingactivitydomain.ErrInvalidPageToken
		}
		activityDate, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return billingactivitydomain.ListResponse{}, billingactivitydomain.ErrInvalidPageToken
		}
		id, err := parseID(decoded.ID)
		if err != nil {
			return billingactivitydomain.ListResponse{}, billingactivitydomain.ErrInvalidPageToken
		}
		filter.Cursor = &billingactivitydomain.ActivityCursor{ID: id, ActivityDate: activityDate}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}
	filter.Limit = pageSize

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return billingactivitydomain.ListResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item *billingactivitydomain.BillingActivity) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.ActivityDate.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	activities := make([]billingactivitydomain.BillingActivity, 0, len(items))
	for _, item := range items {
		activities = append(activities, *item)
	}
	return billingactivitydomain.ListResponse{PageInfo: *pageInfo, Activities: activities}, nil
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, billingactivitydomain.ErrInvalidID
	}
	return id, nil
}
