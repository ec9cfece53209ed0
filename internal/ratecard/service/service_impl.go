package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/logibill/internal/audit/domain"
	billingcycledomain "github.com/smallbiznis/logibill/internal/billingcycle/domain"
	"github.com/smallbiznis/logibill/internal/clock"
	"github.com/smallbiznis/logibill/internal/ratecard/document"
	ratecarddomain "github.com/smallbiznis/logibill/internal/ratecard/domain"
	"github.com/smallbiznis/logibill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     ratecarddomain.Repository
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     ratecarddomain.Repository
	auditSvc auditdomain.Service
}

func NewService(p Params) ratecarddomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("ratecard.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) CreateStandard(ctx context.Context, req ratecarddomain.CreateStandardRequest) (*ratecarddomain.RateCard, error) {
	customerID, err := parseID(req.CustomerID)
	if err != nil {
		return nil, ratecarddomain.ErrInvalidCustomer
	}
	if req.EffectiveFrom.IsZero() {
		return nil, ratecarddomain.ErrInvalidEffectiveFrom
	}
	if len(req.RateDocument.Services) == 0 {
		return nil, fmt.Errorf("%w: standard card requires at least one service", document.ErrInvalidDocument)
	}
	if err := req.RateDocument.Validate(); err != nil {
		return nil, err
	}
	if req.MinimumPeriodCharge.Valid && req.MinimumPeriodCharge.Decimal.IsNegative() {
		return nil, ratecarddomain.ErrInvalidMinimum
	}
	overrides, err := normalizeOverrides(req.BillingCycleOverrides)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	effectiveFrom := req.EffectiveFrom.UTC()
	card := ratecarddomain.RateCard{
		ID:                    s.genID.Generate(),
		CustomerID:            customerID,
		Name:                  strings.TrimSpace(req.Name),
		RateCardType:          ratecarddomain.RateCardTypeStandard,
		Version:               1,
		EffectiveFrom:         effectiveFrom,
		RateDocument:          datatypes.NewJSONType(req.RateDocument.Clone()),
		BillingCycleOverrides: datatypes.NewJSONType(overrides),
		MinimumPeriodCharge:   req.MinimumPeriodCharge,
		IsActive:              true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	var superseded *ratecarddomain.RateCard
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		active, err := s.repo.FindActiveStandardForUpdate(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if active != nil {
			if !effectiveFrom.After(active.EffectiveFrom) {
				return ratecarddomain.ErrConflict
			}
			ok, err := s.repo.Supersede(ctx, tx, active.ID, effectiveFrom, now)
			if err != nil {
				return err
			}
			if !ok {
				return ratecarddomain.ErrDuplicateActiveCard
			}
			prevID := active.ID
			card.SupersedesID = &prevID
			card.Version = active.Version + 1
			superseded = active
		}
		if card.Name == "" {
			card.Name = fmt.Sprintf("Rate card v%d", card.Version)
		}

		if err := s.repo.Insert(ctx, tx, &card); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return ratecarddomain.ErrDuplicateActiveCard
			}
			return err
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ratecarddomain.ErrConflict) && db.IsDuplicateKeyErr(err) {
			return nil, ratecarddomain.ErrDuplicateActiveCard
		}
		return nil, err
	}

	metadata := map[string]any{
		"customer_id":    customerID.String(),
		"version":        card.Version,
		"effective_from": card.EffectiveFrom.Format(time.RFC3339),
	}
	if superseded != nil {
		metadata["supersedes_id"] = superseded.ID.String()
	}
	s.emitAudit(ctx, "rate_card.created", &card, metadata)
	return &card, nil
}

func (s *Service) CreateAdjustment(ctx context.Context, req ratecarddomain.CreateAdjustmentRequest) (*ratecarddomain.RateCard, error) {
	customerID, err := parseID(req.CustomerID)
	if err != nil {
		return nil, ratecarddomain.ErrInvalidCustomer
	}
	parentID, err := parseID(req.ParentID)
	if err != nil {
		return nil, ratecarddomain.ErrInvalidParent
	}
	if req.EffectiveFrom.IsZero() {
		return nil, ratecarddomain.ErrInvalidEffectiveFrom
	}
	effectiveFrom := req.EffectiveFrom.UTC()
	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		value := req.ExpiresAt.UTC()
		if !effectiveFrom.Before(value) {
			return nil, ratecarddomain.ErrInvalidWindow
		}
		expiresAt = &value
	}
	if len(req.RateDocument.Services) == 0 && len(req.RateDocument.Minimums) == 0 && len(req.RateDocument.Surcharges) == 0 {
		return nil, document.ErrInvalidDocument
	}
	if err := req.RateDocument.Validate(); err != nil {
		return nil, err
	}

	parent, err := s.repo.FindByID(ctx, s.db, parentID)
	if err != nil {
		return nil, err
	}
	if parent == nil || !parent.IsStandard() || parent.IsArchived() || parent.CustomerID != customerID {
		return nil, ratecarddomain.ErrInvalidParent
	}

	now := s.clock.Now().UTC()
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("Adjustment to %s", parent.Name)
	}
	card := ratecarddomain.RateCard{
		ID:                    s.genID.Generate(),
		CustomerID:            customerID,
		Name:                  name,
		RateCardType:          ratecarddomain.RateCardTypeAdjustment,
		Version:               1,
		ParentID:              &parentID,
		EffectiveFrom:         effectiveFrom,
		ExpiresAt:             expiresAt,
		RateDocument:          datatypes.NewJSONType(req.RateDocument.Clone()),
		BillingCycleOverrides: datatypes.NewJSONType(ratecarddomain.CycleOverrides{}),
		IsActive:              true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.repo.Insert(ctx, s.db, &card); err != nil {
		return nil, err
	}

	s.emitAudit(ctx, "rate_card.adjustment_created", &card, map[string]any{
		"customer_id": customerID.String(),
		"parent_id":   parentID.String(),
		"services":    req.RateDocument.ServiceCodes(),
	})
	return &card, nil
}

func (s *Service) Get(ctx context.Context, id string) (*ratecarddomain.RateCard, error) {
	cardID, err := parseID(id)
	if err != nil {
		return nil, ratecarddomain.ErrInvalidID
	}
	card, err := s.repo.FindByID(ctx, s.db, cardID)
	if err != nil {
		return nil, err
	}
	if card == nil {
		return nil, ratecarddomain.ErrNotFound
	}
	return card, nil
}

func (s *Service) List(ctx context.Context, req ratecarddomain.ListRequest) ([]ratecarddomain.RateCard, error) {
	customerID, err := parseID(req.CustomerID)
	if err != nil {
		return nil, ratecarddomain.ErrInvalidCustomer
	}
	cardType := ratecarddomain.RateCardType(strings.TrimSpace(req.RateCardType))
	switch cardType {
	case "", ratecarddomain.RateCardTypeStandard, ratecarddomain.RateCardTypeAdjustment:
	default:
		return nil, ratecarddomain.ErrInvalidType
	}
	return s.repo.List(ctx, s.db, ratecarddomain.ListFilter{
		CustomerID:      customerID,
		RateCardType:    cardType,
		IncludeArchived: req.IncludeArchived,
	})
}

// Current returns the standard card whose window contains the current time.
func (s *Service) Current(ctx context.Context, customerID string) (*ratecarddomain.RateCard, error) {
	id, err := parseID(customerID)
	if err != nil {
		return nil, ratecarddomain.ErrInvalidCustomer
	}
	card, err := s.repo.FindStandardEffectiveAt(ctx, s.db, id, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	if card == nil {
		return nil, ratecarddomain.ErrNoActiveCard
	}
	return card, nil
}

// CurrentInLineage walks from the lineage root forward through successors and
// returns the card that is current for that lineage.
func (s *Service) CurrentInLineage(ctx context.Context, id string) (*ratecarddomain.RateCard, error) {
	chain, err := s.ResolveLineage(ctx, id)
	if err != nil {
		return nil, err
	}
	if !chain[len(chain)-1].IsStandard() {
		return nil, ratecarddomain.ErrInvalidType
	}

	now := s.clock.Now().UTC()
	visited := map[snowflake.ID]struct{}{}
	candidates := []ratecarddomain.RateCard{}
	frontier := []ratecarddomain.RateCard{chain[0]}
	for hops := 0; len(frontier) > 0; hops++ {
		if hops > ratecarddomain.MaxLineageHops {
			return nil, ratecarddomain.ErrLineageCycle
		}
		next := []ratecarddomain.RateCard{}
		for _, card := range frontier {
			if _, seen := visited[card.ID]; seen {
				return nil, ratecarddomain.ErrLineageCycle
			}
			visited[card.ID] = struct{}{}
			candidates = append(candidates, card)

			successors, err := s.repo.ListSuccessors(ctx, s.db, card.ID)
			if err != nil {
				return nil, err
			}
			next = append(next, successors...)
		}
		frontier = next
	}

	current := pickCurrent(candidates, now)
	if current == nil {
		return nil, ratecarddomain.ErrNoActiveCard
	}
	return current, nil
}

// pickCurrent prefers open-ended cards, then cards whose window has not
// yet closed. Within a group the highest version wins, then the later
// effective_from.
func pickCurrent(cards []ratecarddomain.RateCard, now time.Time) *ratecarddomain.RateCard {
	var open, live []ratecarddomain.RateCard
	for _, card := range cards {
		if card.IsArchived() {
			continue
		}
		switch {
		case card.ExpiresAt == nil:
			open = append(open, card)
		case card.ExpiresAt.After(now):
			live = append(live, card)
		}
	}
	for _, group := range [][]ratecarddomain.RateCard{open, live} {
		if len(group) == 0 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Version != group[j].Version {
				return group[i].Version > group[j].Version
			}
			return group[i].EffectiveFrom.After(group[j].EffectiveFrom)
		})
		card := group[0]
		return &card
	}
	return nil
}

// ResolveLineage returns the chain root → ... → id by walking supersedes_id.
func (s *Service) ResolveLineage(ctx context.Context, id string) ([]ratecarddomain.RateCard, error) {
	cardID, err := parseID(id)
	if err != nil {
		return nil, ratecarddomain.ErrInvalidID
	}

	card, err := s.repo.FindByID(ctx, s.db, cardID)
	if err != nil {
		return nil, err
	}
	if card == nil {
		return nil, ratecarddomain.ErrNotFound
	}

	chain := []ratecarddomain.RateCard{*card}
	visited := map[snowflake.ID]struct{}{card.ID: {}}
	for card.SupersedesID != nil {
		if len(chain) > ratecarddomain.MaxLineageHops {
			return nil, ratecarddomain.ErrLineageCycle
		}
		prevID := *card.SupersedesID
		if _, seen := visited[prevID]; seen {
			return nil, ratecarddomain.ErrLineageCycle
		}
		visited[prevID] = struct{}{}

		prev, err := s.repo.FindByID(ctx, s.db, prevID)
		if err != nil {
			return nil, err
		}
		if prev == nil {
			s.log.Warn("lineage points at missing card",
				zap.String("rate_card_id", card.ID.String()),
				zap.String("supersedes_id", prevID.String()),
			)
			break
		}
		chain = append(chain, *prev)
		card = prev
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func (s *Service) Archive(ctx context.Context, id string, reason string) (*ratecarddomain.RateCard, error) {
	cardID, err := parseID(id)
	if err != nil {
		return nil, ratecarddomain.ErrInvalidID
	}
	reason = strings.TrimSpace(reason)

	var archived *ratecarddomain.RateCard
	var changed bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := s.repo.FindByIDForUpdate(ctx, tx, cardID)
		if err != nil {
			return err
		}
		if card == nil {
			return ratecarddomain.ErrNotFound
		}
		if card.IsArchived() {
			archived = card
			return nil
		}

		if card.IsStandard() && card.IsActive {
			outstanding, err := s.repo.CountOutstandingActivities(ctx, tx, card)
			if err != nil {
				return err
			}
			if outstanding > 0 {
				return ratecarddomain.ErrOutstandingActivities
			}
		}

		now := s.clock.Now().UTC()
		if err := s.repo.Archive(ctx, tx, card.ID, reason, now); err != nil {
			return err
		}
		card.IsActive = false
		card.ArchivedAt = &now
		card.UpdatedAt = now
		if reason != "" {
			card.ArchiveReason = &reason
		}
		archived = card
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		metadata := map[string]any{"customer_id": archived.CustomerID.String()}
		if reason != "" {
			metadata["reason"] = reason
		}
		s.emitAudit(ctx, "rate_card.archived", archived, metadata)
	}
	return archived, nil
}

func (s *Service) CreateContract(ctx context.Context, req ratecarddomain.CreateContractRequest) (*ratecarddomain.Contract, error) {
	customerID, err := parseID(req.CustomerID)
	if err != nil {
		return nil, ratecarddomain.ErrInvalidCustomer
	}
	reference := strings.TrimSpace(req.Reference)
	code := slug.Make(reference)
	if code == "" {
		return nil, ratecarddomain.ErrInvalidReference
	}

	contract := ratecarddomain.Contract{
		ID:         s.genID.Generate(),
		CustomerID: customerID,
		Code:       code,
		Reference:  reference,
		Title:      strings.TrimSpace(req.Title),
		CreatedAt:  s.clock.Now().UTC(),
	}
	if req.SignedAt != nil {
		signedAt := req.SignedAt.UTC()
		contract.SignedAt = &signedAt
	}
	if err := s.repo.InsertContract(ctx, s.db, &contract); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, ratecarddomain.ErrDuplicateContract
		}
		return nil, err
	}
	return &contract, nil
}

func (s *Service) LinkContract(ctx context.Context, req ratecarddomain.LinkContractRequest) error {
	cardID, err := parseID(req.RateCardID)
	if err != nil {
		return ratecarddomain.ErrInvalidID
	}
	contractID, err := parseID(req.ContractID)
	if err != nil {
		return ratecarddomain.ErrInvalidID
	}
	role := req.Role
	if role == "" {
		role = ratecarddomain.ContractRolePrimary
	}
	if !role.Valid() {
		return ratecarddomain.ErrInvalidContractRole
	}

	card, err := s.repo.FindByID(ctx, s.db, cardID)
	if err != nil {
		return err
	}
	if card == nil {
		return ratecarddomain.ErrNotFound
	}
	contract, err := s.repo.FindContractByID(ctx, s.db, contractID)
	if err != nil {
		return err
	}
	if contract == nil {
		return ratecarddomain.ErrContractNotFound
	}
	if contract.CustomerID != card.CustomerID {
		return ratecarddomain.ErrContractCustomer
	}

	return s.repo.LinkContract(ctx, s.db, &ratecarddomain.RateCardContract{
		RateCardID: card.ID,
		ContractID: contract.ID,
		Role:       role,
		CreatedAt:  s.clock.Now().UTC(),
	})
}

func (s *Service) ListContracts(ctx context.Context, cardID string) ([]ratecarddomain.LinkedContract, error) {
	id, err := parseID(cardID)
	if err != nil {
		return nil, ratecarddomain.ErrInvalidID
	}
	return s.repo.ListContracts(ctx, s.db, id)
}

func (s *Service) emitAudit(ctx context.Context, action string, card *ratecarddomain.RateCard, metadata map[string]any) {
	if s.auditSvc == nil || card == nil {
		return
	}
	targetID := card.ID.String()
	if err := s.auditSvc.AuditLog(ctx, action, "rate_card", &targetID, metadata); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("rate_card_id", targetID),
			zap.Error(err),
		)
	}
}

func normalizeOverrides(in ratecarddomain.CycleOverrides) (ratecarddomain.CycleOverrides, error) {
	out := ratecarddomain.CycleOverrides{}
	for category, cycle := range in {
		category = strings.TrimSpace(category)
		if category == "" {
			return nil, ratecarddomain.ErrInvalidCycleOverride
		}
		parsed, err := billingcycledomain.Parse(string(cycle))
		if err != nil {
			return nil, ratecarddomain.ErrInvalidCycleOverride
		}
		out[category] = parsed
	}
	return out, nil
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, ratecarddomain.ErrInvalidID
	}
	return id, nil
}
