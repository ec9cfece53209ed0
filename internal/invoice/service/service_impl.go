package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/logibill/internal/audit/domain"
	billingactivitydomain "github.com/smallbiznis/logibill/internal/billingactivity/domain"
	billingcycledomain "github.com/smallbiznis/logibill/internal/billingcycle/domain"
	"github.com/smallbiznis/logibill/internal/clock"
	"github.com/smallbiznis/logibill/internal/config"
	invoicedomain "github.com/smallbiznis/logibill/internal/invoice/domain"
	obslogger "github.com/smallbiznis/logibill/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/logibill/internal/observability/metrics"
	"github.com/smallbiznis/logibill/internal/ratecard/document"
	ratecarddomain "github.com/smallbiznis/logibill/internal/ratecard/domain"
	"github.com/smallbiznis/logibill/internal/rateresolver"
	"github.com/smallbiznis/logibill/pkg/db"
	"github.com/smallbiznis/logibill/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         invoicedomain.Repository
	ActivityRepo billingactivitydomain.Repository
	RateCardRepo ratecarddomain.Repository
	Resolver     rateresolver.Resolver
	Billing      *config.BillingConfigHolder `optional:"true"`
	AuditSvc     auditdomain.Service         `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID        *snowflake.Node
	clock        clock.Clock
	repo         invoicedomain.Repository
	activityRepo billingactivitydomain.Repository
	rateCardRepo ratecarddomain.Repository
	resolver     rateresolver.Resolver
	billing      *config.BillingConfigHolder
	auditSvc     auditdomain.Service
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,

		clock:        p.Clock,
		repo:         p.Repo,
		activityRepo: p.ActivityRepo,
		rateCardRepo: p.RateCardRepo,
		resolver:     p.Resolver,
		billing:      p.Billing,
		auditSvc:     p.AuditSvc,
		obsMetrics:   p.ObsMetrics,
	}
}

// Generate builds the draft invoice for one customer, cycle and period. It
// returns nil without error when there is nothing to bill.
func (s *Service) Generate(ctx context.Context, req invoicedomain.GenerateRequest) (*invoicedomain.Invoice, error) {
	customerID, err := parseID(req.CustomerID)
	if err != nil {
		return nil, invoicedomain.ErrInvalidCustomer
	}
	cycle, err := billingcycledomain.Parse(req.BillingCycle)
	if err != nil {
		return nil, err
	}
	if req.PeriodStart.IsZero() || req.PeriodEnd.IsZero() {
		return nil, invoicedomain.ErrInvalidPeriod
	}
	period := invoicedomain.PeriodKey{
		CustomerID:   customerID,
		BillingCycle: cycle,
		PeriodStart:  billingcycledomain.Day(req.PeriodStart),
		PeriodEnd:    billingcycledomain.Day(req.PeriodEnd),
	}
	if !period.PeriodEnd.After(period.PeriodStart) {
		return nil, invoicedomain.ErrInvalidPeriod
	}

	cfg := s.billing.Get()
	var created *invoicedomain.Invoice
	var lineCount int
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		activities, err := s.activityRepo.ListForPeriod(ctx, tx, billingactivitydomain.PeriodFilter{
			CustomerID:   period.CustomerID,
			BillingCycle: period.BillingCycle,
			PeriodStart:  period.PeriodStart,
			PeriodEnd:    period.PeriodEnd,
		})
		if err != nil {
			return err
		}
		for _, activity := range activities {
			if !activity.IsRated() {
				return fmt.Errorf("%w: activity %s is %s", invoicedomain.ErrIncompleteRating, activity.ID, activity.RatingStatus)
			}
		}

		drafts := buildLines(activities)
		subtotal := sumLines(drafts)

		topUp, err := s.minimumTopUp(ctx, tx, period, subtotal)
		if err != nil {
			return err
		}
		if len(drafts) == 0 && !topUp.IsPositive() {
			return nil
		}
		if topUp.IsPositive() {
			drafts = append(drafts, minimumLine(cfg.MinimumChargeDescription, topUp))
			subtotal = subtotal.Add(topUp)
		}

		now := s.clock.Now().UTC()
		tax := decimal.Zero
		total := subtotal.Add(tax)
		invoice := invoicedomain.Invoice{
			ID:            s.genID.Generate(),
			InvoiceNumber: newInvoiceNumber(now),
			CustomerID:    period.CustomerID,
			BillingCycle:  period.BillingCycle,
			PeriodStart:   period.PeriodStart,
			PeriodEnd:     period.PeriodEnd,
			Status:        invoicedomain.InvoiceStatusDraft,
			Subtotal:      subtotal,
			Tax:           tax,
			Total:         total,
			BalanceDue:    total,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.repo.Insert(ctx, tx, &invoice); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return invoicedomain.ErrDuplicateDraft
			}
			return err
		}

		lines := make([]invoicedomain.InvoiceLine, len(drafts))
		for i := range drafts {
			line := drafts[i].line
			line.ID = s.genID.Generate()
			line.InvoiceID = invoice.ID
			line.Position = i + 1
			line.CreatedAt = now
			lines[i] = line
		}
		if !sumLineTotals(lines).Equal(invoice.Subtotal) {
			return invoicedomain.ErrLineTotalMismatch
		}
		if err := s.repo.InsertLines(ctx, tx, lines); err != nil {
			return err
		}

		var attached int64
		for i, draft := range drafts {
			n, err := s.activityRepo.AttachToInvoice(ctx, tx, draft.activities, invoice.ID, lines[i].ID, now)
			if err != nil {
				return err
			}
			attached += n
		}
		if attached != int64(len(activities)) {
			return invoicedomain.ErrActivitiesChanged
		}

		created = &invoice
		lineCount = len(lines)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, nil
	}

	s.obsMetrics.RecordInvoiceGenerated(ctx, string(created.BillingCycle))
	obslogger.ForCustomer(ctx, s.log, created.CustomerID.String()).Info("invoice generated",
		zap.String("invoice_id", created.ID.String()),
		zap.String("billing_cycle", string(created.BillingCycle)),
		zap.Int("lines", lineCount),
		zap.String("total", created.Total.StringFixed(2)),
	)
	s.emitAudit(ctx, "invoice.generated", created, map[string]any{"line_count": lineCount})
	return created, nil
}

// minimumTopUp returns the amount needed to lift the period's billed total to
// the minimum of the rate card in effect at the period start.
func (s *Service) minimumTopUp(ctx context.Context, tx *gorm.DB, period invoicedomain.PeriodKey, subtotal decimal.Decimal) (decimal.Decimal, error) {
	resolution, err := s.resolver.ResolveTx(ctx, tx, period.CustomerID, period.PeriodStart)
	if err != nil {
		if errors.Is(err, rateresolver.ErrNoRateCard) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}

	minimum, ok := resolution.Document.Minimum(period.BillingCycle)
	if !ok && period.BillingCycle == billingcycledomain.BillingCycleMonthly && resolution.StandardCard.MinimumPeriodCharge.Valid {
		minimum, ok = resolution.StandardCard.MinimumPeriodCharge.Decimal, true
	}
	if !ok || !minimum.IsPositive() {
		return decimal.Zero, nil
	}

	billed, err := s.repo.SumBilledForPeriod(ctx, tx, period)
	if err != nil {
		return decimal.Zero, err
	}
	gap := minimum.Sub(billed).Sub(subtotal)
	if !gap.IsPositive() {
		return decimal.Zero, nil
	}
	return document.RoundMoney(gap), nil
}

// Issue freezes the snapshot and starts the payment terms.
func (s *Service) Issue(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return nil, invoicedomain.ErrInvalidInvoiceID
	}

	cfg := s.billing.Get()
	var issued *invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.FindByIDForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if invoice.Status != invoicedomain.InvoiceStatusDraft {
			return fmt.Errorf("%w: %s to %s", invoicedomain.ErrInvalidTransition, invoice.Status, invoicedomain.InvoiceStatusIssued)
		}

		now := s.clock.Now().UTC()
		snapshot, err := s.buildSnapshot(ctx, tx, invoice, now)
		if err != nil {
			return err
		}
		dueDate := billingcycledomain.Day(now).AddDate(0, 0, cfg.InvoiceDueDays)

		ok, err := s.repo.UpdateStatus(ctx, tx, invoice.ID, invoicedomain.InvoiceStatusDraft, map[string]any{
			"status":        invoicedomain.InvoiceStatusIssued,
			"issued_at":     now,
			"due_date":      dueDate,
			"data_snapshot": snapshotColumn(snapshot),
			"updated_at":    now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return invoicedomain.ErrInvalidTransition
		}

		issued, err = s.repo.FindByID(ctx, tx, invoice.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordInvoiceTransition(ctx, string(invoicedomain.InvoiceStatusDraft), string(invoicedomain.InvoiceStatusIssued))
	s.emitAudit(ctx, "invoice.issued", issued, map[string]any{
		"previous_status": string(invoicedomain.InvoiceStatusDraft),
	})
	return issued, nil
}

func (s *Service) MarkSent(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	return s.transition(ctx, id, invoicedomain.InvoiceStatusSent, "")
}

func (s *Service) Void(ctx context.Context, id string, reason string) (*invoicedomain.Invoice, error) {
	return s.transition(ctx, id, invoicedomain.InvoiceStatusVoid, reason)
}

func (s *Service) Credit(ctx context.Context, id string, reason string) (*invoicedomain.Invoice, error) {
	return s.transition(ctx, id, invoicedomain.InvoiceStatusCredited, reason)
}

var transitionActions = map[invoicedomain.InvoiceStatus]string{
	invoicedomain.InvoiceStatusSent:     "invoice.sent",
	invoicedomain.InvoiceStatusOverdue:  "invoice.overdue",
	invoicedomain.InvoiceStatusVoid:     "invoice.voided",
	invoicedomain.InvoiceStatusCredited: "invoice.credited",
}

// transition moves an invoice along the operator-driven edges of the
// lifecycle. Payment driven moves live in the payment ledger.
func (s *Service) transition(ctx context.Context, id string, to invoicedomain.InvoiceStatus, reason string) (*invoicedomain.Invoice, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return nil, invoicedomain.ErrInvalidInvoiceID
	}
	reason = strings.TrimSpace(reason)

	var (
		from    invoicedomain.InvoiceStatus
		updated *invoicedomain.Invoice
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.FindByIDForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		from = invoice.Status
		if !from.CanTransition(to) || (to == invoicedomain.InvoiceStatusSent && from != invoicedomain.InvoiceStatusIssued) {
			return fmt.Errorf("%w: %s to %s", invoicedomain.ErrInvalidTransition, from, to)
		}

		now := s.clock.Now().UTC()
		fields := map[string]any{
			"status":     to,
			"updated_at": now,
		}
		switch to {
		case invoicedomain.InvoiceStatusSent:
			fields["sent_at"] = now
		case invoicedomain.InvoiceStatusVoid:
			fields["voided_at"] = now
		case invoicedomain.InvoiceStatusCredited:
			fields["credited_at"] = now
		}
		if reason != "" {
			fields["status_reason"] = reason
		}

		ok, err := s.repo.UpdateStatus(ctx, tx, invoice.ID, from, fields)
		if err != nil {
			return err
		}
		if !ok {
			return invoicedomain.ErrInvalidTransition
		}

		// A voided draft never billed anything; its activities go back to
		// the pool for the next generation.
		if to == invoicedomain.InvoiceStatusVoid && from == invoicedomain.InvoiceStatusDraft {
			if err := s.activityRepo.ReleaseFromInvoice(ctx, tx, invoice.ID, now); err != nil {
				return err
			}
		}

		updated, err = s.repo.FindByID(ctx, tx, invoice.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordInvoiceTransition(ctx, string(from), string(to))
	metadata := map[string]any{"previous_status": string(from)}
	if reason != "" {
		metadata["reason"] = reason
	}
	s.emitAudit(ctx, transitionActions[to], updated, metadata)
	return updated, nil
}

// MarkOverdue moves issued and sent invoices whose due date passed before
// asOf to overdue and reports how many moved.
func (s *Service) MarkOverdue(ctx context.Context, asOf time.Time) (int, error) {
	if asOf.IsZero() {
		asOf = s.clock.Now()
	}
	asOf = asOf.UTC()

	var moved []invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidates, err := s.repo.ListOverdueCandidates(ctx, tx, asOf, 0)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		for _, invoice := range candidates {
			ok, err := s.repo.UpdateStatus(ctx, tx, invoice.ID, invoice.Status, map[string]any{
				"status":     invoicedomain.InvoiceStatusOverdue,
				"updated_at": now,
			})
			if err != nil {
				return err
			}
			if ok {
				moved = append(moved, invoice)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for i := range moved {
		invoice := moved[i]
		s.obsMetrics.RecordInvoiceTransition(ctx, string(invoice.Status), string(invoicedomain.InvoiceStatusOverdue))
		s.emitAudit(ctx, transitionActions[invoicedomain.InvoiceStatusOverdue], &invoice, map[string]any{
			"previous_status": string(invoice.Status),
		})
	}
	if len(moved) > 0 {
		s.log.Info("invoices marked overdue", zap.Int("count", len(moved)), zap.Time("as_of", asOf))
	}
	return len(moved), nil
}

func (s *Service) Get(ctx context.Context, id string) (*invoicedomain.InvoiceDetail, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return nil, invoicedomain.ErrInvalidInvoiceID
	}

	invoice, err := s.repo.FindByID(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	lines, err := s.repo.ListLines(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPayments(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}

	return &invoicedomain.InvoiceDetail{
		Invoice:  *invoice,
		Lines:    lines,
		Payments: payments,
	}, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	filter := invoicedomain.ListFilter{}
	if raw := strings.TrimSpace(req.CustomerID); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidCustomer
		}
		filter.CustomerID = &id
	}
	if raw := strings.TrimSpace(req.Status); raw != "" {
		status := invoicedomain.InvoiceStatus(strings.ToLower(raw))
		if !status.Valid() {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidStatus
		}
		filter.Status = status
	}

	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken
		}
		id, err := parseID(decoded.ID)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken
		}
		filter.Cursor = &invoicedomain.InvoiceCursor{ID: id, CreatedAt: createdAt}
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
		return invoicedomain.ListInvoiceResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item *invoicedomain.Invoice) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	invoices := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}

	resp := invoicedomain.ListInvoiceResponse{Invoices: invoices}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) emitAudit(ctx context.Context, action string, invoice *invoicedomain.Invoice, extra map[string]any) {
	if s.auditSvc == nil || invoice == nil || action == "" {
		return
	}
	metadata := map[string]any{
		"invoice_number": invoice.InvoiceNumber,
		"customer_id":    invoice.CustomerID.String(),
		"billing_cycle":  string(invoice.BillingCycle),
		"period_start":   invoice.PeriodStart.Format(time.RFC3339),
		"period_end":     invoice.PeriodEnd.Format(time.RFC3339),
		"total":          invoice.Total.StringFixed(2),
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	targetID := invoice.ID.String()
	if err := s.auditSvc.AuditLog(ctx, action, "invoice", &targetID, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func newInvoiceNumber(at time.Time) string {
	return "INV-" + ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
}

func sumLineTotals(lines []invoicedomain.InvoiceLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.LineTotal)
	}
	return total
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, invoicedomain.ErrInvalidInvoiceID
	}
	return id, nil
}
