package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/logibill/internal/audit/domain"
	"github.com/smallbiznis/logibill/internal/clock"
	invoicedomain "github.com/smallbiznis/logibill/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/logibill/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/logibill/internal/payment/domain"
	"github.com/smallbiznis/logibill/internal/ratecard/document"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        paymentdomain.Repository
	InvoiceRepo invoicedomain.Repository
	AuditSvc    auditdomain.Service `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        paymentdomain.Repository
	invoiceRepo invoicedomain.Repository
	auditSvc    auditdomain.Service
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		invoiceRepo: p.InvoiceRepo,
		auditSvc:    p.AuditSvc,
		obsMetrics:  p.ObsMetrics,
	}
}

// Record appends a payment to an invoice. Applied payments reduce the balance
// immediately; pending ones only reserve room until settled or failed.
func (s *Service) Record(ctx context.Context, req paymentdomain.RecordPaymentRequest) (*paymentdomain.Payment, error) {
	invoiceID, err := parseID(req.InvoiceID)
	if err != nil {
		return nil, paymentdomain.ErrInvalidInvoiceID
	}
	amount := document.RoundMoney(req.Amount)
	if !amount.IsPositive() {
		return nil, paymentdomain.ErrInvalidAmount
	}
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == "" {
		return nil, paymentdomain.ErrInvalidMethod
	}
	status := req.Status
	switch status {
	case "":
		status = paymentdomain.PaymentStatusApplied
	case paymentdomain.PaymentStatusApplied, paymentdomain.PaymentStatusPending:
	default:
		return nil, paymentdomain.ErrInvalidStatus
	}

	now := s.clock.Now().UTC()
	paymentDate := req.PaymentDate.UTC()
	if req.PaymentDate.IsZero() {
		paymentDate = now
	}

	var payment *paymentdomain.Payment
	var invoice *invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.payableInvoice(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if err := s.checkRoom(ctx, tx, current, amount, 0); err != nil {
			return err
		}

		item := paymentdomain.Payment{
			ID:          s.genID.Generate(),
			InvoiceID:   invoiceID,
			Amount:      amount,
			PaymentDate: paymentDate,
			Method:      method,
			Status:      status,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if ref := strings.TrimSpace(req.Reference); ref != "" {
			item.Reference = &ref
		}
		if err := s.repo.Insert(ctx, tx, &item); err != nil {
			return err
		}

		invoice = current
		if status == paymentdomain.PaymentStatusApplied {
			invoice, err = s.recompute(ctx, tx, current, now)
			if err != nil {
				return err
			}
		}
		payment = &item
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordPaymentEvent(ctx, payment.Method, "recorded")
	s.emitAudit(ctx, "payment.recorded", payment, invoice)
	return payment, nil
}

// Settle applies a pending payment. The balance is checked again because
// other payments may have been applied in the meantime.
func (s *Service) Settle(ctx context.Context, id string) (*paymentdomain.Payment, error) {
	return s.move(ctx, id, paymentdomain.PaymentStatusPending, paymentdomain.PaymentStatusApplied, "payment.settled")
}

func (s *Service) Fail(ctx context.Context, id string) (*paymentdomain.Payment, error) {
	return s.move(ctx, id, paymentdomain.PaymentStatusPending, paymentdomain.PaymentStatusFailed, "payment.failed")
}

// Reverse flips an applied payment to reversed. The row stays in the ledger.
func (s *Service) Reverse(ctx context.Context, id string) (*paymentdomain.Payment, error) {
	return s.move(ctx, id, paymentdomain.PaymentStatusApplied, paymentdomain.PaymentStatusReversed, "payment.reversed")
}

func (s *Service) move(ctx context.Context, id string, from, to paymentdomain.PaymentStatus, action string) (*paymentdomain.Payment, error) {
	paymentID, err := parseID(id)
	if err != nil {
		return nil, paymentdomain.ErrInvalidID
	}

	var payment *paymentdomain.Payment
	var invoice *invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByIDForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if current == nil {
			return paymentdomain.ErrNotFound
		}
		if current.Status != from {
			return fmt.Errorf("%w: %s to %s", paymentdomain.ErrInvalidTransition, current.Status, to)
		}

		if to == paymentdomain.PaymentStatusApplied {
			invoice, err = s.payableInvoice(ctx, tx, current.InvoiceID)
			if err != nil {
				return err
			}
			if err := s.checkRoom(ctx, tx, invoice, current.Amount, current.ID); err != nil {
				return err
			}
		} else {
			invoice, err = s.invoiceRepo.FindByIDForUpdate(ctx, tx, current.InvoiceID)
			if err != nil {
				return err
			}
			if invoice == nil {
				return paymentdomain.ErrInvoiceNotFound
			}
		}

		now := s.clock.Now().UTC()
		ok, err := s.repo.UpdateStatus(ctx, tx, current.ID, from, to, now)
		if err != nil {
			return err
		}
		if !ok {
			return paymentdomain.ErrInvalidTransition
		}

		if from == paymentdomain.PaymentStatusApplied || to == paymentdomain.PaymentStatusApplied {
			invoice, err = s.recompute(ctx, tx, invoice, now)
			if err != nil {
				return err
			}
		}

		payment, err = s.repo.FindByID(ctx, tx, current.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordPaymentEvent(ctx, payment.Method, string(to))
	s.emitAudit(ctx, action, payment, invoice)
	return payment, nil
}

func (s *Service) payableInvoice(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (*invoicedomain.Invoice, error) {
	invoice, err := s.invoiceRepo.FindByIDForUpdate(ctx, tx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, paymentdomain.ErrInvoiceNotFound
	}
	if !invoice.Status.AcceptsPayments() {
		return nil, fmt.Errorf("%w: invoice is %s", paymentdomain.ErrInvoiceNotPayable, invoice.Status)
	}
	return invoice, nil
}

// checkRoom rejects amounts larger than the balance left after the other
// pending payments. exclude skips the payment being settled.
func (s *Service) checkRoom(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, amount decimal.Decimal, exclude snowflake.ID) error {
	payments, err := s.repo.ListByInvoice(ctx, tx, invoice.ID)
	if err != nil {
		return err
	}
	reserved := decimal.Zero
	for _, payment := range payments {
		if payment.ID == exclude || payment.Status != paymentdomain.PaymentStatusPending {
			continue
		}
		reserved = reserved.Add(payment.Amount)
	}
	if amount.GreaterThan(invoice.BalanceDue.Sub(reserved)) {
		return paymentdomain.ErrExceedsBalance
	}
	return nil
}

// recompute derives balance_due from the applied payments and moves the
// invoice between issued, partial and paid accordingly. Terminal invoices
// keep their status.
func (s *Service) recompute(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, now time.Time) (*invoicedomain.Invoice, error) {
	payments, err := s.repo.ListByInvoice(ctx, tx, invoice.ID)
	if err != nil {
		return nil, err
	}
	applied := decimal.Zero
	for _, payment := range payments {
		if payment.Status == paymentdomain.PaymentStatusApplied {
			applied = applied.Add(payment.Amount)
		}
	}
	balance := invoice.Total.Sub(applied)

	fields := map[string]any{
		"balance_due": balance,
		"updated_at":  now,
	}
	next := nextStatus(invoice, applied, balance, now)
	if next != invoice.Status {
		if !invoice.Status.CanTransition(next) {
			return nil, fmt.Errorf("%w: %s to %s", invoicedomain.ErrInvalidTransition, invoice.Status, next)
		}
		fields["status"] = next
	}
	if next == invoicedomain.InvoiceStatusPaid {
		fields["paid_at"] = now
	} else if invoice.PaidAt != nil {
		fields["paid_at"] = nil
	}

	ok, err := s.invoiceRepo.UpdateStatus(ctx, tx, invoice.ID, invoice.Status, fields)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, invoicedomain.ErrInvalidTransition
	}
	if next != invoice.Status {
		s.obsMetrics.RecordInvoiceTransition(ctx, string(invoice.Status), string(next))
	}
	return s.invoiceRepo.FindByID(ctx, tx, invoice.ID)
}

func nextStatus(invoice *invoicedomain.Invoice, applied, balance decimal.Decimal, now time.Time) invoicedomain.InvoiceStatus {
	if invoice.Status.IsTerminal() {
		return invoice.Status
	}
	switch {
	case !balance.IsPositive():
		return invoicedomain.InvoiceStatusPaid
	case applied.IsPositive():
		return invoicedomain.InvoiceStatusPartial
	}

	switch invoice.Status {
	case invoicedomain.InvoiceStatusPartial, invoicedomain.InvoiceStatusPaid:
		// Nothing applied any more: back to where the invoice stood before
		// its first payment.
		if invoice.IsPastDue(now) {
			return invoicedomain.InvoiceStatusOverdue
		}
		if invoice.SentAt != nil {
			return invoicedomain.InvoiceStatusSent
		}
		return invoicedomain.InvoiceStatusIssued
	default:
		return invoice.Status
	}
}

func (s *Service) Get(ctx context.Context, id string) (*paymentdomain.Payment, error) {
	paymentID, err := parseID(id)
	if err != nil {
		return nil, paymentdomain.ErrInvalidID
	}
	payment, err := s.repo.FindByID(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrNotFound
	}
	return payment, nil
}

func (s *Service) ListByInvoice(ctx context.Context, invoiceID string) ([]paymentdomain.Payment, error) {
	id, err := parseID(invoiceID)
	if err != nil {
		return nil, paymentdomain.ErrInvalidInvoiceID
	}
	return s.repo.ListByInvoice(ctx, s.db, id)
}

func (s *Service) emitAudit(ctx context.Context, action string, payment *paymentdomain.Payment, invoice *invoicedomain.Invoice) {
	if s.auditSvc == nil || payment == nil {
		return
	}
	metadata := map[string]any{
		"invoice_id": payment.InvoiceID.String(),
		"amount":     payment.Amount.StringFixed(2),
		"method":     payment.Method,
		"status":     string(payment.Status),
	}
	if payment.Reference != nil {
		metadata["reference"] = *payment.Reference
	}
	if invoice != nil {
		metadata["invoice_status"] = string(invoice.Status)
		metadata["balance_due"] = invoice.BalanceDue.StringFixed(2)
	}

	targetID := payment.ID.String()
	if err := s.auditSvc.AuditLog(ctx, action, "payment", &targetID, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
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
