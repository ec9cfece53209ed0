package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/logibill/internal/payment/domain"
)

type recordPaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method" binding:"required"`
	Reference   string          `json:"reference"`
	PaymentDate string          `json:"payment_date"`
	Status      string          `json:"status" binding:"omitempty,oneof=applied pending"`
}

func (s *Server) RecordPayment(c *gin.Context) {
	var req recordPaymentRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	paymentDate, err := parseTimeParam("payment_date", req.PaymentDate, startOfDay)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	in := paymentdomain.RecordPaymentRequest{
		InvoiceID: c.Param("id"),
		Amount:    req.Amount,
		Method:    strings.TrimSpace(req.Method),
		Reference: strings.TrimSpace(req.Reference),
		Status:    paymentdomain.PaymentStatus(req.Status),
	}
	if paymentDate != nil {
		in.PaymentDate = *paymentDate
	}

	payment, err := s.paymentSvc.Record(c.Request.Context(), in)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": payment})
}

func (s *Server) ListInvoicePayments(c *gin.Context) {
	payments, err := s.paymentSvc.ListByInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payments})
}

func (s *Server) GetPayment(c *gin.Context) {
	s.respondPayment(c, s.paymentSvc.Get)
}

func (s *Server) SettlePayment(c *gin.Context) {
	s.respondPayment(c, s.paymentSvc.Settle)
}

func (s *Server) FailPayment(c *gin.Context) {
	s.respondPayment(c, s.paymentSvc.Fail)
}

func (s *Server) ReversePayment(c *gin.Context) {
	s.respondPayment(c, s.paymentSvc.Reverse)
}

func (s *Server) respondPayment(c *gin.Context, fn func(ctx context.Context, id string) (*paymentdomain.Payment, error)) {
	payment, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payment})
}
