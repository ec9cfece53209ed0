package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/logibill/internal/invoice/domain"
	"github.com/smallbiznis/logibill/internal/invoice/render"
	"github.com/smallbiznis/logibill/pkg/db/pagination"
)

type generateInvoiceRequest struct {
	CustomerID   string `json:"customer_id" binding:"required"`
	BillingCycle string `json:"billing_cycle" binding:"required,billing_cycle"`
	PeriodStart  string `json:"period_start" binding:"required"`
	PeriodEnd    string `json:"period_end" binding:"required"`
}

type listInvoicesQuery struct {
	PageToken  string `form:"page_token"`
	PageSize   int    `form:"page_size" binding:"omitempty,gte=1,lte=250"`
	CustomerID string `form:"customer_id"`
	Status     string `form:"status"`
}

type invoiceReasonRequest struct {
	Reason string `json:"reason"`
}

type markOverdueRequest struct {
	AsOf string `json:"as_of"`
}

// GenerateInvoice builds a draft from the rated, uninvoiced activities of the
// period. An empty period answers 204.
func (s *Server) GenerateInvoice(c *gin.Context) {
	var req generateInvoiceRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	periodStart, err := requireDate("period_start", req.PeriodStart)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	periodEnd, err := requireDate("period_end", req.PeriodEnd)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoice, err := s.invoiceSvc.Generate(c.Request.Context(), invoicedomain.GenerateRequest{
		CustomerID:   strings.TrimSpace(req.CustomerID),
		BillingCycle: req.BillingCycle,
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if invoice == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": invoice})
}

func (s *Server) ListInvoices(c *gin.Context) {
	var query listInvoicesQuery
	if err := bindQuery(c, &query); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), invoicedomain.ListInvoiceRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		CustomerID: strings.TrimSpace(query.CustomerID),
		Status:     strings.TrimSpace(query.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Invoices, "page_info": resp.PageInfo})
}

func (s *Server) GetInvoice(c *gin.Context) {
	item, err := s.invoiceSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}

// RenderInvoice serves the printable HTML view of an invoice.
func (s *Server) RenderInvoice(c *gin.Context) {
	item, err := s.invoiceSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	branding := s.cfg.Branding
	html, err := s.renderer.RenderHTML(render.RenderInput{
		Invoice: *item,
		Branding: render.Branding{
			CompanyName:  branding.CompanyName,
			PrimaryColor: branding.PrimaryColor,
			Currency:     branding.Currency,
			FooterNotes:  branding.FooterNotes,
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func (s *Server) IssueInvoice(c *gin.Context) {
	s.respondInvoice(c, s.invoiceSvc.Issue)
}

func (s *Server) SendInvoice(c *gin.Context) {
	s.respondInvoice(c, s.invoiceSvc.MarkSent)
}

func (s *Server) VoidInvoice(c *gin.Context) {
	reason, ok := bindReason(c)
	if !ok {
		return
	}
	invoice, err := s.invoiceSvc.Void(c.Request.Context(), c.Param("id"), reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) CreditInvoice(c *gin.Context) {
	reason, ok := bindReason(c)
	if !ok {
		return
	}
	invoice, err := s.invoiceSvc.Credit(c.Request.Context(), c.Param("id"), reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) MarkInvoicesOverdue(c *gin.Context) {
	var req markOverdueRequest
	if c.Request.ContentLength > 0 {
		if err := bindJSON(c, &req); err != nil {
			AbortWithError(c, err)
			return
		}
	}
	asOf, err := parseTimeParam("as_of", req.AsOf, startOfDay)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var at time.Time
	if asOf != nil {
		at = *asOf
	}

	moved, err := s.invoiceSvc.MarkOverdue(c.Request.Context(), at)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"updated": moved}})
}

func (s *Server) respondInvoice(c *gin.Context, fn func(ctx context.Context, id string) (*invoicedomain.Invoice, error)) {
	invoice, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func bindReason(c *gin.Context) (string, bool) {
	var req invoiceReasonRequest
	if c.Request.ContentLength > 0 {
		if err := bindJSON(c, &req); err != nil {
			AbortWithError(c, err)
			return "", false
		}
	}
	return strings.TrimSpace(req.Reason), true
}
