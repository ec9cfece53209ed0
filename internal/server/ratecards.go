package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/logibill/internal/ratecard/document"
	ratecarddomain "github.com/smallbiznis/logibill/internal/ratecard/domain"
	"github.com/smallbiznis/logibill/internal/rateresolver"
)

type createStandardRateCardRequest struct {
	Name                  string                        `json:"name"`
	RateDocument          json.RawMessage               `json:"rate_document" binding:"required"`
	EffectiveFrom         string                        `json:"effective_from" binding:"required"`
	MinimumPeriodCharge   decimal.NullDecimal           `json:"minimum_period_charge"`
	BillingCycleOverrides ratecarddomain.CycleOverrides `json:"billing_cycle_overrides"`
}

type createAdjustmentRateCardRequest struct {
	ParentID      string          `json:"parent_id" binding:"required"`
	Name          string          `json:"name"`
	RateDocument  json.RawMessage `json:"rate_document" binding:"required"`
	EffectiveFrom string          `json:"effective_from" binding:"required"`
	ExpiresAt     string          `json:"expires_at"`
}

type listRateCardsQuery struct {
	Type            string `form:"type" binding:"omitempty,oneof=standard adjustment"`
	IncludeArchived bool   `form:"include_archived"`
}

type archiveRateCardRequest struct {
	Reason string `json:"reason"`
}

type createContractRequest struct {
	Reference string `json:"reference" binding:"required"`
	Title     string `json:"title"`
	SignedAt  string `json:"signed_at"`
}

type linkContractRequest struct {
	ContractID string `json:"contract_id" binding:"required"`
	Role       string `json:"role" binding:"required,oneof=primary addendum amendment"`
}

type effectiveRatesResponse struct {
	CustomerID     string            `json:"customer_id"`
	At             string            `json:"at"`
	StandardCardID string            `json:"standard_card_id"`
	Version        int               `json:"version"`
	AdjustmentIDs  []string          `json:"adjustment_ids"`
	RateDocument   document.Document `json:"rate_document"`
}

func (s *Server) CreateStandardRateCard(c *gin.Context) {
	var req createStandardRateCardRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := parseRateDocument(req.RateDocument)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	effectiveFrom, err := requireDate("effective_from", req.EffectiveFrom)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	card, err := s.rateCardSvc.CreateStandard(c.Request.Context(), ratecarddomain.CreateStandardRequest{
		CustomerID:            c.Param("customer_id"),
		Name:                  strings.TrimSpace(req.Name),
		RateDocument:          doc,
		EffectiveFrom:         effectiveFrom,
		MinimumPeriodCharge:   req.MinimumPeriodCharge,
		BillingCycleOverrides: req.BillingCycleOverrides,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": card})
}

func (s *Server) CreateAdjustmentRateCard(c *gin.Context) {
	var req createAdjustmentRateCardRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := parseRateDocument(req.RateDocument)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	effectiveFrom, err := requireDate("effective_from", req.EffectiveFrom)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	expiresAt, err := parseTimeParam("expires_at", req.ExpiresAt, startOfDay)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	card, err := s.rateCardSvc.CreateAdjustment(c.Request.Context(), ratecarddomain.CreateAdjustmentRequest{
		CustomerID:    c.Param("customer_id"),
		ParentID:      strings.TrimSpace(req.ParentID),
		Name:          strings.TrimSpace(req.Name),
		RateDocument:  doc,
		EffectiveFrom: effectiveFrom,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": card})
}

func (s *Server) ListRateCards(c *gin.Context) {
	var query listRateCardsQuery
	if err := bindQuery(c, &query); err != nil {
		AbortWithError(c, err)
		return
	}

	cards, err := s.rateCardSvc.List(c.Request.Context(), ratecarddomain.ListRequest{
		CustomerID:      c.Param("customer_id"),
		RateCardType:    query.Type,
		IncludeArchived: query.IncludeArchived,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": cards})
}

func (s *Server) GetCurrentRateCard(c *gin.Context) {
	card, err := s.rateCardSvc.Current(c.Request.Context(), c.Param("customer_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": card})
}

func (s *Server) GetRateCard(c *gin.Context) {
	card, err := s.rateCardSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": card})
}

func (s *Server) GetRateCardLineage(c *gin.Context) {
	cards, err := s.rateCardSvc.ResolveLineage(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": cards})
}

func (s *Server) GetCurrentInLineage(c *gin.Context) {
	card, err := s.rateCardSvc.CurrentInLineage(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": card})
}

func (s *Server) ArchiveRateCard(c *gin.Context) {
	var req archiveRateCardRequest
	if c.Request.ContentLength > 0 {
		if err := bindJSON(c, &req); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	card, err := s.rateCardSvc.Archive(c.Request.Context(), c.Param("id"), strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": card})
}

func (s *Server) CreateContract(c *gin.Context) {
	var req createContractRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	signedAt, err := parseTimeParam("signed_at", req.SignedAt, startOfDay)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	contract, err := s.rateCardSvc.CreateContract(c.Request.Context(), ratecarddomain.CreateContractRequest{
		CustomerID: c.Param("customer_id"),
		Reference:  strings.TrimSpace(req.Reference),
		Title:      strings.TrimSpace(req.Title),
		SignedAt:   signedAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": contract})
}

func (s *Server) LinkRateCardContract(c *gin.Context) {
	var req linkContractRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	err := s.rateCardSvc.LinkContract(c.Request.Context(), ratecarddomain.LinkContractRequest{
		RateCardID: c.Param("id"),
		ContractID: strings.TrimSpace(req.ContractID),
		Role:       ratecarddomain.ContractRole(req.Role),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ListRateCardContracts(c *gin.Context) {
	contracts, err := s.rateCardSvc.ListContracts(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": contracts})
}

// GetEffectiveRates returns the merged document that would price an activity
// for the customer on the given day (today when omitted).
func (s *Server) GetEffectiveRates(c *gin.Context) {
	customerID, err := snowflake.ParseString(strings.TrimSpace(c.Param("customer_id")))
	if err != nil || customerID == 0 {
		AbortWithError(c, ratecarddomain.ErrInvalidCustomer)
		return
	}

	at := time.Now().UTC()
	if parsed, err := parseTimeParam("at", c.Query("at"), startOfDay); err != nil {
		AbortWithError(c, err)
		return
	} else if parsed != nil {
		at = *parsed
	}

	res, err := s.resolver.Resolve(c.Request.Context(), customerID, at)
	if err != nil {
		if errors.Is(err, rateresolver.ErrNoRateCard) {
			AbortWithError(c, ratecarddomain.ErrNoActiveCard)
			return
		}
		AbortWithError(c, err)
		return
	}

	adjustments := make([]string, 0, len(res.Adjustments))
	for _, id := range res.AdjustmentIDs() {
		adjustments = append(adjustments, id.String())
	}
	c.JSON(http.StatusOK, gin.H{"data": effectiveRatesResponse{
		CustomerID:     customerID.String(),
		At:             at.Format(time.DateOnly),
		StandardCardID: res.StandardCard.ID.String(),
		Version:        res.StandardCard.Version,
		AdjustmentIDs:  adjustments,
		RateDocument:   res.Document,
	}})
}

func parseRateDocument(raw json.RawMessage) (document.Document, error) {
	doc, err := document.Parse(raw)
	if err != nil {
		return document.Document{}, newValidationError("rate_document", "invalid_rate_document", err.Error())
	}
	return doc, nil
}

func requireDate(field, value string) (time.Time, error) {
	parsed, err := parseTimeParam(field, value, startOfDay)
	if err != nil || parsed == nil {
		return time.Time{}, newValidationError(field, "invalid_"+field, "invalid "+field)
	}
	return *parsed, nil
}
