package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	billingactivitydomain "github.com/smallbiznis/logibill/internal/billingactivity/domain"
	ratingdomain "github.com/smallbiznis/logibill/internal/rating/domain"
	"github.com/smallbiznis/logibill/pkg/db/pagination"
)

type ingestActivityRequest struct {
	CustomerID       string              `json:"customer_id" binding:"required"`
	ActivityDate     string              `json:"activity_date" binding:"required"`
	Type             string              `json:"type" binding:"required"`
	Category         string              `json:"category"`
	Description      string              `json:"description"`
	Quantity         decimal.Decimal     `json:"quantity"`
	Unit             string              `json:"unit"`
	Zone             string              `json:"zone"`
	ReferenceID      string              `json:"reference_id"`
	BillingCycle     string              `json:"billing_cycle" binding:"omitempty,billing_cycle"`
	Metadata         map[string]any      `json:"metadata"`
	IsManualOverride bool                `json:"is_manual_override"`
	RateApplied      decimal.NullDecimal `json:"rate_applied"`
	Amount           decimal.NullDecimal `json:"amount"`
}

type ingestActivityBatchRequest struct {
	Activities []ingestActivityRequest `json:"activities" binding:"required,min=1,max=1000,dive"`
}

type listActivitiesQuery struct {
	PageToken    string `form:"page_token"`
	PageSize     int    `form:"page_size" binding:"omitempty,gte=1,lte=250"`
	CustomerID   string `form:"customer_id"`
	RatingStatus string `form:"rating_status" binding:"omitempty,oneof=pending rated error"`
	InvoiceID    string `form:"invoice_id"`
	From         string `form:"from"`
	To           string `form:"to"`
}

func (r ingestActivityRequest) toDomain() (billingactivitydomain.IngestRequest, error) {
	activityDate, err := requireDate("activity_date", r.ActivityDate)
	if err != nil {
		return billingactivitydomain.IngestRequest{}, err
	}
	return billingactivitydomain.IngestRequest{
		CustomerID:       strings.TrimSpace(r.CustomerID),
		ActivityDate:     activityDate,
		Type:             strings.TrimSpace(r.Type),
		Category:         strings.TrimSpace(r.Category),
		Description:      strings.TrimSpace(r.Description),
		Quantity:         r.Quantity,
		Unit:             strings.TrimSpace(r.Unit),
		Zone:             strings.TrimSpace(r.Zone),
		ReferenceID:      strings.TrimSpace(r.ReferenceID),
		BillingCycle:     strings.TrimSpace(r.BillingCycle),
		Metadata:         r.Metadata,
		IsManualOverride: r.IsManualOverride,
		RateApplied:      r.RateApplied,
		Amount:           r.Amount,
	}, nil
}

// IngestActivity records one activity. Replays of the same natural key answer
// 200 with the stored row instead of 201.
func (s *Server) IngestActivity(c *gin.Context) {
	var req ingestActivityRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	in, err := req.toDomain()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	res, err := s.activitySvc.Ingest(c.Request.Context(), in)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Outcome == billingactivitydomain.IngestOutcomeDuplicate {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": res})
}

func (s *Server) IngestActivityBatch(c *gin.Context) {
	var req ingestActivityBatchRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]billingactivitydomain.IngestRequest, 0, len(req.Activities))
	for _, item := range req.Activities {
		in, err := item.toDomain()
		if err != nil {
			AbortWithError(c, err)
			return
		}
		items = append(items, in)
	}

	results, err := s.activitySvc.IngestBatch(c.Request.Context(), items)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	created := 0
	for _, res := range results {
		if res.Outcome == billingactivitydomain.IngestOutcomeCreated {
			created++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"data":       results,
		"created":    created,
		"duplicates": len(results) - created,
	})
}

func (s *Server) ListActivities(c *gin.Context) {
	var query listActivitiesQuery
	if err := bindQuery(c, &query); err != nil {
		AbortWithError(c, err)
		return
	}
	from, err := parseTimeParam("from", query.From, startOfDay)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	to, err := parseTimeParam("to", query.To, startOfDay)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.activitySvc.List(c.Request.Context(), billingactivitydomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		CustomerID:   strings.TrimSpace(query.CustomerID),
		RatingStatus: query.RatingStatus,
		InvoiceID:    strings.TrimSpace(query.InvoiceID),
		From:         from,
		To:           to,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Activities, "page_info": resp.PageInfo})
}

func (s *Server) GetActivity(c *gin.Context) {
	activity, err := s.activitySvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": activity})
}

func (s *Server) RequeueActivity(c *gin.Context) {
	activity, err := s.ratingSvc.Requeue(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": activity})
}

// RateActivity rates a single activity synchronously. Configuration errors
// are reported in the body; the activity stays parked in error.
func (s *Server) RateActivity(c *gin.Context) {
	res, err := s.ratingSvc.RateActivity(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	status := http.StatusOK
	if res.Outcome == ratingdomain.OutcomeFailed {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"data": res})
}
