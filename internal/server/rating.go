package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ratingdomain "github.com/smallbiznis/logibill/internal/rating/domain"
)

type runRatingRequest struct {
	CustomerID string `json:"customer_id"`
	Limit      int    `json:"limit" binding:"gte=0"`
}

type listRatingErrorsQuery struct {
	CustomerID string `form:"customer_id"`
	Limit      int    `form:"limit" binding:"omitempty,gte=1,lte=1000"`
}

func (s *Server) RunRating(c *gin.Context) {
	var req runRatingRequest
	if c.Request.ContentLength > 0 {
		if err := bindJSON(c, &req); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	res, err := s.ratingSvc.Run(c.Request.Context(), ratingdomain.RunRequest{
		CustomerID: strings.TrimSpace(req.CustomerID),
		Limit:      req.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (s *Server) ListRatingErrors(c *gin.Context) {
	var query listRatingErrorsQuery
	if err := bindQuery(c, &query); err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.ratingSvc.ListErrors(c.Request.Context(), ratingdomain.ListErrorsRequest{
		CustomerID: strings.TrimSpace(query.CustomerID),
		Limit:      query.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}
