package server

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/logibill/internal/observability/logger"
	"go.uber.org/zap"
)

const rateLimitReasonCustomerRate = "customer-rate"

type ingestRateLimitKey struct {
	CustomerID string `json:"customer_id"`
}

type ingestBatchRateLimitKey struct {
	Activities []ingestRateLimitKey `json:"activities"`
}

// ActivityIngestRateLimit throttles ingestion per customer with the redis
// token bucket. Each submitted activity costs one token from its
// customer's bucket.
func (s *Server) ActivityIngestRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.ingestLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)

		customers, err := readIngestCustomers(c)
		if err != nil {
			logger.FromContext(ctx).Warn("activity ingest rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}

		if len(customers) == 1 {
			c.Set("customer_id", customers[0].customerID)
		}

		for _, spend := range customers {
			customerID := spend.customerID
			res, err := s.ingestLimiter.AllowCustomer(ctx, customerID, spend.activities)
			if err != nil {
				logger.FromContext(ctx).Warn("activity ingest rate limit check failed", zap.Error(err))
				AbortWithError(c, ErrServiceUnavailable)
				return
			}
			if !res.Allowed {
				logger.FromContext(ctx).Warn("activity ingest rate limit exceeded",
					zap.String("reason", rateLimitReasonCustomerRate),
					zap.String("endpoint", endpoint),
					zap.String("customer_id", customerID),
				)
				s.obsMetrics.RecordRateLimit(ctx, endpoint, false, rateLimitReasonCustomerRate)

				retryAfter := int(res.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				c.Header("Retry-After", strconv.Itoa(retryAfter))
				c.Header("X-Rate-Limited-Reason", rateLimitReasonCustomerRate)
				AbortWithError(c, ErrRateLimited)
				return
			}
		}

		s.obsMetrics.RecordRateLimit(ctx, endpoint, true, "")
		c.Next()
	}
}

type customerSpend struct {
	customerID string
	activities int
}

// readIngestCustomers peeks at the body, counting activities per customer
// in first-seen order, and restores it for the handler. Unparseable bodies
// pass through; the handler rejects them.
func readIngestCustomers(c *gin.Context) ([]customerSpend, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return nil, nil
	}

	var keys []ingestRateLimitKey
	var batch ingestBatchRateLimitKey
	if err := json.Unmarshal(body, &batch); err == nil && len(batch.Activities) > 0 {
		keys = batch.Activities
	} else {
		var single ingestRateLimitKey
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, nil
		}
		keys = []ingestRateLimitKey{single}
	}

	index := make(map[string]int, len(keys))
	customers := make([]customerSpend, 0, len(keys))
	for _, key := range keys {
		id := strings.TrimSpace(key.CustomerID)
		if id == "" {
			continue
		}
		if i, ok := index[id]; ok {
			customers[i].activities++
			continue
		}
		index[id] = len(customers)
		customers = append(customers, customerSpend{customerID: id, activities: 1})
	}
	return customers, nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
