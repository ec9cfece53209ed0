package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func peekContext(t *testing.T, body string) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/activities/batch", strings.NewReader(body))
	return c
}

func TestReadIngestCustomersCountsBatch(t *testing.T) {
	body := `{"activities":[{"customer_id":"c-1"},{"customer_id":"c-2"},{"customer_id":" c-1 "},{"customer_id":""}]}`
	c := peekContext(t, body)

	customers, err := readIngestCustomers(c)
	require.NoError(t, err)
	assert.Equal(t, []customerSpend{{customerID: "c-1", activities: 2}, {customerID: "c-2", activities: 1}}, customers)

	restored, err := io.ReadAll(c.Request.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(restored))
}

func TestReadIngestCustomersSingleAndGarbage(t *testing.T) {
	customers, err := readIngestCustomers(peekContext(t, `{"customer_id":"c-9","type":"pick"}`))
	require.NoError(t, err)
	assert.Equal(t, []customerSpend{{customerID: "c-9", activities: 1}}, customers)

	customers, err = readIngestCustomers(peekContext(t, `not json`))
	require.NoError(t, err)
	assert.Empty(t, customers)
}
