package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeParam(t *testing.T) {
	got, err := parseTimeParam("from", "", startOfDay)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseTimeParam("from", "2025-01-15", startOfDay)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC), *got)

	got, err = parseTimeParam("to", "2025-01-31", endOfDay)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond), *got)

	got, err = parseTimeParam("at", "2025-01-15T10:30:00+07:00", endOfDay)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.January, 15, 3, 30, 0, 0, time.UTC), *got)

	_, err = parseTimeParam("payment_date", "15/01/2025", startOfDay)
	var verr *ValidationErrors
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Errors, 1)
	assert.Equal(t, "payment_date", verr.Errors[0].Field)
	assert.Equal(t, "invalid_payment_date", verr.Errors[0].Code)
}
