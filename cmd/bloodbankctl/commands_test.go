package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/bloodbank/internal/domain/models"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"bloodbankctl"}, args...))
	return out.String(), err
}

func TestCompatCommand(t *testing.T) {
	out, err := run(t, "compat", "ab-")
	require.NoError(t, err)
	assert.Contains(t, out, "fallback order: AB- A- B- O-")
	assert.Contains(t, out, "donates to:     AB+ AB-")

	_, err = run(t, "compat", "Q")
	assert.ErrorIs(t, err, models.ErrUnknownBloodType)

	_, err = run(t, "compat")
	assert.Error(t, err)
}

func TestScoreCommand(t *testing.T) {
	out, err := run(t, "score", "--urgency", "emergency", "--priority", "5", "--due-in", "2h")
	require.NoError(t, err)
	assert.Contains(t, out, "urgency x3.0, deadline x3.0")

	_, err = run(t, "score", "--priority", "9", "--due-in", "2h")
	assert.Error(t, err)
}

func TestAvailabilityCommandValidatesFlags(t *testing.T) {
	_, err := run(t, "availability", "--type", "Q")
	assert.ErrorIs(t, err, models.ErrUnknownBloodType)

	_, err = run(t, "availability", "--type", "O-", "--days", "0")
	assert.Error(t, err)
}

func TestSweepAndStockCallServer(t *testing.T) {
	var sweeps int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/sweep":
			sweeps++
			_, _ = w.Write([]byte(`{"expired_count":3,"by_type":{"A+":1,"O-":2}}`))
		case "/api/v1/stock":
			_, _ = w.Write([]byte(`[{"blood_type":"O-","available":3,"status":"critical"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	out, err := run(t, "--server", srv.URL, "sweep")
	require.NoError(t, err)
	assert.Equal(t, 1, sweeps)
	assert.Contains(t, out, "expired 3 unit(s)")
	assert.Contains(t, out, "O-  2")

	out, err = run(t, "--server", srv.URL, "stock")
	require.NoError(t, err)
	assert.Contains(t, out, "critical")

	out, err = run(t, "--server", srv.URL, "stock", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"blood_type": "O-"`)
}

func TestPrintStock(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printStock(&buf, []models.StockReport{
		{BloodType: models.BloodTypeONeg, Available: 3, Status: models.StockCritical},
	}))
	assert.Contains(t, buf.String(), "TYPE")
	assert.Contains(t, buf.String(), "critical")
}
