package bloodbank

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/bloodbank/internal/domain/models"
)

func TestSweep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/sweep", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"expired_count":2,"by_type":{"O-":2},"swept_at":"2026-07-01T10:00:00Z"}`))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL+"/").Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.ExpiredCount)
	assert.Equal(t, 2, res.ByType[models.BloodTypeONeg])
}

func TestStockAndServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/api/v1/sweep" {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"persistence unavailable","committed":true}`))
			return
		}
		_, _ = w.Write([]byte(`[{"blood_type":"A+","available":7,"status":"low"}]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	reports, err := client.Stock(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, models.BloodTypeAPos, reports[0].BloodType)
	assert.Equal(t, models.StockLow, reports[0].Status)

	_, err = client.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code=503")
	assert.Contains(t, err.Error(), "persistence pending")
}
