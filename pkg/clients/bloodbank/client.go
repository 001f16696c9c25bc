package bloodbank

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mamadbah2/bloodbank/internal/domain/models"
)

// Client talks to a running bloodbank server.
type Client interface {
	Sweep(ctx context.Context) (models.SweepResult, error)
	Stock(ctx context.Context) ([]models.StockReport, error)
}

// APIClient is a resty-backed implementation of Client.
type APIClient struct {
	httpClient *resty.Client
}

// NewClient builds a client for the server at baseURL.
func NewClient(baseURL string) *APIClient {
	restyClient := resty.New()
	restyClient.
		SetBaseURL(strings.TrimRight(baseURL, "/")+"/api/v1").
		SetHeader("Accept", "application/json").
		SetTimeout(30 * time.Second)

	return &APIClient{httpClient: restyClient}
}

type apiError struct {
	Error     string `json:"error"`
	Committed bool   `json:"committed"`
}

// Sweep asks the server to expire stale units now.
func (c *APIClient) Sweep(ctx context.Context) (models.SweepResult, error) {
	var res models.SweepResult
	apiErr := new(apiError)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&res).
		SetError(apiErr).
		Post("/sweep")
	if err != nil {
		return models.SweepResult{}, fmt.Errorf("post sweep: %w", err)
	}
	if err := check(resp, apiErr); err != nil {
		return models.SweepResult{}, err
	}
	return res, nil
}

// Stock fetches the stock overview of every ledger.
func (c *APIClient) Stock(ctx context.Context) ([]models.StockReport, error) {
	var reports []models.StockReport
	apiErr := new(apiError)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&reports).
		SetError(apiErr).
		Get("/stock")
	if err != nil {
		return nil, fmt.Errorf("get stock: %w", err)
	}
	if err := check(resp, apiErr); err != nil {
		return nil, err
	}
	return reports, nil
}

func check(resp *resty.Response, apiErr *apiError) error {
	if resp.StatusCode() < http.StatusBadRequest {
		return nil
	}
	message := apiErr.Error
	if message == "" {
		message = resp.Status()
	}
	if apiErr.Committed {
		message += " (applied, persistence pending)"
	}
	return fmt.Errorf("bloodbank server error: code=%d, message=%s", resp.StatusCode(), message)
}
