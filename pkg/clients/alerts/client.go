package alerts

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mamadbah2/bloodbank/internal/config"
)

// Client delivers alert payloads to an HTTP webhook.
type Client interface {
	Post(ctx context.Context, msg Message) error
}

// APIClient is a resty-backed implementation of Client.
type APIClient struct {
	httpClient *resty.Client
	url        string
}

// NewClient builds a webhook client from the alert configuration.
func NewClient(cfg config.AlertsConfig) *APIClient {
	restyClient := resty.New()
	restyClient.
		SetHeader("Content-Type", "application/json").
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	if cfg.Token != "" {
		restyClient.SetAuthToken(cfg.Token)
	}

	return &APIClient{
		httpClient: restyClient,
		url:        cfg.WebhookURL,
	}
}

// Message is the JSON body posted to the webhook.
type Message struct {
	Kind      string            `json:"kind"`
	Text      string            `json:"text"`
	BloodType string            `json:"blood_type,omitempty"`
	Health    string            `json:"health,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Counts    map[string]int    `json:"counts,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	RaisedAt  time.Time         `json:"raised_at"`
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Post sends one message. Non-2xx answers are returned as errors.
func (c *APIClient) Post(ctx context.Context, msg Message) error {
	apiErr := new(apiError)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(msg).
		SetError(apiErr).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}

	if resp.StatusCode() >= http.StatusBadRequest {
		message := apiErr.Message
		if message == "" {
			message = apiErr.Error
		}
		if message == "" {
			message = resp.Status()
		}
		return fmt.Errorf("alert webhook error: code=%d, message=%s", resp.StatusCode(), message)
	}

	return nil
}
