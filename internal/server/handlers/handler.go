package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/bloodbank/internal/domain/models"
)

// BloodBank is the engine surface exposed over HTTP.
type BloodBank interface {
	AddUnit(ctx context.Context, bt models.BloodType, collectedAt time.Time, donationRef string) (models.BloodUnit, error)
	Release(ctx context.Context, unitIDs []string) error
	Discard(ctx context.Context, unitIDs []string, reason string) error
	Dispatch(ctx context.Context, unitIDs []string, destination string) error
	SweepExpired(ctx context.Context) (models.SweepResult, error)
	ExpireOverdueRequests(ctx context.Context) ([]models.Request, error)
	AllocatePending(ctx context.Context) ([]models.ReservationResult, error)
	StockOverview() []models.StockReport
	StockStatus(bt models.BloodType) (models.StockReport, error)

	SubmitRequest(ctx context.Context, in models.RequestInput) (models.Request, error)
	Queue() []models.Request
	Request(id string) (models.Request, error)
	ScoreRequest(req models.Request) float64
	Reserve(ctx context.Context, requestID string, bt models.BloodType, quantity int) (models.ReservationResult, error)
	CancelRequest(ctx context.Context, requestID, note string) (models.Request, error)
	RejectRequest(ctx context.Context, requestID, note string) (models.Request, error)
	ConfirmReceipt(ctx context.Context, requestID string) (models.Request, error)
	AddNote(ctx context.Context, requestID, text string) (models.Request, error)
}

// StatusFor maps an engine error onto an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrUnknownBloodType), errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnknownUnit), errors.Is(err, models.ErrUnknownRequest):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidStateTransition),
		errors.Is(err, models.ErrStaleOperation),
		errors.Is(err, models.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, models.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, logger *zap.Logger, err error) {
	status := StatusFor(err)
	body := gin.H{"error": err.Error()}
	if status == http.StatusServiceUnavailable {
		// the transition is applied in memory and will be retried
		body["committed"] = true
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	} else {
		logger.Debug("request refused", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, body)
}

func bindError(c *gin.Context, logger *zap.Logger, err error) {
	logger.Warn("invalid payload", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
}

// bindOptional binds a JSON body when one was sent. It writes the 400 itself
// and reports false on a malformed body.
func bindOptional(c *gin.Context, logger *zap.Logger, obj any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil {
		bindError(c, logger, err)
		return false
	}
	return true
}
