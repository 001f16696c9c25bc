package bloodbank

import (
	"context"

	"github.com/mamadbah2/bloodbank/internal/domain/models"
)

// Store durably records unit and request state. It is called synchronously
// after every state transition; implementations must treat saves as upserts.
type Store interface {
	SaveUnits(ctx context.Context, units []models.BloodUnit) error
	SaveRequests(ctx context.Context, reqs []models.Request) error
	LoadUnits(ctx context.Context) ([]models.BloodUnit, error)
	LoadRequests(ctx context.Context) ([]models.Request, error)
}

// Notifier receives signals that a human should hear about. Delivery is the
// notifier's business; the engine only raises the signal.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// MetricsRecorder observes engine activity.
type MetricsRecorder interface {
	ObserveStock(report models.StockReport)
	ObserveReservation(result models.ReservationResult)
	ObserveExpired(bt models.BloodType, count int)
	ObserveRejected(operation string, err error)
}

type nopStore struct{}

func (nopStore) SaveUnits(context.Context, []models.BloodUnit) error { return nil }
func (nopStore) SaveRequests(context.Context, []models.Request) error { return nil }
func (nopStore) LoadUnits(context.Context) ([]models.BloodUnit, error) { return nil, nil }
func (nopStore) LoadRequests(context.Context) ([]models.Request, error) { return nil, nil }

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, models.Notification) error { return nil }

type nopMetrics struct{}

func (nopMetrics) ObserveStock(models.StockReport) {}
func (nopMetrics) ObserveReservation(models.ReservationResult) {}
func (nopMetrics) ObserveExpired(models.BloodType, int) {}
func (nopMetrics) ObserveRejected(string, error) {}
