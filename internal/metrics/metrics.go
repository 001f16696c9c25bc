// Package metrics exposes engine activity to Prometheus.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mamadbah2/bloodbank/internal/domain/models"
)

const namespace = "bloodbank"

// Recorder implements the engine's metrics port on a private registry.
type Recorder struct {
	registry     *prometheus.Registry
	units        *prometheus.GaugeVec
	health       *prometheus.GaugeVec
	reservations *prometheus.CounterVec
	reserved     prometheus.Counter
	expired      *prometheus.CounterVec
	rejected     *prometheus.CounterVec
}

// NewRecorder registers every collector. Go runtime and process collectors are
// included so /metrics is useful on its own.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		units: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "units",
			Help:      "Units per blood type and status.",
		}, []string{"blood_type", "status"}),
		health: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stock_health",
			Help:      "Stock health rank per blood type (0 critical, 1 low, 2 surplus, 3 optimal).",
		}, []string{"blood_type"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Reservation attempts by resulting request status.",
		}, []string{"status"}),
		reserved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_reserved_total",
			Help:      "Units reserved for requests.",
		}),
		expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_expired_total",
			Help:      "Units expired by the sweeper.",
		}, []string{"blood_type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_operations_total",
			Help:      "Operations refused by the engine.",
		}, []string{"operation", "reason"}),
	}
	r.registry.MustRegister(
		r.units, r.health, r.reservations, r.reserved, r.expired, r.rejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveStock refreshes the gauges of one ledger.
func (r *Recorder) ObserveStock(report models.StockReport) {
	bt := report.BloodType.String()
	r.units.WithLabelValues(bt, string(models.UnitAvailable)).Set(float64(report.Available))
	r.units.WithLabelValues(bt, string(models.UnitReserved)).Set(float64(report.Reserved))
	r.units.WithLabelValues(bt, string(models.UnitDispatched)).Set(float64(report.Dispatched))
	r.units.WithLabelValues(bt, string(models.UnitExpired)).Set(float64(report.Expired))
	r.units.WithLabelValues(bt, string(models.UnitDiscarded)).Set(float64(report.Discarded))
	r.health.WithLabelValues(bt).Set(float64(report.Status.Rank()))
}

// ObserveReservation counts one reservation attempt.
func (r *Recorder) ObserveReservation(res models.ReservationResult) {
	r.reservations.WithLabelValues(string(res.Status)).Inc()
	r.reserved.Add(float64(res.Granted))
}

// ObserveExpired counts units expired by a sweep.
func (r *Recorder) ObserveExpired(bt models.BloodType, count int) {
	r.expired.WithLabelValues(bt.String()).Add(float64(count))
}

// ObserveRejected counts a refused operation under a coarse reason label.
func (r *Recorder) ObserveRejected(operation string, err error) {
	r.rejected.WithLabelValues(operation, Reason(err)).Inc()
}

// Reason maps an engine error onto a low-cardinality label.
func Reason(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidStateTransition):
		return "invalid_transition"
	case errors.Is(err, models.ErrStaleOperation):
		return "stale"
	case errors.Is(err, models.ErrUnknownBloodType):
		return "unknown_blood_type"
	case errors.Is(err, models.ErrUnknownUnit):
		return "unknown_unit"
	case errors.Is(err, models.ErrUnknownRequest):
		return "unknown_request"
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, models.ErrInvalidInput):
		return "invalid_input"
	default:
		return "other"
	}
}
