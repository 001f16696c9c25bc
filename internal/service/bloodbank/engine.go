// Package bloodbank is the engine the outer surfaces talk to. It owns the
// inventory, the reservation coordinator and the expiry sweeper, persists
// every transition through a Store and raises notifications.
package bloodbank

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/bloodbank/internal/config"
	"github.com/mamadbah2/bloodbank/internal/domain/models"
	"github.com/mamadbah2/bloodbank/internal/service/expiry"
	"github.com/mamadbah2/bloodbank/internal/service/inventory"
	"github.com/mamadbah2/bloodbank/internal/service/priority"
	"github.com/mamadbah2/bloodbank/internal/service/reservation"
)

// Settings carries the policy knobs the engine is built with.
type Settings struct {
	ShelfLife           time.Duration
	UnitVolumeML        int
	Thresholds          models.Thresholds
	TypeThresholds      map[models.BloodType]models.Thresholds
	ReservedGrace       time.Duration
	EscalateOnShortfall bool
	DisableFallback     bool
}

// SettingsFromConfig maps the inventory configuration onto engine settings.
func SettingsFromConfig(cfg config.InventoryConfig) Settings {
	return Settings{
		ShelfLife:           cfg.ShelfLife,
		UnitVolumeML:        cfg.UnitVolumeML,
		Thresholds:          cfg.Thresholds,
		TypeThresholds:      cfg.TypeThresholds,
		ReservedGrace:       cfg.ReservedGrace,
		EscalateOnShortfall: cfg.EscalateOnShortfall,
		DisableFallback:     cfg.DisableFallback,
	}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithStore sets the persistence port.
func WithStore(s Store) Option {
	return func(e *Engine) {
		if s != nil {
			e.store = s
		}
	}
}

// WithNotifier sets the notification port.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides the ID source for both units and requests.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

// Engine is safe for concurrent use.
type Engine struct {
	inventory   *inventory.Inventory
	coordinator *reservation.Coordinator
	sweeper     *expiry.Sweeper
	store       Store
	notifier    Notifier
	metrics     MetricsRecorder
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string

	outboxMu      sync.Mutex
	dirtyUnits    map[string]struct{}
	dirtyRequests map[string]struct{}
}

// New builds an engine with one ledger per blood type.
func New(settings Settings, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:         nopStore{},
		notifier:      nopNotifier{},
		metrics:       nopMetrics{},
		logger:        logger,
		now:           time.Now,
		dirtyUnits:    make(map[string]struct{}),
		dirtyRequests: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	if settings.Thresholds == (models.Thresholds{}) {
		settings.Thresholds = models.DefaultThresholds
	}
	ledgerOpts := []inventory.LedgerOption{
		inventory.WithShelfLife(settings.ShelfLife),
		inventory.WithUnitVolume(settings.UnitVolumeML),
	}
	if e.newID != nil {
		ledgerOpts = append(ledgerOpts, inventory.WithIDGenerator(e.newID))
	}
	inv, err := inventory.New(settings.Thresholds, settings.TypeThresholds, ledgerOpts...)
	if err != nil {
		return nil, fmt.Errorf("build inventory: %w", err)
	}

	e.inventory = inv
	e.sweeper = expiry.NewSweeper(inv, settings.ReservedGrace, logger.Named("expiry"))
	e.coordinator = reservation.NewCoordinator(inv, reservation.Options{
		UnitVolumeML:        settings.UnitVolumeML,
		EscalateOnShortfall: settings.EscalateOnShortfall,
		DisableFallback:     settings.DisableFallback,
		DispatchGrace:       e.sweeper.Grace(),
	}, logger.Named("reservation"))
	if e.newID != nil {
		e.coordinator.SetIDGenerator(e.newID)
	}
	return e, nil
}

// Restore loads persisted units and requests. It must run before the engine
// serves traffic.
func (e *Engine) Restore(ctx context.Context) error {
	units, err := e.store.LoadUnits(ctx)
	if err != nil {
		return fmt.Errorf("%w: load units: %w", models.ErrPersistence, err)
	}
	reqs, err := e.store.LoadRequests(ctx)
	if err != nil {
		return fmt.Errorf("%w: load requests: %w", models.ErrPersistence, err)
	}
	if err := e.inventory.Restore(units); err != nil {
		return fmt.Errorf("restore units: %w", err)
	}
	if err := e.coordinator.Restore(reqs); err != nil {
		return fmt.Errorf("restore requests: %w", err)
	}
	e.observeStock(models.AllBloodTypes...)
	e.logger.Info("engine restored", zap.Int("units", len(units)), zap.Int("requests", len(reqs)))
	return nil
}

// AddUnit registers a freshly collected unit as available stock.
func (e *Engine) AddUnit(ctx context.Context, bt models.BloodType, collectedAt time.Time, donationRef string) (models.BloodUnit, error) {
	unit, err := e.inventory.AddStock(bt, collectedAt, donationRef)
	if err != nil {
		return models.BloodUnit{}, e.reject("add_unit", err)
	}
	e.logger.Info("unit added",
		zap.String("unit_id", unit.ID),
		zap.String("blood_type", bt.String()),
		zap.Time("expires_at", unit.ExpiresAt))

	e.observeStock(bt)
	return unit, e.persist(ctx, reservation.Outcome{Units: []models.BloodUnit{unit}})
}

// SubmitRequest registers a hospital request as pending.
func (e *Engine) SubmitRequest(ctx context.Context, in models.RequestInput) (models.Request, error) {
	req, err := e.coordinator.Submit(in, e.now())
	if err != nil {
		return models.Request{}, e.reject("submit_request", err)
	}
	return req, e.persist(ctx, reservation.Outcome{Requests: []models.Request{req}})
}

// Reserve holds up to quantity units for the request, falling back to
// compatible donor types on a shortage. A shortage is reported through the
// result, not as an error.
func (e *Engine) Reserve(ctx context.Context, requestID string, bt models.BloodType, quantity int) (models.ReservationResult, error) {
	res, out, err := e.coordinator.Reserve(requestID, bt, quantity, e.now())
	if err != nil {
		// a fallback chain can fail after earlier ledgers granted units
		perr := e.settle(ctx, out)
		return models.ReservationResult{}, errors.Join(e.reject("reserve", err), perr)
	}
	e.metrics.ObserveReservation(res)
	return res, e.settle(ctx, out)
}

// Dispatch ships reserved units to destination.
func (e *Engine) Dispatch(ctx context.Context, unitIDs []string, destination string) error {
	out, err := e.coordinator.Dispatch(unitIDs, destination, e.now())
	if err != nil {
		return e.reject("dispatch", err)
	}
	return e.settle(ctx, out)
}

// Release returns reserved units to available stock.
func (e *Engine) Release(ctx context.Context, unitIDs []string) error {
	out, err := e.coordinator.Release(unitIDs, e.now())
	if err != nil {
		return e.reject("release", err)
	}
	return e.settle(ctx, out)
}

// Discard takes units out of circulation for a recorded reason.
func (e *Engine) Discard(ctx context.Context, unitIDs []string, reason string) error {
	out, err := e.coordinator.Discard(unitIDs, reason, e.now())
	if err != nil {
		return e.reject("discard", err)
	}
	return e.settle(ctx, out)
}

// CancelRequest closes a request at the hospital's initiative.
func (e *Engine) CancelRequest(ctx context.Context, requestID, note string) (models.Request, error) {
	req, out, err := e.coordinator.Cancel(requestID, note, e.now())
	if err != nil {
		return models.Request{}, errors.Join(e.reject("cancel_request", err), e.settle(ctx, out))
	}
	return req, e.settle(ctx, out)
}

// RejectRequest closes a request at the bank's initiative.
func (e *Engine) RejectRequest(ctx context.Context, requestID, note string) (models.Request, error) {
	req, out, err := e.coordinator.Reject(requestID, note, e.now())
	if err != nil {
		return models.Request{}, errors.Join(e.reject("reject_request", err), e.settle(ctx, out))
	}
	return req, e.settle(ctx, out)
}

// ConfirmReceipt records the hospital's acknowledgement of dispatched units.
func (e *Engine) ConfirmReceipt(ctx context.Context, requestID string) (models.Request, error) {
	req, err := e.coordinator.ConfirmReceipt(requestID, e.now())
	if err != nil {
		return models.Request{}, e.reject("confirm_receipt", err)
	}
	return req, e.persist(ctx, reservation.Outcome{Requests: []models.Request{req}})
}

// AddNote appends an audit note to a request.
func (e *Engine) AddNote(ctx context.Context, requestID, text string) (models.Request, error) {
	req, err := e.coordinator.AddNote(requestID, text, e.now())
	if err != nil {
		return models.Request{}, e.reject("add_note", err)
	}
	return req, e.persist(ctx, reservation.Outcome{Requests: []models.Request{req}})
}

// SweepExpired expires every unit past its shelf life and detaches expired
// reserved units from the requests holding them. Running it twice at the
// same instant expires nothing the second time.
func (e *Engine) SweepExpired(ctx context.Context) (models.SweepResult, error) {
	now := e.now()
	result, changes := e.sweeper.Sweep(now)
	out := reservation.Outcome{Units: result.Units, Changes: changes}
	out.Requests = e.coordinator.InvalidateUnits(changes, now)

	for _, ch := range changes {
		e.metrics.ObserveExpired(ch.BloodType, len(ch.Units))
	}
	if result.ExpiredCount > 0 {
		e.notify(ctx, models.Notification{
			Kind:     models.NotifyUnitsExpired,
			Count:    result.ExpiredCount,
			ByType:   result.ByType,
			UnitIDs:  unitIDs(result.Units),
			Message:  fmt.Sprintf("%d unit(s) expired", result.ExpiredCount),
			RaisedAt: now,
		})
	}
	for _, req := range out.Requests {
		e.notify(ctx, models.Notification{
			Kind:      models.NotifyReservationRevoked,
			BloodType: req.BloodType,
			RequestID: req.ID,
			Message:   fmt.Sprintf("request %s lost reserved units to expiry and is now %s", req.ID, req.Status),
			RaisedAt:  now,
		})
	}
	return result, e.settle(ctx, out)
}

// ExpireOverdueRequests moves pending and reviewing requests past their
// deadline to expired.
func (e *Engine) ExpireOverdueRequests(ctx context.Context) ([]models.Request, error) {
	now := e.now()
	expired := e.coordinator.ExpireOverdue(now)
	for _, req := range expired {
		e.notify(ctx, models.Notification{
			Kind:      models.NotifyRequestExpired,
			BloodType: req.BloodType,
			RequestID: req.ID,
			Message:   fmt.Sprintf("request %s from %s expired before allocation", req.ID, req.Hospital),
			RaisedAt:  now,
		})
	}
	return expired, e.persist(ctx, reservation.Outcome{Requests: expired})
}

// AllocatePending walks the queue in priority order and reserves what it can.
func (e *Engine) AllocatePending(ctx context.Context) ([]models.ReservationResult, error) {
	results, out := e.coordinator.AllocatePending(e.now())
	for _, res := range results {
		e.metrics.ObserveReservation(res)
	}
	return results, e.settle(ctx, out)
}

// StockStatus reports one ledger.
func (e *Engine) StockStatus(bt models.BloodType) (models.StockReport, error) {
	ledger, err := e.inventory.Ledger(bt)
	if err != nil {
		return models.StockReport{}, err
	}
	return ledger.Report(e.now()), nil
}

// StockOverview reports every ledger in canonical order.
func (e *Engine) StockOverview() []models.StockReport {
	return e.inventory.Reports(e.now())
}

// ScoreRequest returns the current priority score of a request.
func (e *Engine) ScoreRequest(req models.Request) float64 {
	return priority.Score(req, e.now())
}

// Request returns a copy of a request.
func (e *Engine) Request(id string) (models.Request, error) {
	return e.coordinator.Get(id)
}

// Requests returns every request, oldest first.
func (e *Engine) Requests() []models.Request {
	return e.coordinator.List()
}

// Queue returns the open requests in allocation order.
func (e *Engine) Queue() []models.Request {
	return e.coordinator.Queue(e.now())
}

// Unit returns a copy of a unit.
func (e *Engine) Unit(id string) (models.BloodUnit, error) {
	return e.inventory.Unit(id)
}

// Flush retries every write that failed earlier.
func (e *Engine) Flush(ctx context.Context) error {
	e.outboxMu.Lock()
	defer e.outboxMu.Unlock()
	return e.flushLocked(ctx)
}

// Pending reports how many units and requests still await a successful write.
func (e *Engine) Pending() (units, requests int) {
	e.outboxMu.Lock()
	defer e.outboxMu.Unlock()
	return len(e.dirtyUnits), len(e.dirtyRequests)
}

// settle persists an outcome, raises stock alerts and refreshes gauges.
func (e *Engine) settle(ctx context.Context, out reservation.Outcome) error {
	touched := make(map[models.BloodType]struct{})
	for _, ch := range out.Changes {
		touched[ch.BloodType] = struct{}{}
		if !ch.Degraded() {
			continue
		}
		e.logger.Warn("stock degraded",
			zap.String("blood_type", ch.BloodType.String()),
			zap.String("from", string(ch.Before)),
			zap.String("to", string(ch.After)),
			zap.Int("available", ch.Available))
		e.notify(ctx, models.Notification{
			Kind:      models.NotifyStockAlert,
			BloodType: ch.BloodType,
			Health:    ch.After,
			Previous:  ch.Before,
			Available: ch.Available,
			Message:   fmt.Sprintf("%s stock is %s with %d unit(s) available", ch.BloodType, ch.After, ch.Available),
			RaisedAt:  e.now(),
		})
	}
	types := make([]models.BloodType, 0, len(touched))
	for bt := range touched {
		types = append(types, bt)
	}
	e.observeStock(types...)
	return e.persist(ctx, out)
}

// persist marks everything the outcome touched as dirty and writes the whole
// outbox. The latest in-memory state is read at write time, so a retry never
// resurrects an older version.
func (e *Engine) persist(ctx context.Context, out reservation.Outcome) error {
	if len(out.Units) == 0 && len(out.Requests) == 0 {
		return nil
	}
	e.outboxMu.Lock()
	defer e.outboxMu.Unlock()
	for _, u := range out.Units {
		e.dirtyUnits[u.ID] = struct{}{}
	}
	for _, r := range out.Requests {
		e.dirtyRequests[r.ID] = struct{}{}
	}
	return e.flushLocked(ctx)
}

func (e *Engine) flushLocked(ctx context.Context) error {
	var errs []error

	if len(e.dirtyUnits) > 0 {
		ids := sortedIDs(e.dirtyUnits)
		units := make([]models.BloodUnit, 0, len(ids))
		for _, id := range ids {
			u, err := e.inventory.Unit(id)
			if err != nil {
				delete(e.dirtyUnits, id)
				continue
			}
			units = append(units, u)
		}
		if err := e.store.SaveUnits(ctx, units); err != nil {
			e.logger.Error("persist units failed", zap.Int("units", len(units)), zap.Error(err))
			errs = append(errs, fmt.Errorf("save units: %w", err))
		} else {
			for _, u := range units {
				delete(e.dirtyUnits, u.ID)
			}
		}
	}

	if len(e.dirtyRequests) > 0 {
		ids := sortedIDs(e.dirtyRequests)
		reqs := make([]models.Request, 0, len(ids))
		for _, id := range ids {
			r, err := e.coordinator.Get(id)
			if err != nil {
				delete(e.dirtyRequests, id)
				continue
			}
			reqs = append(reqs, r)
		}
		if err := e.store.SaveRequests(ctx, reqs); err != nil {
			e.logger.Error("persist requests failed", zap.Int("requests", len(reqs)), zap.Error(err))
			errs = append(errs, fmt.Errorf("save requests: %w", err))
		} else {
			for _, r := range reqs {
				delete(e.dirtyRequests, r.ID)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", models.ErrPersistence, errors.Join(errs...))
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, n models.Notification) {
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Warn("notification failed",
			zap.String("kind", string(n.Kind)),
			zap.String("blood_type", n.BloodType.String()),
			zap.Error(err))
	}
}

// reject logs a refused operation. Invalid transitions point at a caller bug
// or a race with the sweeper and are logged loudly.
func (e *Engine) reject(op string, err error) error {
	e.metrics.ObserveRejected(op, err)
	if errors.Is(err, models.ErrInvalidStateTransition) {
		e.logger.Error("invalid state transition", zap.String("operation", op), zap.Error(err))
	} else {
		e.logger.Debug("operation refused", zap.String("operation", op), zap.Error(err))
	}
	return err
}

func (e *Engine) observeStock(types ...models.BloodType) {
	now := e.now()
	for _, bt := range types {
		ledger, err := e.inventory.Ledger(bt)
		if err != nil {
			continue
		}
		e.metrics.ObserveStock(ledger.Report(now))
	}
}

func sortedIDs(m map[string]struct{}) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func unitIDs(units []models.BloodUnit) []string {
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	return ids
}
