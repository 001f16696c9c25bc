package bloodbank

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/bloodbank/internal/config"
	"github.com/mamadbah2/bloodbank/internal/domain/models"
)

var start = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type memStore struct {
	mu       sync.Mutex
	fail     bool
	units    map[string]models.BloodUnit
	requests map[string]models.Request
	saves    int
}

func newMemStore() *memStore {
	return &memStore{
		units:    make(map[string]models.BloodUnit),
		requests: make(map[string]models.Request),
	}
}

func (s *memStore) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = v
}

func (s *memStore) SaveUnits(_ context.Context, units []models.BloodUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("connection refused")
	}
	s.saves++
	for _, u := range units {
		s.units[u.ID] = u
	}
	return nil
}

func (s *memStore) SaveRequests(_ context.Context, reqs []models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("connection refused")
	}
	s.saves++
	for _, r := range reqs {
		s.requests[r.ID] = r
	}
	return nil
}

func (s *memStore) LoadUnits(context.Context) ([]models.BloodUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.BloodUnit, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, u)
	}
	return out, nil
}

func (s *memStore) LoadRequests(context.Context) ([]models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Request, 0, len(s.requests))
	for _, r := range s.requests {
		out = append(out, r)
	}
	return out, nil
}

func (s *memStore) unit(id string) models.BloodUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.units[id]
}

func (s *memStore) request(id string) models.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[id]
}

type recorder struct {
	mu   sync.Mutex
	fail bool
	got  []models.Notification
}

func (r *recorder) Notify(_ context.Context, n models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	if r.fail {
		return errors.New("webhook down")
	}
	return nil
}

func (r *recorder) kinds() []models.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.NotificationKind, len(r.got))
	for i, n := range r.got {
		out[i] = n.Kind
	}
	return out
}

func (r *recorder) ofKind(kind models.NotificationKind) []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Notification
	for _, n := range r.got {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type clock struct {
	mu sync.Mutex
	at time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

type harness struct {
	engine   *Engine
	store    *memStore
	notifier *recorder
	clock    *clock
}

func newHarness(t *testing.T, settings Settings) *harness {
	t.Helper()
	h := &harness{store: newMemStore(), notifier: &recorder{}, clock: &clock{at: start}}
	seq := 0
	var mu sync.Mutex
	engine, err := New(settings, nil,
		WithStore(h.store),
		WithNotifier(h.notifier),
		WithClock(h.clock.Now),
		WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%03d", seq)
		}))
	require.NoError(t, err)
	h.engine = engine
	return h
}

func (h *harness) stock(t *testing.T, bt models.BloodType, n int, age time.Duration) []models.BloodUnit {
	t.Helper()
	var out []models.BloodUnit
	for i := 0; i < n; i++ {
		u, err := h.engine.AddUnit(context.Background(), bt, start.Add(-age), fmt.Sprintf("don-%s-%d", bt, i))
		require.NoError(t, err)
		out = append(out, u)
	}
	return out
}

func (h *harness) submit(t *testing.T, bt models.BloodType, units int, requiredIn time.Duration) models.Request {
	t.Helper()
	req, err := h.engine.SubmitRequest(context.Background(), models.RequestInput{
		Hospital:       "General Hospital",
		BloodType:      bt,
		UnitsRequested: units,
		Urgency:        models.UrgencyEmergency,
		RequiredBy:     h.clock.Now().Add(requiredIn),
		Priority:       4,
	})
	require.NoError(t, err)
	return req
}

func TestReserveDegradesStockAndAlerts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Settings{})
	h.stock(t, models.BloodTypeAPos, 12, time.Hour)

	report, err := h.engine.StockStatus(models.BloodTypeAPos)
	require.NoError(t, err)
	assert.Equal(t, models.StockSurplus, report.Status)

	req := h.submit(t, models.BloodTypeAPos, 3, 6*time.Hour)
	res, err := h.engine.Reserve(ctx, req.ID, models.BloodTypeAPos, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Granted)
	assert.Equal(t, models.RequestApproved, res.Status)

	report, err = h.engine.StockStatus(models.BloodTypeAPos)
	require.NoError(t, err)
	assert.Equal(t, 9, report.Available)
	assert.Equal(t, 3, report.Reserved)
	assert.Equal(t, models.StockLow, report.Status)

	alerts := h.notifier.ofKind(models.NotifyStockAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.BloodTypeAPos, alerts[0].BloodType)
	assert.Equal(t, models.StockLow, alerts[0].Health)
	assert.Equal(t, models.StockSurplus, alerts[0].Previous)
	assert.Equal(t, 9, alerts[0].Available)

	for _, id := range res.UnitIDs {
		assert.Equal(t, models.UnitReserved, h.store.unit(id).Status)
	}
	assert.Equal(t, models.RequestApproved, h.store.request(req.ID).Status)
}

func TestSweepExpiresAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Settings{})
	h.stock(t, models.BloodTypeOPos, 3, 41*24*time.Hour)
	h.stock(t, models.BloodTypeOPos, 2, time.Hour)

	h.clock.Advance(25 * time.Hour)
	res, err := h.engine.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExpiredCount)
	assert.Equal(t, 3, res.ByType[models.BloodTypeOPos])

	report, err := h.engine.StockStatus(models.BloodTypeOPos)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Available)
	assert.Equal(t, 3, report.Expired)

	res, err = h.engine.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.ExpiredCount)

	expired := h.notifier.ofKind(models.NotifyUnitsExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, 3, expired[0].Count)
	assert.Len(t, expired[0].UnitIDs, 3)
	for _, id := range expired[0].UnitIDs {
		assert.Equal(t, models.UnitExpired, h.store.unit(id).Status)
	}
}

func TestSweepRevokesExpiredReservations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Settings{ReservedGrace: 2 * time.Hour})
	h.stock(t, models.BloodTypeBNeg, 2, 41*24*time.Hour+20*time.Hour)
	req := h.submit(t, models.BloodTypeBNeg, 2, 48*time.Hour)

	res, err := h.engine.Reserve(ctx, req.ID, models.BloodTypeBNeg, 2)
	require.NoError(t, err)
	require.Equal(t, 2, res.Granted)

	// shelf life ends four hours after start; still within grace at five
	h.clock.Advance(5 * time.Hour)
	swept, err := h.engine.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept.ExpiredCount)

	h.clock.Advance(2 * time.Hour)
	swept, err = h.engine.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, swept.ExpiredCount)

	got, err := h.engine.Request(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, got.Status)
	assert.Empty(t, got.Fulfillment.Assignments)

	revoked := h.notifier.ofKind(models.NotifyReservationRevoked)
	require.Len(t, revoked, 1)
	assert.Equal(t, req.ID, revoked[0].RequestID)
	assert.Equal(t, models.RequestPending, h.store.request(req.ID).Status)
}

func TestDispatchFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Settings{})
	h.stock(t, models.BloodTypeABPos, 2, time.Hour)
	req := h.submit(t, models.BloodTypeABPos, 2, 6*time.Hour)

	res, err := h.engine.Reserve(ctx, req.ID, models.BloodTypeABPos, 2)
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	require.NoError(t, h.engine.Dispatch(ctx, res.UnitIDs, "Riverside Clinic"))

	got, err := h.engine.Request(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestFulfilled, got.Status)

	for _, id := range res.UnitIDs {
		u, err := h.engine.Unit(id)
		require.NoError(t, err)
		assert.Equal(t, models.UnitDispatched, u.Status)
		assert.Equal(t, "Riverside Clinic", h.store.unit(id).DispatchedTo)
	}

	err = h.engine.Dispatch(ctx, res.UnitIDs, "Riverside Clinic")
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)

	got, err = h.engine.ConfirmReceipt(ctx, req.ID)
	require.NoError(t, err)
	for _, a := range got.Fulfillment.Assignments {
		assert.NotNil(t, a.ReceivedAt)
	}
}

func TestPersistenceFailureKeepsTransitionAndFlushes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Settings{})
	units := h.stock(t, models.BloodTypeONeg, 2, time.Hour)
	req := h.submit(t, models.BloodTypeONeg, 1, 6*time.Hour)

	h.store.setFail(true)
	res, err := h.engine.Reserve(ctx, req.ID, models.BloodTypeONeg, 1)
	require.ErrorIs(t, err, models.ErrPersistence)
	assert.Equal(t, 1, res.Granted)

	u, err := h.engine.Unit(units[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.UnitReserved, u.Status)
	assert.Equal(t, models.UnitAvailable, h.store.unit(units[0].ID).Status)

	pendingUnits, pendingReqs := h.engine.Pending()
	assert.Equal(t, 1, pendingUnits)
	assert.Equal(t, 1, pendingReqs)

	assert.ErrorIs(t, h.engine.Flush(ctx), models.ErrPersistence)

	h.store.setFail(false)
	require.NoError(t, h.engine.Flush(ctx))
	assert.Equal(t, models.UnitReserved, h.store.unit(units[0].ID).Status)
	assert.Equal(t, models.RequestApproved, h.store.request(req.ID).Status)

	pendingUnits, pendingReqs = h.engine.Pending()
	assert.Zero(t, pendingUnits)
	assert.Zero(t, pendingReqs)

	report, err := h.engine.StockStatus(models.BloodTypeONeg)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Available)
	assert.Equal(t, 1, report.Reserved)
}

func TestNotifierFailureDoesNotFailOperation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Settings{})
	h.notifier.fail = true
	h.stock(t, models.BloodTypeAPos, 6, time.Hour)
	req := h.submit(t, models.BloodTypeAPos, 2, 6*time.Hour)

	res, err := h.engine.Reserve(ctx, req.ID, models.BloodTypeAPos, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Granted)
	assert.Contains(t, h.notifier.kinds(), models.NotifyStockAlert)
}

func TestExpireOverdueAndAllocate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Settings{})
	late := h.submit(t, models.BloodTypeBPos, 1, time.Hour)
	open := h.submit(t, models.BloodTypeBPos, 1, 48*time.Hour)

	h.clock.Advance(2 * time.Hour)
	expired, err := h.engine.ExpireOverdueRequests(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, late.ID, expired[0].ID)
	assert.Equal(t, models.RequestExpired, h.store.request(late.ID).Status)
	require.Len(t, h.notifier.ofKind(models.NotifyRequestExpired), 1)

	h.stock(t, models.BloodTypeBPos, 1, time.Hour)
	results, err := h.engine.AllocatePending(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, open.ID, results[0].RequestID)
	assert.Equal(t, models.RequestApproved, results[0].Status)

	queue := h.engine.Queue()
	require.Len(t, queue, 1)
	assert.Len(t, queue[0].Fulfillment.Assignments, 1)
}

func TestCancelReleasesUnits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Settings{})
	h.stock(t, models.BloodTypeANeg, 3, time.Hour)
	req := h.submit(t, models.BloodTypeANeg, 2, 6*time.Hour)
	_, err := h.engine.Reserve(ctx, req.ID, models.BloodTypeANeg, 2)
	require.NoError(t, err)

	closed, err := h.engine.CancelRequest(ctx, req.ID, "patient transferred")
	require.NoError(t, err)
	assert.Equal(t, models.RequestCancelled, closed.Status)

	report, err := h.engine.StockStatus(models.BloodTypeANeg)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Available)

	_, err = h.engine.CancelRequest(ctx, req.ID, "")
	assert.ErrorIs(t, err, models.ErrStaleOperation)

	noted, err := h.engine.AddNote(ctx, req.ID, "called ward")
	require.NoError(t, err)
	assert.Equal(t, "called ward", noted.Notes[len(noted.Notes)-1].Text)
}

func TestRestoreRebuildsState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Settings{})
	h.stock(t, models.BloodTypeOPos, 4, time.Hour)
	req := h.submit(t, models.BloodTypeOPos, 2, 6*time.Hour)
	_, err := h.engine.Reserve(ctx, req.ID, models.BloodTypeOPos, 2)
	require.NoError(t, err)

	restored, err := New(Settings{}, nil, WithStore(h.store), WithClock(h.clock.Now))
	require.NoError(t, err)
	require.NoError(t, restored.Restore(ctx))

	report, err := restored.StockStatus(models.BloodTypeOPos)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Available)
	assert.Equal(t, 2, report.Reserved)

	got, err := restored.Request(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestApproved, got.Status)
	assert.Len(t, got.Fulfillment.Assignments, 2)
}

func TestExactTypeOnlyFromConfig(t *testing.T) {
	ctx := context.Background()
	settings := SettingsFromConfig(config.InventoryConfig{DisableFallback: true})
	require.True(t, settings.DisableFallback)

	h := newHarness(t, settings)
	h.stock(t, models.BloodTypeONeg, 6, time.Hour)
	req := h.submit(t, models.BloodTypeANeg, 2, 6*time.Hour)

	res, err := h.engine.Reserve(ctx, req.ID, models.BloodTypeANeg, 2)
	require.NoError(t, err)
	assert.Zero(t, res.Granted)
	assert.Equal(t, 2, res.Shortfall)
	assert.Equal(t, models.RequestPending, res.Status)

	report, err := h.engine.StockStatus(models.BloodTypeONeg)
	require.NoError(t, err)
	assert.Equal(t, 6, report.Available)
}

type unreadableStore struct {
	*memStore
	err error
}

func (s unreadableStore) LoadUnits(context.Context) ([]models.BloodUnit, error) {
	return nil, s.err
}

func TestRestoreWrapsStoreErrors(t *testing.T) {
	diskFull := errors.New("disk full")
	engine, err := New(Settings{}, nil, WithStore(unreadableStore{memStore: newMemStore(), err: diskFull}))
	require.NoError(t, err)

	err = engine.Restore(context.Background())
	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.ErrorIs(t, err, diskFull)
}

func TestUnknownReferences(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Settings{})

	_, err := h.engine.AddUnit(ctx, models.BloodType("C+"), start, "")
	assert.ErrorIs(t, err, models.ErrUnknownBloodType)

	_, err = h.engine.Reserve(ctx, "missing", models.BloodTypeAPos, 1)
	assert.ErrorIs(t, err, models.ErrUnknownRequest)

	err = h.engine.Release(ctx, []string{"missing"})
	assert.ErrorIs(t, err, models.ErrUnknownUnit)

	_, err = h.engine.StockStatus(models.BloodType("Z"))
	assert.ErrorIs(t, err, models.ErrUnknownBloodType)
}
