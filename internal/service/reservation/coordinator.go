// Package reservation matches hospital requests to blood units and tracks
// them through dispatch.
package reservation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mamadbah2/bloodbank/internal/domain/compatibility"
	"github.com/mamadbah2/bloodbank/internal/domain/models"
	"github.com/mamadbah2/bloodbank/internal/service/inventory"
	"github.com/mamadbah2/bloodbank/internal/service/priority"
)

// Options tune the coordinator's allocation policy.
type Options struct {
	// UnitVolumeML is used for requested volume when a request is submitted.
	UnitVolumeML int
	// EscalateOnShortfall moves requests that received nothing to reviewing.
	EscalateOnShortfall bool
	// DisableFallback restricts reservations to the exact blood type.
	DisableFallback bool
	// DispatchGrace is how long past expiry a reserved unit may still ship.
	DispatchGrace time.Duration
}

// Outcome collects everything a coordinator call touched so the caller can
// persist it and raise notifications.
type Outcome struct {
	Units    []models.BloodUnit
	Requests []models.Request
	Changes  []inventory.Change
}

func (o *Outcome) addChange(c inventory.Change) {
	if len(c.Units) == 0 {
		return
	}
	o.Changes = append(o.Changes, c)
	o.Units = append(o.Units, c.Units...)
}

// Merge appends another outcome.
func (o *Outcome) Merge(other Outcome) {
	o.Units = append(o.Units, other.Units...)
	o.Requests = append(o.Requests, other.Requests...)
	o.Changes = append(o.Changes, other.Changes...)
}

type entry struct {
	mu  sync.Mutex
	req models.Request
}

// Coordinator owns the active requests and reserves units for them. Each
// request has its own lock; each ledger call is independently atomic, so a
// fallback chain can end in partial fulfillment but never in over-allocation.
type Coordinator struct {
	inventory *inventory.Inventory
	opts      Options
	logger    *zap.Logger
	newID     func() string

	mu       sync.RWMutex
	requests map[string]*entry
}

// NewCoordinator wires a coordinator on top of an inventory.
func NewCoordinator(inv *inventory.Inventory, opts Options, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.UnitVolumeML <= 0 {
		opts.UnitVolumeML = models.DefaultUnitVolumeML
	}
	return &Coordinator{
		inventory: inv,
		opts:      opts,
		logger:    logger,
		newID:     uuid.NewString,
		requests:  make(map[string]*entry),
	}
}

// SetIDGenerator replaces the uuid-based request ID generator.
func (c *Coordinator) SetIDGenerator(fn func() string) {
	if fn != nil {
		c.newID = fn
	}
}

// Submit registers a new pending request.
func (c *Coordinator) Submit(in models.RequestInput, now time.Time) (models.Request, error) {
	req, err := models.NewRequest(c.newID(), in, c.opts.UnitVolumeML, now)
	if err != nil {
		return models.Request{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.requests[req.ID]; exists {
		return models.Request{}, fmt.Errorf("%w: duplicate request id %s", models.ErrInvalidInput, req.ID)
	}
	c.requests[req.ID] = &entry{req: req}

	c.logger.Info("request submitted",
		zap.String("request_id", req.ID),
		zap.String("blood_type", req.BloodType.String()),
		zap.Int("units", req.UnitsRequested),
		zap.String("urgency", string(req.Urgency)),
		zap.Time("required_by", req.RequiredBy))
	return req.Clone(), nil
}

// Restore loads persisted requests.
func (c *Coordinator) Restore(reqs []models.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[string]struct{}, len(reqs))
	for _, r := range reqs {
		if r.ID == "" {
			return fmt.Errorf("%w: request without id", models.ErrInvalidInput)
		}
		_, exists := c.requests[r.ID]
		_, dup := seen[r.ID]
		if exists || dup {
			return fmt.Errorf("%w: duplicate request id %s", models.ErrInvalidInput, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	for _, r := range reqs {
		c.requests[r.ID] = &entry{req: r.Clone()}
	}
	return nil
}

// Get returns a copy of a request.
func (c *Coordinator) Get(id string) (models.Request, error) {
	e, err := c.lookup(id)
	if err != nil {
		return models.Request{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.req.Clone(), nil
}

// List returns copies of every request ordered by creation time.
func (c *Coordinator) List() []models.Request {
	out := c.snapshot(func(models.Request) bool { return true })
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Queue returns the non-terminal requests in allocation order.
func (c *Coordinator) Queue(now time.Time) []models.Request {
	out := c.snapshot(func(r models.Request) bool { return !r.Status.Terminal() })
	priority.Sort(out, now)
	return out
}

// Reserve tries to hold up to quantity units of the request's outstanding
// demand. The exact-type ledger is asked for the whole amount first; on a
// shortfall compatible donor ledgers are drained in fallback order. Units
// granted by earlier ledgers are kept even when later ones come up empty.
func (c *Coordinator) Reserve(requestID string, bt models.BloodType, quantity int, now time.Time) (models.ReservationResult, Outcome, error) {
	var out Outcome
	if quantity <= 0 {
		return models.ReservationResult{}, out, fmt.Errorf("%w: quantity must be positive, got %d", models.ErrInvalidInput, quantity)
	}
	e, err := c.lookup(requestID)
	if err != nil {
		return models.ReservationResult{}, out, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	req := &e.req

	if req.Status.Terminal() {
		return models.ReservationResult{}, out, fmt.Errorf("%w: request %s is %s", models.ErrStaleOperation, req.ID, req.Status)
	}
	if bt != req.BloodType {
		return models.ReservationResult{}, out, fmt.Errorf("%w: request %s is for %s, not %s", models.ErrInvalidInput, req.ID, req.BloodType, bt)
	}

	want := quantity
	if outstanding := req.Outstanding(); outstanding < want {
		want = outstanding
	}
	if want == 0 {
		return c.result(req, nil), out, nil
	}

	exact, err := c.inventory.Ledger(bt)
	if err != nil {
		return models.ReservationResult{}, out, err
	}

	change, err := exact.Reserve(req.ID, want, now)
	switch {
	case err == nil:
		out.addChange(change)
	case errors.Is(err, models.ErrInsufficientStock):
		c.logger.Debug("exact ledger short",
			zap.String("request_id", req.ID),
			zap.Error(err))
		if err := c.fallback(req, want, now, &out); err != nil {
			return models.ReservationResult{}, out, err
		}
	default:
		return models.ReservationResult{}, out, err
	}

	granted := out.Units
	c.assign(req, granted)
	c.settle(req, now)
	req.UpdatedAt = now

	res := c.result(req, granted)
	res.Shortfall = want - len(granted)
	out.Requests = append(out.Requests, req.Clone())

	c.logger.Info("reservation attempted",
		zap.String("request_id", req.ID),
		zap.String("blood_type", bt.String()),
		zap.Int("wanted", want),
		zap.Int("granted", len(granted)),
		zap.String("status", string(req.Status)))
	return res, out, nil
}

func (c *Coordinator) fallback(req *models.Request, want int, now time.Time, out *Outcome) error {
	donors := []models.BloodType{req.BloodType}
	if !c.opts.DisableFallback {
		donors = compatibility.FallbackOrder(req.BloodType)
	}
	granted := 0
	for _, donor := range donors {
		remaining := want - granted
		if remaining == 0 {
			break
		}
		ledger, err := c.inventory.Ledger(donor)
		if err != nil {
			return err
		}
		change, err := ledger.ReserveUpTo(req.ID, remaining, now)
		if err != nil {
			return err
		}
		granted += len(change.Units)
		out.addChange(change)
	}
	return nil
}

// AllocatePending walks open requests in priority order and tries to cover
// their outstanding demand. Overdue requests are skipped.
func (c *Coordinator) AllocatePending(now time.Time) ([]models.ReservationResult, Outcome) {
	var (
		results []models.ReservationResult
		out     Outcome
	)
	for _, req := range c.Queue(now) {
		if req.Outstanding() == 0 || req.IsOverdue(now) {
			continue
		}
		res, o, err := c.Reserve(req.ID, req.BloodType, req.Outstanding(), now)
		if err != nil {
			if !errors.Is(err, models.ErrStaleOperation) {
				c.logger.Warn("allocation failed", zap.String("request_id", req.ID), zap.Error(err))
			}
			continue
		}
		out.Merge(o)
		results = append(results, res)
	}
	return results, out
}

// ExpireOverdue moves overdue pending and reviewing requests to expired and
// returns them so the transition can be observed.
func (c *Coordinator) ExpireOverdue(now time.Time) []models.Request {
	var expired []models.Request
	for _, e := range c.entries() {
		e.mu.Lock()
		req := &e.req
		if (req.Status == models.RequestPending || req.Status == models.RequestReviewing) && req.IsOverdue(now) {
			req.Status = models.RequestExpired
			req.UpdatedAt = now
			req.Notes = append(req.Notes, models.Note{At: now, Text: "deadline passed without allocation"})
			expired = append(expired, req.Clone())
			c.logger.Info("request expired", zap.String("request_id", req.ID), zap.Time("required_by", req.RequiredBy))
		}
		e.mu.Unlock()
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired
}

// Cancel closes a request at the requester's initiative and frees held units.
func (c *Coordinator) Cancel(requestID, note string, now time.Time) (models.Request, Outcome, error) {
	return c.close(requestID, models.RequestCancelled, note, now)
}

// Reject closes a request at the bank's initiative and frees held units.
func (c *Coordinator) Reject(requestID, note string, now time.Time) (models.Request, Outcome, error) {
	return c.close(requestID, models.RequestRejected, note, now)
}

func (c *Coordinator) close(requestID string, status models.RequestStatus, note string, now time.Time) (models.Request, Outcome, error) {
	var out Outcome
	e, err := c.lookup(requestID)
	if err != nil {
		return models.Request{}, out, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	req := &e.req
	if req.Status.Terminal() {
		return models.Request{}, out, fmt.Errorf("%w: request %s is %s", models.ErrStaleOperation, req.ID, req.Status)
	}

	released, err := c.releaseHeld(req.ID, heldUnits(req), now, &out)
	if err != nil {
		return models.Request{}, out, err
	}
	c.unassign(req, released)

	req.Status = status
	req.UpdatedAt = now
	text := fmt.Sprintf("%s; released %d unit(s)", status, len(released))
	if note = strings.TrimSpace(note); note != "" {
		text += ": " + note
	}
	req.Notes = append(req.Notes, models.Note{At: now, Text: text})
	out.Requests = append(out.Requests, req.Clone())

	c.logger.Info("request closed",
		zap.String("request_id", req.ID),
		zap.String("status", string(status)),
		zap.Int("released", len(released)))
	return req.Clone(), out, nil
}

// Release frees specific reserved units and detaches them from their requests.
func (c *Coordinator) Release(unitIDs []string, now time.Time) (Outcome, error) {
	var out Outcome
	changes, err := c.inventory.Release(unitIDs, now)
	if err != nil {
		return out, err
	}
	for _, ch := range changes {
		out.addChange(ch)
	}
	out.Requests = c.detach(changes, now, "released back to stock")
	return out, nil
}

// Discard takes units out of circulation, detaching reserved ones from their requests.
func (c *Coordinator) Discard(unitIDs []string, reason string, now time.Time) (Outcome, error) {
	var out Outcome
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return out, fmt.Errorf("%w: discard reason is required", models.ErrInvalidInput)
	}
	changes, err := c.inventory.Discard(unitIDs, reason, now)
	if err != nil {
		return out, err
	}
	for _, ch := range changes {
		out.addChange(ch)
	}
	out.Requests = c.detach(changes, now, "discarded: "+reason)
	return out, nil
}

// InvalidateUnits detaches units that expired while reserved from the
// requests holding them and downgrades those requests.
func (c *Coordinator) InvalidateUnits(changes []inventory.Change, now time.Time) []models.Request {
	return c.detach(changes, now, "expired while reserved")
}

// AddNote appends an audit note. Terminal requests accept notes too.
func (c *Coordinator) AddNote(requestID, text string, now time.Time) (models.Request, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Request{}, fmt.Errorf("%w: note text is required", models.ErrInvalidInput)
	}
	e, err := c.lookup(requestID)
	if err != nil {
		return models.Request{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.req.Notes = append(e.req.Notes, models.Note{At: now, Text: text})
	e.req.UpdatedAt = now
	return e.req.Clone(), nil
}

func (c *Coordinator) detach(changes []inventory.Change, now time.Time, why string) []models.Request {
	byRequest := make(map[string][]string)
	for _, ch := range changes {
		for unitID, reqID := range ch.Holders {
			if reqID != "" {
				byRequest[reqID] = append(byRequest[reqID], unitID)
			}
		}
	}

	var touched []models.Request
	for _, reqID := range sortedKeys(byRequest) {
		e, err := c.lookup(reqID)
		if err != nil {
			c.logger.Warn("unit held by unknown request", zap.String("request_id", reqID), zap.Strings("unit_ids", byRequest[reqID]))
			continue
		}
		e.mu.Lock()
		req := &e.req
		ids := c.lost(reqID, byRequest[reqID])
		if len(ids) == 0 {
			e.mu.Unlock()
			continue
		}
		c.unassign(req, ids)
		if !req.Status.Terminal() {
			c.settle(req, now)
		}
		req.UpdatedAt = now
		req.Notes = append(req.Notes, models.Note{At: now, Text: fmt.Sprintf("%d unit(s) %s: %s", len(ids), why, strings.Join(ids, ", "))})
		touched = append(touched, req.Clone())
		e.mu.Unlock()

		c.logger.Warn("reservation revoked",
			zap.String("request_id", reqID),
			zap.Strings("unit_ids", ids),
			zap.String("reason", why))
	}
	return touched
}

// lost filters unitIDs down to those the ledger no longer reserves for the
// request. A unit re-reserved for the same request between the ledger change
// and this call stays assigned. Callers hold the request lock.
func (c *Coordinator) lost(requestID string, unitIDs []string) []string {
	var ids []string
	for _, id := range unitIDs {
		u, err := c.inventory.Unit(id)
		if err == nil && u.Status == models.UnitReserved && u.ReservedFor == requestID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// releaseHeld releases the given units that are still reserved for the
// request. A unit that moved on concurrently (dispatched, expired) is skipped.
func (c *Coordinator) releaseHeld(requestID string, unitIDs []string, now time.Time, out *Outcome) ([]string, error) {
	const attempts = 3
	for i := 0; i < attempts; i++ {
		var held []string
		for _, id := range unitIDs {
			u, err := c.inventory.Unit(id)
			if err != nil {
				continue
			}
			if u.Status == models.UnitReserved && u.ReservedFor == requestID {
				held = append(held, id)
			}
		}
		if len(held) == 0 {
			return nil, nil
		}
		changes, err := c.inventory.Release(held, now)
		if errors.Is(err, models.ErrInvalidStateTransition) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, ch := range changes {
			out.addChange(ch)
		}
		return held, nil
	}
	return nil, fmt.Errorf("release units for request %s: %w", requestID, models.ErrInvalidStateTransition)
}

func (c *Coordinator) assign(req *models.Request, units []models.BloodUnit) {
	present := make(map[string]struct{}, len(req.Fulfillment.Assignments))
	for _, a := range req.Fulfillment.Assignments {
		present[a.UnitID] = struct{}{}
	}
	for _, u := range units {
		if _, ok := present[u.ID]; ok {
			continue
		}
		present[u.ID] = struct{}{}
		reservedAt := time.Time{}
		if u.ReservedAt != nil {
			reservedAt = *u.ReservedAt
		}
		req.Fulfillment.Assignments = append(req.Fulfillment.Assignments, models.Assignment{
			UnitID:     u.ID,
			BloodType:  u.BloodType,
			VolumeML:   u.VolumeML,
			ReservedAt: reservedAt,
		})
	}
	recomputeVolume(req)
}

func (c *Coordinator) unassign(req *models.Request, unitIDs []string) {
	if len(unitIDs) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(unitIDs))
	for _, id := range unitIDs {
		drop[id] = struct{}{}
	}
	kept := req.Fulfillment.Assignments[:0]
	for _, a := range req.Fulfillment.Assignments {
		if _, ok := drop[a.UnitID]; !ok {
			kept = append(kept, a)
		}
	}
	req.Fulfillment.Assignments = kept
	recomputeVolume(req)
}

// settle derives the status of a non-terminal request from its assignments.
func (c *Coordinator) settle(req *models.Request, now time.Time) {
	assigned := req.Assigned()
	switch {
	case assigned >= req.UnitsRequested && allDispatched(req):
		req.Status = models.RequestFulfilled
	case assigned >= req.UnitsRequested:
		req.Status = models.RequestApproved
	case assigned > 0:
		req.Status = models.RequestPartiallyFulfilled
	case c.opts.EscalateOnShortfall:
		req.Status = models.RequestReviewing
	case req.Status != models.RequestReviewing:
		req.Status = models.RequestPending
	}
}

func (c *Coordinator) result(req *models.Request, granted []models.BloodUnit) models.ReservationResult {
	res := models.ReservationResult{
		RequestID: req.ID,
		Granted:   len(granted),
		UnitIDs:   make([]string, 0, len(granted)),
		Status:    req.Status,
	}
	grantedSet := make(map[string]struct{}, len(granted))
	for _, u := range granted {
		res.UnitIDs = append(res.UnitIDs, u.ID)
		grantedSet[u.ID] = struct{}{}
	}
	for _, a := range req.Fulfillment.Assignments {
		if _, ok := grantedSet[a.UnitID]; ok {
			res.Assignments = append(res.Assignments, a)
		}
	}
	return res
}

func (c *Coordinator) lookup(id string) (*entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownRequest, id)
	}
	return e, nil
}

func (c *Coordinator) entries() []*entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*entry, 0, len(c.requests))
	for _, e := range c.requests {
		out = append(out, e)
	}
	return out
}

func (c *Coordinator) snapshot(keep func(models.Request) bool) []models.Request {
	var out []models.Request
	for _, e := range c.entries() {
		e.mu.Lock()
		if keep(e.req) {
			out = append(out, e.req.Clone())
		}
		e.mu.Unlock()
	}
	return out
}

func heldUnits(req *models.Request) []string {
	var ids []string
	for _, a := range req.Fulfillment.Assignments {
		if a.DispatchedAt == nil {
			ids = append(ids, a.UnitID)
		}
	}
	return ids
}

func allDispatched(req *models.Request) bool {
	if len(req.Fulfillment.Assignments) == 0 {
		return false
	}
	for _, a := range req.Fulfillment.Assignments {
		if a.DispatchedAt == nil {
			return false
		}
	}
	return true
}

func recomputeVolume(req *models.Request) {
	total := 0
	for _, a := range req.Fulfillment.Assignments {
		total += a.VolumeML
	}
	req.Fulfillment.ApprovedVolumeML = total
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
