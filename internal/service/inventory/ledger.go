package inventory

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mamadbah2/bloodbank/internal/domain/models"
)

// Change describes the units touched by one ledger mutation together with the
// stock health observed immediately before and after it, under the same lock.
type Change struct {
	BloodType models.BloodType
	Units     []models.BloodUnit
	// Holders maps unit IDs to the request that held them before the change.
	Holders   map[string]string
	Before    models.StockHealth
	After     models.StockHealth
	Available int
}

// Degraded reports whether the mutation pushed the ledger into low or critical.
func (c Change) Degraded() bool {
	return c.After.Degraded(c.Before)
}

// UnitIDs returns the IDs of the touched units in ledger order.
func (c Change) UnitIDs() []string {
	ids := make([]string, 0, len(c.Units))
	for _, u := range c.Units {
		ids = append(ids, u.ID)
	}
	return ids
}

// LedgerOption customizes a Ledger at construction time.
type LedgerOption func(*Ledger)

// WithShelfLife overrides the storage life applied to new units.
func WithShelfLife(d time.Duration) LedgerOption {
	return func(l *Ledger) {
		if d > 0 {
			l.shelfLife = d
		}
	}
}

// WithUnitVolume overrides the nominal bag volume applied to new units.
func WithUnitVolume(ml int) LedgerOption {
	return func(l *Ledger) {
		if ml > 0 {
			l.volumeML = ml
		}
	}
}

// WithIDGenerator replaces the uuid-based unit number generator.
func WithIDGenerator(fn func() string) LedgerOption {
	return func(l *Ledger) {
		if fn != nil {
			l.newID = fn
		}
	}
}

// Ledger is the authoritative collection of every unit of one blood type.
// All reads and writes go through mu; selection and marking of units happen
// inside a single critical section.
type Ledger struct {
	mu         sync.Mutex
	bloodType  models.BloodType
	thresholds models.Thresholds
	shelfLife  time.Duration
	volumeML   int
	newID      func() string

	units  []*models.BloodUnit // oldest collection first
	byID   map[string]*models.BloodUnit
	counts map[models.UnitStatus]int
}

// NewLedger creates an empty ledger for the given type.
func NewLedger(bloodType models.BloodType, thresholds models.Thresholds, opts ...LedgerOption) (*Ledger, error) {
	if !bloodType.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownBloodType, bloodType)
	}
	if err := thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("ledger %s: %w", bloodType, err)
	}
	l := &Ledger{
		bloodType:  bloodType,
		thresholds: thresholds,
		shelfLife:  models.DefaultShelfLife,
		volumeML:   models.DefaultUnitVolumeML,
		newID:      uuid.NewString,
		byID:       make(map[string]*models.BloodUnit),
		counts:     make(map[models.UnitStatus]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// BloodType returns the type held by the ledger.
func (l *Ledger) BloodType() models.BloodType {
	return l.bloodType
}

// Thresholds returns the current stock-health thresholds.
func (l *Ledger) Thresholds() models.Thresholds {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.thresholds
}

// AddStock records a newly collected unit as available.
func (l *Ledger) AddStock(collectedAt time.Time, donationRef string) (models.BloodUnit, error) {
	donationRef = strings.TrimSpace(donationRef)
	if collectedAt.IsZero() {
		return models.BloodUnit{}, fmt.Errorf("%w: collection time is required", models.ErrInvalidInput)
	}
	if donationRef == "" {
		return models.BloodUnit{}, fmt.Errorf("%w: donation reference is required", models.ErrInvalidInput)
	}

	unit := &models.BloodUnit{
		BloodType:   l.bloodType,
		DonationRef: donationRef,
		CollectedAt: collectedAt,
		Status:      models.UnitAvailable,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	unit.ID = l.newID()
	unit.VolumeML = l.volumeML
	unit.ExpiresAt = collectedAt.Add(l.shelfLife)
	if _, exists := l.byID[unit.ID]; exists {
		return models.BloodUnit{}, fmt.Errorf("%w: duplicate unit number %s", models.ErrInvalidInput, unit.ID)
	}
	l.insert(unit)
	return *unit, nil
}

// Restore loads previously persisted units, keeping their recorded state.
func (l *Ledger) Restore(units []models.BloodUnit) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]struct{}, len(units))
	for _, u := range units {
		if u.BloodType != l.bloodType {
			return fmt.Errorf("%w: unit %s is %s, ledger holds %s", models.ErrInvalidInput, u.ID, u.BloodType, l.bloodType)
		}
		if u.ID == "" {
			return fmt.Errorf("%w: unit without number", models.ErrInvalidInput)
		}
		if _, exists := l.byID[u.ID]; exists {
			return fmt.Errorf("%w: duplicate unit number %s", models.ErrInvalidInput, u.ID)
		}
		if _, dup := seen[u.ID]; dup {
			return fmt.Errorf("%w: duplicate unit number %s", models.ErrInvalidInput, u.ID)
		}
		seen[u.ID] = struct{}{}
	}
	for i := range units {
		u := units[i]
		l.insert(&u)
	}
	return nil
}

// Reserve holds exactly quantity units for the request, or none at all.
// Units are chosen oldest-collected first and must not be past expiry.
func (l *Ledger) Reserve(requestID string, quantity int, at time.Time) (Change, error) {
	if err := validateReservation(requestID, quantity); err != nil {
		return Change{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	candidates := l.usable(at, -1)
	if len(candidates) < quantity {
		return Change{}, &models.InsufficientStockError{
			BloodType: l.bloodType,
			Requested: quantity,
			Available: len(candidates),
		}
	}
	return l.reserveLocked(requestID, candidates[:quantity], at), nil
}

// ReserveUpTo holds as many units as are usable, capped at max. A zero-unit
// change is not an error.
func (l *Ledger) ReserveUpTo(requestID string, max int, at time.Time) (Change, error) {
	if err := validateReservation(requestID, max); err != nil {
		return Change{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.reserveLocked(requestID, l.usable(at, max), at), nil
}

// Dispatch moves reserved units out of the bank. Every unit must be reserved
// and still within its shelf life plus grace, otherwise nothing changes.
func (l *Ledger) Dispatch(unitIDs []string, destination string, at time.Time, grace time.Duration) (Change, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkDispatch(unitIDs, at, grace); err != nil {
		return Change{}, err
	}
	return l.applyDispatch(unitIDs, destination, at), nil
}

// Release returns reserved units to the available pool.
func (l *Ledger) Release(unitIDs []string, at time.Time) (Change, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkStatus(unitIDs, models.UnitAvailable); err != nil {
		return Change{}, err
	}
	return l.applyRelease(unitIDs, at), nil
}

// Discard removes available or reserved units from circulation.
func (l *Ledger) Discard(unitIDs []string, reason string, at time.Time) (Change, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkStatus(unitIDs, models.UnitDiscarded); err != nil {
		return Change{}, err
	}
	return l.applyDiscard(unitIDs, reason, at), nil
}

// MarkExpired expires available units whose shelf life elapsed and reserved
// units whose shelf life plus grace elapsed. Dispatched units are never touched.
func (l *Ledger) MarkExpired(at time.Time, grace time.Duration) Change {
	l.mu.Lock()
	defer l.mu.Unlock()

	change := l.begin()
	for _, u := range l.units {
		switch {
		case u.Status == models.UnitAvailable && u.PastExpiry(at):
		case u.Status == models.UnitReserved && !at.Before(u.ExpiresAt.Add(grace)):
			change.Holders[u.ID] = u.ReservedFor
		default:
			continue
		}
		l.setStatus(u, models.UnitExpired)
		u.ExpiredAt = timePtr(at)
		change.Units = append(change.Units, *u)
	}
	return l.finish(change)
}

// Unit returns a copy of the unit with the given number.
func (l *Ledger) Unit(id string) (models.BloodUnit, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.byID[id]
	if !ok {
		return models.BloodUnit{}, false
	}
	return *u, true
}

// Units returns copies of every unit in ledger order.
func (l *Ledger) Units() []models.BloodUnit {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.BloodUnit, 0, len(l.units))
	for _, u := range l.units {
		out = append(out, *u)
	}
	return out
}

// Report derives the current counts and stock health.
func (l *Ledger) Report(at time.Time) models.StockReport {
	l.mu.Lock()
	defer l.mu.Unlock()

	return models.StockReport{
		BloodType:  l.bloodType,
		Total:      len(l.units),
		Available:  l.counts[models.UnitAvailable],
		Reserved:   l.counts[models.UnitReserved],
		Dispatched: l.counts[models.UnitDispatched],
		Expired:    l.counts[models.UnitExpired],
		Discarded:  l.counts[models.UnitDiscarded],
		Status:     l.health(),
		Thresholds: l.thresholds,
		ComputedAt: at,
	}
}

// Status classifies the available count against the thresholds.
func (l *Ledger) Status() models.StockHealth {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.health()
}

func (l *Ledger) insert(u *models.BloodUnit) {
	idx := sort.Search(len(l.units), func(i int) bool {
		return l.units[i].CollectedAt.After(u.CollectedAt)
	})
	l.units = append(l.units, nil)
	copy(l.units[idx+1:], l.units[idx:])
	l.units[idx] = u
	l.byID[u.ID] = u
	l.counts[u.Status]++
}

func (l *Ledger) setStatus(u *models.BloodUnit, status models.UnitStatus) {
	l.counts[u.Status]--
	u.Status = status
	l.counts[status]++
}

func (l *Ledger) health() models.StockHealth {
	return l.thresholds.Classify(l.counts[models.UnitAvailable])
}

// usable returns up to limit usable units in ledger order; limit < 0 means all.
func (l *Ledger) usable(at time.Time, limit int) []*models.BloodUnit {
	var out []*models.BloodUnit
	for _, u := range l.units {
		if limit >= 0 && len(out) == limit {
			break
		}
		if u.Usable(at) {
			out = append(out, u)
		}
	}
	return out
}

func (l *Ledger) begin() Change {
	return Change{
		BloodType: l.bloodType,
		Holders:   make(map[string]string),
		Before:    l.health(),
	}
}

func (l *Ledger) finish(c Change) Change {
	c.After = l.health()
	c.Available = l.counts[models.UnitAvailable]
	return c
}

func (l *Ledger) reserveLocked(requestID string, picked []*models.BloodUnit, at time.Time) Change {
	change := l.begin()
	for _, u := range picked {
		l.setStatus(u, models.UnitReserved)
		u.ReservedFor = requestID
		u.ReservedAt = timePtr(at)
		change.Units = append(change.Units, *u)
	}
	return l.finish(change)
}

func (l *Ledger) lookup(unitIDs []string) ([]*models.BloodUnit, error) {
	if len(unitIDs) == 0 {
		return nil, fmt.Errorf("%w: no unit numbers given", models.ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(unitIDs))
	out := make([]*models.BloodUnit, 0, len(unitIDs))
	for _, id := range unitIDs {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: unit %s listed twice", models.ErrInvalidInput, id)
		}
		seen[id] = struct{}{}
		u, ok := l.byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", models.ErrUnknownUnit, id)
		}
		out = append(out, u)
	}
	return out, nil
}

func (l *Ledger) checkStatus(unitIDs []string, to models.UnitStatus) error {
	units, err := l.lookup(unitIDs)
	if err != nil {
		return err
	}
	for _, u := range units {
		if !models.CanTransition(u.Status, to) {
			return &models.TransitionError{UnitID: u.ID, From: u.Status, To: to}
		}
	}
	return nil
}

func (l *Ledger) checkDispatch(unitIDs []string, at time.Time, grace time.Duration) error {
	units, err := l.lookup(unitIDs)
	if err != nil {
		return err
	}
	for _, u := range units {
		if u.Status != models.UnitReserved {
			return &models.TransitionError{UnitID: u.ID, From: u.Status, To: models.UnitDispatched}
		}
		if !at.Before(u.ExpiresAt.Add(grace)) {
			return &models.TransitionError{
				UnitID: u.ID,
				From:   u.Status,
				To:     models.UnitDispatched,
				Reason: "shelf life elapsed",
			}
		}
	}
	return nil
}

func (l *Ledger) applyDispatch(unitIDs []string, destination string, at time.Time) Change {
	change := l.begin()
	for _, id := range unitIDs {
		u := l.byID[id]
		change.Holders[u.ID] = u.ReservedFor
		l.setStatus(u, models.UnitDispatched)
		u.DispatchedTo = destination
		u.DispatchedAt = timePtr(at)
		change.Units = append(change.Units, *u)
	}
	return l.finish(change)
}

func (l *Ledger) applyRelease(unitIDs []string, at time.Time) Change {
	change := l.begin()
	for _, id := range unitIDs {
		u := l.byID[id]
		change.Holders[u.ID] = u.ReservedFor
		u.ReservedFor = ""
		u.ReservedAt = nil
		if u.PastExpiry(at) {
			l.setStatus(u, models.UnitExpired)
			u.ExpiredAt = timePtr(at)
		} else {
			l.setStatus(u, models.UnitAvailable)
		}
		change.Units = append(change.Units, *u)
	}
	return l.finish(change)
}

func (l *Ledger) applyDiscard(unitIDs []string, reason string, at time.Time) Change {
	change := l.begin()
	for _, id := range unitIDs {
		u := l.byID[id]
		if u.Status == models.UnitReserved {
			change.Holders[u.ID] = u.ReservedFor
		}
		l.setStatus(u, models.UnitDiscarded)
		u.DiscardedAt = timePtr(at)
		u.DiscardReason = reason
		change.Units = append(change.Units, *u)
	}
	return l.finish(change)
}

func validateReservation(requestID string, quantity int) error {
	if strings.TrimSpace(requestID) == "" {
		return fmt.Errorf("%w: request id is required", models.ErrInvalidInput)
	}
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", models.ErrInvalidInput, quantity)
	}
	return nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}
