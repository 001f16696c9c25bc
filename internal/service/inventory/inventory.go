// Package inventory holds the per-blood-type unit ledgers.
package inventory

import (
	"fmt"
	"sync"
	"time"

	"github.com/mamadbah2/bloodbank/internal/domain/models"
)

// Inventory owns one ledger per blood type and an index from unit number to
// ledger. Operations spanning several ledgers lock them in canonical type order.
type Inventory struct {
	ledgers map[models.BloodType]*Ledger

	mu    sync.RWMutex
	index map[string]models.BloodType
}

// New creates the eight ledgers. Types missing from overrides use defaults.
func New(defaults models.Thresholds, overrides map[models.BloodType]models.Thresholds, opts ...LedgerOption) (*Inventory, error) {
	inv := &Inventory{
		ledgers: make(map[models.BloodType]*Ledger, len(models.AllBloodTypes)),
		index:   make(map[string]models.BloodType),
	}
	for bt := range overrides {
		if !bt.Valid() {
			return nil, fmt.Errorf("threshold override: %w: %q", models.ErrUnknownBloodType, bt)
		}
	}
	for _, bt := range models.AllBloodTypes {
		thresholds := defaults
		if t, ok := overrides[bt]; ok {
			thresholds = t
		}
		ledger, err := NewLedger(bt, thresholds, opts...)
		if err != nil {
			return nil, err
		}
		inv.ledgers[bt] = ledger
	}
	return inv, nil
}

// Ledger returns the ledger for a blood type.
func (inv *Inventory) Ledger(bt models.BloodType) (*Ledger, error) {
	l, ok := inv.ledgers[bt]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownBloodType, bt)
	}
	return l, nil
}

// Ledgers returns every ledger in canonical order.
func (inv *Inventory) Ledgers() []*Ledger {
	out := make([]*Ledger, 0, len(models.AllBloodTypes))
	for _, bt := range models.AllBloodTypes {
		out = append(out, inv.ledgers[bt])
	}
	return out
}

// AddStock records a new unit in the ledger of its type.
func (inv *Inventory) AddStock(bt models.BloodType, collectedAt time.Time, donationRef string) (models.BloodUnit, error) {
	l, err := inv.Ledger(bt)
	if err != nil {
		return models.BloodUnit{}, err
	}
	unit, err := l.AddStock(collectedAt, donationRef)
	if err != nil {
		return models.BloodUnit{}, err
	}
	inv.mu.Lock()
	inv.index[unit.ID] = bt
	inv.mu.Unlock()
	return unit, nil
}

// Restore loads persisted units into their ledgers.
func (inv *Inventory) Restore(units []models.BloodUnit) error {
	grouped := make(map[models.BloodType][]models.BloodUnit)
	seen := make(map[string]struct{}, len(units))
	for _, u := range units {
		if !u.BloodType.Valid() {
			return fmt.Errorf("%w: unit %s has blood type %q", models.ErrUnknownBloodType, u.ID, u.BloodType)
		}
		if u.ID == "" {
			return fmt.Errorf("%w: unit without number", models.ErrInvalidInput)
		}
		if _, dup := seen[u.ID]; dup {
			return fmt.Errorf("%w: duplicate unit number %s", models.ErrInvalidInput, u.ID)
		}
		if _, known := inv.Locate(u.ID); known {
			return fmt.Errorf("%w: duplicate unit number %s", models.ErrInvalidInput, u.ID)
		}
		seen[u.ID] = struct{}{}
		grouped[u.BloodType] = append(grouped[u.BloodType], u)
	}

	for _, bt := range models.AllBloodTypes {
		group, ok := grouped[bt]
		if !ok {
			continue
		}
		l, err := inv.Ledger(bt)
		if err != nil {
			return err
		}
		if err := l.Restore(group); err != nil {
			return err
		}
		inv.mu.Lock()
		for _, u := range group {
			inv.index[u.ID] = bt
		}
		inv.mu.Unlock()
	}
	return nil
}

// Locate returns the blood type of a known unit.
func (inv *Inventory) Locate(unitID string) (models.BloodType, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	bt, ok := inv.index[unitID]
	return bt, ok
}

// Unit returns a copy of a unit by number.
func (inv *Inventory) Unit(unitID string) (models.BloodUnit, error) {
	bt, ok := inv.Locate(unitID)
	if !ok {
		return models.BloodUnit{}, fmt.Errorf("%w: %s", models.ErrUnknownUnit, unitID)
	}
	u, _ := inv.ledgers[bt].Unit(unitID)
	return u, nil
}

// Dispatch converts reserved units, possibly of several types, into dispatched
// units. Either every unit moves or none does.
func (inv *Inventory) Dispatch(unitIDs []string, destination string, at time.Time, grace time.Duration) ([]Change, error) {
	return inv.transact(unitIDs,
		func(l *Ledger, ids []string) error { return l.checkDispatch(ids, at, grace) },
		func(l *Ledger, ids []string) Change { return l.applyDispatch(ids, destination, at) },
	)
}

// Release returns reserved units to the available pool.
func (inv *Inventory) Release(unitIDs []string, at time.Time) ([]Change, error) {
	return inv.transact(unitIDs,
		func(l *Ledger, ids []string) error { return l.checkStatus(ids, models.UnitAvailable) },
		func(l *Ledger, ids []string) Change { return l.applyRelease(ids, at) },
	)
}

// Discard removes available or reserved units from circulation.
func (inv *Inventory) Discard(unitIDs []string, reason string, at time.Time) ([]Change, error) {
	return inv.transact(unitIDs,
		func(l *Ledger, ids []string) error { return l.checkStatus(ids, models.UnitDiscarded) },
		func(l *Ledger, ids []string) Change { return l.applyDiscard(ids, reason, at) },
	)
}

// Reports derives the stock report of every ledger in canonical order.
func (inv *Inventory) Reports(at time.Time) []models.StockReport {
	out := make([]models.StockReport, 0, len(models.AllBloodTypes))
	for _, l := range inv.Ledgers() {
		out = append(out, l.Report(at))
	}
	return out
}

func (inv *Inventory) transact(
	unitIDs []string,
	check func(*Ledger, []string) error,
	apply func(*Ledger, []string) Change,
) ([]Change, error) {
	groups, err := inv.group(unitIDs)
	if err != nil {
		return nil, err
	}

	var involved []*Ledger
	for _, bt := range models.AllBloodTypes {
		if _, ok := groups[bt]; ok {
			involved = append(involved, inv.ledgers[bt])
		}
	}
	for _, l := range involved {
		l.mu.Lock()
	}
	defer func() {
		for i := len(involved) - 1; i >= 0; i-- {
			involved[i].mu.Unlock()
		}
	}()

	for _, l := range involved {
		if err := check(l, groups[l.bloodType]); err != nil {
			return nil, err
		}
	}
	changes := make([]Change, 0, len(involved))
	for _, l := range involved {
		changes = append(changes, apply(l, groups[l.bloodType]))
	}
	return changes, nil
}

func (inv *Inventory) group(unitIDs []string) (map[models.BloodType][]string, error) {
	if len(unitIDs) == 0 {
		return nil, fmt.Errorf("%w: no unit numbers given", models.ErrInvalidInput)
	}
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	seen := make(map[string]struct{}, len(unitIDs))
	groups := make(map[models.BloodType][]string)
	for _, id := range unitIDs {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: unit %s listed twice", models.ErrInvalidInput, id)
		}
		seen[id] = struct{}{}
		bt, ok := inv.index[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", models.ErrUnknownUnit, id)
		}
		groups[bt] = append(groups[bt], id)
	}
	return groups, nil
}
