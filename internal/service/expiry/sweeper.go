package expiry

import (
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/bloodbank/internal/domain/models"
	"github.com/mamadbah2/bloodbank/internal/service/inventory"
)

// Sweeper walks every ledger and expires units whose shelf life elapsed.
// It keeps no state between runs.
type Sweeper struct {
	inventory *inventory.Inventory
	grace     time.Duration
	logger    *zap.Logger
}

// NewSweeper wires a sweeper. grace is how long a reserved unit is kept past
// its expiry so an in-flight dispatch can complete.
func NewSweeper(inv *inventory.Inventory, grace time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if grace < 0 {
		grace = 0
	}
	return &Sweeper{inventory: inv, grace: grace, logger: logger}
}

// Grace returns the reserved-unit grace window.
func (s *Sweeper) Grace() time.Duration {
	return s.grace
}

// Sweep runs one pass at the given instant. Ledgers are visited one at a time
// in canonical order, so reservations on other types are never blocked.
func (s *Sweeper) Sweep(at time.Time) (models.SweepResult, []inventory.Change) {
	result := models.SweepResult{
		ByType:  make(map[models.BloodType]int),
		SweptAt: at,
	}
	var changes []inventory.Change

	for _, ledger := range s.inventory.Ledgers() {
		change := ledger.MarkExpired(at, s.grace)
		if len(change.Units) == 0 {
			continue
		}
		result.ByType[change.BloodType] = len(change.Units)
		result.ExpiredCount += len(change.Units)
		result.Units = append(result.Units, change.Units...)
		changes = append(changes, change)

		s.logger.Info("units expired",
			zap.String("blood_type", change.BloodType.String()),
			zap.Int("count", len(change.Units)),
			zap.Int("held_by_requests", len(change.Holders)),
			zap.String("status", string(change.After)))
	}

	if result.ExpiredCount == 0 {
		s.logger.Debug("expiry sweep found nothing", zap.Time("at", at))
	}
	return result, changes
}
