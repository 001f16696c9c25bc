package models

import (
	"fmt"
	"time"
)

// StockHealth classifies a ledger's available count against its thresholds.
type StockHealth string

const (
	StockCritical StockHealth = "critical"
	StockLow      StockHealth = "low"
	StockSurplus  StockHealth = "surplus"
	StockOptimal  StockHealth = "optimal"
)

// Rank orders health levels from worst (0) to best.
func (h StockHealth) Rank() int {
	switch h {
	case StockCritical:
		return 0
	case StockLow:
		return 1
	case StockSurplus:
		return 2
	case StockOptimal:
		return 3
	default:
		return -1
	}
}

// Degraded reports whether moving from before to h is a slide into low or critical.
func (h StockHealth) Degraded(before StockHealth) bool {
	if h != StockCritical && h != StockLow {
		return false
	}
	return h.Rank() < before.Rank()
}

// Thresholds are unit counts evaluated against the available count only.
type Thresholds struct {
	Critical int `bson:"critical" json:"critical"`
	Low      int `bson:"low" json:"low"`
	Optimal  int `bson:"optimal" json:"optimal"`
}

// DefaultThresholds applies when no per-type override is configured.
var DefaultThresholds = Thresholds{Critical: 5, Low: 10, Optimal: 20}

// Validate ensures the thresholds are non-negative and ordered.
func (t Thresholds) Validate() error {
	if t.Critical < 0 || t.Low < 0 || t.Optimal < 0 {
		return fmt.Errorf("%w: thresholds must be non-negative", ErrInvalidInput)
	}
	if t.Critical > t.Low || t.Low > t.Optimal {
		return fmt.Errorf("%w: thresholds must satisfy critical <= low <= optimal (got %d/%d/%d)", ErrInvalidInput, t.Critical, t.Low, t.Optimal)
	}
	return nil
}

// Classify maps an available count onto a health level.
func (t Thresholds) Classify(available int) StockHealth {
	switch {
	case available <= t.Critical:
		return StockCritical
	case available <= t.Low:
		return StockLow
	case available >= t.Optimal:
		return StockOptimal
	default:
		return StockSurplus
	}
}

// StockReport is a point-in-time view of one ledger. All counts are derived.
type StockReport struct {
	BloodType  BloodType   `bson:"blood_type" json:"blood_type"`
	Total      int         `bson:"total" json:"total"`
	Available  int         `bson:"available" json:"available"`
	Reserved   int         `bson:"reserved" json:"reserved"`
	Dispatched int         `bson:"dispatched" json:"dispatched"`
	Expired    int         `bson:"expired" json:"expired"`
	Discarded  int         `bson:"discarded" json:"discarded"`
	Status     StockHealth `bson:"status" json:"status"`
	Thresholds Thresholds  `bson:"thresholds" json:"thresholds"`
	ComputedAt time.Time   `bson:"computed_at" json:"computed_at"`
}

// Balanced reports whether the ledger identity total == sum of status counts holds.
func (r StockReport) Balanced() bool {
	return r.Total == r.Available+r.Reserved+r.Dispatched+r.Expired+r.Discarded
}

// SweepResult aggregates one expiry pass over every ledger.
type SweepResult struct {
	ExpiredCount int               `json:"expired_count"`
	ByType       map[BloodType]int `json:"by_type"`
	Units        []BloodUnit       `json:"-"`
	SweptAt      time.Time         `json:"swept_at"`
}
