// Package priority orders pending requests for allocation. Everything here is
// a pure function of the request and the clock.
package priority

import (
	"sort"
	"time"

	"github.com/mamadbah2/bloodbank/internal/domain/models"
)

const (
	nearDeadline = 4 * time.Hour
	dayDeadline  = 24 * time.Hour
)

// Score ranks a request; higher scores are allocated first.
func Score(req models.Request, now time.Time) float64 {
	base := float64(clampPriority(req.Priority) * 10)
	return base * UrgencyMultiplier(req.Urgency) * DeadlineMultiplier(req.RequiredBy.Sub(now))
}

// UrgencyMultiplier is 3 for emergencies, 2 for urgent and 1 otherwise.
func UrgencyMultiplier(u models.Urgency) float64 {
	switch u {
	case models.UrgencyEmergency:
		return 3
	case models.UrgencyUrgent:
		return 2
	default:
		return 1
	}
}

// DeadlineMultiplier is 3 within four hours of the deadline (or past it), 2
// within a day and 1 beyond that.
func DeadlineMultiplier(remaining time.Duration) float64 {
	switch {
	case remaining <= nearDeadline:
		return 3
	case remaining <= dayDeadline:
		return 2
	default:
		return 1
	}
}

// Less reports whether a allocates before b. Ties on score fall back to the
// earlier deadline, then the earlier creation time, then the request ID, so
// no two distinct requests compare equal.
func Less(a, b models.Request, now time.Time) bool {
	sa, sb := Score(a, now), Score(b, now)
	if sa != sb {
		return sa > sb
	}
	if !a.RequiredBy.Equal(b.RequiredBy) {
		return a.RequiredBy.Before(b.RequiredBy)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Sort orders requests in place, first to allocate first.
func Sort(reqs []models.Request, now time.Time) {
	sort.SliceStable(reqs, func(i, j int) bool {
		return Less(reqs[i], reqs[j], now)
	})
}

func clampPriority(p int) int {
	if p < models.MinPriority {
		return models.MinPriority
	}
	if p > models.MaxPriority {
		return models.MaxPriority
	}
	return p
}
