package models

import "time"

// UnitStatus is the lifecycle position of a physical blood unit.
type UnitStatus string

const (
	UnitAvailable  UnitStatus = "available"
	UnitReserved   UnitStatus = "reserved"
	UnitDispatched UnitStatus = "dispatched"
	UnitExpired    UnitStatus = "expired"
	UnitDiscarded  UnitStatus = "discarded"
)

// DefaultShelfLife is the storage life of refrigerated whole blood.
const DefaultShelfLife = 42 * 24 * time.Hour

// DefaultUnitVolumeML is the nominal volume of one whole-blood bag.
const DefaultUnitVolumeML = 450

var unitTransitions = map[UnitStatus][]UnitStatus{
	UnitAvailable: {UnitReserved, UnitExpired, UnitDiscarded},
	UnitReserved:  {UnitDispatched, UnitExpired, UnitDiscarded, UnitAvailable},
}

// CanTransition reports whether a unit may move from one status to another.
// reserved -> available exists only for explicit releases.
func CanTransition(from, to UnitStatus) bool {
	for _, next := range unitTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s UnitStatus) Terminal() bool {
	return len(unitTransitions[s]) == 0
}

// BloodUnit is one individually tracked bag of collected blood.
type BloodUnit struct {
	ID            string     `bson:"_id" json:"id"`
	BloodType     BloodType  `bson:"blood_type" json:"blood_type"`
	DonationRef   string     `bson:"donation_ref" json:"donation_ref"`
	VolumeML      int        `bson:"volume_ml" json:"volume_ml"`
	CollectedAt   time.Time  `bson:"collected_at" json:"collected_at"`
	ExpiresAt     time.Time  `bson:"expires_at" json:"expires_at"`
	Status        UnitStatus `bson:"status" json:"status"`
	ReservedFor   string     `bson:"reserved_for,omitempty" json:"reserved_for,omitempty"`
	ReservedAt    *time.Time `bson:"reserved_at,omitempty" json:"reserved_at,omitempty"`
	DispatchedTo  string     `bson:"dispatched_to,omitempty" json:"dispatched_to,omitempty"`
	DispatchedAt  *time.Time `bson:"dispatched_at,omitempty" json:"dispatched_at,omitempty"`
	ExpiredAt     *time.Time `bson:"expired_at,omitempty" json:"expired_at,omitempty"`
	DiscardedAt   *time.Time `bson:"discarded_at,omitempty" json:"discarded_at,omitempty"`
	DiscardReason string     `bson:"discard_reason,omitempty" json:"discard_reason,omitempty"`
}

// PastExpiry reports whether the shelf life has elapsed at the given instant.
func (u BloodUnit) PastExpiry(at time.Time) bool {
	return !at.Before(u.ExpiresAt)
}

// Usable reports whether the unit can still be handed to a request.
func (u BloodUnit) Usable(at time.Time) bool {
	return u.Status == UnitAvailable && !u.PastExpiry(at)
}
