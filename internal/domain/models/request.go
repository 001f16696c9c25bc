package models

import (
	"fmt"
	"strings"
	"time"
)

// Urgency is the clinical time-pressure category of a request.
type Urgency string

const (
	UrgencyRoutine   Urgency = "routine"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyEmergency Urgency = "emergency"
)

// ParseUrgency validates an urgency value, defaulting blank input to routine.
func ParseUrgency(value string) (Urgency, error) {
	switch u := Urgency(strings.ToLower(strings.TrimSpace(value))); u {
	case "":
		return UrgencyRoutine, nil
	case UrgencyRoutine, UrgencyUrgent, UrgencyEmergency:
		return u, nil
	default:
		return "", fmt.Errorf("%w: unknown urgency %q", ErrInvalidInput, value)
	}
}

// RequestStatus is the lifecycle position of a hospital request.
type RequestStatus string

const (
	RequestPending            RequestStatus = "pending"
	RequestReviewing          RequestStatus = "reviewing"
	RequestApproved           RequestStatus = "approved"
	RequestPartiallyFulfilled RequestStatus = "partially_fulfilled"
	RequestFulfilled          RequestStatus = "fulfilled"
	RequestRejected           RequestStatus = "rejected"
	RequestCancelled          RequestStatus = "cancelled"
	RequestExpired            RequestStatus = "expired"
)

// Terminal reports whether the request can no longer change except for notes.
func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestFulfilled, RequestRejected, RequestCancelled, RequestExpired:
		return true
	default:
		return false
	}
}

const (
	MinPriority = 1
	MaxPriority = 5
)

// RequestInput is the validated record the HTTP boundary hands to the engine.
type RequestInput struct {
	Hospital       string
	Reason         string
	BloodType      BloodType
	UnitsRequested int
	Urgency        Urgency
	RequiredBy     time.Time
	Priority       int
}

// Validate checks the enumerations and quantities once, at the boundary.
func (in RequestInput) Validate() error {
	if !in.BloodType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownBloodType, in.BloodType)
	}
	if in.UnitsRequested <= 0 {
		return fmt.Errorf("%w: units requested must be positive", ErrInvalidInput)
	}
	if _, err := ParseUrgency(string(in.Urgency)); err != nil {
		return err
	}
	if in.RequiredBy.IsZero() {
		return fmt.Errorf("%w: required-by deadline is missing", ErrInvalidInput)
	}
	if in.Priority < MinPriority || in.Priority > MaxPriority {
		return fmt.Errorf("%w: priority must be within %d-%d", ErrInvalidInput, MinPriority, MaxPriority)
	}
	return nil
}

// Assignment records one unit held for, or delivered to, a request.
type Assignment struct {
	UnitID       string     `bson:"unit_id" json:"unit_id"`
	BloodType    BloodType  `bson:"blood_type" json:"blood_type"`
	VolumeML     int        `bson:"volume_ml" json:"volume_ml"`
	ReservedAt   time.Time  `bson:"reserved_at" json:"reserved_at"`
	Destination  string     `bson:"destination,omitempty" json:"destination,omitempty"`
	DispatchedAt *time.Time `bson:"dispatched_at,omitempty" json:"dispatched_at,omitempty"`
	ReceivedAt   *time.Time `bson:"received_at,omitempty" json:"received_at,omitempty"`
}

// Fulfillment is the authoritative list of units assigned to a request.
type Fulfillment struct {
	Assignments       []Assignment `bson:"assignments" json:"assignments"`
	ApprovedVolumeML  int          `bson:"approved_volume_ml" json:"approved_volume_ml"`
	RequestedVolumeML int          `bson:"requested_volume_ml" json:"requested_volume_ml"`
}

// Note is an audit entry attached to a request.
type Note struct {
	At   time.Time `bson:"at" json:"at"`
	Text string    `bson:"text" json:"text"`
}

// Request is a hospital's demand for units of one blood type.
type Request struct {
	ID             string        `bson:"_id" json:"id"`
	Hospital       string        `bson:"hospital,omitempty" json:"hospital,omitempty"`
	Reason         string        `bson:"reason,omitempty" json:"reason,omitempty"`
	BloodType      BloodType     `bson:"blood_type" json:"blood_type"`
	UnitsRequested int           `bson:"units_requested" json:"units_requested"`
	Urgency        Urgency       `bson:"urgency" json:"urgency"`
	RequiredBy     time.Time     `bson:"required_by" json:"required_by"`
	Priority       int           `bson:"priority" json:"priority"`
	Status         RequestStatus `bson:"status" json:"status"`
	Fulfillment    Fulfillment   `bson:"fulfillment" json:"fulfillment"`
	Notes          []Note        `bson:"notes,omitempty" json:"notes,omitempty"`
	CreatedAt      time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `bson:"updated_at" json:"updated_at"`
}

// NewRequest builds a pending request from validated input.
func NewRequest(id string, in RequestInput, unitVolumeML int, now time.Time) (Request, error) {
	if err := in.Validate(); err != nil {
		return Request{}, err
	}
	urgency, _ := ParseUrgency(string(in.Urgency))
	return Request{
		ID:             id,
		Hospital:       strings.TrimSpace(in.Hospital),
		Reason:         strings.TrimSpace(in.Reason),
		BloodType:      in.BloodType,
		UnitsRequested: in.UnitsRequested,
		Urgency:        urgency,
		RequiredBy:     in.RequiredBy,
		Priority:       in.Priority,
		Status:         RequestPending,
		Fulfillment: Fulfillment{
			RequestedVolumeML: in.UnitsRequested * unitVolumeML,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// TimeRemaining is the duration until the deadline; negative once overdue.
func (r Request) TimeRemaining(now time.Time) time.Duration {
	return r.RequiredBy.Sub(now)
}

// IsOverdue reports whether the deadline passed while the request is still open.
func (r Request) IsOverdue(now time.Time) bool {
	return now.After(r.RequiredBy) && !r.Status.Terminal()
}

// Assigned is the number of units currently held or delivered for the request.
func (r Request) Assigned() int {
	return len(r.Fulfillment.Assignments)
}

// Outstanding is the number of units still to be found.
func (r Request) Outstanding() int {
	if n := r.UnitsRequested - r.Assigned(); n > 0 {
		return n
	}
	return 0
}

// FulfillmentPercent is approved volume over requested volume, in percent.
func (r Request) FulfillmentPercent() float64 {
	if r.Fulfillment.RequestedVolumeML <= 0 {
		return 0
	}
	return float64(r.Fulfillment.ApprovedVolumeML) / float64(r.Fulfillment.RequestedVolumeML) * 100
}

// Clone returns a deep copy so callers never share slices with the coordinator.
func (r Request) Clone() Request {
	out := r
	out.Fulfillment.Assignments = append([]Assignment(nil), r.Fulfillment.Assignments...)
	out.Notes = append([]Note(nil), r.Notes...)
	return out
}

// ReservationResult reports the outcome of one reservation attempt.
type ReservationResult struct {
	RequestID   string        `json:"request_id"`
	Granted     int           `json:"granted"`
	Shortfall   int           `json:"shortfall"`
	UnitIDs     []string      `json:"unit_ids"`
	Assignments []Assignment  `json:"assignments"`
	Status      RequestStatus `json:"status"`
}
