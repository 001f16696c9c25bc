package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBloodType(t *testing.T) {
	bt, err := ParseBloodType(" ab- ")
	require.NoError(t, err)
	assert.Equal(t, BloodTypeABNeg, bt)
	assert.Equal(t, "AB", bt.Group())
	assert.False(t, bt.RhPositive())

	_, err = ParseBloodType("C+")
	assert.ErrorIs(t, err, ErrUnknownBloodType)
}

func TestUnitTransitions(t *testing.T) {
	assert.True(t, CanTransition(UnitAvailable, UnitReserved))
	assert.True(t, CanTransition(UnitReserved, UnitAvailable))
	assert.True(t, CanTransition(UnitReserved, UnitDispatched))
	assert.False(t, CanTransition(UnitAvailable, UnitDispatched))
	assert.False(t, CanTransition(UnitExpired, UnitAvailable))
	assert.True(t, UnitDispatched.Terminal())
	assert.False(t, UnitReserved.Terminal())

	err := error(&TransitionError{UnitID: "u1", From: UnitExpired, To: UnitReserved})
	assert.True(t, errors.Is(err, ErrInvalidStateTransition))
}

func TestThresholdsClassify(t *testing.T) {
	th := Thresholds{Critical: 2, Low: 5, Optimal: 10}
	require.NoError(t, th.Validate())

	assert.Equal(t, StockCritical, th.Classify(0))
	assert.Equal(t, StockCritical, th.Classify(2))
	assert.Equal(t, StockLow, th.Classify(5))
	assert.Equal(t, StockSurplus, th.Classify(7))
	assert.Equal(t, StockOptimal, th.Classify(10))

	assert.True(t, StockLow.Degraded(StockSurplus))
	assert.True(t, StockCritical.Degraded(StockLow))
	assert.False(t, StockLow.Degraded(StockCritical))
	assert.False(t, StockSurplus.Degraded(StockOptimal))

	assert.ErrorIs(t, Thresholds{Critical: 6, Low: 5, Optimal: 10}.Validate(), ErrInvalidInput)
}

func TestNewRequest(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	in := RequestInput{
		Hospital:       " St. Mary ",
		BloodType:      BloodTypeONeg,
		UnitsRequested: 4,
		RequiredBy:     now.Add(6 * time.Hour),
		Priority:       4,
	}
	req, err := NewRequest("r1", in, DefaultUnitVolumeML, now)
	require.NoError(t, err)
	assert.Equal(t, "St. Mary", req.Hospital)
	assert.Equal(t, UrgencyRoutine, req.Urgency)
	assert.Equal(t, RequestPending, req.Status)
	assert.Equal(t, 4*DefaultUnitVolumeML, req.Fulfillment.RequestedVolumeML)
	assert.Equal(t, 4, req.Outstanding())
	assert.Equal(t, 6*time.Hour, req.TimeRemaining(now))
	assert.False(t, req.IsOverdue(now))
	assert.True(t, req.IsOverdue(now.Add(7*time.Hour)))

	req.Fulfillment.ApprovedVolumeML = DefaultUnitVolumeML
	assert.InDelta(t, 25.0, req.FulfillmentPercent(), 0.001)

	req.Status = RequestCancelled
	assert.False(t, req.IsOverdue(now.Add(7*time.Hour)))
}

func TestRequestInputValidate(t *testing.T) {
	base := RequestInput{BloodType: BloodTypeAPos, UnitsRequested: 1, RequiredBy: time.Now(), Priority: 3}
	require.NoError(t, base.Validate())

	bad := base
	bad.BloodType = "Z"
	assert.ErrorIs(t, bad.Validate(), ErrUnknownBloodType)

	bad = base
	bad.UnitsRequested = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidInput)

	bad = base
	bad.Priority = 6
	assert.ErrorIs(t, bad.Validate(), ErrInvalidInput)

	bad = base
	bad.Urgency = "whenever"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidInput)
}

func TestRequestClone(t *testing.T) {
	req := Request{Fulfillment: Fulfillment{Assignments: []Assignment{{UnitID: "u1"}}}}
	cp := req.Clone()
	cp.Fulfillment.Assignments[0].UnitID = "u2"
	assert.Equal(t, "u1", req.Fulfillment.Assignments[0].UnitID)
}
