package inventory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/bloodbank/internal/domain/models"
)

func newTestInventory(t *testing.T) *Inventory {
	t.Helper()
	inv, err := New(models.DefaultThresholds, map[models.BloodType]models.Thresholds{
		models.BloodTypeONeg: {Critical: 8, Low: 15, Optimal: 30},
	})
	require.NoError(t, err)
	return inv
}

func TestNewCreatesEveryLedger(t *testing.T) {
	inv := newTestInventory(t)

	ledgers := inv.Ledgers()
	require.Len(t, ledgers, 8)
	for i, l := range ledgers {
		assert.Equal(t, models.AllBloodTypes[i], l.BloodType())
	}

	oneg, err := inv.Ledger(models.BloodTypeONeg)
	require.NoError(t, err)
	assert.Equal(t, 8, oneg.Thresholds().Critical)

	opos, err := inv.Ledger(models.BloodTypeOPos)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultThresholds, opos.Thresholds())

	_, err = inv.Ledger("Z")
	assert.ErrorIs(t, err, models.ErrUnknownBloodType)

	_, err = New(models.DefaultThresholds, map[models.BloodType]models.Thresholds{"Z": models.DefaultThresholds})
	assert.ErrorIs(t, err, models.ErrUnknownBloodType)
}

func TestAddStockIndexesUnits(t *testing.T) {
	inv := newTestInventory(t)

	u, err := inv.AddStock(models.BloodTypeABNeg, t0, "don-1")
	require.NoError(t, err)

	bt, ok := inv.Locate(u.ID)
	require.True(t, ok)
	assert.Equal(t, models.BloodTypeABNeg, bt)

	got, err := inv.Unit(u.ID)
	require.NoError(t, err)
	assert.Equal(t, u, got)

	_, err = inv.Unit("nope")
	assert.ErrorIs(t, err, models.ErrUnknownUnit)

	_, err = inv.AddStock("Q+", t0, "don-2")
	assert.ErrorIs(t, err, models.ErrUnknownBloodType)
}

func TestDispatchAcrossLedgersIsAtomic(t *testing.T) {
	inv := newTestInventory(t)
	a, err := inv.AddStock(models.BloodTypeABNeg, t0, "don-a")
	require.NoError(t, err)
	o, err := inv.AddStock(models.BloodTypeONeg, t0, "don-o")
	require.NoError(t, err)

	abneg, _ := inv.Ledger(models.BloodTypeABNeg)
	_, err = abneg.Reserve("r1", 1, t0)
	require.NoError(t, err)

	_, err = inv.Dispatch([]string{a.ID, o.ID}, "Ward 4", t0, 0)
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
	got, _ := inv.Unit(a.ID)
	assert.Equal(t, models.UnitReserved, got.Status)

	oneg, _ := inv.Ledger(models.BloodTypeONeg)
	_, err = oneg.Reserve("r1", 1, t0)
	require.NoError(t, err)

	changes, err := inv.Dispatch([]string{o.ID, a.ID}, "Ward 4", t0.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, models.BloodTypeABNeg, changes[0].BloodType)
	assert.Equal(t, models.BloodTypeONeg, changes[1].BloodType)
	for _, c := range changes {
		for _, u := range c.Units {
			assert.Equal(t, models.UnitDispatched, u.Status)
			assert.Equal(t, "r1", c.Holders[u.ID])
		}
	}
}

func TestGroupRejectsBadLists(t *testing.T) {
	inv := newTestInventory(t)
	u, err := inv.AddStock(models.BloodTypeAPos, t0, "don-1")
	require.NoError(t, err)

	_, err = inv.Release(nil, t0)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = inv.Release([]string{u.ID, u.ID}, t0)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = inv.Discard([]string{"ghost"}, "broken bag", t0)
	assert.ErrorIs(t, err, models.ErrUnknownUnit)
}

func TestRestoreLeavesNothingBehindOnBadBatch(t *testing.T) {
	inv := newTestInventory(t)
	err := inv.Restore([]models.BloodUnit{
		{ID: "u1", BloodType: models.BloodTypeAPos, CollectedAt: t0, ExpiresAt: t0.Add(models.DefaultShelfLife), Status: models.UnitAvailable},
		{ID: "u2", BloodType: models.BloodTypeBNeg, CollectedAt: t0, ExpiresAt: t0.Add(models.DefaultShelfLife), Status: models.UnitAvailable},
		{ID: "u3", BloodType: models.BloodType("Q+"), CollectedAt: t0},
	})
	assert.ErrorIs(t, err, models.ErrUnknownBloodType)

	err = inv.Restore([]models.BloodUnit{
		{ID: "u1", BloodType: models.BloodTypeAPos, CollectedAt: t0, ExpiresAt: t0.Add(models.DefaultShelfLife), Status: models.UnitAvailable},
		{ID: "u1", BloodType: models.BloodTypeONeg, CollectedAt: t0, ExpiresAt: t0.Add(models.DefaultShelfLife), Status: models.UnitAvailable},
	})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	for _, id := range []string{"u1", "u2", "u3"} {
		_, ok := inv.Locate(id)
		assert.False(t, ok, id)
	}
	for _, r := range inv.Reports(t0) {
		assert.Zero(t, r.Total, r.BloodType)
	}

	require.NoError(t, inv.Restore([]models.BloodUnit{
		{ID: "u1", BloodType: models.BloodTypeAPos, CollectedAt: t0, ExpiresAt: t0.Add(models.DefaultShelfLife), Status: models.UnitAvailable},
	}))
	err = inv.Restore([]models.BloodUnit{
		{ID: "u1", BloodType: models.BloodTypeONeg, CollectedAt: t0, ExpiresAt: t0.Add(models.DefaultShelfLife), Status: models.UnitAvailable},
	})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestRestoreIndexesUnits(t *testing.T) {
	inv := newTestInventory(t)
	err := inv.Restore([]models.BloodUnit{
		{ID: "u1", BloodType: models.BloodTypeBPos, CollectedAt: t0, ExpiresAt: t0.Add(models.DefaultShelfLife), Status: models.UnitAvailable},
		{ID: "u2", BloodType: models.BloodTypeONeg, CollectedAt: t0, ExpiresAt: t0.Add(models.DefaultShelfLife), Status: models.UnitExpired},
	})
	require.NoError(t, err)

	bt, ok := inv.Locate("u2")
	require.True(t, ok)
	assert.Equal(t, models.BloodTypeONeg, bt)

	reports := inv.Reports(t0)
	require.Len(t, reports, 8)
	for _, r := range reports {
		assert.True(t, r.Balanced())
		switch r.BloodType {
		case models.BloodTypeBPos:
			assert.Equal(t, 1, r.Available)
		case models.BloodTypeONeg:
			assert.Equal(t, 1, r.Expired)
		default:
			assert.Zero(t, r.Total)
		}
	}
}
