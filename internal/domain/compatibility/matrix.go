// Package compatibility holds the fixed ABO/Rh red-cell compatibility table.
package compatibility

import (
	"sort"

	"github.com/mamadbah2/bloodbank/internal/domain/models"
)

var donateTo = map[models.BloodType][]models.BloodType{
	models.BloodTypeONeg:  {models.BloodTypeAPos, models.BloodTypeANeg, models.BloodTypeBPos, models.BloodTypeBNeg, models.BloodTypeABPos, models.BloodTypeABNeg, models.BloodTypeOPos, models.BloodTypeONeg},
	models.BloodTypeOPos:  {models.BloodTypeAPos, models.BloodTypeBPos, models.BloodTypeABPos, models.BloodTypeOPos},
	models.BloodTypeANeg:  {models.BloodTypeAPos, models.BloodTypeANeg, models.BloodTypeABPos, models.BloodTypeABNeg},
	models.BloodTypeAPos:  {models.BloodTypeAPos, models.BloodTypeABPos},
	models.BloodTypeBNeg:  {models.BloodTypeBPos, models.BloodTypeBNeg, models.BloodTypeABPos, models.BloodTypeABNeg},
	models.BloodTypeBPos:  {models.BloodTypeBPos, models.BloodTypeABPos},
	models.BloodTypeABNeg: {models.BloodTypeABPos, models.BloodTypeABNeg},
	models.BloodTypeABPos: {models.BloodTypeABPos},
}

var receiveFrom = map[models.BloodType][]models.BloodType{
	models.BloodTypeONeg:  {models.BloodTypeONeg},
	models.BloodTypeOPos:  {models.BloodTypeOPos, models.BloodTypeONeg},
	models.BloodTypeANeg:  {models.BloodTypeANeg, models.BloodTypeONeg},
	models.BloodTypeAPos:  {models.BloodTypeAPos, models.BloodTypeANeg, models.BloodTypeOPos, models.BloodTypeONeg},
	models.BloodTypeBNeg:  {models.BloodTypeBNeg, models.BloodTypeONeg},
	models.BloodTypeBPos:  {models.BloodTypeBPos, models.BloodTypeBNeg, models.BloodTypeOPos, models.BloodTypeONeg},
	models.BloodTypeABNeg: {models.BloodTypeABNeg, models.BloodTypeANeg, models.BloodTypeBNeg, models.BloodTypeONeg},
	models.BloodTypeABPos: {models.BloodTypeAPos, models.BloodTypeANeg, models.BloodTypeBPos, models.BloodTypeBNeg, models.BloodTypeABPos, models.BloodTypeABNeg, models.BloodTypeOPos, models.BloodTypeONeg},
}

// CanDonateTo lists the recipient types that can safely receive red cells of t.
// Unknown types yield nil.
func CanDonateTo(t models.BloodType) []models.BloodType {
	return clone(donateTo[t])
}

// CanReceiveFrom lists the donor types whose red cells t can safely receive.
func CanReceiveFrom(t models.BloodType) []models.BloodType {
	return clone(receiveFrom[t])
}

// Compatible reports whether donor red cells may be given to recipient.
func Compatible(donor, recipient models.BloodType) bool {
	for _, t := range donateTo[donor] {
		if t == recipient {
			return true
		}
	}
	return false
}

// FallbackOrder returns the donor types for recipient in the order the
// coordinator should drain them: the exact type, the same ABO group with the
// other Rh, other groups with the same Rh, the rest, and O- last because it is
// the universal and scarcest supply.
func FallbackOrder(recipient models.BloodType) []models.BloodType {
	donors := CanReceiveFrom(recipient)
	sort.SliceStable(donors, func(i, j int) bool {
		ri, rj := rank(donors[i], recipient), rank(donors[j], recipient)
		if ri != rj {
			return ri < rj
		}
		return donors[i].Index() < donors[j].Index()
	})
	return donors
}

func rank(donor, recipient models.BloodType) int {
	switch {
	case donor == recipient:
		return 0
	case donor == models.BloodTypeONeg:
		return 4
	case donor.Group() == recipient.Group():
		return 1
	case donor.RhPositive() == recipient.RhPositive():
		return 2
	default:
		return 3
	}
}

func clone(in []models.BloodType) []models.BloodType {
	if in == nil {
		return nil
	}
	out := make([]models.BloodType, len(in))
	copy(out, in)
	return out
}
