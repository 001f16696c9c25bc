package models

import (
	"fmt"
	"strings"
)

// BloodType enumerates the eight ABO/Rh groups tracked by the inventory.
type BloodType string

const (
	BloodTypeAPos  BloodType = "A+"
	BloodTypeANeg  BloodType = "A-"
	BloodTypeBPos  BloodType = "B+"
	BloodTypeBNeg  BloodType = "B-"
	BloodTypeABPos BloodType = "AB+"
	BloodTypeABNeg BloodType = "AB-"
	BloodTypeOPos  BloodType = "O+"
	BloodTypeONeg  BloodType = "O-"
)

// AllBloodTypes lists every blood type in canonical order. Multi-ledger
// operations lock and iterate in this order.
var AllBloodTypes = []BloodType{
	BloodTypeAPos,
	BloodTypeANeg,
	BloodTypeBPos,
	BloodTypeBNeg,
	BloodTypeABPos,
	BloodTypeABNeg,
	BloodTypeOPos,
	BloodTypeONeg,
}

// ParseBloodType normalizes free-form input ("ab+", " O- ") into a BloodType.
func ParseBloodType(value string) (BloodType, error) {
	normalized := BloodType(strings.ToUpper(strings.TrimSpace(value)))
	if !normalized.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownBloodType, value)
	}
	return normalized, nil
}

// Valid reports whether the value is one of the eight known types.
func (t BloodType) Valid() bool {
	return t.Index() >= 0
}

// Index returns the canonical position of the type, or -1 when unknown.
func (t BloodType) Index() int {
	for i, candidate := range AllBloodTypes {
		if candidate == t {
			return i
		}
	}
	return -1
}

// Group returns the ABO part of the type ("A", "B", "AB" or "O").
func (t BloodType) Group() string {
	s := string(t)
	if len(s) < 2 {
		return ""
	}
	return s[:len(s)-1]
}

// RhPositive reports whether the type carries the Rh(D) antigen.
func (t BloodType) RhPositive() bool {
	return strings.HasSuffix(string(t), "+")
}

func (t BloodType) String() string {
	return string(t)
}
