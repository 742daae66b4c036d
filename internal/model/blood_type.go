package model

import "strings"

type BloodType string

const (
	BloodTypeAPos    BloodType = "A+"
	BloodTypeANeg    BloodType = "A-"
	BloodTypeBPos    BloodType = "B+"
	BloodTypeBNeg    BloodType = "B-"
	BloodTypeABPos   BloodType = "AB+"
	BloodTypeABNeg   BloodType = "AB-"
	BloodTypeOPos    BloodType = "O+"
	BloodTypeONeg    BloodType = "O-"
	BloodTypeUnknown BloodType = "Unknown"
)

// BloodTypes lists every accepted value, Unknown last.
var BloodTypes = []BloodType{
	BloodTypeAPos, BloodTypeANeg,
	BloodTypeBPos, BloodTypeBNeg,
	BloodTypeABPos, BloodTypeABNeg,
	BloodTypeOPos, BloodTypeONeg,
	BloodTypeUnknown,
}

// ParseBloodType accepts the canonical spellings, case-insensitively.
func ParseBloodType(s string) (BloodType, bool) {
	s = strings.TrimSpace(s)
	for _, bt := range BloodTypes {
		if strings.EqualFold(string(bt), s) {
			return bt, true
		}
	}
	return "", false
}

func (b BloodType) Valid() bool {
	_, ok := ParseBloodType(string(b))
	return ok
}

func (b BloodType) Known() bool {
	return b != BloodTypeUnknown && b.Valid()
}

// Code is the identifier-safe form used in unit ids: O+ -> OP, AB- -> ABN.
func (b BloodType) Code() string {
	if !b.Known() {
		return "UNK"
	}
	return strings.NewReplacer("+", "P", "-", "N").Replace(string(b))
}
