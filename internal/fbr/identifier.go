package fbr

import (
	"strings"
	"unicode"
)

const (
	NTNLength  = 7
	CNICLength = 13
)

// TaxIDKind distinguishes a National Tax Number from a national identity card number.
type TaxIDKind string

const (
	KindNTN  TaxIDKind = "NTN"
	KindCNIC TaxIDKind = "CNIC"
)

// TaxID is a normalized, digits-only taxpayer identifier.
type TaxID struct {
	Value string
	Kind  TaxIDKind
}

func (t TaxID) String() string {
	return t.Value
}

// NormalizeTaxID strips every non-digit character from raw and accepts the
// result only when it is 7 digits (NTN) or 13 digits (CNIC).
func NormalizeTaxID(raw string) (TaxID, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)

	switch len(digits) {
	case NTNLength:
		return TaxID{Value: digits, Kind: KindNTN}, nil
	case CNICLength:
		return TaxID{Value: digits, Kind: KindCNIC}, nil
	}
	return TaxID{}, &IdentifierError{Input: strings.TrimFunc(raw, unicode.IsSpace), Digits: len(digits)}
}

func normalizeField(field, raw string) (TaxID, error) {
	id, err := NormalizeTaxID(raw)
	if err != nil {
		if ie, ok := err.(*IdentifierError); ok {
			ie.Field = field
		}
		return TaxID{}, err
	}
	return id, nil
}
