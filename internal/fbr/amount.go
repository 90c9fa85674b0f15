package fbr

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Amount is a decimal that the gateway sees as a bare JSON number.
type Amount struct {
	decimal.Decimal
}

// NewAmount wraps d.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		a.Decimal = decimal.Zero
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" {
		a.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", s, err)
	}
	a.Decimal = d
	return nil
}

func (a Amount) MarshalYAML() (interface{}, error) {
	return a.Decimal.String(), nil
}

func (a *Amount) UnmarshalYAML(value *yaml.Node) error {
	if value.Value == "" {
		a.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid amount %q: %w", value.Line, value.Value, err)
	}
	a.Decimal = d
	return nil
}
