package quantity

import (
	"encoding/json"
	"math"

	"github.com/shopspring/decimal"
)

// Placeholder is rendered in place of a value that is not known yet
const Placeholder = "--.--"

var hundred = decimal.NewFromInt(100)

// Value is a decimal that may be unknown, e.g. a price that has not loaded.
// Arithmetic on an unknown operand yields an unknown result, never zero.
type Value struct {
	d     decimal.Decimal
	known bool
}

// Known wraps a decimal as a known value
func Known(d decimal.Decimal) Value {
	return Value{d: d, known: true}
}

// Unknown returns the unknown value
func Unknown() Value {
	return Value{}
}

// KnownFloat converts a feed-supplied float. NaN and infinities are unknown.
func KnownFloat(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Unknown()
	}
	return Known(decimal.NewFromFloat(f))
}

// ParseValue converts a decimal string from an external feed. Unparseable input is unknown.
func ParseValue(s string) Value {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Unknown()
	}
	return Known(d)
}

// IsKnown reports whether the value has resolved
func (v Value) IsKnown() bool {
	return v.known
}

// Decimal returns the underlying decimal and whether it is known
func (v Value) Decimal() (decimal.Decimal, bool) {
	return v.d, v.known
}

// IsPositive reports whether the value is known and strictly greater than zero
func (v Value) IsPositive() bool {
	return v.known && v.d.IsPositive()
}

// Mul multiplies two values
func (v Value) Mul(o Value) Value {
	if !v.known || !o.known {
		return Unknown()
	}
	return Known(v.d.Mul(o.d))
}

// Add sums two values
func (v Value) Add(o Value) Value {
	if !v.known || !o.known {
		return Unknown()
	}
	return Known(v.d.Add(o.d))
}

// Div divides v by o. Division by zero is unknown.
func (v Value) Div(o Value) Value {
	if !v.known || !o.known || o.d.IsZero() {
		return Unknown()
	}
	return Known(v.d.Div(o.d))
}

// Percent returns v / 100
func (v Value) Percent() Value {
	if !v.known {
		return v
	}
	return Known(v.d.Div(hundred))
}

// Equal reports whether both values are known and numerically equal, or both unknown
func (v Value) Equal(o Value) bool {
	if v.known != o.known {
		return false
	}
	return !v.known || v.d.Equal(o.d)
}

// Format renders the value with fixed places, or the placeholder when unknown
func (v Value) Format(places int32) string {
	if !v.known {
		return Placeholder
	}
	return v.d.StringFixed(places)
}

func (v Value) String() string {
	if !v.known {
		return Placeholder
	}
	return v.d.String()
}

// MarshalJSON encodes a known value as a decimal string and an unknown one as null
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.known {
		return []byte("null"), nil
	}
	return json.Marshal(v.d.String())
}

// AmountValue converts a token amount into a known decimal value
func AmountValue(a TokenAmount) Value {
	return Known(a.Decimal())
}

// USDValue returns amount * price. The result is unknown whenever the price is unknown.
func USDValue(a TokenAmount, price Value) Value {
	return AmountValue(a).Mul(price)
}
