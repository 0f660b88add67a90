package quantity

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"regexp"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when user input cannot be converted into base units
var ErrInvalidAmount = errors.New("invalid amount")

// plain unsigned decimal: "12", "12.5", ".5", "12."
var decimalInput = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)$`)

// TokenAmount is an integer quantity in a token's smallest unit together with
// the token's decimal precision. The zero value is a zero amount with 0 decimals.
type TokenAmount struct {
	raw      *big.Int
	decimals int32
}

// NewTokenAmount creates a TokenAmount, copying raw so the caller cannot mutate it
func NewTokenAmount(raw *big.Int, decimals int32) TokenAmount {
	v := new(big.Int)
	if raw != nil {
		v.Set(raw)
	}
	return TokenAmount{raw: v, decimals: decimals}
}

// Raw returns a copy of the base-unit integer
func (a TokenAmount) Raw() *big.Int {
	if a.raw == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.raw)
}

// Decimals returns the token precision the amount is expressed in
func (a TokenAmount) Decimals() int32 {
	return a.decimals
}

// Sign returns -1, 0 or +1
func (a TokenAmount) Sign() int {
	if a.raw == nil {
		return 0
	}
	return a.raw.Sign()
}

// IsZero reports whether the amount is zero
func (a TokenAmount) IsZero() bool {
	return a.Sign() == 0
}

// Cmp compares the base units of a and b. Both must share a precision.
func (a TokenAmount) Cmp(b TokenAmount) int {
	return a.Raw().Cmp(b.Raw())
}

// Decimal returns the amount in whole tokens, exactly
func (a TokenAmount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(a.Raw(), -a.decimals)
}

// String renders the amount exactly, see ToDisplay
func (a TokenAmount) String() string {
	return ToDisplay(a)
}

// MarshalJSON encodes the amount with its base units, precision and exact display form
func (a TokenAmount) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Raw      string `json:"raw"`
		Decimals int32  `json:"decimals"`
		Display  string `json:"display"`
	}{
		Raw:      a.Raw().String(),
		Decimals: a.decimals,
		Display:  ToDisplay(a),
	})
}

// ToDisplay renders an exact decimal string at full precision with no grouping
// and no trailing zeros. The output is suitable for input pre-fill and parses
// back to the same base units with ToBaseUnits.
func ToDisplay(a TokenAmount) string {
	return a.Decimal().String()
}

// ToDisplayRounded renders the amount with a fixed number of fraction digits.
// Digits beyond places are truncated so a balance is never shown larger than it is.
func ToDisplayRounded(a TokenAmount, places int32) string {
	return a.Decimal().Truncate(places).StringFixed(places)
}

// ToBaseUnits parses a user-typed decimal string into base units of a token
// with the given precision. Signs, exponents, grouping and more significant
// fraction digits than the token supports are rejected with ErrInvalidAmount.
func ToBaseUnits(input string, decimals int32) (*big.Int, error) {
	if decimals < 0 {
		return nil, fmt.Errorf("%w: negative precision %d", ErrInvalidAmount, decimals)
	}
	if !decimalInput.MatchString(input) {
		return nil, fmt.Errorf("%w: %q is not a non-negative decimal", ErrInvalidAmount, input)
	}

	normalized := input
	if normalized[0] == '.' {
		normalized = "0" + normalized
	}
	if normalized[len(normalized)-1] == '.' {
		normalized = normalized[:len(normalized)-1]
	}

	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	shifted := d.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, input, decimals)
	}

	return shifted.BigInt(), nil
}

// ParseAmount is ToBaseUnits returning a TokenAmount
func ParseAmount(input string, decimals int32) (TokenAmount, error) {
	raw, err := ToBaseUnits(input, decimals)
	if err != nil {
		return TokenAmount{}, err
	}
	return TokenAmount{raw: raw, decimals: decimals}, nil
}
