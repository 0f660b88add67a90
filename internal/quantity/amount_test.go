package quantity

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, "bad test integer %q", s)
	return v
}

func TestToDisplay(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		decimals int32
		want     string
	}{
		{"whole tokens drop trailing zeros", "1000000000000000000000", 18, "1000"},
		{"fraction kept exactly", "1234567890123456789", 18, "1.234567890123456789"},
		{"smaller than one unit", "1", 18, "0.000000000000000001"},
		{"six decimals", "2500000", 6, "2.5"},
		{"zero", "0", 18, "0"},
		{"no decimals", "42", 0, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewTokenAmount(mustBig(t, tt.raw), tt.decimals)
			assert.Equal(t, tt.want, ToDisplay(a))
		})
	}
}

func TestToDisplayRounded(t *testing.T) {
	a := NewTokenAmount(mustBig(t, "1239999999999999999"), 18)
	assert.Equal(t, "1.23", ToDisplayRounded(a, 2))
	assert.Equal(t, "1.239999", ToDisplayRounded(a, 6))

	whole := NewTokenAmount(mustBig(t, "5000000"), 6)
	assert.Equal(t, "5.00", ToDisplayRounded(whole, 2))
}

func TestToBaseUnits(t *testing.T) {
	t.Run("valid input", func(t *testing.T) {
		tests := []struct {
			input    string
			decimals int32
			want     string
		}{
			{"1000", 18, "1000000000000000000000"},
			{"1.5", 18, "1500000000000000000"},
			{".5", 6, "500000"},
			{"7.", 6, "7000000"},
			{"0", 18, "0"},
			{"0.000001", 6, "1"},
			{"1.50", 1, "15"},
		}
		for _, tt := range tests {
			got, err := ToBaseUnits(tt.input, tt.decimals)
			require.NoError(t, err, tt.input)
			assert.Equal(t, tt.want, got.String(), tt.input)
		}
	})

	t.Run("rejected input", func(t *testing.T) {
		for _, input := range []string{"", "-5", "abc", "1e18", "1,000", " 1", "1.2.3", ".", "+1", "NaN", "Infinity"} {
			_, err := ToBaseUnits(input, 18)
			assert.ErrorIs(t, err, ErrInvalidAmount, "input %q", input)
		}
	})

	t.Run("precision exceeded", func(t *testing.T) {
		_, err := ToBaseUnits("0.0000001", 6)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestRoundTrip(t *testing.T) {
	raws := []string{
		"0",
		"1",
		"999999999999999999",
		"1000000000000000000000",
		"123456789012345678901234567890",
	}
	for _, d := range []int32{0, 6, 8, 18, 24} {
		for _, r := range raws {
			a := NewTokenAmount(mustBig(t, r), d)
			back, err := ToBaseUnits(ToDisplay(a), d)
			require.NoError(t, err)
			assert.Zero(t, a.Raw().Cmp(back), "decimals=%d raw=%s display=%s", d, r, ToDisplay(a))
		}
	}
}

func TestTokenAmountIsImmutable(t *testing.T) {
	raw := big.NewInt(10)
	a := NewTokenAmount(raw, 0)
	raw.SetInt64(99)
	assert.Equal(t, "10", ToDisplay(a))

	out := a.Raw()
	out.SetInt64(1)
	assert.Equal(t, "10", ToDisplay(a))
}

func TestUSDValue(t *testing.T) {
	a := NewTokenAmount(mustBig(t, "2500000000000000000"), 18)

	t.Run("known price", func(t *testing.T) {
		v := USDValue(a, Known(decimal.RequireFromString("4")))
		d, ok := v.Decimal()
		require.True(t, ok)
		assert.True(t, d.Equal(decimal.NewFromInt(10)))
	})

	t.Run("unknown price propagates", func(t *testing.T) {
		for _, raw := range []string{"0", "1", "1000000000000000000000"} {
			v := USDValue(NewTokenAmount(mustBig(t, raw), 18), Unknown())
			assert.False(t, v.IsKnown())
			assert.Equal(t, Placeholder, v.Format(2))
		}
	})

	t.Run("zero price is a real zero", func(t *testing.T) {
		v := USDValue(a, Known(decimal.Zero))
		assert.True(t, v.IsKnown())
		assert.Equal(t, "0.00", v.Format(2))
	})
}
