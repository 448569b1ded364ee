package units

import (
	"strings"
	"testing"

	"github.com/holiman/uint256"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name   string
		amount *uint256.Int
		want   string
	}{
		{"nil", nil, "0"},
		{"zero", uint256.NewInt(0), "0"},
		{"one token", uint256.MustFromDecimal("1000000000000000000"), "1"},
		{"twelve tokens", uint256.MustFromDecimal("12000000000000000000"), "12"},
		{"half token", uint256.MustFromDecimal("500000000000000000"), "0.5"},
		{"one unit", uint256.NewInt(1), "0.000000000000000001"},
		{"mixed", uint256.MustFromDecimal("1000000000000000001"), "1.000000000000000001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.amount))
		})
	}
}

func TestParse(t *testing.T) {
	got, err := Parse("10")
	require.NoError(t, err)
	assert.Equal(t, "10000000000000000000", got.Dec())

	got, err = Parse(" 0.25 ")
	require.NoError(t, err)
	assert.Equal(t, "250000000000000000", got.Dec())

	// Digits beyond the 18th are truncated, never rounded up.
	got, err = Parse("0.0000000000000000019")
	require.NoError(t, err)
	assert.Equal(t, "1", got.Dec())

	_, err = Parse("-1")
	assert.ErrorIs(t, err, ErrNegativeAmount)

	_, err = Parse("")
	assert.Error(t, err)

	_, err = Parse("ten")
	assert.Error(t, err)

	_, err = Parse("1" + strings.Repeat("0", 80))
	assert.ErrorIs(t, err, ErrAmountOverflow)
}

func TestParseDecimal_Bounds(t *testing.T) {
	d, err := ParseDecimal("1.5e3")
	require.NoError(t, err)
	assert.Equal(t, "1500", d.String())

	_, err = ParseDecimal("1e36")
	assert.NoError(t, err)

	tests := []string{
		"1e-20000000",
		"1e2000000",
		"1e37",
		"1e-37",
		"0." + strings.Repeat("1", MaxInputLength),
	}
	for _, input := range tests {
		_, err := ParseDecimal(input)
		assert.ErrorIs(t, err, ErrOutOfRange, input)

		_, err = Parse(input)
		assert.ErrorIs(t, err, ErrOutOfRange, input)
	}
}

func TestMulDecimal(t *testing.T) {
	ten, err := Parse("10")
	require.NoError(t, err)

	got, err := MulDecimal(ten, decimal.RequireFromString("1.2"))
	require.NoError(t, err)
	assert.Equal(t, "12", Format(got))

	// 1 unit * 1.5 = 1.5 units, truncated to 1.
	got, err = MulDecimal(uint256.NewInt(1), decimal.RequireFromString("1.5"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Uint64())

	got, err = MulDecimal(nil, decimal.RequireFromString("2"))
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = MulDecimal(ten, decimal.RequireFromString("-1"))
	assert.ErrorIs(t, err, ErrNegativeAmount)
}

func TestParseUnits(t *testing.T) {
	got, err := ParseUnits("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = ParseUnits("12000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "12", Format(got))

	_, err = ParseUnits("12.5")
	assert.Error(t, err)
}

func TestFormatParseRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("parse(format(x)) == x for 64-bit amounts", prop.ForAll(
		func(v uint64) bool {
			amount := uint256.NewInt(v)
			back, err := Parse(Format(amount))
			return err == nil && back.Eq(amount)
		},
		gen.UInt64(),
	))

	properties.Property("parse(format(x)) == x for full-width amounts", prop.ForAll(
		func(w0, w1, w2, w3 uint64) bool {
			amount := &uint256.Int{w0, w1, w2, w3}
			back, err := Parse(Format(amount))
			return err == nil && back.Eq(amount)
		},
		gen.UInt64(), gen.UInt64(), gen.UInt64(), gen.UInt64(),
	))

	properties.Property("rewards produced by multipliers round-trip", prop.ForAll(
		func(base uint64, hundredths int64) bool {
			factor := decimal.New(100+hundredths, -2)
			amount, err := MulDecimal(uint256.NewInt(base), factor)
			if err != nil {
				return false
			}
			back, err := Parse(Format(amount))
			return err == nil && back.Eq(amount)
		},
		gen.UInt64(), gen.Int64Range(0, 1000),
	))

	properties.TestingRun(t)
}
