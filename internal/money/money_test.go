package money

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecimalRoundTrip(t *testing.T) {
	cases := []struct {
		value    string
		decimals int
	}{
		{"0.5", 8},
		{"123.45678901", 8},
		{"-0.00000001", 8},
		{"0", 8},
		{"1000000.1", 2},
	}

	for _, tc := range cases {
		d, err := DecimalFromString(tc.value)
		require.NoError(t, err)

		smallest := ToSmallestUnit(d, tc.decimals)
		back := FromSmallestUnit(smallest, tc.decimals)

		assert.Equal(t, 0, d.Compare(back), "round-trip mismatch for %s", tc.value)
	}
}

func TestToSmallestUnitBTCDeposit(t *testing.T) {
	d := MustDecimal("0.5")
	smallest := ToSmallestUnit(d, 8)
	assert.Equal(t, big.NewInt(50_000_000), smallest)
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	a := CreateMoney(MustDecimal("1"), "BTC")
	b := CreateMoney(MustDecimal("1"), "USD")

	_, err := a.Add(b)
	require.Error(t, err)
	var mismatch *ErrCurrencyMismatch
	assert.ErrorAs(t, err, &mismatch)
}

func TestDecimalDivPrecision(t *testing.T) {
	a := MustDecimal("10")
	b := MustDecimal("3")
	q, err := a.Div(b)
	require.NoError(t, err)
	assert.Equal(t, -1, MustDecimal("3.33").Compare(q)) // q > 3.33, i.e. 3.33 < q
	assert.Equal(t, 1, MustDecimal("3.4").Compare(q))   // q < 3.4
}

func TestDecimalDivByZero(t *testing.T) {
	_, err := MustDecimal("1").Div(Zero())
	assert.Error(t, err)
}

func TestAbsNeg(t *testing.T) {
	d := MustDecimal("-5.5")
	assert.Equal(t, 0, d.Abs().Compare(MustDecimal("5.5")))
	assert.Equal(t, 0, d.Neg().Compare(MustDecimal("5.5")))
}
