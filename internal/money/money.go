// Package money provides exact arbitrary-precision decimal arithmetic and
// currency-tagged amounts for the ledger core. It is built on math/big.Rat;
// nothing here converts through float64.
package money

import (
	"fmt"
	"math/big"
	"strings"
)

// precisionDigits is the minimum number of significant decimal digits a
// division result is carried to before any currency-decimals truncation.
const precisionDigits = 38

// Decimal is an arbitrary-precision decimal value backed by a rational number.
type Decimal struct {
	r *big.Rat
}

// Zero is the additive identity.
func Zero() Decimal { return Decimal{r: new(big.Rat)} }

// DecimalFromString parses a decimal string (e.g. "0.5", "-12.000001") exactly.
func DecimalFromString(s string) (Decimal, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return Decimal{}, fmt.Errorf("money: invalid decimal string %q", s)
	}
	return Decimal{r: r}, nil
}

// MustDecimal parses s, panicking on error. Intended for compile-time-known literals.
func MustDecimal(s string) Decimal {
	d, err := DecimalFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Decimal) rat() *big.Rat {
	if d.r == nil {
		return new(big.Rat)
	}
	return d.r
}

// Add returns d + other.
func (d Decimal) Add(other Decimal) Decimal {
	return Decimal{r: new(big.Rat).Add(d.rat(), other.rat())}
}

// Sub returns d - other.
func (d Decimal) Sub(other Decimal) Decimal {
	return Decimal{r: new(big.Rat).Sub(d.rat(), other.rat())}
}

// Mul returns d * other.
func (d Decimal) Mul(other Decimal) Decimal {
	return Decimal{r: new(big.Rat).Mul(d.rat(), other.rat())}
}

// Div returns d / other carried to at least precisionDigits significant
// decimal digits and truncated toward zero beyond that. Division by zero
// returns an error rather than panicking.
func (d Decimal) Div(other Decimal) (Decimal, error) {
	if other.rat().Sign() == 0 {
		return Decimal{}, fmt.Errorf("money: division by zero")
	}
	result := new(big.Rat).Quo(d.rat(), other.rat())
	// A quotient below 1 needs one extra fractional digit per leading zero
	// to keep precisionDigits significant digits.
	digits := precisionDigits
	one, ten := big.NewRat(1, 1), big.NewRat(10, 1)
	for t := new(big.Rat).Abs(result); t.Sign() != 0 && t.Cmp(one) < 0; t.Mul(t, ten) {
		digits++
	}
	return Decimal{r: roundToDigits(result, digits)}, nil
}

// Abs returns the absolute value of d.
func (d Decimal) Abs() Decimal {
	return Decimal{r: new(big.Rat).Abs(d.rat())}
}

// Neg returns -d.
func (d Decimal) Neg() Decimal {
	return Decimal{r: new(big.Rat).Neg(d.rat())}
}

// Compare returns -1, 0, or 1 as d is less than, equal to, or greater than other.
func (d Decimal) Compare(other Decimal) int {
	return d.rat().Cmp(other.rat())
}

// IsZero reports whether d is exactly zero.
func (d Decimal) IsZero() bool { return d.rat().Sign() == 0 }

// Sign returns -1, 0, or 1 matching the sign of d.
func (d Decimal) Sign() int { return d.rat().Sign() }

// String renders d as a decimal string with at most precisionDigits
// fractional digits (the last one rounded by big.Rat.FloatString) and
// trailing fractional zeros dropped, so 0.001 renders as "0.001" and zero
// as "0".
func (d Decimal) String() string {
	s := d.rat().FloatString(precisionDigits)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	if s == "-0" {
		s = "0"
	}
	return s
}

// StringFixed renders d with exactly decimals fractional digits, the last
// one rounded half away from zero (big.Rat.FloatString).
func (d Decimal) StringFixed(decimals int) string {
	return d.rat().FloatString(decimals)
}

func roundToDigits(r *big.Rat, digits int) *big.Rat {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(scale))
	num := new(big.Int)
	if scaled.IsInt() {
		num = scaled.Num()
	} else {
		// Truncate toward zero at the target precision.
		q := new(big.Int).Quo(scaled.Num(), scaled.Denom())
		num = q
	}
	out := new(big.Rat).SetFrac(num, scale)
	return out
}

// ToSmallestUnit converts d into a signed arbitrary-precision integer of the
// currency's smallest units (e.g. satoshis for an 8-decimal BTC), truncating
// any precision beyond decimals toward zero.
func ToSmallestUnit(d Decimal, decimals int) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Rat).Mul(d.rat(), new(big.Rat).SetInt(scale))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}

// FromSmallestUnit converts a signed smallest-unit integer back into a Decimal.
func FromSmallestUnit(amount *big.Int, decimals int) Decimal {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r := new(big.Rat).SetFrac(amount, scale)
	return Decimal{r: r}
}

// Money is a Decimal tagged with its currency ticker. Arithmetic between
// differently-tickered Money values fails with ErrCurrencyMismatch.
type Money struct {
	Amount   Decimal
	Currency string
}

// ErrCurrencyMismatch is returned by Money arithmetic across different currencies.
type ErrCurrencyMismatch struct {
	A, B string
}

func (e *ErrCurrencyMismatch) Error() string {
	return fmt.Sprintf("money: currency mismatch %s vs %s", e.A, e.B)
}

// CreateMoney constructs a Money value.
func CreateMoney(amount Decimal, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// Add returns m + other, or ErrCurrencyMismatch if currencies differ.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, &ErrCurrencyMismatch{A: m.Currency, B: other.Currency}
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m - other, or ErrCurrencyMismatch if currencies differ.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, &ErrCurrencyMismatch{A: m.Currency, B: other.Currency}
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// String renders the Money value as "<amount> <currency>".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.String(), m.Currency)
}
