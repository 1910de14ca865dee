// Package money provides minor-unit integer amounts for the broker.
//
// All amounts are carried as int64 micros (6 decimal places, matching the
// settlement stablecoin). Decimal strings exist only at the API boundary.
package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Decimals is the number of decimal places carried by an Amount.
const Decimals = 6

// unit is the number of minor units in one whole token.
const unit = 1_000_000

var (
	// ErrInvalidAmount indicates a malformed decimal string.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrNegativeAmount indicates a negative amount where none is allowed.
	ErrNegativeAmount = errors.New("amount must not be negative")

	// ErrAmountOverflow indicates the value does not fit in an int64.
	ErrAmountOverflow = errors.New("amount overflows")
)

// Amount is a non-negative quantity of funds in minor units (micros).
type Amount int64

// Zero is the zero amount.
const Zero Amount = 0

// Parse converts a decimal string such as "0.020" into an Amount.
// At most six fractional digits are accepted.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}
	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeAmount
	}

	whole := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Decimals {
		return 0, fmt.Errorf("%w: more than %d decimal places in %q", ErrInvalidAmount, Decimals, s)
	}
	// Right-pad the fraction to exactly six digits.
	frac += strings.Repeat("0", Decimals-len(frac))

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	var f int64
	if frac != "" {
		f, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}
	if w > (1<<63-1)/unit {
		return 0, ErrAmountOverflow
	}
	v := w * unit
	if v > (1<<63-1)-f {
		return 0, ErrAmountOverflow
	}
	return Amount(v + f), nil
}

// MustParse is Parse for tests and constants; it panics on error.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the amount with all six decimal places, e.g. "0.009500".
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%06d", sign, v/unit, v%unit)
}

// Micros returns the raw minor-unit value.
func (a Amount) Micros() int64 { return int64(a) }

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a == 0 }

// Split divides a into a platform fee and a net payout.
// feeRateMicros is the fee rate scaled by 1_000_000 (50_000 = 5%).
// The fee is floored so that fee + net == a exactly.
func Split(a Amount, feeRateMicros int64) (fee, net Amount) {
	fee = Amount(int64(a) * feeRateMicros / unit)
	return fee, a - fee
}

// FeeRateFromPermille converts a 0-1000 permille rate into the micros
// representation used by Split.
func FeeRateFromPermille(permille int) int64 {
	return int64(permille) * 1000
}
