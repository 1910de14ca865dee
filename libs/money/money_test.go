package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0.020", 20_000},
		{"0.02", 20_000},
		{"1", 1_000_000},
		{"1.5", 1_500_000},
		{"0.000001", 1},
		{"0", 0},
		{".5", 500_000},
		{"12.345678", 12_345_678},
	}

	for _, tt := range tests {
		a, err := Parse(tt.in)
		require.NoError(t, err, "parse %q", tt.in)
		assert.Equal(t, tt.want, a.Micros(), "parse %q", tt.in)
	}
}

func TestParseRejects(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "1.2345678", "1.2.3", "1e6"} {
		_, err := Parse(in)
		assert.Error(t, err, "expected error for %q", in)
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "0.009500", MustParse("0.0095").String())
	assert.Equal(t, "1.000000", MustParse("1").String())
	assert.Equal(t, "0.000000", Zero.String())
}

func TestSplit(t *testing.T) {
	// 5% of 0.010 → fee 0.000500, net 0.009500.
	fee, net := Split(MustParse("0.010"), FeeRateFromPermille(50))
	assert.Equal(t, MustParse("0.000500"), fee)
	assert.Equal(t, MustParse("0.009500"), net)

	// fee + net always reconstructs the amount exactly.
	for _, s := range []string{"0.000001", "0.999999", "123.456789"} {
		a := MustParse(s)
		fee, net := Split(a, FeeRateFromPermille(50))
		assert.Equal(t, a, fee+net)
	}
}

func TestSplitZeroRate(t *testing.T) {
	fee, net := Split(MustParse("1"), 0)
	assert.True(t, fee.IsZero())
	assert.Equal(t, MustParse("1"), net)
}
