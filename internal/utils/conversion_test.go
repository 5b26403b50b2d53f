package utils

import (
	"math"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloat64ToLegacyDec(t *testing.T) {
	dec, err := Float64ToLegacyDec(0.15)
	require.NoError(t, err)
	assert.True(t, dec.Equal(sdkmath.LegacyMustNewDecFromStr("0.15")), "got %s", dec)

	_, err = Float64ToLegacyDec(math.NaN())
	assert.ErrorIs(t, err, ErrNotFinite)
	_, err = Float64ToLegacyDec(math.Inf(1))
	assert.ErrorIs(t, err, ErrNotFinite)
}

func TestLegacyDecToFloat64(t *testing.T) {
	got, err := LegacyDecToFloat64(sdkmath.LegacyMustNewDecFromStr("2.5"))
	require.NoError(t, err)
	assert.Equal(t, 2.5, got)

	_, err = LegacyDecToFloat64(sdkmath.LegacyDec{})
	assert.Error(t, err)
}

func TestRoundHalfUp(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"2.4", 2},
		{"2.5", 3},
		{"2.6", 3},
		{"-2.4", -2},
		{"-2.5", -2},
		{"-2.6", -3},
		{"152.5", 153},
		{"100.499999", 100},
	}
	for _, tc := range cases {
		got := RoundHalfUp(sdkmath.LegacyMustNewDecFromStr(tc.in))
		assert.Equal(t, tc.want, got, "RoundHalfUp(%s)", tc.in)
	}
}
