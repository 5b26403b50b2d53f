/*
This file contains common utility functions for decimal fee math, particularly
for converting between float64 configuration values and SDK decimals without
accumulating binary floating-point drift.
*/

package utils

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
)

// Float64ToLegacyDec converts a float64 to an SDK decimal via string
// formatting to avoid floating point precision issues.
func Float64ToLegacyDec(value float64) (sdkmath.LegacyDec, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: value is %f", ErrNotFinite, value)
	}

	dec, err := sdkmath.LegacyNewDecFromStr(fmt.Sprintf("%.12f", value))
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	return dec, nil
}

// LegacyDecToFloat64 converts an SDK decimal back to float64, rejecting
// non-finite results.
func LegacyDecToFloat64(dec sdkmath.LegacyDec) (float64, error) {
	if dec.IsNil() {
		return 0, fmt.Errorf("%w: decimal is nil", ErrConversionFailed)
	}
	value, err := dec.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, value)
	}
	return value, nil
}

// RoundHalfUp rounds a decimal to the nearest integer with ties going up:
// 2.5 rounds to 3, -2.5 rounds to -2.
func RoundHalfUp(dec sdkmath.LegacyDec) int64 {
	half := sdkmath.LegacyNewDecWithPrec(5, 1)
	shifted := dec.Add(half)
	trunc := shifted.TruncateInt64()
	// Truncation goes toward zero; negative non-integers need the floor.
	if shifted.IsNegative() && !shifted.Equal(sdkmath.LegacyNewDec(trunc)) {
		trunc--
	}
	return trunc
}
