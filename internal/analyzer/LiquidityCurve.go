/*

This file contains the liquidity curve and the convergence step, the primary
control loop for outbound fees. The curve maps a channel's liquidity ratio to
a target fee anchored on its EMA; convergence moves the live fee a fraction of
the way toward that target each cycle so gossiped fee changes stay smooth.

*/

package analyzer

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/routerlab/autofee/internal/utils"
)

var ErrInvalidPivot = errors.New("pivot must be in (0,1)")

// TargetFee evaluates the liquidity curve. For a pivot at or above one half:
//
//	target = EMA × (1 − r) / (1 − p)
//
// so a channel sitting exactly at its pivot targets its EMA, a fully drained
// channel (r=0) targets EMA/(1−p), and a fully local-heavy channel (r=1)
// targets zero. A pivot below one half reaches zero at twice the pivot rather
// than at full local balance:
//
//	target = EMA × (2p − r) / p
//
// which still targets the EMA at the pivot and 2×EMA when fully drained, and
// holds at zero for every ratio past the 2p zero point. The result is clamped
// at zero either way.
func TargetFee(ema sdkmath.LegacyDec, ratio, pivot float64) (sdkmath.LegacyDec, error) {
	if pivot <= 0 || pivot >= 1 {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: got %f", ErrInvalidPivot, pivot)
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}

	slope := (1 - ratio) / (1 - pivot)
	if pivot < 0.5 {
		slope = (2*pivot - ratio) / pivot
	}
	factor, err := utils.Float64ToLegacyDec(slope)
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("curve factor not representable: %w", err)
	}

	target := ema.Mul(factor)
	if target.IsNegative() {
		return sdkmath.LegacyZeroDec(), nil
	}
	return target, nil
}

// ConvergeFee steps the current fee toward the target:
//
//	new = current + k × (target − current)
//
// rounded half up. Three adjustments keep the loop well-behaved:
//   - when rounding would stall the step entirely, the fee still moves by
//     1 ppm toward the target;
//   - the fee never crosses the (rounded) target;
//   - when both current and target sit at or below the low-fee damping
//     threshold, the proportional step is replaced by a fixed 1 ppm decrement
//     so tiny fees do not oscillate.
//
// The result is clamped at zero.
func ConvergeFee(current int64, target sdkmath.LegacyDec, k float64, lowFeeDampingPpm int64) (int64, error) {
	if k <= 0 || k >= 1 {
		return 0, fmt.Errorf("adjustment factor must be in (0,1), got %f", k)
	}

	roundedTarget := utils.RoundHalfUp(target)
	if roundedTarget == current {
		return clampNonNegative(current), nil
	}

	if current <= lowFeeDampingPpm && target.LTE(sdkmath.LegacyNewDec(lowFeeDampingPpm)) {
		return clampNonNegative(current - 1), nil
	}

	factor, err := utils.Float64ToLegacyDec(k)
	if err != nil {
		return 0, fmt.Errorf("adjustment factor not representable: %w", err)
	}

	currentDec := sdkmath.LegacyNewDec(current)
	stepped := currentDec.Add(factor.Mul(target.Sub(currentDec)))
	next := utils.RoundHalfUp(stepped)

	// Rounding must not stall the loop, and the step must not cross the target.
	if roundedTarget > current {
		if next == current {
			next = current + 1
		}
		if next > roundedTarget {
			next = roundedTarget
		}
	} else {
		if next == current {
			next = current - 1
		}
		if next < roundedTarget {
			next = roundedTarget
		}
	}

	return clampNonNegative(next), nil
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
