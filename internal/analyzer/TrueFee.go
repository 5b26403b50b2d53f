/*

This file reconstructs the gross ("true") fee a forward would have earned
absent any self-granted inbound discount. The node only reports the net
settled fee; if we averaged that directly, a channel's own discount would
drag its historical fee estimate down and the control loop would chase it.

*/

package analyzer

import (
	sdkmath "cosmossdk.io/math"

	"github.com/routerlab/autofee/internal/utils"
)

var oneMillion = sdkmath.LegacyNewDec(1_000_000)

// ReconstructTrueFee infers the gross fee for one forward.
//
//	expected = amount × outbound_rate / 1e6 + base_fee
//	true_fee = net_fee + max(0, expected − net_fee)
//
// When the in-force policy is unknown there is nothing to correct against and
// the net fee is taken as-is. The inference is deliberately one-sided: a net
// fee above expectation (rates changed between propagation and settlement) is
// kept, never reduced.
//
// Returns the true fee in msat and as ppm of the forwarded amount.
func ReconstructTrueFee(amtOutMsat, netFeeMsat, outboundRatePpm, baseFeeMsat int64, policyKnown bool) (int64, sdkmath.LegacyDec) {
	trueFee := sdkmath.LegacyNewDec(netFeeMsat)

	if policyKnown && amtOutMsat > 0 {
		expected := sdkmath.LegacyNewDec(amtOutMsat).
			MulInt64(outboundRatePpm).
			Quo(oneMillion).
			Add(sdkmath.LegacyNewDec(baseFeeMsat))
		discount := expected.Sub(trueFee)
		if discount.IsPositive() {
			trueFee = trueFee.Add(discount)
		}
	}

	if amtOutMsat <= 0 {
		return utils.RoundHalfUp(trueFee), sdkmath.LegacyZeroDec()
	}

	ppm := trueFee.Mul(oneMillion).Quo(sdkmath.LegacyNewDec(amtOutMsat))
	return utils.RoundHalfUp(trueFee), ppm
}
