/*

This file sizes the advertised maximum forwardable amount. Advertising close
to the true usable balance avoids doomed HTLC attempts against a drained
channel without disabling it outright.

*/

package analyzer

import (
	"github.com/routerlab/autofee/internal/types"
)

// ComputeMaxForwardMsat derives the max HTLC size from the channel's usable
// balance:
//
//	usable = local_balance − capacity × reserve_offset
//	max    = usable × max_htlc_ratio
//
// A depleted channel gets the minimum probe floor instead of zero so peers
// can still test it.
func ComputeMaxForwardMsat(ch types.Channel, params types.PolicyParameters) int64 {
	usableSat := float64(ch.LocalBalance) - float64(ch.Capacity)*params.ReserveOffset
	if usableSat <= 0 {
		return params.MinMaxForwardMsat
	}

	maxMsat := int64(usableSat*params.MaxHtlcRatio) * 1000
	if maxMsat < params.MinMaxForwardMsat {
		return params.MinMaxForwardMsat
	}
	return maxMsat
}
