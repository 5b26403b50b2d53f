/*

This file contains the default parameters for the autofee pipeline.

These defaults mirror a routing node that prefers smooth, infrequent gossip
updates over chasing every liquidity swing. Each value is scoped to exactly
one stage; nothing here is mutated after startup.

*/

package config

import (
	"github.com/routerlab/autofee/internal/types"
)

// DefaultPolicyParameters provides a baseline parameter set for the pipeline.
// These values are used if no active parameters are found in the database
// during initialization, and are persisted as version 1.
var DefaultPolicyParameters = types.PolicyParameters{
	// --- EMA Tracker ---
	Alpha: 0.15, // Recency weight of each new forward's true-fee ppm.
	// A forward only shifts the running average by 15%, so a single outlier
	// payment cannot whipsaw the fee curve.

	EmaFloorPpm: 10, // Never let the average collapse below 10 ppm.
	// A zero average would pin the target fee at zero forever: the curve
	// scales with the EMA, so it needs a nonzero base to recover from.

	RetentionDays: 14, // Trailing ledger window feeding the EMA.
	// Pruning beyond this window does not reset the running average; the EMA
	// itself carries the older history.

	// --- Liquidity Curve & Convergence ---
	AdjustmentFactor: 0.05, // Fraction of (target - current) applied per cycle.
	// The primary control loop. Stepping 5% per cycle keeps gossiped fee
	// changes smooth and infrequent relative to liquidity volatility.

	DefaultPivot: 0.5, // Liquidity ratio where the target equals the EMA.
	// At 0.5 the curve is the classic 2*EMA*(1-r): empty channel asks double
	// the average, full channel asks nothing.

	LowFeeDampingPpm: 5, // Proportional steps stall near zero; below this
	// threshold (both current and target), decrement by a fixed 1 ppm.

	// --- Inbound Discount State Machine ---
	TriggerThreshold: 0.20, // Discount may activate below 20% local liquidity.
	RemoveThreshold:  0.40, // Discount clears immediately at or above 40%.
	// The 20-point gap is the hysteresis band: a channel oscillating around
	// the trigger does not flap the discount on and off.

	InitialDiscountPct:   30, // First activation: -30% of EMA.
	IncrementDiscountPct: 1,  // Deepens by 1% of EMA per cycle while drained.
	MaxDiscountPct:       70, // Never discounts more than 70% of EMA.

	RemoteFeeCeilingPpm: 2, // Skip the discount when the peer charges more
	// than this: a discount routed through an expensive peer is wasted.

	// --- Stagnation Detector ---
	StagnationWindowHours:    24,  // No ledger event for a day marks stagnation.
	StagnationRatioThreshold: 0.20, // Only liquid channels qualify; a drained
	// channel is idle because it has nothing to forward, not because it is
	// priced out.
	StagnationReductionPct: 0.5, // Gentle 0.5% decay per cycle while stagnant.

	// --- HTLC Sizer ---
	MaxHtlcRatio:      0.98, // Advertise 98% of the usable balance.
	ReserveOffset:     0.01, // 1% of capacity is reserve and never usable.
	MinMaxForwardMsat: 1000, // Depleted channels stay probeable at 1 sat.
}
