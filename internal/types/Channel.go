package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// ChannelID is the numeric short channel id (scid) as reported by the node.
type ChannelID uint64

// Channel is a point-in-time snapshot of one channel, taken at the start of a
// cycle. All balances are in satoshis, all fee rates in ppm.
type Channel struct {
	ID           ChannelID `json:"id"`
	RemotePubkey string    `json:"remote_pubkey"`
	Capacity     int64     `json:"capacity"`
	LocalBalance int64     `json:"local_balance"`
	Active       bool      `json:"active"`

	// Local policy currently in force, used for true-fee inference and as the
	// convergence starting point. PolicyKnown is false when the channel's edge
	// is not in the graph yet; true-fee inference then falls back to the net fee.
	PolicyKnown        bool  `json:"policy_known"`
	LocalFeePpm        int64 `json:"local_fee_ppm"`
	LocalBaseFeeMsat   int64 `json:"local_base_fee_msat"`
	LocalInboundFeePpm int64 `json:"local_inbound_fee_ppm"`

	// Remote peer's advertised outbound fee rate, consumed by the inbound
	// discount trigger.
	RemoteFeePpm int64 `json:"remote_fee_ppm"`
}

// LiquidityRatio returns local_balance/capacity clamped to [0,1].
// A channel with unknown capacity is treated as balanced.
func (c Channel) LiquidityRatio() float64 {
	if c.Capacity <= 0 {
		return 0.5
	}
	r := float64(c.LocalBalance) / float64(c.Capacity)
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// RoutingEvent is one settled forward recorded in the append-only ledger.
// Rows are immutable; TrueFeeMsat/TrueFeePpm carry the inferred gross fee
// (net fee plus any self-granted inbound discount).
type RoutingEvent struct {
	ChannelID   ChannelID          `json:"channel_id"`
	Timestamp   time.Time          `json:"timestamp"`
	AmtOutMsat  int64              `json:"amt_out_msat"`
	FeeMsat     int64              `json:"fee_msat"`
	TrueFeeMsat int64              `json:"true_fee_msat"`
	TrueFeePpm  sdkmath.LegacyDec  `json:"true_fee_ppm"`
}

// AverageFeeState is the persisted EMA of a channel's true-fee ppm. The value
// survives ledger pruning and is never deleted by normal processing.
type AverageFeeState struct {
	ChannelID ChannelID         `json:"channel_id"`
	EmaPpm    sdkmath.LegacyDec `json:"ema_ppm"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// InboundDiscountState tracks the inbound-fee discount lifecycle for one
// channel. DiscountPpm is zero or negative; CurrentPct is the discount's
// magnitude as a percentage of the channel's EMA.
type InboundDiscountState struct {
	ChannelID         ChannelID `json:"channel_id"`
	DiscountPpm       int64     `json:"discount_ppm"`
	CurrentPct        int64     `json:"current_pct"`
	HasCrossedTrigger bool      `json:"has_crossed_trigger"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// StagnationState marks channels with usable outbound liquidity but no recent
// routing activity. IsStagnant clears only when the ledger shows an event
// newer than TransitionTime; liquidity movement alone never clears it.
type StagnationState struct {
	ChannelID      ChannelID `json:"channel_id"`
	IsStagnant     bool      `json:"is_stagnant"`
	LastRatio      float64   `json:"last_ratio"`
	TransitionTime time.Time `json:"transition_time"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PolicyOverride is the compiled, per-channel output of one cycle. It is
// ephemeral: recomputed from durable state every cycle and handed to the
// external applier.
type PolicyOverride struct {
	ChannelID      ChannelID `json:"channel_id"`
	OutboundFeePpm int64     `json:"outbound_fee_ppm"`
	InboundFeePpm  int64     `json:"inbound_fee_ppm"`
	MaxForwardMsat int64     `json:"max_forward_msat"`
	BaseFeeMsat    *int64    `json:"base_fee_msat,omitempty"`
}
