/*

This file contains the tunable parameters for the autofee pipeline and the
per-channel override tables consumed by individual stages.

*/

package types

import "fmt"

// FloorKind selects how a channel's minimum outbound fee is derived.
type FloorKind string

const (
	// FloorStatic uses a fixed ppm value.
	FloorStatic FloorKind = "static"
	// FloorEmaPct uses a percentage of the channel's current EMA.
	FloorEmaPct FloorKind = "ema_pct"
)

// FloorRule is one entry of the minimum-fee table. The floor enforcer only
// ever raises fees; a rule on an already-compliant channel is a no-op.
type FloorRule struct {
	ChannelID ChannelID `json:"channel_id"`
	Kind      FloorKind `json:"kind"`
	StaticPpm int64     `json:"static_ppm,omitempty"`
	EmaPct    float64   `json:"ema_pct,omitempty"`
	Enabled   bool      `json:"enabled"`
}

// GroupStrategy selects how a channel group's shared fee is derived from the
// members' already-computed fees.
type GroupStrategy string

const (
	GroupHighest GroupStrategy = "highest"
	GroupLowest  GroupStrategy = "lowest"
	GroupAverage GroupStrategy = "average"
	GroupStatic  GroupStrategy = "static"
)

// ChannelGroup synchronizes fees across channels to the same peer. Outbound
// fees always follow Strategy; inbound fees follow InboundStrategy (falling
// back to Strategy) when SyncInbound is set.
type ChannelGroup struct {
	Name             string        `json:"name"`
	ChannelIDs       []ChannelID   `json:"channel_ids"`
	Strategy         GroupStrategy `json:"strategy"`
	SyncInbound      bool          `json:"sync_inbound"`
	InboundStrategy  GroupStrategy `json:"inbound_strategy,omitempty"`
	StaticFeePpm     int64         `json:"static_fee_ppm,omitempty"`
	StaticInboundPpm int64         `json:"static_inbound_ppm,omitempty"`
	Enabled          bool          `json:"enabled"`
}

// PolicyParameters holds every tunable the pipeline recognizes. A set is
// loaded from the database at startup (defaults are persisted on first run),
// treated as immutable, and passed by value into each stage at cycle start.
type PolicyParameters struct {
	// --- EMA Tracker ---
	Alpha          float64 `json:"alpha"`            // EMA smoothing factor, in (0,1).
	EmaFloorPpm    int64   `json:"ema_floor_ppm"`    // Minimum EMA value after each update.
	RetentionDays  int     `json:"retention_days"`   // Trailing ledger window considered by the EMA; older rows are pruned.

	// --- Liquidity Curve & Convergence ---
	AdjustmentFactor float64 `json:"adjustment_factor"` // Fraction of (target - current) applied per cycle, in (0,1).
	DefaultPivot     float64 `json:"default_pivot"`     // Liquidity ratio at which the target equals the EMA.
	LowFeeDampingPpm int64   `json:"low_fee_damping_ppm"` // Below this, step down by a fixed 1 ppm instead of proportionally.

	// --- Inbound Discount State Machine ---
	TriggerThreshold     float64     `json:"trigger_threshold"`       // Ratio below which the discount may activate.
	RemoveThreshold      float64     `json:"remove_threshold"`        // Ratio at or above which the discount clears immediately.
	InitialDiscountPct   int64       `json:"initial_discount_pct"`    // First-activation magnitude, % of EMA.
	IncrementDiscountPct int64       `json:"increment_discount_pct"`  // Per-cycle magnitude growth, % of EMA.
	MaxDiscountPct       int64       `json:"max_discount_pct"`        // Magnitude cap, % of EMA.
	RemoteFeeCeilingPpm  int64       `json:"remote_fee_ceiling_ppm"`  // Skip the discount when the peer already charges more than this.
	RemoteFeeCheckExempt []ChannelID `json:"remote_fee_check_exempt"` // Channels excluded from the ceiling check.

	// --- Stagnation Detector ---
	StagnationWindowHours    int     `json:"stagnation_window_hours"`    // No ledger event within this window marks the channel stagnant.
	StagnationRatioThreshold float64 `json:"stagnation_ratio_threshold"` // Only channels above this ratio qualify.
	StagnationReductionPct   float64 `json:"stagnation_reduction_pct"`   // Per-cycle fee reduction while stagnant.

	// --- HTLC Sizer ---
	MaxHtlcRatio      float64 `json:"max_htlc_ratio"`       // Fraction of the usable balance advertised as max forwardable.
	ReserveOffset     float64 `json:"reserve_offset"`       // Fraction of capacity held back as unusable reserve.
	MinMaxForwardMsat int64   `json:"min_max_forward_msat"` // Floor when the usable balance is depleted, keeps the channel probeable.

	// --- Per-channel override tables ---
	PivotOverrides  map[ChannelID]float64 `json:"pivot_overrides,omitempty"`
	FloorRules      []FloorRule           `json:"floor_rules,omitempty"`
	ChannelGroups   []ChannelGroup        `json:"channel_groups,omitempty"`
	IncludeChannels []ChannelID           `json:"include_channels,omitempty"` // Empty means all channels.
	ExcludeChannels []ChannelID           `json:"exclude_channels,omitempty"`
}

// ValidateEMA checks the parameters the EMA stage depends on.
func (p PolicyParameters) ValidateEMA() error {
	if p.Alpha <= 0 || p.Alpha >= 1 {
		return fmt.Errorf("alpha must be in (0,1), got %f", p.Alpha)
	}
	if p.EmaFloorPpm < 0 {
		return fmt.Errorf("ema floor cannot be negative, got %d", p.EmaFloorPpm)
	}
	if p.RetentionDays <= 0 {
		return fmt.Errorf("retention days must be positive, got %d", p.RetentionDays)
	}
	return nil
}

// ValidateCurve checks the parameters the liquidity-curve stage depends on.
func (p PolicyParameters) ValidateCurve() error {
	if p.AdjustmentFactor <= 0 || p.AdjustmentFactor >= 1 {
		return fmt.Errorf("adjustment factor must be in (0,1), got %f", p.AdjustmentFactor)
	}
	if p.DefaultPivot <= 0 || p.DefaultPivot >= 1 {
		return fmt.Errorf("pivot must be in (0,1), got %f", p.DefaultPivot)
	}
	for id, pivot := range p.PivotOverrides {
		if pivot <= 0 || pivot >= 1 {
			return fmt.Errorf("pivot override for channel %d must be in (0,1), got %f", id, pivot)
		}
	}
	return nil
}

// ValidateDiscount checks the parameters the discount stage depends on.
func (p PolicyParameters) ValidateDiscount() error {
	if p.RemoveThreshold <= p.TriggerThreshold {
		return fmt.Errorf("remove threshold (%f) must exceed trigger threshold (%f)",
			p.RemoveThreshold, p.TriggerThreshold)
	}
	if p.InitialDiscountPct <= 0 || p.MaxDiscountPct <= 0 || p.IncrementDiscountPct <= 0 {
		return fmt.Errorf("discount percentages must be positive")
	}
	if p.InitialDiscountPct > p.MaxDiscountPct {
		return fmt.Errorf("initial discount pct (%d) exceeds max (%d)",
			p.InitialDiscountPct, p.MaxDiscountPct)
	}
	return nil
}

// ValidateStagnation checks the parameters the stagnation stage depends on.
func (p PolicyParameters) ValidateStagnation() error {
	if p.StagnationWindowHours <= 0 {
		return fmt.Errorf("stagnation window must be positive, got %d", p.StagnationWindowHours)
	}
	if p.StagnationReductionPct <= 0 || p.StagnationReductionPct >= 100 {
		return fmt.Errorf("stagnation reduction pct must be in (0,100), got %f", p.StagnationReductionPct)
	}
	return nil
}

// ValidateHTLC checks the parameters the HTLC sizer depends on.
func (p PolicyParameters) ValidateHTLC() error {
	if p.MaxHtlcRatio <= 0 || p.MaxHtlcRatio > 1 {
		return fmt.Errorf("max htlc ratio must be in (0,1], got %f", p.MaxHtlcRatio)
	}
	if p.ReserveOffset < 0 || p.ReserveOffset >= 1 {
		return fmt.Errorf("reserve offset must be in [0,1), got %f", p.ReserveOffset)
	}
	if p.MinMaxForwardMsat <= 0 {
		return fmt.Errorf("min max-forward floor must be positive, got %d", p.MinMaxForwardMsat)
	}
	return nil
}

// ChannelInScope applies the include/exclude lists.
func (p PolicyParameters) ChannelInScope(id ChannelID) bool {
	for _, ex := range p.ExcludeChannels {
		if ex == id {
			return false
		}
	}
	if len(p.IncludeChannels) == 0 {
		return true
	}
	for _, in := range p.IncludeChannels {
		if in == id {
			return true
		}
	}
	return false
}

// PivotFor returns the channel's pivot, honoring per-channel overrides.
func (p PolicyParameters) PivotFor(id ChannelID) float64 {
	if pivot, ok := p.PivotOverrides[id]; ok {
		return pivot
	}
	return p.DefaultPivot
}
