/*

This file provides aggregate queries over the ledger and per-channel state
tables, consumed by the web dashboard endpoints.

*/

package state

import (
	"database/sql"
	"fmt"
	"time"
)

// PipelineSummary is a coarse health view of the whole system.
type PipelineSummary struct {
	TotalCycles      int        `json:"total_cycles"`
	LastCycleTime    *time.Time `json:"last_cycle_time,omitempty"`
	LedgerEventCount int64      `json:"ledger_event_count"`
	TrackedChannels  int        `json:"tracked_channels"`
	ActiveDiscounts  int        `json:"active_discounts"`
	StagnantChannels int        `json:"stagnant_channels"`
}

// GetPipelineSummary assembles the dashboard summary from the state tables.
func GetPipelineSummary() (*PipelineSummary, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	s := &PipelineSummary{}

	if err := DB.QueryRow(`SELECT current_cycle FROM cycle_counter WHERE id = 1`).Scan(&s.TotalCycles); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read cycle counter: %w", err)
	}

	var last sql.NullTime
	if err := DB.QueryRow(`SELECT MAX(snapshot_timestamp) FROM cycle_snapshots`).Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to read last cycle time: %w", err)
	}
	if last.Valid {
		t := last.Time
		s.LastCycleTime = &t
	}

	if err := DB.QueryRow(`SELECT COUNT(*) FROM routing_ledger`).Scan(&s.LedgerEventCount); err != nil {
		return nil, fmt.Errorf("failed to count ledger events: %w", err)
	}

	if err := DB.QueryRow(`SELECT COUNT(*) FROM avg_fee_state`).Scan(&s.TrackedChannels); err != nil {
		return nil, fmt.Errorf("failed to count tracked channels: %w", err)
	}

	if err := DB.QueryRow(`SELECT COUNT(*) FROM inbound_discount_state WHERE discount_ppm <> 0`).Scan(&s.ActiveDiscounts); err != nil {
		return nil, fmt.Errorf("failed to count active discounts: %w", err)
	}

	if err := DB.QueryRow(`SELECT COUNT(*) FROM stagnation_state WHERE is_stagnant`).Scan(&s.StagnantChannels); err != nil {
		return nil, fmt.Errorf("failed to count stagnant channels: %w", err)
	}

	return s, nil
}

// ChannelActivity summarizes one channel's recent routing volume.
type ChannelActivity struct {
	ChannelID     uint64     `json:"channel_id"`
	EventCount    int64      `json:"event_count"`
	TotalOutMsat  int64      `json:"total_out_msat"`
	TotalFeeMsat  int64      `json:"total_fee_msat"`
	LastEventTime *time.Time `json:"last_event_time,omitempty"`
}

// GetChannelActivity aggregates ledger rows per channel since the given time,
// ordered by forwarded volume.
func GetChannelActivity(since time.Time) ([]ChannelActivity, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(`
		SELECT chan_id, COUNT(*), COALESCE(SUM(amt_out_msat), 0), COALESCE(SUM(fee_msat), 0), MAX(event_timestamp)
		FROM routing_ledger
		WHERE event_timestamp >= $1
		GROUP BY chan_id
		ORDER BY SUM(amt_out_msat) DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query channel activity: %w", err)
	}
	defer rows.Close()

	var out []ChannelActivity
	for rows.Next() {
		var a ChannelActivity
		var chanID int64
		var last sql.NullTime
		if err := rows.Scan(&chanID, &a.EventCount, &a.TotalOutMsat, &a.TotalFeeMsat, &last); err != nil {
			return nil, fmt.Errorf("failed to scan channel activity: %w", err)
		}
		a.ChannelID = uint64(chanID)
		if last.Valid {
			t := last.Time
			a.LastEventTime = &t
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating channel activity: %w", err)
	}
	return out, nil
}
