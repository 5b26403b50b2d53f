// ./internal/state/ledger_store.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/routerlab/autofee/internal/types"
)

// AppendRoutingEvents inserts a batch of routing events into the ledger
// inside a single transaction. Returns the number of rows written.
func AppendRoutingEvents(events []types.RoutingEvent) (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO routing_ledger (chan_id, event_timestamp, amt_out_msat, fee_msat, true_fee_msat, true_fee_ppm)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare ledger insert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, ev := range events {
		_, err := stmt.Exec(int64(ev.ChannelID), ev.Timestamp, ev.AmtOutMsat, ev.FeeMsat, ev.TrueFeeMsat, ev.TrueFeePpm.String())
		if err != nil {
			return 0, fmt.Errorf("failed to insert ledger event for channel %d: %w", ev.ChannelID, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit ledger batch: %w", err)
	}
	return written, nil
}

// EventsInWindow returns the channel's ledger events with event_timestamp >= since,
// ordered oldest first.
func EventsInWindow(chanID types.ChannelID, since time.Time) ([]types.RoutingEvent, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(`
		SELECT chan_id, event_timestamp, amt_out_msat, fee_msat, true_fee_msat, true_fee_ppm
		FROM routing_ledger
		WHERE chan_id = $1 AND event_timestamp >= $2
		ORDER BY event_timestamp ASC, event_id ASC`,
		int64(chanID), since)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger window for channel %d: %w", chanID, err)
	}
	defer rows.Close()

	var events []types.RoutingEvent
	for rows.Next() {
		ev, err := scanRoutingEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger rows: %w", err)
	}
	return events, nil
}

func scanRoutingEvent(rows *sql.Rows) (types.RoutingEvent, error) {
	var ev types.RoutingEvent
	var chanID int64
	var ppmStr string
	if err := rows.Scan(&chanID, &ev.Timestamp, &ev.AmtOutMsat, &ev.FeeMsat, &ev.TrueFeeMsat, &ppmStr); err != nil {
		return types.RoutingEvent{}, fmt.Errorf("failed to scan ledger row: %w", err)
	}
	ev.ChannelID = types.ChannelID(chanID)
	ppm, err := parseLegacyDec(ppmStr)
	if err != nil {
		return types.RoutingEvent{}, fmt.Errorf("corrupt true_fee_ppm for channel %d: %w", chanID, err)
	}
	ev.TrueFeePpm = ppm
	return ev, nil
}

// LastEventTime returns the timestamp of the channel's most recent ledger
// event, or nil when the channel has no events at all.
func LastEventTime(chanID types.ChannelID) (*time.Time, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	var ts sql.NullTime
	err := DB.QueryRow(`SELECT MAX(event_timestamp) FROM routing_ledger WHERE chan_id = $1`, int64(chanID)).Scan(&ts)
	if err != nil {
		return nil, fmt.Errorf("failed to query last event time for channel %d: %w", chanID, err)
	}
	if !ts.Valid {
		return nil, nil
	}
	t := ts.Time
	return &t, nil
}

// PruneEventsBefore deletes ledger rows older than the cutoff. Derived
// per-channel state is untouched; only raw events age out.
func PruneEventsBefore(cutoff time.Time) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	res, err := DB.Exec(`DELETE FROM routing_ledger WHERE event_timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune ledger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read prune row count: %w", err)
	}
	return n, nil
}

// ResetChannel removes all stored state for one channel: its ledger rows,
// EMA, discount and stagnation records. Used by the operator reset script.
func ResetChannel(chanID types.ChannelID) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM routing_ledger WHERE chan_id = $1`,
		`DELETE FROM avg_fee_state WHERE chan_id = $1`,
		`DELETE FROM inbound_discount_state WHERE chan_id = $1`,
		`DELETE FROM stagnation_state WHERE chan_id = $1`,
	} {
		if _, err := tx.Exec(q, int64(chanID)); err != nil {
			return fmt.Errorf("failed to reset channel %d: %w", chanID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit channel reset: %w", err)
	}
	return nil
}

// GetIngestCursor returns the unix timestamp (seconds) of the last
// forwarding event already folded into the ledger, 0 when never set.
func GetIngestCursor() (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var ts int64
	err := DB.QueryRow(`SELECT last_timestamp FROM ingest_cursor WHERE id = 1`).Scan(&ts)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read ingest cursor: %w", err)
	}
	return ts, nil
}

// SetIngestCursor advances the forwarding-feed cursor. The cursor never
// moves backwards; a stale value is simply ignored.
func SetIngestCursor(ts int64) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	_, err := DB.Exec(`
		UPDATE ingest_cursor
		SET last_timestamp = GREATEST(last_timestamp, $1), updated_at = CURRENT_TIMESTAMP
		WHERE id = 1`, ts)
	if err != nil {
		return fmt.Errorf("failed to update ingest cursor: %w", err)
	}
	return nil
}
