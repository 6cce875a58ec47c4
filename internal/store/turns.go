package store

import (
	"fmt"

	"github.com/google/uuid"

	"aethernet/internal/redact"
)

// InsertTurn persists a turn. The metadata bag is redacted. A zero
// timestamp is replaced with the current time; the id is assigned when
// empty.
func (s *Store) InsertTurn(t *Turn) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = nowUTC()
	}
	t.Metadata = redact.Map(t.Metadata)
	meta, err := marshalMeta(t.Metadata)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`INSERT INTO turns (id, ts, state, input, output, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, toMillis(t.Timestamp), t.State, redact.String(t.Input), redact.String(t.Output), meta)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// RecentTurns returns the newest n turns, newest first.
func (s *Store) RecentTurns(n int) ([]Turn, error) {
	rows, err := s.db.Query(`SELECT id, ts, state, COALESCE(input,''), COALESCE(output,''), metadata
		FROM turns ORDER BY ts DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		var ts int64
		var meta string
		if err := rows.Scan(&t.ID, &ts, &t.State, &t.Input, &t.Output, &meta); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Timestamp = fromMillis(ts)
		t.Metadata = unmarshalMeta(meta)
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTurn fetches one turn by id.
func (s *Store) GetTurn(id string) (*Turn, error) {
	var t Turn
	var ts int64
	var meta string
	err := s.db.QueryRow(`SELECT id, ts, state, COALESCE(input,''), COALESCE(output,''), metadata FROM turns WHERE id = ?`, id).
		Scan(&t.ID, &ts, &t.State, &t.Input, &t.Output, &meta)
	if err != nil {
		return nil, fmt.Errorf("get turn %s: %w", id, err)
	}
	t.Timestamp = fromMillis(ts)
	t.Metadata = unmarshalMeta(meta)
	return &t, nil
}

// InsertTelemetry persists the per-turn metrics row. The referenced
// turn must already exist.
func (s *Store) InsertTelemetry(tt *TurnTelemetry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO turn_telemetry
		(turn_id, survival_tier, estimated_usd, queue_depth, spend_proxy_usd, actions_total, action_failures, brain_duration_ms, brain_failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tt.TurnID, tt.SurvivalTier, tt.EstimatedUsd, tt.QueueDepth, tt.SpendProxyUsd,
		tt.ActionsTotal, tt.ActionFailures, tt.BrainDurationMs, tt.BrainFailures)
	if err != nil {
		return fmt.Errorf("insert telemetry for turn %s: %w", tt.TurnID, err)
	}
	return nil
}

// GetTelemetry fetches the telemetry row for a turn.
func (s *Store) GetTelemetry(turnID string) (*TurnTelemetry, error) {
	var tt TurnTelemetry
	err := s.db.QueryRow(`SELECT turn_id, survival_tier, estimated_usd, queue_depth, spend_proxy_usd,
		actions_total, action_failures, brain_duration_ms, brain_failures
		FROM turn_telemetry WHERE turn_id = ?`, turnID).
		Scan(&tt.TurnID, &tt.SurvivalTier, &tt.EstimatedUsd, &tt.QueueDepth, &tt.SpendProxyUsd,
			&tt.ActionsTotal, &tt.ActionFailures, &tt.BrainDurationMs, &tt.BrainFailures)
	if err != nil {
		return nil, fmt.Errorf("get telemetry for turn %s: %w", turnID, err)
	}
	return &tt, nil
}

// CountTurns returns the number of persisted turns.
func (s *Store) CountTurns() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM turns`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return n, nil
}
