package store

import (
	"fmt"

	"github.com/google/uuid"
)

// AppendSurvivalSnapshot records one tier evaluation.
func (s *Store) AppendSurvivalSnapshot(snap *SurvivalSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = nowUTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO survival_snapshots (id, tier, estimated_usd, created_at) VALUES (?, ?, ?, ?)`,
		snap.ID, snap.Tier, snap.EstimatedUsd, toMillis(snap.CreatedAt))
	if err != nil {
		return fmt.Errorf("append survival snapshot: %w", err)
	}
	return nil
}

// LatestSurvivalSnapshot returns the newest snapshot, nil when no
// evaluation has run yet.
func (s *Store) LatestSurvivalSnapshot() (*SurvivalSnapshot, error) {
	var snap SurvivalSnapshot
	var created int64
	err := s.db.QueryRow(`SELECT id, tier, estimated_usd, created_at
		FROM survival_snapshots ORDER BY created_at DESC, id DESC LIMIT 1`).
		Scan(&snap.ID, &snap.Tier, &snap.EstimatedUsd, &created)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest survival snapshot: %w", err)
	}
	snap.CreatedAt = fromMillis(created)
	return &snap, nil
}
