package store

import (
	"fmt"

	"github.com/google/uuid"
)

// InsertMutation records a completed self-modification.
func (s *Store) InsertMutation(m *SelfModMutation) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = nowUTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO self_mod_mutations (id, path, before_hash, after_hash, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Path, nullable(m.BeforeHash), m.AfterHash, nullable(m.Reason), toMillis(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert mutation: %w", err)
	}
	return nil
}

// GetMutation fetches a mutation by id, nil when absent.
func (s *Store) GetMutation(id string) (*SelfModMutation, error) {
	var m SelfModMutation
	var created int64
	err := s.db.QueryRow(`SELECT id, path, COALESCE(before_hash,''), after_hash, COALESCE(reason,''), created_at
		FROM self_mod_mutations WHERE id = ?`, id).
		Scan(&m.ID, &m.Path, &m.BeforeHash, &m.AfterHash, &m.Reason, &created)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get mutation %s: %w", id, err)
	}
	m.CreatedAt = fromMillis(created)
	return &m, nil
}

// CountMutations returns the number of recorded mutations.
func (s *Store) CountMutations() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM self_mod_mutations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count mutations: %w", err)
	}
	return n, nil
}

// InsertRollbackPoint records the reversal data for a mutation. The
// referenced mutation must exist.
func (s *Store) InsertRollbackPoint(r *RollbackPoint) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = nowUTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO rollback_points (id, mutation_id, path, rollback_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.MutationID, r.Path, r.RollbackHash, toMillis(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert rollback point: %w", err)
	}
	return nil
}

// LatestRollbackPoint returns the most recent rollback point for a
// path, nil when none exists.
func (s *Store) LatestRollbackPoint(path string) (*RollbackPoint, error) {
	var r RollbackPoint
	var created int64
	err := s.db.QueryRow(`SELECT id, mutation_id, path, rollback_hash, created_at
		FROM rollback_points WHERE path = ? ORDER BY created_at DESC, id DESC LIMIT 1`, path).
		Scan(&r.ID, &r.MutationID, &r.Path, &r.RollbackHash, &created)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest rollback point for %s: %w", path, err)
	}
	r.CreatedAt = fromMillis(created)
	return &r, nil
}
