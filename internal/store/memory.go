package store

import (
	"fmt"

	"github.com/google/uuid"
)

// UpsertFact writes a memory fact by key; a newer write wins.
func (s *Store) UpsertFact(f *MemoryFact) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = nowUTC()
	}
	if f.Confidence == 0 {
		f.Confidence = 0.5
	}
	if f.Confidence < 0 {
		f.Confidence = 0
	}
	if f.Confidence > 1 {
		f.Confidence = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO memory_facts (id, key, value, confidence, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			confidence = excluded.confidence,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		f.ID, f.Key, f.Value, f.Confidence, nullable(f.Source), toMillis(f.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert fact %q: %w", f.Key, err)
	}
	return nil
}

// FactByKey fetches a fact, returning nil when absent.
func (s *Store) FactByKey(key string) (*MemoryFact, error) {
	var f MemoryFact
	var up int64
	err := s.db.QueryRow(`SELECT id, key, value, confidence, COALESCE(source,''), updated_at
		FROM memory_facts WHERE key = ?`, key).
		Scan(&f.ID, &f.Key, &f.Value, &f.Confidence, &f.Source, &up)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get fact %q: %w", key, err)
	}
	f.UpdatedAt = fromMillis(up)
	return &f, nil
}

// RecentFacts returns the most recently updated facts, newest first.
func (s *Store) RecentFacts(n int) ([]MemoryFact, error) {
	rows, err := s.db.Query(`SELECT id, key, value, confidence, COALESCE(source,''), updated_at
		FROM memory_facts ORDER BY updated_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var out []MemoryFact
	for rows.Next() {
		var f MemoryFact
		var up int64
		if err := rows.Scan(&f.ID, &f.Key, &f.Value, &f.Confidence, &f.Source, &up); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.UpdatedAt = fromMillis(up)
		out = append(out, f)
	}
	return out, rows.Err()
}

// AppendEpisode appends a memory episode.
func (s *Store) AppendEpisode(e *MemoryEpisode) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = nowUTC()
	}
	meta, err := marshalMeta(e.Metadata)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`INSERT INTO memory_episodes (id, summary, outcome, action_type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Summary, nullable(e.Outcome), nullable(e.ActionType), meta, toMillis(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("append episode: %w", err)
	}
	return nil
}

// RecentEpisodes returns the newest episodes, newest first.
func (s *Store) RecentEpisodes(n int) ([]MemoryEpisode, error) {
	rows, err := s.db.Query(`SELECT id, summary, COALESCE(outcome,''), COALESCE(action_type,''), metadata, created_at
		FROM memory_episodes ORDER BY created_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer rows.Close()

	var out []MemoryEpisode
	for rows.Next() {
		var e MemoryEpisode
		var created int64
		var meta string
		if err := rows.Scan(&e.ID, &e.Summary, &e.Outcome, &e.ActionType, &meta, &created); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		e.CreatedAt = fromMillis(created)
		e.Metadata = unmarshalMeta(meta)
		out = append(out, e)
	}
	return out, rows.Err()
}
