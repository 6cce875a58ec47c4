package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Reserved KV keys used by the runtime.
const (
	KVStartedAt          = "started_at"
	KVSelfChildID        = "self_child_id"
	KVEnabledSkillIDs    = "enabled_skill_ids"
	KVBrainFailureStreak = "brain_failure_streak_v1"
	KVSelfModTimestamps  = "self_mod_timestamps_v1"
	KVNextSleepMs        = "autonomy_next_sleep_ms"
	KVAgentState         = "agent_state"
	KVLastPollAt         = "xmtp_last_poll_at"

	// KVSelfModBackupPrefix prefixes per-mutation backup locators.
	KVSelfModBackupPrefix = "self_mod_backup_v1:"
	// KVAlertDedupPrefix prefixes per-alert de-dup markers.
	KVAlertDedupPrefix = "alert_dedup_v1:"
)

// GetKV returns the value for key and whether it exists.
func (s *Store) GetKV(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if err != nil {
		if isNoRows(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get kv %q: %w", key, err)
	}
	return v, true, nil
}

// SetKV writes a key, replacing any prior value.
func (s *Store) SetKV(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set kv %q: %w", key, err)
	}
	return nil
}

// DeleteKV removes a key; deleting a missing key is not an error.
func (s *Store) DeleteKV(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete kv %q: %w", key, err)
	}
	return nil
}

// GetKVJSON decodes the value for key into out. Returns false when
// the key is absent.
func (s *Store) GetKVJSON(key string, out any) (bool, error) {
	raw, ok, err := s.GetKV(key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return true, fmt.Errorf("decode kv %q: %w", key, err)
	}
	return true, nil
}

// SetKVJSON encodes v as JSON under key.
func (s *Store) SetKVJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode kv %q: %w", key, err)
	}
	return s.SetKV(key, string(raw))
}

// UpdateKV atomically reads, transforms, and writes a key inside one
// transaction. fn receives the current value (empty when absent) and
// returns the replacement. The self-mod rate limiter depends on this
// being a single read-modify-write.
func (s *Store) UpdateKV(key string, fn func(current string, exists bool) (string, error)) error {
	return s.WithTx(func(tx *sql.Tx) error {
		var cur string
		exists := true
		err := tx.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&cur)
		if err != nil {
			if !isNoRows(err) {
				return fmt.Errorf("read kv %q: %w", key, err)
			}
			exists = false
		}
		next, err := fn(cur, exists)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, next); err != nil {
			return fmt.Errorf("write kv %q: %w", key, err)
		}
		return nil
	})
}
