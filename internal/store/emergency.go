package store

import (
	"database/sql"
	"fmt"
)

// GetEmergencyState reads the singleton emergency-stop row. Absent
// row means not enabled.
func (s *Store) GetEmergencyState() (*EmergencyState, error) {
	var enabled int
	var reason sql.NullString
	var updated int64
	err := s.db.QueryRow(`SELECT enabled, reason, updated_at FROM emergency_state WHERE id = 1`).
		Scan(&enabled, &reason, &updated)
	if err != nil {
		if isNoRows(err) {
			return &EmergencyState{}, nil
		}
		return nil, fmt.Errorf("get emergency state: %w", err)
	}
	return &EmergencyState{
		Enabled:   enabled != 0,
		Reason:    reason.String,
		UpdatedAt: fromMillis(updated),
	}, nil
}

// SetEmergencyStop flips the emergency-stop flag.
func (s *Store) SetEmergencyStop(enabled bool, reason string) error {
	flag := 0
	if enabled {
		flag = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO emergency_state (id, enabled, reason, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			enabled = excluded.enabled,
			reason = excluded.reason,
			updated_at = excluded.updated_at`,
		flag, nullable(reason), toMillis(nowUTC()))
	if err != nil {
		return fmt.Errorf("set emergency stop: %w", err)
	}
	return nil
}
