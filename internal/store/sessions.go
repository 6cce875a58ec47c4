package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateUnlockSession revokes any active session and records a new
// one; at most one unlock session is active at a time.
func (s *Store) CreateUnlockSession(address string, expiresAt time.Time) (*UnlockSession, error) {
	sess := &UnlockSession{
		ID:        uuid.NewString(),
		Address:   address,
		CreatedAt: nowUTC(),
		ExpiresAt: expiresAt,
	}
	err := s.WithTx(func(tx *sql.Tx) error {
		now := toMillis(sess.CreatedAt)
		if _, err := tx.Exec(`UPDATE unlock_sessions SET revoked_at = ? WHERE revoked_at IS NULL`, now); err != nil {
			return fmt.Errorf("revoke prior sessions: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO unlock_sessions (id, address, created_at, expires_at) VALUES (?, ?, ?, ?)`,
			sess.ID, sess.Address, now, toMillis(sess.ExpiresAt)); err != nil {
			return fmt.Errorf("insert unlock session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// RevokeUnlockSessions revokes all active sessions.
func (s *Store) RevokeUnlockSessions() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE unlock_sessions SET revoked_at = ? WHERE revoked_at IS NULL`, toMillis(nowUTC()))
	if err != nil {
		return fmt.Errorf("revoke unlock sessions: %w", err)
	}
	return nil
}

// ActiveUnlockSession returns the unexpired, unrevoked session, or
// nil when the wallet is locked.
func (s *Store) ActiveUnlockSession() (*UnlockSession, error) {
	var sess UnlockSession
	var created, expires int64
	var revoked sql.NullInt64
	err := s.db.QueryRow(`SELECT id, address, created_at, expires_at, revoked_at
		FROM unlock_sessions WHERE revoked_at IS NULL AND expires_at > ?
		ORDER BY created_at DESC LIMIT 1`, toMillis(nowUTC())).
		Scan(&sess.ID, &sess.Address, &created, &expires, &revoked)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("active unlock session: %w", err)
	}
	sess.CreatedAt = fromMillis(created)
	sess.ExpiresAt = fromMillis(expires)
	return &sess, nil
}

// AppendWalletAudit records a wallet lifecycle event (unlock, lock,
// rotate).
func (s *Store) AppendWalletAudit(event, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO wallet_audit (id, event, address, created_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), event, nullable(address), toMillis(nowUTC()))
	if err != nil {
		return fmt.Errorf("append wallet audit: %w", err)
	}
	return nil
}
