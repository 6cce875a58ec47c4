package store

import (
	"fmt"

	"github.com/google/uuid"

	"aethernet/internal/redact"
)

// InsertAlert appends an alert. Message and metadata are redacted.
func (s *Store) InsertAlert(a *Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = nowUTC()
	}
	a.Message = redact.String(a.Message)
	a.Metadata = redact.Map(a.Metadata)
	meta, err := marshalMeta(a.Metadata)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`INSERT INTO alerts (id, code, severity, route, message, metadata, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Code, a.Severity, a.Route, a.Message, meta, toMillis(a.Timestamp))
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// RecentAlerts returns the newest alerts, newest first.
func (s *Store) RecentAlerts(n int) ([]Alert, error) {
	rows, err := s.db.Query(`SELECT id, code, severity, route, message, metadata, ts
		FROM alerts ORDER BY ts DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		var ts int64
		var meta string
		if err := rows.Scan(&a.ID, &a.Code, &a.Severity, &a.Route, &a.Message, &meta, &ts); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Timestamp = fromMillis(ts)
		a.Metadata = unmarshalMeta(meta)
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountAlerts returns the number of persisted alerts.
func (s *Store) CountAlerts() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM alerts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return n, nil
}
