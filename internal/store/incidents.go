package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"aethernet/internal/redact"
)

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// InsertIncident appends an incident. Message and metadata are
// redacted before they reach disk.
func (s *Store) InsertIncident(in *Incident) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = nowUTC()
	}
	in.Message = redact.String(in.Message)
	in.Metadata = redact.Map(in.Metadata)
	meta, err := marshalMeta(in.Metadata)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`INSERT INTO incidents (id, code, severity, category, message, metadata, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.Code, in.Severity, nullable(in.Category), in.Message, meta, toMillis(in.Timestamp))
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// RecentIncidents returns the newest incidents, newest first.
func (s *Store) RecentIncidents(n int) ([]Incident, error) {
	rows, err := s.db.Query(`SELECT id, code, severity, COALESCE(category,''), message, metadata, ts
		FROM incidents ORDER BY ts DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		var in Incident
		var ts int64
		var meta string
		if err := rows.Scan(&in.ID, &in.Code, &in.Severity, &in.Category, &in.Message, &meta, &ts); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		in.Timestamp = fromMillis(ts)
		in.Metadata = unmarshalMeta(meta)
		out = append(out, in)
	}
	return out, rows.Err()
}

// CountIncidentsSince counts incidents of the given severity newer
// than since. Mirrored ALERT_TRIGGERED incidents are excluded: they
// are derived records and must not feed the alert threshold they came
// from.
func (s *Store) CountIncidentsSince(severity string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM incidents WHERE severity = ? AND ts > ? AND code != ?`,
		severity, toMillis(since), CodeAlertTriggered).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count incidents: %w", err)
	}
	return n, nil
}

// CountIncidentsByCode counts all incidents with a code.
func (s *Store) CountIncidentsByCode(code string) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM incidents WHERE code = ?`, code).Scan(&n); err != nil {
		return 0, fmt.Errorf("count incidents by code: %w", err)
	}
	return n, nil
}
