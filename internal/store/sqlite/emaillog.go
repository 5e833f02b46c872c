package sqlite

import (
	"database/sql"
	"time"

	"github.com/fieldnote-ai/warden/internal/store"
)

type EmailLogStore struct{ db *sql.DB }

func NewEmailLogStore(db *sql.DB) *EmailLogStore { return &EmailLogStore{db: db} }

func (s *EmailLogStore) Record(e *store.EmailLogEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO email_log (id, ts, to_addr, subject, status, error) VALUES (?,?,?,?,?,?)`,
		store.GenNewID().String(), e.Timestamp.Format(timeLayout), e.To, e.Subject, e.Status, e.Error,
	)
	return err
}

func (s *EmailLogStore) ListRecent(limit int) ([]*store.EmailLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT ts, to_addr, subject, status, error FROM email_log ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.EmailLogEntry
	for rows.Next() {
		var e store.EmailLogEntry
		var ts string
		if rows.Scan(&ts, &e.To, &e.Subject, &e.Status, &e.Error) != nil {
			continue
		}
		e.Timestamp, _ = time.Parse(timeLayout, ts)
		out = append(out, &e)
	}
	return out, nil
}
