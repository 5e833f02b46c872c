package pg

import (
	"database/sql"

	"github.com/fieldnote-ai/warden/internal/store"
)

// PGEmailLogStore implements store.EmailLogStore backed by Postgres.
type PGEmailLogStore struct {
	db *sql.DB
}

func NewPGEmailLogStore(db *sql.DB) *PGEmailLogStore {
	return &PGEmailLogStore{db: db}
}

func (s *PGEmailLogStore) Record(e *store.EmailLogEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO email_log (id, ts, to_addr, subject, status, error) VALUES ($1,$2,$3,$4,$5,$6)`,
		store.GenNewID(), e.Timestamp, e.To, e.Subject, e.Status, nilStr(e.Error),
	)
	return err
}

func (s *PGEmailLogStore) ListRecent(limit int) ([]*store.EmailLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT ts, to_addr, subject, status, error FROM email_log ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.EmailLogEntry
	for rows.Next() {
		var e store.EmailLogEntry
		var errStr *string
		if err := rows.Scan(&e.Timestamp, &e.To, &e.Subject, &e.Status, &errStr); err != nil {
			continue
		}
		e.Error = derefStr(errStr)
		out = append(out, &e)
	}
	return out, nil
}
