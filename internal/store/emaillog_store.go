package store

import "time"

// EmailLogEntry records one outbound email sent by the email tool, so the
// agent can answer "did I already email X about this" without re-reading
// its own tool-call history.
type EmailLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Status    string    `json:"status"` // "sent" | "failed"
	Error     string    `json:"error,omitempty"`
}

// EmailLogStore persists a record of outbound emails.
type EmailLogStore interface {
	Record(e *EmailLogEntry) error
	ListRecent(limit int) ([]*EmailLogEntry, error)
}
