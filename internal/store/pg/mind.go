package pg

import (
	"database/sql"
	"time"

	"github.com/fieldnote-ai/warden/internal/store"
)

// PGMindStore implements store.MindStore backed by Postgres. The mind has
// exactly one row of state (id=1), matching a single-agent deployment.
type PGMindStore struct {
	db *sql.DB
}

func NewPGMindStore(db *sql.DB) *PGMindStore {
	return &PGMindStore{db: db}
}

func (s *PGMindStore) Load() (*store.MindState, error) {
	var st store.MindState
	var lastWake, nextWake *time.Time
	var pausedReason, budgetDate *string
	err := s.db.QueryRow(
		`SELECT cycle, scratchpad, last_wake_at, next_wake_at, paused_reason, consecutive_idle, budget_remaining, budget_date FROM mind_state WHERE id = 1`,
	).Scan(&st.Cycle, &st.Scratchpad, &lastWake, &nextWake, &pausedReason, &st.ConsecutiveIdle, &st.BudgetRemaining, &budgetDate)
	if err == sql.ErrNoRows {
		s.db.Exec(`INSERT INTO mind_state (id, cycle, scratchpad) VALUES (1, 'sleeping', '') ON CONFLICT (id) DO NOTHING`)
		return &store.MindState{Cycle: "sleeping"}, nil
	}
	if err != nil {
		return nil, err
	}
	if lastWake != nil {
		st.LastWakeAt = *lastWake
	}
	if nextWake != nil {
		st.NextWakeAt = *nextWake
	}
	st.PausedReason = derefStr(pausedReason)
	return &st, nil
}

func (s *PGMindStore) Save(st *store.MindState) error {
	_, err := s.db.Exec(
		`INSERT INTO mind_state (id, cycle, scratchpad, last_wake_at, next_wake_at, paused_reason, consecutive_idle)
		 VALUES (1, $1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   cycle = $1, scratchpad = $2, last_wake_at = $3, next_wake_at = $4, paused_reason = $5, consecutive_idle = $6`,
		st.Cycle, st.Scratchpad, st.LastWakeAt, st.NextWakeAt, nilStr(st.PausedReason), st.ConsecutiveIdle,
	)
	return err
}

func (s *PGMindStore) AppendScratchpad(text string) error {
	_, err := s.db.Exec(
		`INSERT INTO mind_state (id, cycle, scratchpad) VALUES (1, 'sleeping', $1)
		 ON CONFLICT (id) DO UPDATE SET scratchpad = mind_state.scratchpad || $1`,
		text,
	)
	return err
}

func (s *PGMindStore) ClearScratchpad() error {
	_, err := s.db.Exec(`UPDATE mind_state SET scratchpad = '' WHERE id = 1`)
	return err
}
