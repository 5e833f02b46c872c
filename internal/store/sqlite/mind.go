package sqlite

import (
	"database/sql"
	"time"

	"github.com/fieldnote-ai/warden/internal/store"
)

type MindStore struct{ db *sql.DB }

func NewMindStore(db *sql.DB) *MindStore { return &MindStore{db: db} }

func (s *MindStore) Load() (*store.MindState, error) {
	var st store.MindState
	var lastWake, nextWake sql.NullString
	err := s.db.QueryRow(
		`SELECT cycle, scratchpad, last_wake_at, next_wake_at, paused_reason, consecutive_idle, budget_remaining, budget_date FROM mind_state WHERE id = 1`,
	).Scan(&st.Cycle, &st.Scratchpad, &lastWake, &nextWake, &st.PausedReason, &st.ConsecutiveIdle, &st.BudgetRemaining, &st.BudgetDate)
	if err == sql.ErrNoRows {
		s.db.Exec(`INSERT INTO mind_state (id, cycle, scratchpad) VALUES (1, 'sleeping', '')`)
		return &store.MindState{Cycle: "sleeping"}, nil
	}
	if err != nil {
		return nil, err
	}
	if lastWake.Valid {
		st.LastWakeAt, _ = time.Parse(timeLayout, lastWake.String)
	}
	if nextWake.Valid {
		st.NextWakeAt, _ = time.Parse(timeLayout, nextWake.String)
	}
	return &st, nil
}

func (s *MindStore) Save(st *store.MindState) error {
	_, err := s.db.Exec(
		`INSERT INTO mind_state (id, cycle, scratchpad, last_wake_at, next_wake_at, paused_reason, consecutive_idle, budget_remaining, budget_date)
		 VALUES (1,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET cycle=excluded.cycle, scratchpad=excluded.scratchpad,
		   last_wake_at=excluded.last_wake_at, next_wake_at=excluded.next_wake_at,
		   paused_reason=excluded.paused_reason, consecutive_idle=excluded.consecutive_idle,
		   budget_remaining=excluded.budget_remaining, budget_date=excluded.budget_date`,
		st.Cycle, st.Scratchpad, formatTimePtr(&st.LastWakeAt), formatTimePtr(&st.NextWakeAt),
		st.PausedReason, st.ConsecutiveIdle, st.BudgetRemaining, st.BudgetDate,
	)
	return err
}

func (s *MindStore) AppendScratchpad(text string) error {
	_, err := s.db.Exec(
		`INSERT INTO mind_state (id, cycle, scratchpad) VALUES (1, 'sleeping', ?)
		 ON CONFLICT(id) DO UPDATE SET scratchpad = mind_state.scratchpad || excluded.scratchpad`,
		text,
	)
	return err
}

func (s *MindStore) ClearScratchpad() error {
	_, err := s.db.Exec(`UPDATE mind_state SET scratchpad = '' WHERE id = 1`)
	return err
}
