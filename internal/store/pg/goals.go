package pg

import (
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/fieldnote-ai/warden/internal/store"
)

// PGGoalStore implements store.GoalStore backed by Postgres.
type PGGoalStore struct {
	db *sql.DB
}

func NewPGGoalStore(db *sql.DB) *PGGoalStore {
	return &PGGoalStore{db: db}
}

func (s *PGGoalStore) CreateGoal(g *store.GoalData) error {
	planJSON, _ := json.Marshal(g.Plan)
	_, err := s.db.Exec(
		`INSERT INTO goals (id, title, description, status, plan, created_by, schedule_id, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		g.ID, g.Title, g.Description, g.Status, planJSON, nilStr(g.CreatedBy), g.ScheduleID, g.CreatedAt, g.UpdatedAt,
	)
	return err
}

func (s *PGGoalStore) GetGoal(id uuid.UUID) (*store.GoalData, error) {
	return s.scanGoal(s.db.QueryRow(
		`SELECT id, title, description, status, plan, created_by, schedule_id, created_at, updated_at
		 FROM goals WHERE id = $1`, id))
}

func (s *PGGoalStore) UpdateGoalStatus(id uuid.UUID, status string) error {
	_, err := s.db.Exec(`UPDATE goals SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	return err
}

func (s *PGGoalStore) UpdateGoalPlan(id uuid.UUID, plan []string) error {
	planJSON, _ := json.Marshal(plan)
	_, err := s.db.Exec(`UPDATE goals SET plan = $1, updated_at = now() WHERE id = $2`, planJSON, id)
	return err
}

func (s *PGGoalStore) ListGoals(status string) ([]*store.GoalData, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.db.Query(
			`SELECT id, title, description, status, plan, created_by, schedule_id, created_at, updated_at
			 FROM goals WHERE status = $1 ORDER BY created_at DESC`, status)
	} else {
		rows, err = s.db.Query(
			`SELECT id, title, description, status, plan, created_by, schedule_id, created_at, updated_at
			 FROM goals ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.GoalData
	for rows.Next() {
		g, err := s.scanGoalRow(rows)
		if err != nil {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *PGGoalStore) ActiveGoal() (*store.GoalData, error) {
	g, err := s.scanGoal(s.db.QueryRow(
		`SELECT id, title, description, status, plan, created_by, schedule_id, created_at, updated_at
		 FROM goals WHERE status = $1 ORDER BY updated_at DESC LIMIT 1`, store.GoalStatusActive))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return g, err
}

func (s *PGGoalStore) AddCheckpoint(cp *store.CheckpointData) error {
	_, err := s.db.Exec(
		`INSERT INTO goal_checkpoints (id, goal_id, step_index, title, success_criteria, status, attempts, result_summary, note, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		cp.ID, cp.GoalID, cp.StepIndex, nilStr(cp.Title), nilStr(cp.SuccessCriteria), cp.Status, cp.Attempts,
		nilStr(cp.ResultSummary), nilStr(cp.Note), cp.CreatedAt,
	)
	return err
}

func (s *PGGoalStore) UpdateCheckpoint(cp *store.CheckpointData) error {
	_, err := s.db.Exec(
		`UPDATE goal_checkpoints SET status = $1, attempts = $2, result_summary = $3, note = $4 WHERE id = $5`,
		cp.Status, cp.Attempts, nilStr(cp.ResultSummary), nilStr(cp.Note), cp.ID,
	)
	return err
}

func (s *PGGoalStore) LatestCheckpoint(goalID uuid.UUID) (*store.CheckpointData, error) {
	cp, err := s.scanCheckpoint(s.db.QueryRow(
		`SELECT id, goal_id, step_index, title, success_criteria, status, attempts, result_summary, note, created_at
		 FROM goal_checkpoints WHERE goal_id = $1 ORDER BY created_at DESC LIMIT 1`, goalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return cp, err
}

func (s *PGGoalStore) ListCheckpoints(goalID uuid.UUID) ([]*store.CheckpointData, error) {
	rows, err := s.db.Query(
		`SELECT id, goal_id, step_index, title, success_criteria, status, attempts, result_summary, note, created_at
		 FROM goal_checkpoints WHERE goal_id = $1 ORDER BY created_at ASC`, goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.CheckpointData
	for rows.Next() {
		cp, err := s.scanCheckpoint(rows)
		if err == nil {
			out = append(out, cp)
		}
	}
	return out, nil
}

func (s *PGGoalStore) scanCheckpoint(row rowScanner) (*store.CheckpointData, error) {
	var cp store.CheckpointData
	var title, successCriteria, resultSummary, note *string
	if err := row.Scan(&cp.ID, &cp.GoalID, &cp.StepIndex, &title, &successCriteria, &cp.Status, &cp.Attempts, &resultSummary, &note, &cp.CreatedAt); err != nil {
		return nil, err
	}
	cp.Title = derefStr(title)
	cp.SuccessCriteria = derefStr(successCriteria)
	cp.ResultSummary = derefStr(resultSummary)
	cp.Note = derefStr(note)
	return &cp, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PGGoalStore) scanGoal(row *sql.Row) (*store.GoalData, error) {
	return s.scanGoalRow(row)
}

func (s *PGGoalStore) scanGoalRow(row rowScanner) (*store.GoalData, error) {
	var g store.GoalData
	var description, createdBy *string
	var planJSON []byte
	var scheduleID *uuid.UUID
	if err := row.Scan(&g.ID, &g.Title, &description, &g.Status, &planJSON, &createdBy, &scheduleID, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	g.Description = derefStr(description)
	g.CreatedBy = derefStr(createdBy)
	g.ScheduleID = scheduleID
	json.Unmarshal(planJSON, &g.Plan)
	return &g, nil
}
