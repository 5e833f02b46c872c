package sqlite

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fieldnote-ai/warden/internal/store"
)

type GoalStore struct{ db *sql.DB }

func NewGoalStore(db *sql.DB) *GoalStore { return &GoalStore{db: db} }

func (s *GoalStore) CreateGoal(g *store.GoalData) error {
	planJSON, _ := json.Marshal(g.Plan)
	var scheduleID string
	if g.ScheduleID != nil {
		scheduleID = g.ScheduleID.String()
	}
	_, err := s.db.Exec(
		`INSERT INTO goals (id, title, description, status, plan, created_by, schedule_id, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		g.ID.String(), g.Title, g.Description, g.Status, planJSON, g.CreatedBy, nullableStr(scheduleID),
		g.CreatedAt.Format(timeLayout), g.UpdatedAt.Format(timeLayout),
	)
	return err
}

func (s *GoalStore) GetGoal(id uuid.UUID) (*store.GoalData, error) {
	return s.scanGoal(s.db.QueryRow(
		`SELECT id, title, description, status, plan, created_by, schedule_id, created_at, updated_at
		 FROM goals WHERE id = ?`, id.String()))
}

func (s *GoalStore) UpdateGoalStatus(id uuid.UUID, status string) error {
	_, err := s.db.Exec(`UPDATE goals SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now().Format(timeLayout), id.String())
	return err
}

func (s *GoalStore) UpdateGoalPlan(id uuid.UUID, plan []string) error {
	planJSON, _ := json.Marshal(plan)
	_, err := s.db.Exec(`UPDATE goals SET plan = ?, updated_at = ? WHERE id = ?`, planJSON, time.Now().Format(timeLayout), id.String())
	return err
}

func (s *GoalStore) ListGoals(status string) ([]*store.GoalData, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.db.Query(
			`SELECT id, title, description, status, plan, created_by, schedule_id, created_at, updated_at
			 FROM goals WHERE status = ? ORDER BY created_at DESC`, status)
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
		if err == nil {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *GoalStore) ActiveGoal() (*store.GoalData, error) {
	g, err := s.scanGoal(s.db.QueryRow(
		`SELECT id, title, description, status, plan, created_by, schedule_id, created_at, updated_at
		 FROM goals WHERE status = ? ORDER BY updated_at DESC LIMIT 1`, store.GoalStatusActive))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return g, err
}

func (s *GoalStore) AddCheckpoint(cp *store.CheckpointData) error {
	_, err := s.db.Exec(
		`INSERT INTO goal_checkpoints (id, goal_id, step_index, title, success_criteria, status, attempts, result_summary, note, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		cp.ID.String(), cp.GoalID.String(), cp.StepIndex, cp.Title, cp.SuccessCriteria, cp.Status, cp.Attempts,
		cp.ResultSummary, cp.Note, cp.CreatedAt.Format(timeLayout),
	)
	return err
}

func (s *GoalStore) UpdateCheckpoint(cp *store.CheckpointData) error {
	_, err := s.db.Exec(
		`UPDATE goal_checkpoints SET status = ?, attempts = ?, result_summary = ?, note = ? WHERE id = ?`,
		cp.Status, cp.Attempts, cp.ResultSummary, cp.Note, cp.ID.String(),
	)
	return err
}

func (s *GoalStore) LatestCheckpoint(goalID uuid.UUID) (*store.CheckpointData, error) {
	cp, err := s.scanCheckpoint(s.db.QueryRow(
		`SELECT id, goal_id, step_index, title, success_criteria, status, attempts, result_summary, note, created_at
		 FROM goal_checkpoints WHERE goal_id = ? ORDER BY created_at DESC LIMIT 1`, goalID.String()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return cp, err
}

func (s *GoalStore) ListCheckpoints(goalID uuid.UUID) ([]*store.CheckpointData, error) {
	rows, err := s.db.Query(
		`SELECT id, goal_id, step_index, title, success_criteria, status, attempts, result_summary, note, created_at
		 FROM goal_checkpoints WHERE goal_id = ? ORDER BY created_at ASC`, goalID.String())
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

func (s *GoalStore) scanCheckpoint(row rowScanner) (*store.CheckpointData, error) {
	var cp store.CheckpointData
	var id, gid, createdAt string
	if err := row.Scan(&id, &gid, &cp.StepIndex, &cp.Title, &cp.SuccessCriteria, &cp.Status, &cp.Attempts, &cp.ResultSummary, &cp.Note, &createdAt); err != nil {
		return nil, err
	}
	cp.ID, _ = uuid.Parse(id)
	cp.GoalID, _ = uuid.Parse(gid)
	cp.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &cp, nil
}

type rowScanner interface{ Scan(dest ...interface{}) error }

func (s *GoalStore) scanGoal(row *sql.Row) (*store.GoalData, error) { return s.scanGoalRow(row) }

func (s *GoalStore) scanGoalRow(row rowScanner) (*store.GoalData, error) {
	var g store.GoalData
	var id, createdAt, updatedAt string
	var planJSON []byte
	var scheduleID sql.NullString
	if err := row.Scan(&id, &g.Title, &g.Description, &g.Status, &planJSON, &g.CreatedBy, &scheduleID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	g.ID, _ = uuid.Parse(id)
	g.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	g.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	json.Unmarshal(planJSON, &g.Plan)
	if scheduleID.Valid {
		if sid, err := uuid.Parse(scheduleID.String); err == nil {
			g.ScheduleID = &sid
		}
	}
	return &g, nil
}

func nullableStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
