package pg

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/fieldnote-ai/warden/internal/store"
)

// PGScheduleStore implements store.ScheduleStore backed by Postgres.
type PGScheduleStore struct {
	db *sql.DB
}

func NewPGScheduleStore(db *sql.DB) *PGScheduleStore {
	return &PGScheduleStore{db: db}
}

func (s *PGScheduleStore) CreateTask(t *store.ScheduledTaskData) error {
	_, err := s.db.Exec(
		`INSERT INTO scheduled_tasks (id, name, cron_expr, kind, goal_title, goal_prompt, enabled, created_at, last_run_at, next_run_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		t.ID, t.Name, t.CronExpr, t.Kind, nilStr(t.GoalTitle), nilStr(t.GoalPrompt), t.Enabled, t.CreatedAt, t.LastRunAt, t.NextRunAt,
	)
	return err
}

func (s *PGScheduleStore) UpdateTask(t *store.ScheduledTaskData) error {
	_, err := s.db.Exec(
		`UPDATE scheduled_tasks SET name=$1, cron_expr=$2, kind=$3, goal_title=$4, goal_prompt=$5,
		 enabled=$6, last_run_at=$7, next_run_at=$8 WHERE id=$9`,
		t.Name, t.CronExpr, t.Kind, nilStr(t.GoalTitle), nilStr(t.GoalPrompt), t.Enabled, t.LastRunAt, t.NextRunAt, t.ID,
	)
	return err
}

func (s *PGScheduleStore) DeleteTask(id uuid.UUID) error {
	_, err := s.db.Exec(`DELETE FROM scheduled_tasks WHERE id = $1`, id)
	return err
}

func (s *PGScheduleStore) GetTask(id uuid.UUID) (*store.ScheduledTaskData, error) {
	return s.scanTask(s.db.QueryRow(
		`SELECT id, name, cron_expr, kind, goal_title, goal_prompt, enabled, created_at, last_run_at, next_run_at
		 FROM scheduled_tasks WHERE id = $1`, id))
}

func (s *PGScheduleStore) ListTasks() ([]*store.ScheduledTaskData, error) {
	rows, err := s.db.Query(
		`SELECT id, name, cron_expr, kind, goal_title, goal_prompt, enabled, created_at, last_run_at, next_run_at
		 FROM scheduled_tasks ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.ScheduledTaskData
	for rows.Next() {
		t, err := s.scanTaskRow(rows)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *PGScheduleStore) RecordRunStart(r *store.ScheduleRunData) error {
	_, err := s.db.Exec(
		`INSERT INTO schedule_runs (id, task_id, started_at, status) VALUES ($1,$2,$3,$4)`,
		r.ID, r.TaskID, r.StartedAt, "running",
	)
	return err
}

func (s *PGScheduleStore) RecordRunFinish(id uuid.UUID, status, errMsg string) error {
	_, err := s.db.Exec(
		`UPDATE schedule_runs SET finished_at = now(), status = $1, error = $2 WHERE id = $3`,
		status, nilStr(errMsg), id,
	)
	return err
}

func (s *PGScheduleStore) ListRuns(taskID uuid.UUID, limit int) ([]*store.ScheduleRunData, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, task_id, started_at, finished_at, status, error FROM schedule_runs
		 WHERE task_id = $1 ORDER BY started_at DESC LIMIT $2`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.ScheduleRunData
	for rows.Next() {
		var r store.ScheduleRunData
		var errStr *string
		if err := rows.Scan(&r.ID, &r.TaskID, &r.StartedAt, &r.FinishedAt, &r.Status, &errStr); err != nil {
			continue
		}
		r.Error = derefStr(errStr)
		out = append(out, &r)
	}
	return out, nil
}

func (s *PGScheduleStore) scanTask(row *sql.Row) (*store.ScheduledTaskData, error) {
	return s.scanTaskRow(row)
}

func (s *PGScheduleStore) scanTaskRow(row rowScanner) (*store.ScheduledTaskData, error) {
	var t store.ScheduledTaskData
	var goalTitle, goalPrompt *string
	if err := row.Scan(&t.ID, &t.Name, &t.CronExpr, &t.Kind, &goalTitle, &goalPrompt, &t.Enabled, &t.CreatedAt, &t.LastRunAt, &t.NextRunAt); err != nil {
		return nil, err
	}
	t.GoalTitle = derefStr(goalTitle)
	t.GoalPrompt = derefStr(goalPrompt)
	return &t, nil
}
