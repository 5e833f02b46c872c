package sqlite

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/fieldnote-ai/warden/internal/store"
)

type ScheduleStore struct{ db *sql.DB }

func NewScheduleStore(db *sql.DB) *ScheduleStore { return &ScheduleStore{db: db} }

func (s *ScheduleStore) CreateTask(t *store.ScheduledTaskData) error {
	_, err := s.db.Exec(
		`INSERT INTO scheduled_tasks (id, name, cron_expr, kind, goal_title, goal_prompt, enabled, created_at, last_run_at, next_run_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID.String(), t.Name, t.CronExpr, t.Kind, t.GoalTitle, t.GoalPrompt, t.Enabled,
		t.CreatedAt.Format(timeLayout), formatTimePtr(t.LastRunAt), formatTimePtr(t.NextRunAt),
	)
	return err
}

func (s *ScheduleStore) UpdateTask(t *store.ScheduledTaskData) error {
	_, err := s.db.Exec(
		`UPDATE scheduled_tasks SET name=?, cron_expr=?, kind=?, goal_title=?, goal_prompt=?, enabled=?, last_run_at=?, next_run_at=?
		 WHERE id=?`,
		t.Name, t.CronExpr, t.Kind, t.GoalTitle, t.GoalPrompt, t.Enabled,
		formatTimePtr(t.LastRunAt), formatTimePtr(t.NextRunAt), t.ID.String(),
	)
	return err
}

func (s *ScheduleStore) DeleteTask(id uuid.UUID) error {
	_, err := s.db.Exec(`DELETE FROM scheduled_tasks WHERE id = ?`, id.String())
	return err
}

func (s *ScheduleStore) GetTask(id uuid.UUID) (*store.ScheduledTaskData, error) {
	return s.scanTask(s.db.QueryRow(
		`SELECT id, name, cron_expr, kind, goal_title, goal_prompt, enabled, created_at, last_run_at, next_run_at
		 FROM scheduled_tasks WHERE id = ?`, id.String()))
}

func (s *ScheduleStore) ListTasks() ([]*store.ScheduledTaskData, error) {
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
		if err == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *ScheduleStore) RecordRunStart(r *store.ScheduleRunData) error {
	_, err := s.db.Exec(
		`INSERT INTO schedule_runs (id, task_id, started_at, status) VALUES (?,?,?,?)`,
		r.ID.String(), r.TaskID.String(), r.StartedAt.Format(timeLayout), "running",
	)
	return err
}

func (s *ScheduleStore) RecordRunFinish(id uuid.UUID, status, errMsg string) error {
	_, err := s.db.Exec(
		`UPDATE schedule_runs SET finished_at = ?, status = ?, error = ? WHERE id = ?`,
		time.Now().Format(timeLayout), status, errMsg, id.String(),
	)
	return err
}

func (s *ScheduleStore) ListRuns(taskID uuid.UUID, limit int) ([]*store.ScheduleRunData, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, task_id, started_at, finished_at, status, error FROM schedule_runs
		 WHERE task_id = ? ORDER BY started_at DESC LIMIT ?`, taskID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.ScheduleRunData
	for rows.Next() {
		var r store.ScheduleRunData
		var id, tid, startedAt string
		var finishedAt sql.NullString
		if rows.Scan(&id, &tid, &startedAt, &finishedAt, &r.Status, &r.Error) != nil {
			continue
		}
		r.ID, _ = uuid.Parse(id)
		r.TaskID, _ = uuid.Parse(tid)
		r.StartedAt, _ = time.Parse(timeLayout, startedAt)
		if finishedAt.Valid {
			t, _ := time.Parse(timeLayout, finishedAt.String)
			r.FinishedAt = &t
		}
		out = append(out, &r)
	}
	return out, nil
}

func (s *ScheduleStore) scanTask(row *sql.Row) (*store.ScheduledTaskData, error) {
	return s.scanTaskRow(row)
}

func (s *ScheduleStore) scanTaskRow(row rowScanner) (*store.ScheduledTaskData, error) {
	var t store.ScheduledTaskData
	var id, createdAt string
	var lastRunAt, nextRunAt sql.NullString
	if err := row.Scan(&id, &t.Name, &t.CronExpr, &t.Kind, &t.GoalTitle, &t.GoalPrompt, &t.Enabled, &createdAt, &lastRunAt, &nextRunAt); err != nil {
		return nil, err
	}
	t.ID, _ = uuid.Parse(id)
	t.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	if lastRunAt.Valid {
		v, _ := time.Parse(timeLayout, lastRunAt.String)
		t.LastRunAt = &v
	}
	if nextRunAt.Valid {
		v, _ := time.Parse(timeLayout, nextRunAt.String)
		t.NextRunAt = &v
	}
	return &t, nil
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(timeLayout)
}
