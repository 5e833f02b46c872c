package store

import (
	"time"

	"github.com/google/uuid"
)

// ScheduledTaskData is a cron-expression recurring task that either wakes
// the mind scheduler or spawns a new goal.
type ScheduledTaskData struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	CronExpr   string     `json:"cronExpr"`
	Kind       string     `json:"kind"` // "wake" | "goal"
	GoalTitle  string      `json:"goalTitle,omitempty"`
	GoalPrompt string      `json:"goalPrompt,omitempty"`
	Enabled    bool       `json:"enabled"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastRunAt  *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt  *time.Time `json:"nextRunAt,omitempty"`
}

// ScheduleRunData records one firing of a scheduled task.
type ScheduleRunData struct {
	ID        uuid.UUID `json:"id"`
	TaskID    uuid.UUID `json:"taskId"`
	StartedAt time.Time `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Status    string    `json:"status"` // "running" | "completed" | "failed"
	Error     string    `json:"error,omitempty"`
}

// ScheduleStore persists scheduled tasks and their run history.
type ScheduleStore interface {
	CreateTask(t *ScheduledTaskData) error
	UpdateTask(t *ScheduledTaskData) error
	DeleteTask(id uuid.UUID) error
	GetTask(id uuid.UUID) (*ScheduledTaskData, error)
	ListTasks() ([]*ScheduledTaskData, error)

	RecordRunStart(r *ScheduleRunData) error
	RecordRunFinish(id uuid.UUID, status, errMsg string) error
	ListRuns(taskID uuid.UUID, limit int) ([]*ScheduleRunData, error)
}
