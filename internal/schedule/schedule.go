// Package schedule runs cron-expression scheduled tasks (the
// scheduled_tasks/schedule_runs persistence tables from spec §6), feeding
// both the autonomous mind's wakeup timer and ad-hoc user-scheduled goals.
package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/fieldnote-ai/warden/internal/store"
)

// RetryConfig controls backoff when a scheduled task's action fails.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig mirrors the teacher's cron retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// Action is invoked when a scheduled task fires. Implementations either wake
// the mind ("wake" kind) or create a goal ("goal" kind); Scheduler does not
// interpret Kind itself, it just dispatches to the registered action.
type Action func(ctx context.Context, task *store.ScheduledTaskData) error

// Scheduler polls the task table once per tick and fires due tasks.
type Scheduler struct {
	store   store.ScheduleStore
	retry   RetryConfig
	onFire  Action
	gron    gronx.Gronx
	tick    time.Duration
}

// New creates a Scheduler. onFire is called for each due task; the
// scheduler itself only owns cron-expression evaluation and run-history
// bookkeeping.
func New(st store.ScheduleStore, retry RetryConfig, onFire Action) *Scheduler {
	return &Scheduler{store: st, retry: retry, onFire: onFire, gron: gronx.Gronx{}, tick: time.Minute}
}

// Run polls every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.pollOnce(ctx, now)
		}
	}
}

func (s *Scheduler) pollOnce(ctx context.Context, now time.Time) {
	tasks, err := s.store.ListTasks()
	if err != nil {
		slog.Error("schedule.list_failed", "error", err)
		return
	}
	for _, t := range tasks {
		if !t.Enabled {
			continue
		}
		due, err := s.gron.IsDue(t.CronExpr, now)
		if err != nil {
			slog.Warn("schedule.bad_expr", "task", t.Name, "expr", t.CronExpr, "error", err)
			continue
		}
		if !due {
			continue
		}
		s.fire(ctx, t, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, task *store.ScheduledTaskData, now time.Time) {
	run := &store.ScheduleRunData{
		ID:        store.GenNewID(),
		TaskID:    task.ID,
		StartedAt: now,
		Status:    "running",
	}
	if err := s.store.RecordRunStart(run); err != nil {
		slog.Error("schedule.run_start_failed", "task", task.Name, "error", err)
		return
	}

	err := s.runWithRetry(ctx, task)

	status := "completed"
	errMsg := ""
	if err != nil {
		status = "failed"
		errMsg = err.Error()
	}
	if recErr := s.store.RecordRunFinish(run.ID, status, errMsg); recErr != nil {
		slog.Error("schedule.run_finish_failed", "task", task.Name, "error", recErr)
	}

	task.LastRunAt = &now
	if uerr := s.store.UpdateTask(task); uerr != nil {
		slog.Error("schedule.update_task_failed", "task", task.Name, "error", uerr)
	}
}

func (s *Scheduler) runWithRetry(ctx context.Context, task *store.ScheduledTaskData) error {
	delay := s.retry.BaseDelay
	var lastErr error
	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > s.retry.MaxDelay {
				delay = s.retry.MaxDelay
			}
		}
		if s.onFire == nil {
			return nil
		}
		lastErr = s.onFire(ctx, task)
		if lastErr == nil {
			return nil
		}
		slog.Warn("schedule.action_failed", "task", task.Name, "attempt", attempt, "error", lastErr)
	}
	return lastErr
}

// NewTask builds a ScheduledTaskData for store.ScheduleStore.CreateTask.
func NewTask(name, cronExpr, kind string) *store.ScheduledTaskData {
	return &store.ScheduledTaskData{
		ID:        store.GenNewID(),
		Name:      name,
		CronExpr:  cronExpr,
		Kind:      kind,
		Enabled:   true,
		CreatedAt: time.Now(),
	}
}
