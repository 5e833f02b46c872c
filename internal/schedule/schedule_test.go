package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fieldnote-ai/warden/internal/store"
)

type fakeScheduleStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*store.ScheduledTaskData
	runs  map[uuid.UUID]*store.ScheduleRunData
}

func newFakeScheduleStore() *fakeScheduleStore {
	return &fakeScheduleStore{
		tasks: make(map[uuid.UUID]*store.ScheduledTaskData),
		runs:  make(map[uuid.UUID]*store.ScheduleRunData),
	}
}

func (f *fakeScheduleStore) CreateTask(t *store.ScheduledTaskData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeScheduleStore) UpdateTask(t *store.ScheduledTaskData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeScheduleStore) DeleteTask(id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, id)
	return nil
}

func (f *fakeScheduleStore) GetTask(id uuid.UUID) (*store.ScheduledTaskData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[id], nil
}

func (f *fakeScheduleStore) ListTasks() ([]*store.ScheduledTaskData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*store.ScheduledTaskData, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeScheduleStore) RecordRunStart(r *store.ScheduleRunData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[r.ID] = r
	return nil
}

func (f *fakeScheduleStore) RecordRunFinish(id uuid.UUID, status, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.runs[id]; ok {
		r.Status = status
		r.Error = errMsg
	}
	return nil
}

func (f *fakeScheduleStore) ListRuns(taskID uuid.UUID, limit int) ([]*store.ScheduleRunData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.ScheduleRunData
	for _, r := range f.runs {
		if r.TaskID == taskID {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestPollOnceFiresDueEnabledTask(t *testing.T) {
	st := newFakeScheduleStore()
	task := NewTask("heartbeat", "* * * * *", "wake")
	_ = st.CreateTask(task)

	var fired bool
	sched := New(st, DefaultRetryConfig(), func(ctx context.Context, tk *store.ScheduledTaskData) error {
		fired = true
		return nil
	})

	sched.pollOnce(context.Background(), time.Now())

	if !fired {
		t.Fatal("expected due task to fire")
	}
	runs, _ := st.ListRuns(task.ID, 10)
	if len(runs) != 1 || runs[0].Status != "completed" {
		t.Fatalf("expected one completed run, got %+v", runs)
	}
}

func TestPollOnceSkipsDisabledTask(t *testing.T) {
	st := newFakeScheduleStore()
	task := NewTask("heartbeat", "* * * * *", "wake")
	task.Enabled = false
	_ = st.CreateTask(task)

	var fired bool
	sched := New(st, DefaultRetryConfig(), func(ctx context.Context, tk *store.ScheduledTaskData) error {
		fired = true
		return nil
	})

	sched.pollOnce(context.Background(), time.Now())

	if fired {
		t.Fatal("expected disabled task not to fire")
	}
}

func TestPollOnceSkipsBadCronExpr(t *testing.T) {
	st := newFakeScheduleStore()
	task := NewTask("bad", "not-a-cron-expr", "wake")
	_ = st.CreateTask(task)

	var fired bool
	sched := New(st, DefaultRetryConfig(), func(ctx context.Context, tk *store.ScheduledTaskData) error {
		fired = true
		return nil
	})

	sched.pollOnce(context.Background(), time.Now())

	if fired {
		t.Fatal("expected a malformed cron expression to be skipped, not fired")
	}
}

func TestRunWithRetryRetriesUntilSuccess(t *testing.T) {
	st := newFakeScheduleStore()
	task := NewTask("flaky", "* * * * *", "goal")

	attempts := 0
	sched := New(st, RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, func(ctx context.Context, tk *store.ScheduledTaskData) error {
		attempts++
		if attempts < 3 {
			return context.DeadlineExceeded
		}
		return nil
	})

	err := sched.runWithRetry(context.Background(), task)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRunWithRetryGivesUpAfterMaxRetries(t *testing.T) {
	st := newFakeScheduleStore()
	task := NewTask("always-fails", "* * * * *", "goal")

	attempts := 0
	sched := New(st, RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}, func(ctx context.Context, tk *store.ScheduledTaskData) error {
		attempts++
		return context.DeadlineExceeded
	})

	err := sched.runWithRetry(context.Background(), task)
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if attempts != 3 { // initial attempt + 2 retries
		t.Fatalf("expected 3 total attempts, got %d", attempts)
	}
}

func TestNewTaskGeneratesEnabledTaskWithID(t *testing.T) {
	task := NewTask("daily-digest", "0 9 * * *", "goal")
	if task.ID == uuid.Nil {
		t.Fatal("expected a generated id")
	}
	if !task.Enabled {
		t.Fatal("expected new tasks to default to enabled")
	}
}
