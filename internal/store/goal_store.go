package store

import (
	"time"

	"github.com/google/uuid"
)

// Goal statuses.
const (
	GoalStatusPending   = "pending"
	GoalStatusActive    = "active"
	GoalStatusPaused    = "paused"
	GoalStatusCompleted = "completed"
	GoalStatusFailed    = "failed"
	GoalStatusCancelled = "cancelled"
)

// GoalData is a long-running, checkpointed objective the agent works
// towards across multiple runs and restarts.
type GoalData struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	// Plan is the ordered list of steps the goal was decomposed into.
	Plan      []string  `json:"plan,omitempty"`
	CreatedBy string    `json:"createdBy,omitempty"` // "operator" or "mind"
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// ScheduleID links the goal to the scheduled task that spawned it, if any.
	ScheduleID *uuid.UUID `json:"scheduleId,omitempty"`
}

// Checkpoint statuses.
const (
	CheckpointStatusPending = "pending"
	CheckpointStatusDone    = "done"
	CheckpointStatusFailed  = "failed"
)

// CheckpointData is a durable snapshot of progress through a goal's plan,
// allowing a goal to resume exactly where it left off after a restart.
type CheckpointData struct {
	ID        uuid.UUID `json:"id"`
	GoalID    uuid.UUID `json:"goalId"`
	StepIndex int       `json:"stepIndex"`
	// Title and SuccessCriteria come from the plan decomposition step; the
	// goal runner checks the latter's wording into the checkpoint-scoped
	// agent-loop prompt so the model knows when the step is actually done.
	Title           string    `json:"title,omitempty"`
	SuccessCriteria string    `json:"successCriteria,omitempty"`
	Status          string    `json:"status"`
	Attempts        int       `json:"attempts"`
	ResultSummary   string    `json:"resultSummary,omitempty"`
	Note            string    `json:"note,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// GoalStore persists goals and their checkpoints.
type GoalStore interface {
	CreateGoal(g *GoalData) error
	GetGoal(id uuid.UUID) (*GoalData, error)
	UpdateGoalStatus(id uuid.UUID, status string) error
	UpdateGoalPlan(id uuid.UUID, plan []string) error
	ListGoals(status string) ([]*GoalData, error)
	// ActiveGoal returns the single goal currently holding the active-goal
	// lease, or nil if none is active.
	ActiveGoal() (*GoalData, error)

	AddCheckpoint(cp *CheckpointData) error
	UpdateCheckpoint(cp *CheckpointData) error
	LatestCheckpoint(goalID uuid.UUID) (*CheckpointData, error)
	ListCheckpoints(goalID uuid.UUID) ([]*CheckpointData, error)
}
