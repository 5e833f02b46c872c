package store

import "time"

// MindState is the persisted state of the autonomous mind scheduler, so a
// restart resumes the same cycle instead of losing scratchpad contents.
type MindState struct {
	Cycle           string    `json:"cycle"` // "sleeping" | "thinking" | "paused"
	Scratchpad      string    `json:"scratchpad"`
	LastWakeAt      time.Time `json:"lastWakeAt"`
	NextWakeAt      time.Time `json:"nextWakeAt"`
	PausedReason    string    `json:"pausedReason,omitempty"`
	ConsecutiveIdle int       `json:"consecutiveIdle"` // cycles in a row with no actionable thought
	BudgetRemaining int       `json:"budgetRemaining"` // work-units left today
	BudgetDate      string    `json:"budgetDate,omitempty"` // "2006-01-02" the budget was last reset for
}

// MindStore persists the mind scheduler's state and scratchpad.
type MindStore interface {
	Load() (*MindState, error)
	Save(s *MindState) error
	AppendScratchpad(text string) error
	ClearScratchpad() error
}
