package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldnote-ai/warden/internal/store"
)

// GoalCreateTool registers a new long-running, checkpointed goal (spec §2's
// L4 Goal Runner). It only persists the goal in "pending" status; the goal
// runner owns plan decomposition and execution (spec §4.6), so creation
// here stays a narrow, fast write rather than an inline planning call.
// Tier MODERATE — it starts durable background work but nothing
// irreversible by itself.
type GoalCreateTool struct {
	goals store.GoalStore
}

func NewGoalCreateTool(goals store.GoalStore) *GoalCreateTool {
	return &GoalCreateTool{goals: goals}
}

func (t *GoalCreateTool) Name() string { return "goal_create" }
func (t *GoalCreateTool) Description() string {
	return "Create a long-running goal that the goal runner will decompose into checkpoints and work on across multiple runs"
}
func (t *GoalCreateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Short title for the goal",
			},
			"description": map[string]interface{}{
				"type":        "string",
				"description": "Full description of what the goal should accomplish",
			},
		},
		"required": []string{"title", "description"},
	}
}

func (t *GoalCreateTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	title, _ := args["title"].(string)
	description, _ := args["description"].(string)
	if title == "" {
		return ErrorResult("title is required")
	}

	createdBy := "owner"
	if agentKey := ToolAgentKeyFromCtx(ctx); agentKey == "mind" {
		createdBy = "mind"
	}

	now := time.Now().UTC()
	goal := &store.GoalData{
		ID:          store.GenNewID(),
		Title:       title,
		Description: description,
		Status:      store.GoalStatusPending,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.goals.CreateGoal(goal); err != nil {
		return ErrorResult(fmt.Sprintf("failed to create goal: %v", err))
	}

	return SilentResult(fmt.Sprintf("goal %q created (id %s), queued for planning", title, goal.ID))
}
