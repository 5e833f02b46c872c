// Package goalrunner implements spec §4.6's L4 Goal Runner: it decomposes a
// newly created goal into checkpoints, leases at most one active goal at a
// time, and executes checkpoints one by one through the agent loop,
// persisting progress so a restart resumes rather than restarts.
//
// Grounded on original_source/tools/goals/create_tool.py for the
// decomposition shape; the lease-one-active-goal-at-a-time execution loop
// is this spec's own (§4.6).
package goalrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldnote-ai/warden/internal/agent"
	"github.com/fieldnote-ai/warden/internal/bus"
	"github.com/fieldnote-ai/warden/internal/config"
	"github.com/fieldnote-ai/warden/internal/llmrouter"
	"github.com/fieldnote-ai/warden/internal/permissions"
	"github.com/fieldnote-ai/warden/internal/providers"
	"github.com/fieldnote-ai/warden/internal/store"
	"github.com/fieldnote-ai/warden/pkg/protocol"
)

const pollInterval = 15 * time.Second

// Runner is the concrete Goal Runner.
type Runner struct {
	cfg    config.GoalsConfig
	goals  store.GoalStore
	router *llmrouter.Router
	loop   *agent.Loop
	events bus.EventPublisher

	// PreemptCheck, if set, is consulted between checkpoints — returning
	// true defers the next checkpoint to the following poll tick, letting
	// a user chat turn take the agent loop first (spec §4.6 "preemption by
	// user chat between, not mid-, checkpoints").
	PreemptCheck func() bool

	stopCh chan struct{}
}

// New builds a Runner. Call Run in a goroutine to start polling.
func New(cfg config.GoalsConfig, goals store.GoalStore, router *llmrouter.Router, loop *agent.Loop, events bus.EventPublisher) *Runner {
	return &Runner{
		cfg:    cfg,
		goals:  goals,
		router: router,
		loop:   loop,
		events: events,
		stopCh: make(chan struct{}),
	}
}

// Stop halts the polling loop.
func (r *Runner) Stop() { close(r.stopCh) }

// ActiveGoalID implements gateway.GoalLookup.
func (r *Runner) ActiveGoalID() (string, bool) {
	g, err := r.goals.ActiveGoal()
	if err != nil || g == nil {
		return "", false
	}
	return g.ID.String(), true
}

// Run polls for work until stopped: it decomposes pending goals into plans,
// then advances whichever goal holds the active lease one checkpoint at a
// time. Intended to run as a single long-lived goroutine per process.
func (r *Runner) Run(ctx context.Context) {
	if !r.cfg.Enabled {
		return
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if err := r.decomposePending(ctx); err != nil {
		slog.Error("goalrunner.decompose_failed", "err", err)
	}

	active, err := r.goals.ActiveGoal()
	if err != nil {
		slog.Error("goalrunner.active_lookup_failed", "err", err)
		return
	}
	if active == nil {
		r.promoteNextPlanned()
		return
	}

	if r.PreemptCheck != nil && r.PreemptCheck() {
		return
	}

	r.advance(ctx, active)
}

// decomposePending finds goals still in "pending" and turns them into a
// plan of checkpoints via a single planning-task LLM call.
func (r *Runner) decomposePending(ctx context.Context) error {
	pending, err := r.goals.ListGoals(store.GoalStatusPending)
	if err != nil {
		return err
	}
	for _, g := range pending {
		if len(g.Plan) > 0 {
			continue // already decomposed, awaiting promotion
		}
		plan, err := r.decompose(ctx, g)
		if err != nil {
			slog.Error("goalrunner.decompose_goal_failed", "goal_id", g.ID, "err", err)
			continue
		}
		if err := r.goals.UpdateGoalPlan(g.ID, plan); err != nil {
			return err
		}
		for i, step := range plan {
			cp := &store.CheckpointData{
				ID:        uuid.New(),
				GoalID:    g.ID,
				StepIndex: i,
				Title:     step,
				Status:    store.CheckpointStatusPending,
				CreatedAt: time.Now().UTC(),
			}
			if err := r.goals.AddCheckpoint(cp); err != nil {
				return err
			}
		}
		r.publish(protocol.EventGoalCreated, g)
	}
	return nil
}

type planResponse struct {
	Steps []string `json:"steps"`
}

func (r *Runner) decompose(ctx context.Context, g *store.GoalData) ([]string, error) {
	prompt := fmt.Sprintf(
		"Decompose the following goal into an ordered list of concrete, independently verifiable checkpoints. "+
			"Respond with JSON: {\"steps\": [\"...\"]}.\n\nTitle: %s\nDescription: %s",
		g.Title, g.Description,
	)
	resp, _, err := r.router.Complete(ctx, "planning", providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: "You decompose goals into checkpoints and reply with JSON only."},
			{Role: "user", Content: prompt},
		},
	}, "goal:"+g.ID.String())
	if err != nil {
		return nil, err
	}

	var parsed planResponse
	content := strings.TrimSpace(resp.Content)
	if idx := strings.IndexByte(content, '{'); idx > 0 {
		content = content[idx:]
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil || len(parsed.Steps) == 0 {
		return []string{g.Title}, nil
	}
	return parsed.Steps, nil
}

// promoteNextPlanned activates the oldest goal that has a plan but no
// active lease holder, implementing "at most one active goal at a time"
// (spec §4.6).
func (r *Runner) promoteNextPlanned() {
	planned, err := r.goals.ListGoals(store.GoalStatusPending)
	if err != nil {
		return
	}
	// ListGoals returns newest first, so walk from the end to find the oldest.
	for i := len(planned) - 1; i >= 0; i-- {
		g := planned[i]
		if len(g.Plan) == 0 {
			continue // still awaiting decomposition
		}
		if err := r.goals.UpdateGoalStatus(g.ID, store.GoalStatusActive); err != nil {
			slog.Error("goalrunner.promote_failed", "goal_id", g.ID, "err", err)
		}
		return
	}
}

// advance executes the next pending checkpoint of g, one checkpoint per
// tick, retrying a failed checkpoint up to cfg.MaxRetries before failing
// the whole goal.
func (r *Runner) advance(ctx context.Context, g *store.GoalData) {
	cps, err := r.goals.ListCheckpoints(g.ID)
	if err != nil {
		slog.Error("goalrunner.list_checkpoints_failed", "goal_id", g.ID, "err", err)
		return
	}

	var next *store.CheckpointData
	for _, cp := range cps {
		if cp.Status == store.CheckpointStatusPending {
			next = cp
			break
		}
	}
	if next == nil {
		if err := r.goals.UpdateGoalStatus(g.ID, store.GoalStatusCompleted); err != nil {
			slog.Error("goalrunner.complete_failed", "goal_id", g.ID, "err", err)
		}
		r.publish(protocol.EventGoalCompleted, g)
		return
	}

	sessionKey := fmt.Sprintf("agent:default:goal:%s:checkpoint:%d", g.ID, next.StepIndex)
	prompt := fmt.Sprintf(
		"You are working toward the goal %q. Current checkpoint: %s\n\nWhen you believe this checkpoint is "+
			"complete, say so explicitly and summarize the result.",
		g.Title, next.Title,
	)

	runCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	reply, err := r.loop.RunHeadless(runCtx, sessionKey, "goal", permissions.ModeSmartAuto, prompt, func(name string, payload interface{}) {
		r.publish(protocol.EventGoalProgress, map[string]interface{}{"goal_id": g.ID, "checkpoint": next.StepIndex, "event": name, "payload": payload})
	}, nil, nil)

	next.Attempts++
	if err != nil {
		next.ResultSummary = err.Error()
		if next.Attempts > r.maxRetries() {
			next.Status = store.CheckpointStatusFailed
			_ = r.goals.UpdateCheckpoint(next)
			_ = r.goals.UpdateGoalStatus(g.ID, store.GoalStatusFailed)
			r.publish(protocol.EventGoalFailed, map[string]interface{}{"goal_id": g.ID, "error": err.Error()})
			return
		}
		_ = r.goals.UpdateCheckpoint(next)
		return
	}

	next.Status = store.CheckpointStatusDone
	next.ResultSummary = reply
	if err := r.goals.UpdateCheckpoint(next); err != nil {
		slog.Error("goalrunner.checkpoint_save_failed", "goal_id", g.ID, "err", err)
	}
	r.publish(protocol.EventGoalProgress, map[string]interface{}{"goal_id": g.ID, "checkpoint": next.StepIndex, "event": "checkpoint_done"})
}

func (r *Runner) maxRetries() int {
	if r.cfg.MaxRetries > 0 {
		return r.cfg.MaxRetries
	}
	return 3
}

func (r *Runner) publish(name string, payload interface{}) {
	if r.events != nil {
		r.events.Broadcast(bus.Event{Name: name, Payload: payload})
	}
}
