// Package mind implements spec §4.5's L4 Autonomous Mind: a timer-driven
// background reasoner that periodically wakes, reviews its scratchpad, may
// call tools under a fixed authority tier, and sleeps again — independent
// of any user-initiated chat turn.
//
// Grounded on original_source/tools/mind/scratchpad_tool.py and
// wakeup_tool.py for the wake/scratchpad cycle shape; the state machine and
// event names are this spec's own (§4.5, §7).
package mind

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/fieldnote-ai/warden/internal/agent"
	"github.com/fieldnote-ai/warden/internal/bus"
	"github.com/fieldnote-ai/warden/internal/config"
	"github.com/fieldnote-ai/warden/internal/permissions"
	"github.com/fieldnote-ai/warden/internal/store"
	"github.com/fieldnote-ai/warden/pkg/protocol"
)

// State names: the three cycle states (spec §4.5), plus stopped while the
// cycle is not running.
const (
	StateSleeping = "sleeping"
	StateThinking = "thinking"
	StatePaused   = "paused"
	StateStopped  = "stopped"
)

// userActivityQuietPeriod is how long after the last user message the mind
// holds off waking, so it never talks over an active conversation.
const userActivityQuietPeriod = 2 * time.Minute

// sessionKey is the dedicated session the mind's turns are recorded under,
// separate from any channel conversation.
const sessionKey = "agent:default:mind:main"

// Mind is the concrete Autonomous Mind scheduler.
type Mind struct {
	cfg       config.MindConfig
	store     store.MindStore
	loop      *agent.Loop
	events    bus.EventPublisher
	authority permissions.AuthorityTier

	mu               sync.Mutex
	state            string
	running          bool
	stopCh           chan struct{}
	lastUserActivity time.Time
	rng              *rand.Rand
}

// New builds a Mind. The loop is the same *agent.Loop used for chat turns —
// the mind is just another caller of its think-act-observe cycle. The
// authority tier from cfg is recorded on the Mind, but tool calls in a cycle
// are evaluated with the loop's own authority tier: RunHeadless takes no
// authority argument.
func New(cfg config.MindConfig, st store.MindStore, loop *agent.Loop, events bus.EventPublisher) *Mind {
	authority := permissions.AuthorityTier(cfg.AuthorityTier)
	if authority == "" {
		authority = permissions.AuthorityTrusted
	}
	return &Mind{
		cfg:       cfg,
		store:     st,
		loop:      loop,
		events:    events,
		authority: authority,
		state:     StateStopped,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// State reports the current cycle state for the "mind"/"status" commands.
func (m *Mind) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// NotifyUserActivity records that a user turn just happened, so the next
// scheduled wake is held off rather than talking over the conversation
// (spec §4.5 "pause on user activity").
func (m *Mind) NotifyUserActivity() {
	m.mu.Lock()
	m.lastUserActivity = time.Now()
	m.mu.Unlock()
}

// userActivitySince reports whether the cycle currently running should
// abort because a user message arrived after the cycle started. Passed to
// agent.Loop.RunHeadless as its shouldAbort hook; cycleStarted is captured
// by the closure built in cycle.
func (m *Mind) userActivitySince(cycleStarted time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUserActivity.After(cycleStarted)
}

// Start begins the wake/sleep cycle if not already running. Idempotent.
func (m *Mind) Start() {
	m.mu.Lock()
	if m.running || !m.cfg.Enabled {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.state = StateSleeping
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	go m.run(stopCh)
}

// Stop halts the cycle after the current wake (if any) finishes.
func (m *Mind) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.state = StateStopped
	close(m.stopCh)
	m.mu.Unlock()
}

func (m *Mind) run(stopCh chan struct{}) {
	for {
		wait := m.nextWakeDelay()
		select {
		case <-stopCh:
			return
		case <-time.After(wait):
		}

		m.mu.Lock()
		quiet := time.Since(m.lastUserActivity) < userActivityQuietPeriod
		m.mu.Unlock()
		if quiet {
			m.setState(StatePaused)
			m.publish(protocol.EventMindPaused, map[string]string{"reason": "recent user activity"})
			m.publish(protocol.EventMindResumed, nil)
			continue
		}

		budget, err := m.remainingBudget()
		if err != nil {
			m.publish(protocol.EventMindError, map[string]string{"error": err.Error()})
			continue
		}
		if budget <= 0 {
			continue
		}

		m.cycle()
	}
}

// nextWakeDelay picks a randomized interval in [MinWakeSeconds,
// MaxWakeSeconds] (spec §4.5 "bounded, jittered wake interval" — no fixed
// cadence, to avoid every deployment's mind waking in lockstep).
func (m *Mind) nextWakeDelay() time.Duration {
	lo, hi := m.cfg.MinWakeSeconds, m.cfg.MaxWakeSeconds
	if lo <= 0 {
		lo = 60
	}
	if hi <= lo {
		hi = lo + 60
	}
	span := hi - lo
	secs := lo + m.rng.Intn(span+1)
	return time.Duration(secs) * time.Second
}

func (m *Mind) setState(s string) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Mind) publish(name string, payload interface{}) {
	if m.events != nil {
		m.events.Broadcast(bus.Event{Name: name, Payload: payload})
	}
}

func (m *Mind) cycle() {
	m.setState(StateThinking)
	m.publish(protocol.EventMindWakeup, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cycleStarted := time.Now()
	shouldAbort := func() bool { return m.userActivitySince(cycleStarted) }

	prompt := "It is time for your periodic autonomous review. Check your scratchpad, " +
		"decide whether anything needs attention, and act if warranted. If nothing " +
		"needs attention, say so briefly."

	publishTool := func(name string, payload interface{}) {
		switch name {
		case protocol.EventToolCall, protocol.EventToolResult:
			m.publish(protocol.EventMindToolUse, payload)
		}
	}

	// requestApproval is nil: the mind never blocks on a human in the loop.
	// Under permissions.Evaluate, a RequireApproval decision with a nil
	// requester surfaces as a denial (see agent.Loop.gateAndExecute),
	// matching spec §4.5 "DESTRUCTIVE needs approval it cannot get, so it is
	// effectively refused; CRITICAL is refused outright".
	//
	// shouldAbort is re-checked between every round of tool calls within
	// the cycle, not just at the top of run's wake/sleep loop, so a user
	// message that arrives mid-cycle cuts the cycle short instead of
	// waiting for it to finish (spec §4.5 scenario (e)).
	reply, err := m.loop.RunHeadless(ctx, sessionKey, "mind", permissions.ModeSmartAuto, prompt, publishTool, nil, shouldAbort)
	if errors.Is(err, agent.ErrPreempted) {
		m.publish(protocol.EventMindPaused, map[string]string{"reason": "user activity during cycle"})
		m.setState(StateSleeping)
		return
	}
	if err != nil {
		m.publish(protocol.EventMindError, map[string]string{"error": err.Error()})
		m.setState(StateSleeping)
		return
	}

	m.spendBudget(1)
	m.publish(protocol.EventMindAction, map[string]string{"summary": reply})
	m.publish(protocol.EventMindSleep, nil)
	m.setState(StateSleeping)
}

func (m *Mind) remainingBudget() (int, error) {
	s, err := m.store.Load()
	if err != nil {
		return 0, fmt.Errorf("mind: load state: %w", err)
	}
	today := time.Now().UTC().Format("2006-01-02")
	if s.BudgetDate != today {
		s.BudgetDate = today
		s.BudgetRemaining = m.cfg.DailyBudget
		if err := m.store.Save(s); err != nil {
			slog.Warn("mind.budget_reset_save_failed", "err", err)
		}
	}
	return s.BudgetRemaining, nil
}

func (m *Mind) spendBudget(n int) {
	s, err := m.store.Load()
	if err != nil {
		return
	}
	s.BudgetRemaining -= n
	s.LastWakeAt = time.Now().UTC()
	s.Cycle = StateSleeping
	if err := m.store.Save(s); err != nil {
		slog.Warn("mind.budget_spend_save_failed", "err", err)
	}
}
