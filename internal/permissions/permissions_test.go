package permissions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateAskAlwaysRequiresApprovalAboveSafe(t *testing.T) {
	e := NewEngine(nil)
	assert.Equal(t, Allow, e.Evaluate("read_file", SAFE, AuthorityOwner, ModeAskAlways))
	assert.Equal(t, RequireApproval, e.Evaluate("edit_file", MODERATE, AuthorityOwner, ModeAskAlways))
	assert.Equal(t, RequireApproval, e.Evaluate("rm", DESTRUCTIVE, AuthorityOwner, ModeAskAlways))
	assert.Equal(t, RequireApproval, e.Evaluate("wipe", CRITICAL, AuthorityOwner, ModeAskAlways))
}

func TestEvaluateSmartAutoTable(t *testing.T) {
	e := NewEngine(nil)
	assert.Equal(t, Allow, e.Evaluate("t", SAFE, AuthorityOwner, ModeSmartAuto))
	assert.Equal(t, Allow, e.Evaluate("t", MODERATE, AuthorityOwner, ModeSmartAuto))
	assert.Equal(t, RequireApproval, e.Evaluate("t", DESTRUCTIVE, AuthorityOwner, ModeSmartAuto))
	assert.Equal(t, RequireApproval, e.Evaluate("t", CRITICAL, AuthorityOwner, ModeSmartAuto))
	assert.Equal(t, Deny, e.Evaluate("t", CRITICAL, AuthorityTrusted, ModeSmartAuto))
	assert.Equal(t, Deny, e.Evaluate("t", CRITICAL, AuthorityPublic, ModeSmartAuto))
}

func TestEvaluateFullAutoAllowsThroughDestructive(t *testing.T) {
	e := NewEngine(nil)
	assert.Equal(t, Allow, e.Evaluate("t", SAFE, AuthorityOwner, ModeFullAuto))
	assert.Equal(t, Allow, e.Evaluate("t", MODERATE, AuthorityOwner, ModeFullAuto))
	assert.Equal(t, Allow, e.Evaluate("t", DESTRUCTIVE, AuthorityOwner, ModeFullAuto))
	assert.Equal(t, RequireApproval, e.Evaluate("t", CRITICAL, AuthorityOwner, ModeFullAuto))
}

func TestSafeAllowListExemptsAnyTier(t *testing.T) {
	e := NewEngine([]string{"nuke"})
	assert.Equal(t, Allow, e.Evaluate("nuke", CRITICAL, AuthorityPublic, ModeAskAlways))
}

// TestApprovalTimeoutDeniesAndContinuesLoop covers spec §8 invariant 6: an
// approval not resolved within the configured window transitions to
// timed-out, OnTimeout fires, and the waiting caller observes false, nil.
func TestApprovalTimeoutDeniesAndContinuesLoop(t *testing.T) {
	var timedOut *ApprovalRequest
	q := NewQueue(20 * time.Millisecond)
	q.OnTimeout = func(req *ApprovalRequest) { timedOut = req }

	req := &ApprovalRequest{ID: "r1", ToolName: "rm", SessionKey: "s1"}
	future := q.Enqueue(req)

	approved, err := Await(context.Background(), future)
	require.NoError(t, err)
	assert.False(t, approved)
	assert.Equal(t, StateTimedOut, req.State)
	require.NotNil(t, timedOut)
	assert.Equal(t, "r1", timedOut.ID)
}

func TestResolveBeforeAwaitReturnsImmediately(t *testing.T) {
	// spec §5 ordering: the future may be resolved before await begins.
	q := NewQueue(time.Minute)
	req := &ApprovalRequest{ID: "r2", ToolName: "edit"}
	future := q.Enqueue(req)
	q.Resolve("r2", true)

	approved, err := Await(context.Background(), future)
	require.NoError(t, err)
	assert.True(t, approved)
	assert.Equal(t, StateApproved, req.State)
}

func TestResolveIsNoOpWhenAlreadyResolvedOrAbsent(t *testing.T) {
	q := NewQueue(time.Minute)
	req := &ApprovalRequest{ID: "r3"}
	q.Enqueue(req)
	q.Resolve("r3", false)
	assert.NotPanics(t, func() { q.Resolve("r3", true) })
	assert.NotPanics(t, func() { q.Resolve("does-not-exist", true) })
	assert.Equal(t, StateDenied, req.State)
}

func TestPendingSnapshotRespectsLimit(t *testing.T) {
	q := NewQueue(time.Minute)
	for i := 0; i < 5; i++ {
		q.Enqueue(&ApprovalRequest{ID: string(rune('a' + i))})
	}
	assert.Len(t, q.Pending(0), 5)
	assert.Len(t, q.Pending(2), 2)
}
