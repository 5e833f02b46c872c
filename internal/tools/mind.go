package tools

import (
	"context"
	"fmt"

	"github.com/fieldnote-ai/warden/internal/store"
)

// MindScratchpadReadTool lets the mind (or, for transparency, the primary
// agent) inspect the autonomous scratchpad without going through a human.
// Registered in permissions.DefaultSafeAllowList — read-only, tier SAFE.
type MindScratchpadReadTool struct {
	mind store.MindStore
}

func NewMindScratchpadReadTool(mind store.MindStore) *MindScratchpadReadTool {
	return &MindScratchpadReadTool{mind: mind}
}

func (t *MindScratchpadReadTool) Name() string { return "mind_scratchpad_read" }
func (t *MindScratchpadReadTool) Description() string {
	return "Read the autonomous mind's persistent scratchpad notes"
}
func (t *MindScratchpadReadTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *MindScratchpadReadTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	s, err := t.mind.Load()
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to load scratchpad: %v", err))
	}
	if s.Scratchpad == "" {
		return SilentResult("(scratchpad is empty)")
	}
	return SilentResult(s.Scratchpad)
}

// MindScratchpadWriteTool appends a note to the mind's scratchpad — the
// mind's durable working memory across wake cycles (spec §4.5). Tier
// MODERATE: it mutates persistent state but nothing external.
type MindScratchpadWriteTool struct {
	mind store.MindStore
}

func NewMindScratchpadWriteTool(mind store.MindStore) *MindScratchpadWriteTool {
	return &MindScratchpadWriteTool{mind: mind}
}

func (t *MindScratchpadWriteTool) Name() string { return "mind_scratchpad_write" }
func (t *MindScratchpadWriteTool) Description() string {
	return "Append a note to the autonomous mind's persistent scratchpad, carried into the next wake cycle"
}
func (t *MindScratchpadWriteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"note": map[string]interface{}{
				"type":        "string",
				"description": "Text to append to the scratchpad",
			},
		},
		"required": []string{"note"},
	}
}

func (t *MindScratchpadWriteTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	note, _ := args["note"].(string)
	if note == "" {
		return ErrorResult("note is required")
	}
	if err := t.mind.AppendScratchpad(note); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write scratchpad: %v", err))
	}
	return SilentResult("scratchpad updated")
}
