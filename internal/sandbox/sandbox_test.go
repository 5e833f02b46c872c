package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetReturnsDisabledWhenModeOff(t *testing.T) {
	m := NewManager(DefaultConfig(), t.TempDir())
	_, err := m.Get(context.Background(), "agent:default:cli:direct:1", "/workspace")
	if err != ErrSandboxDisabled {
		t.Fatalf("got %v, want ErrSandboxDisabled", err)
	}
}

func TestGetReusesSandboxForSameKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeAll
	m := NewManager(cfg, t.TempDir())

	sb1, err := m.Get(context.Background(), "sess-1", "/workspace")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	sb2, err := m.Get(context.Background(), "sess-1", "/workspace")
	if err != nil {
		t.Fatalf("get 2: %v", err)
	}
	if sb1.ID() != sb2.ID() {
		t.Fatalf("expected same sandbox id for repeated Get, got %q vs %q", sb1.ID(), sb2.ID())
	}
}

func TestGetSharedScopeCollapsesAllKeysToOneSandbox(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeAll
	cfg.Scope = ScopeShared
	m := NewManager(cfg, t.TempDir())

	sb1, err := m.Get(context.Background(), "sess-1", "/workspace")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	sb2, err := m.Get(context.Background(), "sess-2", "/workspace")
	if err != nil {
		t.Fatalf("get 2: %v", err)
	}
	if sb1.ID() != sb2.ID() {
		t.Fatalf("expected shared-scope sandboxes to collapse to one id, got %q vs %q", sb1.ID(), sb2.ID())
	}
}

func TestExecRunsWithinSandboxDirectory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeAll
	root := t.TempDir()
	m := NewManager(cfg, root)

	sb, err := m.Get(context.Background(), "sess-1", "/workspace")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	res, err := sb.Exec(context.Background(), []string{"pwd"}, "/workspace")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d (stderr=%s)", res.ExitCode, res.Stderr)
	}
	hostDir, _ := lookupHostDir(sb.ID())
	want, _ := filepath.EvalSymlinks(hostDir)
	if got := strings.TrimSpace(res.Stdout); got != want {
		t.Fatalf("pwd = %q, want sandbox dir %q", got, want)
	}
}

func TestSanitizeKeyReplacesUnsafeChars(t *testing.T) {
	got := sanitizeKey("agent:default:telegram:direct:1")
	for _, r := range got {
		safe := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
		if !safe {
			t.Fatalf("sanitizeKey left unsafe char %q in %q", r, got)
		}
	}
}

func TestSanitizeKeyEmptyFallsBackToDefault(t *testing.T) {
	if got := sanitizeKey(""); got != "default" {
		t.Fatalf("got %q, want %q", got, "default")
	}
}

func TestFsBridgeReadFileResolvesAgainstHostDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeAll
	root := t.TempDir()
	m := NewManager(cfg, root)

	sb, err := m.Get(context.Background(), "sess-bridge", "/workspace")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	hostDir, ok := lookupHostDir(sb.ID())
	if !ok {
		t.Fatal("expected host dir to be registered")
	}
	if err := os.WriteFile(filepath.Join(hostDir, "notes.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	bridge := NewFsBridge(sb.ID(), "/workspace")
	content, err := bridge.ReadFile(context.Background(), "/workspace/notes.txt")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if content != "hello" {
		t.Fatalf("got %q, want %q", content, "hello")
	}
}
