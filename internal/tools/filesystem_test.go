package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadFileToolReadsWithinWorkspace(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "note.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tool := NewReadFileTool(ws, true)
	res := tool.Execute(context.Background(), map[string]interface{}{"path": "note.txt"})
	if res.IsError {
		t.Fatalf("expected success, got error: %s", res.ForLLM)
	}
	if res.ForLLM != "hello" {
		t.Fatalf("got %q, want %q", res.ForLLM, "hello")
	}
}

func TestReadFileToolRejectsEscapeWhenRestricted(t *testing.T) {
	ws := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("nope"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tool := NewReadFileTool(ws, true)
	res := tool.Execute(context.Background(), map[string]interface{}{"path": filepath.Join(outside, "secret.txt")})
	if !res.IsError {
		t.Fatal("expected an escape attempt outside the workspace to be rejected")
	}
}

func TestReadFileToolAllowsEscapeWhenUnrestricted(t *testing.T) {
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("yep"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tool := NewReadFileTool(t.TempDir(), false)
	res := tool.Execute(context.Background(), map[string]interface{}{"path": filepath.Join(outside, "secret.txt")})
	if res.IsError {
		t.Fatalf("expected unrestricted read to succeed, got %s", res.ForLLM)
	}
	if res.ForLLM != "yep" {
		t.Fatalf("got %q, want %q", res.ForLLM, "yep")
	}
}

func TestReadFileToolHonorsAllowedPrefixOutsideWorkspace(t *testing.T) {
	ws := t.TempDir()
	skills := t.TempDir()
	if err := os.WriteFile(filepath.Join(skills, "skill.md"), []byte("skill body"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tool := NewReadFileTool(ws, true)
	tool.AllowPaths(skills)

	res := tool.Execute(context.Background(), map[string]interface{}{"path": filepath.Join(skills, "skill.md")})
	if res.IsError {
		t.Fatalf("expected allowed-prefix read to succeed, got %s", res.ForLLM)
	}
	if res.ForLLM != "skill body" {
		t.Fatalf("got %q, want %q", res.ForLLM, "skill body")
	}
}

func TestReadFileToolRejectsDeniedPrefix(t *testing.T) {
	ws := t.TempDir()
	hidden := filepath.Join(ws, ".warden")
	if err := os.MkdirAll(hidden, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(hidden, "config.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tool := NewReadFileTool(ws, true)
	tool.DenyPaths(".warden")

	res := tool.Execute(context.Background(), map[string]interface{}{"path": ".warden/config.json"})
	if !res.IsError {
		t.Fatal("expected a denied-prefix read to be rejected")
	}
}

func TestReadFileToolRejectsEmptyPath(t *testing.T) {
	tool := NewReadFileTool(t.TempDir(), true)
	res := tool.Execute(context.Background(), map[string]interface{}{})
	if !res.IsError {
		t.Fatal("expected missing path to be rejected")
	}
}

func TestReadFileToolRejectsSymlinkEscape(t *testing.T) {
	ws := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("nope"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	link := filepath.Join(ws, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks not supported in this environment: %v", err)
	}

	tool := NewReadFileTool(ws, true)
	res := tool.Execute(context.Background(), map[string]interface{}{"path": "escape/secret.txt"})
	if !res.IsError {
		t.Fatal("expected a symlink escaping the workspace to be rejected")
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	ws := t.TempDir()
	writeTool := NewWriteFileTool(ws, true)
	res := writeTool.Execute(context.Background(), map[string]interface{}{"path": "out/report.txt", "content": "data"})
	if res.IsError {
		t.Fatalf("write failed: %s", res.ForLLM)
	}

	readTool := NewReadFileTool(ws, true)
	got := readTool.Execute(context.Background(), map[string]interface{}{"path": "out/report.txt"})
	if got.IsError || got.ForLLM != "data" {
		t.Fatalf("got (%v, %q), want (false, %q)", got.IsError, got.ForLLM, "data")
	}
}

func TestListFilesToolListsWorkspaceEntries(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := os.Mkdir(filepath.Join(ws, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	tool := NewListFilesTool(ws, true)
	res := tool.Execute(context.Background(), map[string]interface{}{"path": "."})
	if res.IsError {
		t.Fatalf("list failed: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "a.txt") || !strings.Contains(res.ForLLM, "sub") {
		t.Fatalf("expected listing to mention a.txt and sub, got %q", res.ForLLM)
	}
}
