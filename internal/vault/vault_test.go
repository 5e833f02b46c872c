package vault

import "testing"

func TestUnlockFirstRunThenReopenWithSamePassword(t *testing.T) {
	dir := t.TempDir()

	v1 := New(dir)
	if err := v1.Unlock("correct horse"); err != nil {
		t.Fatalf("first unlock: %v", err)
	}
	if err := v1.Set("anthropic_api_key", "sk-ant-xyz"); err != nil {
		t.Fatalf("set: %v", err)
	}

	v2 := New(dir)
	if err := v2.Unlock("correct horse"); err != nil {
		t.Fatalf("second unlock: %v", err)
	}
	val, ok, err := v2.Get("anthropic_api_key")
	if err != nil || !ok || val != "sk-ant-xyz" {
		t.Fatalf("got (%q, %v, %v), want (sk-ant-xyz, true, nil)", val, ok, err)
	}
}

func TestUnlockWrongPasswordFails(t *testing.T) {
	dir := t.TempDir()

	v1 := New(dir)
	if err := v1.Unlock("correct horse"); err != nil {
		t.Fatalf("first unlock: %v", err)
	}
	if err := v1.Set("k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}

	v2 := New(dir)
	err := v2.Unlock("wrong password")
	if err != ErrWrongPassword {
		t.Fatalf("got %v, want ErrWrongPassword", err)
	}
}

func TestOperationsBeforeUnlockReturnErrLocked(t *testing.T) {
	v := New(t.TempDir())
	if _, _, err := v.Get("k"); err != ErrLocked {
		t.Fatalf("Get: got %v, want ErrLocked", err)
	}
	if err := v.Set("k", "v"); err != ErrLocked {
		t.Fatalf("Set: got %v, want ErrLocked", err)
	}
	if err := v.Delete("k"); err != ErrLocked {
		t.Fatalf("Delete: got %v, want ErrLocked", err)
	}
	if _, err := v.List(); err != ErrLocked {
		t.Fatalf("List: got %v, want ErrLocked", err)
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	v := New(t.TempDir())
	if err := v.Unlock("pw"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := v.Set("k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := v.Delete("k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := v.Get("k"); ok {
		t.Fatal("expected key to be gone after delete")
	}
}

func TestSaltHashStableAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	v1 := New(dir)
	if err := v1.Unlock("pw"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	h1, err := v1.SaltHash()
	if err != nil {
		t.Fatalf("salt hash: %v", err)
	}

	v2 := New(dir)
	if err := v2.Unlock("pw"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	h2, err := v2.SaltHash()
	if err != nil {
		t.Fatalf("salt hash 2: %v", err)
	}

	if string(h1) != string(h2) {
		t.Fatal("expected salt hash to be stable across reopen")
	}
}

func TestSaltHashErrorsBeforeFirstUnlock(t *testing.T) {
	v := New(t.TempDir())
	if _, err := v.SaltHash(); err == nil {
		t.Fatal("expected error reading salt before any Unlock has run")
	}
}
