package sessions

import "testing"

func TestBuildSessionKeyDirect(t *testing.T) {
	got := BuildSessionKey("default", "telegram", PeerDirect, "386246614")
	want := "agent:default:telegram:direct:386246614"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBuildGroupTopicSessionKey(t *testing.T) {
	got := BuildGroupTopicSessionKey("default", "telegram", "-100123456", 99)
	want := "agent:default:telegram:group:-100123456:topic:99"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBuildCronSessionKeyGuardsDoublePrefix(t *testing.T) {
	already := BuildSessionKey("default", "telegram", PeerDirect, "1")
	got := BuildCronSessionKey("default", already, "run1")
	want := "agent:default:cron:telegram:direct:1:run:run1"
	if got != want {
		t.Fatalf("got %q want %q (should not double-prefix agent:default:)", got, want)
	}

	gotPlain := BuildCronSessionKey("default", "reminder", "abc123")
	wantPlain := "agent:default:cron:reminder:run:abc123"
	if gotPlain != wantPlain {
		t.Fatalf("got %q want %q", gotPlain, wantPlain)
	}
}

func TestParseSessionKey(t *testing.T) {
	agentID, rest := ParseSessionKey("agent:default:telegram:direct:1")
	if agentID != "default" || rest != "telegram:direct:1" {
		t.Fatalf("got (%q, %q)", agentID, rest)
	}

	agentID, rest = ParseSessionKey("not-a-session-key")
	if agentID != "" || rest != "" {
		t.Fatalf("expected empty parse result, got (%q, %q)", agentID, rest)
	}
}

func TestIsSubagentAndCronSession(t *testing.T) {
	if !IsSubagentSession(BuildSubagentSessionKey("default", "research")) {
		t.Fatal("expected subagent session to be detected")
	}
	if !IsCronSession(BuildCronSessionKey("default", "reminder", "run1")) {
		t.Fatal("expected cron session to be detected")
	}
	if IsSubagentSession(BuildSessionKey("default", "telegram", PeerDirect, "1")) {
		t.Fatal("a direct chat session must not be classified as subagent")
	}
}

func TestBuildScopedSessionKeyModes(t *testing.T) {
	cases := []struct {
		name    string
		kind    PeerKind
		scope   string
		dmScope string
		mainKey string
		want    string
	}{
		{"global overrides everything", PeerDirect, "global", "per-peer", "", "global"},
		{"group always uses full key", PeerGroup, "per-sender", "main", "", "agent:default:telegram:group:42"},
		{"dm main scope", PeerDirect, "per-sender", "main", "home", "agent:default:home"},
		{"dm main scope default key", PeerDirect, "per-sender", "main", "", "agent:default:main"},
		{"dm per-peer scope", PeerDirect, "per-sender", "per-peer", "", "agent:default:direct:42"},
		{"dm default scope", PeerDirect, "per-sender", "", "", "agent:default:telegram:direct:42"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := BuildScopedSessionKey("default", "telegram", tc.kind, "42", tc.scope, tc.dmScope, tc.mainKey)
			if got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestPeerKindFromGroup(t *testing.T) {
	if PeerKindFromGroup(true) != PeerGroup {
		t.Fatal("expected group")
	}
	if PeerKindFromGroup(false) != PeerDirect {
		t.Fatal("expected direct")
	}
}
