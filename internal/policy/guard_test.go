package policy

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/agentpilot/agentpilot/internal/store"
	"github.com/agentpilot/agentpilot/internal/tools"
)

func newTestGuard(t *testing.T, cfg Config) (*Guard, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "guard.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewGuard(st, cfg), st
}

func grant(t *testing.T, st *store.Store, userID, domain string, level Level) {
	t.Helper()
	if _, err := st.SetPermission(context.Background(), store.PermissionRule{
		ChannelType: "telegram", ChannelID: "42", UserID: userID, Domain: domain, Level: int(level),
	}); err != nil {
		t.Fatalf("set permission: %v", err)
	}
}

func req(domain, op, user string) *tools.ActionRequest {
	return &tools.ActionRequest{Domain: domain, Operation: op, ChannelType: "telegram", ChannelID: "42", UserID: user, SessionID: "s1",
		Params: map[string]any{"path": "/tmp/x"}}
}

func TestCheckDeniesBelowRequiredLevel(t *testing.T) {
	g, _ := newTestGuard(t, Config{})
	d, err := g.Check(context.Background(), req("files", "write_file", "u1"))
	var denied *PermissionDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected PermissionDeniedError, got %v", err)
	}
	if d.Allowed {
		t.Fatal("a denied decision must not be allowed")
	}
	want := `Permission denied for "files:write_file": requires level 2, current level is 0`
	if err.Error() != want || denied.Code() != "PERMISSION_DENIED" {
		t.Fatalf("unexpected error %q code %s", err.Error(), denied.Code())
	}
}

func TestCheckAllowsReadOnlyBrowserByDefault(t *testing.T) {
	g, _ := newTestGuard(t, Config{})
	d, err := g.Check(context.Background(), req("browser", "web_search", "u1"))
	if err != nil || !d.Allowed || d.ConfirmationRequired {
		t.Fatalf("expected plain allow, got %+v err=%v", d, err)
	}
}

func TestCheckLevelMatrix(t *testing.T) {
	ctx := context.Background()
	for domain, required := range DefaultRequiredLevels {
		for lvl := ReadOnly; lvl <= Admin; lvl++ {
			g, st := newTestGuard(t, Config{})
			grant(t, st, "u1", domain, lvl)
			d, err := g.Check(ctx, req(domain, "some_op", "u1"))
			if lvl < required {
				if err == nil || d.Allowed {
					t.Fatalf("%s at %s: expected deny", domain, lvl)
				}
				continue
			}
			if err != nil || !d.Allowed {
				t.Fatalf("%s at %s: expected allow, got %v", domain, lvl, err)
			}
		}
	}
}

func TestUnknownDomainRequiresAdmin(t *testing.T) {
	g, st := newTestGuard(t, Config{})
	if g.RequiredLevel("calendar") != Admin {
		t.Fatal("unknown domain should need admin")
	}
	grant(t, st, "u1", "calendar", Execute)
	if _, err := g.Check(context.Background(), req("calendar", "add", "u1")); err == nil {
		t.Fatal("execute must not satisfy unknown domain")
	}
}

func TestDestructiveOpsConfirmEvenAtAdmin(t *testing.T) {
	g, st := newTestGuard(t, Config{})
	ctx := context.Background()
	cases := map[string]string{"files": "delete_file", "email": "send_email", "shell": "shell_exec"}
	for domain, op := range cases {
		grant(t, st, "u1", domain, Admin)
		d, err := g.Check(ctx, req(domain, op, "u1"))
		if err != nil || !d.Allowed || !d.ConfirmationRequired {
			t.Fatalf("%s: expected confirmation, got %+v err=%v", op, d, err)
		}
	}
	d, _ := g.Check(ctx, req("files", "delete_file", "u1"))
	want := `Action "delete_file" on files requires your confirmation. Reply "yes" to proceed.`
	if d.ConfirmationMessage != want {
		t.Fatalf("unexpected prompt %q", d.ConfirmationMessage)
	}
}

func TestDeniedBeatsConfirmation(t *testing.T) {
	g, _ := newTestGuard(t, Config{})
	d, err := g.Check(context.Background(), req("shell", "shell_exec", "u1"))
	if err == nil || d.ConfirmationRequired {
		t.Fatalf("expected deny without confirmation, got %+v", d)
	}
}

func TestUserRuleBeatsChannelRule(t *testing.T) {
	g, st := newTestGuard(t, Config{})
	ctx := context.Background()
	grant(t, st, "", "files", Modify)
	grant(t, st, "u1", "files", ReadOnly)

	if lvl, _ := g.EffectiveLevel(ctx, "telegram", "42", "u1", "files"); lvl != ReadOnly {
		t.Fatalf("user rule should win, got %s", lvl)
	}
	if lvl, _ := g.EffectiveLevel(ctx, "telegram", "42", "u2", "files"); lvl != Modify {
		t.Fatalf("other users should get channel rule, got %s", lvl)
	}
	if lvl, _ := g.EffectiveLevel(ctx, "telegram", "43", "u2", "files"); lvl != ReadOnly {
		t.Fatalf("other channels should get the default, got %s", lvl)
	}
}

func TestConfigOverrides(t *testing.T) {
	g, _ := newTestGuard(t, Config{
		DefaultLevel:   Communicate,
		DestructiveOps: []string{"send_email"},
		RequiredLevels: map[string]Level{"browser": Communicate},
	})
	ctx := context.Background()
	if d, err := g.Check(ctx, req("browser", "browse_web", "u1")); err != nil || !d.Allowed {
		t.Fatalf("default level should satisfy override, got %v", err)
	}
	if g.IsDestructive("delete_file") || !g.IsDestructive("send_email") {
		t.Fatal("destructive set override not applied")
	}
}

func TestLogActionWritesOneEntry(t *testing.T) {
	g, st := newTestGuard(t, Config{})
	ctx := context.Background()
	grant(t, st, "u1", "files", Modify)
	r := req("files", "write_file", "u1")
	if err := g.LogAction(ctx, r, map[string]any{"success": true}, false, true); err != nil {
		t.Fatalf("log action: %v", err)
	}
	entries, err := st.ListAudit(ctx, store.AuditFilter{})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	e := entries[0]
	if e.PermissionLevel != int(Modify) || e.ConfirmationRequired || !e.Confirmed || e.SessionID != "s1" {
		t.Fatalf("unexpected entry %+v", e)
	}
	var in map[string]any
	if err := json.Unmarshal(e.Input, &in); err != nil || in["path"] != "/tmp/x" {
		t.Fatalf("unexpected input %s", e.Input)
	}
	if string(e.Output) != `{"success":true}` {
		t.Fatalf("unexpected output %s", e.Output)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"0": ReadOnly, "readonly": ReadOnly, "Communicate": Communicate, " 3 ": Execute, "ADMIN": Admin}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	for _, bad := range []string{"5", "-1", "root", ""} {
		if _, err := ParseLevel(bad); err == nil {
			t.Errorf("ParseLevel(%q) should fail", bad)
		}
	}
	if Modify.String() != "modify" || Level(9).String() != "level(9)" {
		t.Fatal("unexpected String output")
	}
}
