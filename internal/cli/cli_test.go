package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/zalando/go-keyring"

	"github.com/agentpilot/agentpilot/internal/bus"
	"github.com/agentpilot/agentpilot/internal/config"
	"github.com/agentpilot/agentpilot/internal/secrets"
	"github.com/agentpilot/agentpilot/internal/store"
)

func runRootCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	_, err := rootCmd.ExecuteC()
	rootCmd.SetArgs(nil)
	return strings.TrimSpace(buf.String()), err
}

// isolate points config, env files and the database at a temp home.
func isolate(t *testing.T) string {
	t.Helper()
	keyring.MockInit()
	home := t.TempDir()
	t.Setenv("AGENTPILOT_HOME", home)
	t.Setenv("AGENTPILOT_CONFIG", "")
	t.Setenv("AGENTPILOT_ENV_FILE", "")
	for _, k := range []string{"ANTHROPIC_API_KEY", "GEMINI_API_KEY", "OPENROUTER_API_KEY", "OPENAI_API_KEY"} {
		t.Setenv(k, "")
	}
	return home
}

func testDBPath(home string) string {
	return filepath.Join(home, config.ConfigDir, "agentpilot.db")
}

func openTestStore(t *testing.T, home string) *store.Store {
	t.Helper()
	st, err := store.Open(testDBPath(home))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st
}

func TestVersionCommand(t *testing.T) {
	out, err := runRootCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "Version: "+version) {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestStatusReportsKeysAndChannels(t *testing.T) {
	home := isolate(t)
	cfgDir := filepath.Join(home, config.ConfigDir)
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, config.ConfigFile), []byte(`{"channels":{"telegram":{"enabled":true}}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ANTHROPIC_API_KEY", "sk-env")
	if err := secrets.New().Set(secrets.ProviderKeyName("gemini"), "gm-key"); err != nil {
		t.Fatalf("keyring set: %v", err)
	}

	out, err := runRootCommand(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{
		"Config:   ✓ Found",
		"Provider: anthropic",
		"anthropic:  ✓ Key (config/env)",
		"gemini:     ✓ Key (keyring)",
		"openai:     ✗ No key",
		"telegram:   ✓ Enabled",
		"slack:      ✗ Disabled",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestPermissionsSetListDelete(t *testing.T) {
	home := isolate(t)

	out, err := runRootCommand(t, "permissions", "set", "telegram", "42", "shell", "execute", "--user", "u1")
	if err != nil {
		t.Fatalf("permissions set: %v", err)
	}
	if !strings.Contains(out, "shell set to execute") {
		t.Fatalf("unexpected set output: %s", out)
	}
	if _, err := runRootCommand(t, "permissions", "set", "telegram", "42", "files", "2", "--user="); err != nil {
		t.Fatalf("permissions set channel scope: %v", err)
	}
	if _, err := runRootCommand(t, "permissions", "set", "telegram", "42", "files", "banana", "--user="); err == nil {
		t.Fatal("expected bad level error")
	}

	out, err = runRootCommand(t, "permissions", "list")
	if err != nil {
		t.Fatalf("permissions list: %v", err)
	}
	if !strings.Contains(out, "3 (execute)") || !strings.Contains(out, "2 (modify)") || !strings.Contains(out, "u1") {
		t.Fatalf("unexpected list output:\n%s", out)
	}

	st := openTestStore(t, home)
	rules, err := st.ListPermissions(context.Background())
	_ = st.Close()
	if err != nil || len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d (%v)", len(rules), err)
	}
	if _, err := runRootCommand(t, "permissions", "delete", rules[0].ID); err != nil {
		t.Fatalf("permissions delete: %v", err)
	}
	if _, err := runRootCommand(t, "permissions", "delete", rules[0].ID); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestTasksListPauseCancel(t *testing.T) {
	home := isolate(t)
	st := openTestStore(t, home)
	task, err := st.CreateTask(context.Background(), store.ScheduledTask{
		Name:           "daily-summary",
		CronExpression: "0 9 * * *",
		Prompt:         "Summarize my inbox",
		ChannelType:    "telegram",
		ChannelID:      "42",
		UserID:         "u1",
		Enabled:        true,
	})
	_ = st.Close()
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	out, err := runRootCommand(t, "tasks", "list", "--user", "u1")
	if err != nil {
		t.Fatalf("tasks list: %v", err)
	}
	if !strings.Contains(out, task.ID) || !strings.Contains(out, "0 9 * * *") || !strings.Contains(out, "never") {
		t.Fatalf("unexpected list output:\n%s", out)
	}
	out, err = runRootCommand(t, "tasks", "list", "--user", "someone-else")
	if err != nil || !strings.Contains(out, "No scheduled tasks.") {
		t.Fatalf("expected empty list for other user, got %q (%v)", out, err)
	}

	if _, err := runRootCommand(t, "tasks", "pause", task.ID); err != nil {
		t.Fatalf("tasks pause: %v", err)
	}
	st = openTestStore(t, home)
	got, err := st.GetTask(context.Background(), task.ID)
	_ = st.Close()
	if err != nil || got.Enabled {
		t.Fatalf("expected paused task, got %+v (%v)", got, err)
	}

	if _, err := runRootCommand(t, "tasks", "cancel", task.ID); err != nil {
		t.Fatalf("tasks cancel: %v", err)
	}
	if _, err := runRootCommand(t, "tasks", "cancel", task.ID); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSessionsListAndShow(t *testing.T) {
	home := isolate(t)
	st := openTestStore(t, home)
	sess, _, err := st.GetOrCreateSession(context.Background(), "discord", "c9", "u7")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	for _, m := range []struct{ role, content string }{
		{store.RoleUser, "hello"},
		{store.RoleAssistant, "hi there"},
	} {
		if _, err := st.AddMessage(context.Background(), sess.ID, m.role, m.content); err != nil {
			t.Fatalf("add message: %v", err)
		}
	}
	_ = st.Close()

	out, err := runRootCommand(t, "sessions", "list")
	if err != nil || !strings.Contains(out, sess.ID) || !strings.Contains(out, "discord") {
		t.Fatalf("unexpected list output %q (%v)", out, err)
	}
	out, err = runRootCommand(t, "sessions", "show", "discord", "c9", "u7")
	if err != nil {
		t.Fatalf("sessions show: %v", err)
	}
	if !strings.Contains(out, "user: hello") || !strings.Contains(out, "assistant: hi there") {
		t.Fatalf("unexpected history:\n%s", out)
	}
	if strings.Index(out, "user: hello") > strings.Index(out, "assistant: hi there") {
		t.Fatalf("history out of order:\n%s", out)
	}
	if _, err := runRootCommand(t, "sessions", "show", "discord", "c9", "nobody"); err == nil {
		t.Fatal("expected missing session error")
	}
}

func TestAuthSetAndDelete(t *testing.T) {
	isolate(t)
	kr := secrets.New()

	if _, err := runRootCommand(t, "auth", "set", "claude", "sk-ant-1"); err != nil {
		t.Fatalf("auth set: %v", err)
	}
	if got := kr.ProviderKey("anthropic"); got != "sk-ant-1" {
		t.Fatalf("expected alias to store anthropic key, got %q", got)
	}

	rootCmd.SetIn(strings.NewReader("or-key\n"))
	defer rootCmd.SetIn(nil)
	out, err := runRootCommand(t, "auth", "set", "openrouter")
	if err != nil {
		t.Fatalf("auth set from stdin: %v", err)
	}
	if !strings.Contains(out, "openrouter API key:") || kr.ProviderKey("openrouter") != "or-key" {
		t.Fatalf("stdin key not stored: %q", out)
	}

	if _, err := runRootCommand(t, "auth", "set", "mistral", "x"); err == nil {
		t.Fatal("expected unknown provider error")
	}
	if _, err := runRootCommand(t, "auth", "delete", "anthropic"); err != nil {
		t.Fatalf("auth delete: %v", err)
	}
	if got := kr.ProviderKey("anthropic"); got != "" {
		t.Fatalf("expected key removed, got %q", got)
	}
}

func TestAuditStatusAndColors(t *testing.T) {
	cases := []struct {
		entry store.AuditEntry
		want  string
	}{
		{store.AuditEntry{Output: json.RawMessage(`{"denied":true,"error":"needs execute"}`)}, "denied"},
		{store.AuditEntry{Output: json.RawMessage(`{"pending":true}`), ConfirmationRequired: true}, "pending"},
		{store.AuditEntry{Output: json.RawMessage(`{"success":true}`), ConfirmationRequired: true, Confirmed: true}, "confirmed"},
		{store.AuditEntry{Output: json.RawMessage(`{"error":"boom"}`), ConfirmationRequired: true, Confirmed: true}, "error"},
		{store.AuditEntry{Output: json.RawMessage(`{"success":true,"data":"ok"}`)}, "ok"},
	}
	for _, tc := range cases {
		if got := auditStatus(tc.entry); got != tc.want {
			t.Errorf("auditStatus(%s) = %s, want %s", tc.entry.Output, got, tc.want)
		}
	}

	orig := color.NoColor
	color.NoColor = false
	defer func() { color.NoColor = orig }()

	var buf bytes.Buffer
	printAudit(&buf, []store.AuditEntry{
		{Domain: "shell", Operation: "shell_exec", Output: json.RawMessage(`{"denied":true}`), CreatedAt: time.Now()},
		{Domain: "files", Operation: "delete_file", ConfirmationRequired: true, CreatedAt: time.Now()},
		{Domain: "notes", Operation: "list_notes", Output: json.RawMessage(`{"success":true}`), CreatedAt: time.Now()},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header and 3 rows, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[1], "\x1b[31m") {
		t.Errorf("denied row not red: %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "\x1b[33m") {
		t.Errorf("pending row not yellow: %q", lines[2])
	}
	if strings.Contains(lines[3], "\x1b[") {
		t.Errorf("ok row should be uncolored: %q", lines[3])
	}
}

func TestAuditCommandEmpty(t *testing.T) {
	isolate(t)
	out, err := runRootCommand(t, "audit", "--limit", "5")
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !strings.Contains(out, "No audit entries.") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestDaemonWiresAndServes(t *testing.T) {
	home := isolate(t)
	cfg := config.DefaultConfig()
	cfg.Database.Path = testDBPath(home)
	cfg.Paths.Notes = filepath.Join(home, "notes")
	cfg.Paths.Skills = filepath.Join(home, "skills")
	cfg.Paths.FilesRoot = home
	cfg.Gateway.Port = 0

	d, err := newDaemon(cfg, secrets.New())
	if err != nil {
		t.Fatalf("newDaemon: %v", err)
	}
	if d.agentOK {
		t.Fatal("expected agent not ready without any key")
	}
	names := d.loop.Tools().ToolNames()
	if len(names) != 18 {
		t.Fatalf("expected 18 tools, got %d: %v", len(names), names)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.start(ctx); err != nil {
		d.shutdown()
		t.Fatalf("start: %v", err)
	}

	resp, err := http.Get("http://" + d.server.Addr() + "/health")
	if err != nil {
		d.shutdown()
		t.Fatalf("health: %v", err)
	}
	var health map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if health["status"] != "ok" || health["agentReady"] != false || health["version"] != version {
		t.Errorf("unexpected health: %v", health)
	}
	if _, err := d.store.GetSetting(ctx, settingLastStarted); err != nil {
		t.Errorf("last start not recorded: %v", err)
	}

	cancel()
	d.shutdown()
	if _, err := os.Stat(cfg.Paths.Skills); err != nil {
		t.Errorf("skills dir not created: %v", err)
	}
}

type heldTurn struct {
	started chan struct{}
	release chan struct{}
}

func (h *heldTurn) HandleMessage(ctx context.Context, msg *bus.InboundMessage, reply func(string) error) error {
	close(h.started)
	<-h.release
	return nil
}

func TestDaemonStopsSchedulerBeforeDrainingTurns(t *testing.T) {
	home := isolate(t)
	cfg := config.DefaultConfig()
	cfg.Database.Path = testDBPath(home)
	cfg.Paths.Notes = filepath.Join(home, "notes")
	cfg.Paths.Skills = filepath.Join(home, "skills")
	cfg.Paths.FilesRoot = home
	cfg.Gateway.Port = 0

	d, err := newDaemon(cfg, secrets.New())
	if err != nil {
		t.Fatalf("newDaemon: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.start(ctx); err != nil {
		d.shutdown()
		t.Fatalf("start: %v", err)
	}
	if d.scheduler == nil || !d.scheduler.Running() {
		d.shutdown()
		t.Fatal("expected scheduler running after start")
	}

	h := &heldTurn{started: make(chan struct{}), release: make(chan struct{})}
	dispatched := make(chan error, 1)
	go func() { dispatched <- d.channels.Dispatch(ctx, h) }()
	d.bus.PublishInbound(&bus.InboundMessage{ChannelType: "telegram", ChannelID: "1", UserID: "u1", Content: "slow"})
	<-h.started

	cancel()
	stopped := make(chan struct{})
	go func() {
		d.stop(dispatched)
		close(stopped)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for d.scheduler.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if d.scheduler.Running() {
		t.Error("scheduler still running while a turn drains")
	}
	select {
	case <-stopped:
		t.Error("stop returned before the running turn finished")
	default:
	}

	close(h.release)
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("stop did not finish after the turn completed")
	}
}

func TestConfigCommands(t *testing.T) {
	isolate(t)
	if _, err := runRootCommand(t, "config", "set", "gateway.authToken", "tok-123"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	out, err := runRootCommand(t, "config", "get", "gateway.authToken")
	if err != nil {
		t.Fatalf("config get: %v", err)
	}
	if out != "********" {
		t.Fatalf("expected redacted token, got %q", out)
	}
	out, err = runRootCommand(t, "config", "get", "gateway")
	if err != nil || !strings.Contains(out, `"port": 3100`) {
		t.Fatalf("unexpected gateway section %q (%v)", out, err)
	}
	if _, err := runRootCommand(t, "config", "unset", "gateway.authToken"); err != nil {
		t.Fatalf("config unset: %v", err)
	}
}

func TestServicePrint(t *testing.T) {
	out, err := runRootCommand(t, "service", "print", "--binary", "/usr/local/bin/agentpilot")
	if err != nil {
		t.Fatalf("service print: %v", err)
	}
	if !strings.Contains(out, "ExecStart=/usr/local/bin/agentpilot gateway") {
		t.Fatalf("unexpected unit:\n%s", out)
	}
}

func TestSkillsAddListRemove(t *testing.T) {
	home := isolate(t)
	src := filepath.Join(t.TempDir(), "weather.md")
	if err := os.WriteFile(src, []byte("---\nname: weather\ndescription: check the forecast\n---\nUse wttr.in.\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runRootCommand(t, "skills", "list")
	if err != nil || !strings.Contains(out, "No skills") {
		t.Fatalf("list empty: %v %q", err, out)
	}
	if out, err = runRootCommand(t, "skills", "add", src); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(out, "Installed skill weather as weather.md") {
		t.Fatalf("unexpected add output: %q", out)
	}
	if _, err := os.Stat(filepath.Join(home, config.ConfigDir, "skills", "weather.md")); err != nil {
		t.Fatalf("skill file missing: %v", err)
	}
	out, err = runRootCommand(t, "skills", "list")
	if err != nil || !strings.Contains(out, "check the forecast") {
		t.Fatalf("list: %v %q", err, out)
	}
	if _, err = runRootCommand(t, "skills", "remove", "weather"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err = runRootCommand(t, "skills", "remove", "weather"); err == nil {
		t.Fatal("expected error removing a missing skill")
	}
}
