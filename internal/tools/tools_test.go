package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentpilot/agentpilot/internal/provider"
)

type stubWorker struct {
	domain string
	names  []string
}

func (s *stubWorker) Domain() string { return s.domain }

func (s *stubWorker) Tools() []provider.ToolDefinition {
	defs := make([]provider.ToolDefinition, 0, len(s.names))
	for _, n := range s.names {
		defs = append(defs, provider.NewToolDefinition(n, n, nil))
	}
	return defs
}

func (s *stubWorker) Execute(context.Context, *ActionRequest) (*ActionResult, error) {
	return OK(nil), nil
}

func TestRegistryRejectsDuplicateToolNames(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&stubWorker{domain: "a", names: []string{"one", "two"}}); err != nil {
		t.Fatalf("register a: %v", err)
	}
	err := r.Register(&stubWorker{domain: "b", names: []string{"three", "two"}})
	if err == nil || !strings.Contains(err.Error(), `"two"`) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, ok := r.WorkerFor("three"); ok {
		t.Fatal("rejected worker must not be partially registered")
	}
	if err := r.Register(&stubWorker{domain: "c", names: []string{"x", "x"}}); err == nil {
		t.Fatal("expected error for a worker declaring a tool twice")
	}

	w, ok := r.WorkerFor("two")
	if !ok || w.Domain() != "a" {
		t.Fatalf("expected two owned by a, got %v", w)
	}
	if len(r.Tools()) != 2 || len(r.Workers()) != 1 {
		t.Fatalf("unexpected catalog: %d tools, %d workers", len(r.Tools()), len(r.Workers()))
	}
	if got := strings.Join(r.ToolNames(), ","); got != "one,two" {
		t.Fatalf("unexpected names %s", got)
	}
}

func TestStandardWorkersHaveDistinctTools(t *testing.T) {
	notes, err := NewNotesWorker(t.TempDir())
	if err != nil {
		t.Fatalf("notes: %v", err)
	}
	r := NewRegistry()
	for _, w := range []Worker{
		NewBrowserWorker("", "", 0),
		NewEmailWorkerWith(nil, nil),
		NewFilesWorker(""),
		notes,
		NewScheduleWorker(nil),
		NewShellWorker(0, ""),
	} {
		if err := r.Register(w); err != nil {
			t.Fatalf("register %s: %v", w.Domain(), err)
		}
	}
	if len(r.Tools()) != 2+2+5+5+3+1 {
		t.Fatalf("unexpected tool count %d", len(r.Tools()))
	}
}

func TestParamHelpers(t *testing.T) {
	var params map[string]any
	_ = json.Unmarshal([]byte(`{"s":"x","n":7,"b":true}`), &params)
	if GetString(params, "s", "") != "x" || GetString(params, "n", "d") != "d" {
		t.Fatal("GetString mismatch")
	}
	if GetInt(params, "n", 0) != 7 || GetInt(params, "missing", 3) != 3 {
		t.Fatal("GetInt mismatch")
	}
	if !GetBool(params, "b", false) {
		t.Fatal("GetBool mismatch")
	}
	if _, ok := requireStrings(map[string]any{"a": " "}, "a"); ok {
		t.Fatal("blank value should fail requireStrings")
	}
}

func TestResultJSON(t *testing.T) {
	got := string(Fail("Unknown tool: %s", "x").JSON())
	if got != `{"success":false,"error":"Unknown tool: x"}` {
		t.Fatalf("unexpected json %s", got)
	}
	if !strings.Contains(string(OK(map[string]any{"k": 1}).JSON()), `"data":{"k":1}`) {
		t.Fatal("expected data in json")
	}
}

func run(t *testing.T, w Worker, op string, params map[string]any) *ActionResult {
	t.Helper()
	res, err := w.Execute(context.Background(), &ActionRequest{Domain: w.Domain(), Operation: op, Params: params, UserID: "u1", ChannelType: "telegram", ChannelID: "42"})
	if err != nil {
		t.Fatalf("%s: unexpected error %v", op, err)
	}
	return res
}

func data(t *testing.T, res *ActionResult) map[string]any {
	t.Helper()
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	m, ok := res.Data.(map[string]any)
	if !ok {
		t.Fatalf("unexpected data type %T", res.Data)
	}
	return m
}

func TestFilesWorkerLifecycle(t *testing.T) {
	root := t.TempDir()
	w := NewFilesWorker(root)
	path := filepath.Join(root, "sub", "a.txt")

	d := data(t, run(t, w, "write_file", map[string]any{"path": path, "content": "hello"}))
	if d["bytes"] != 5 {
		t.Fatalf("unexpected write result %v", d)
	}
	d = data(t, run(t, w, "read_file", map[string]any{"path": path}))
	if d["content"] != "hello" || d["truncated"] != false {
		t.Fatalf("unexpected read %v", d)
	}

	moved := filepath.Join(root, "b.txt")
	data(t, run(t, w, "move_file", map[string]any{"from": path, "to": moved}))
	d = data(t, run(t, w, "list_files", map[string]any{"path": root}))
	entries := d["entries"].([]map[string]any)
	if len(entries) != 2 {
		t.Fatalf("expected b.txt and sub, got %v", entries)
	}

	data(t, run(t, w, "delete_file", map[string]any{"path": moved}))
	if _, err := os.Stat(moved); !os.IsNotExist(err) {
		t.Fatal("file should be gone")
	}
	res := run(t, w, "read_file", map[string]any{"path": moved})
	if res.Success || !strings.HasPrefix(res.Error, "File not found") {
		t.Fatalf("expected not found, got %+v", res)
	}
}

func TestFilesWorkerRootAndErrors(t *testing.T) {
	w := NewFilesWorker(t.TempDir())
	res := run(t, w, "read_file", map[string]any{"path": "/etc/hostname"})
	if res.Success || !strings.Contains(res.Error, "outside allowed root") {
		t.Fatalf("expected root violation, got %+v", res)
	}
	res = run(t, w, "read_file", map[string]any{})
	if res.Success || res.Error != "path is required" {
		t.Fatalf("expected missing path, got %+v", res)
	}
	res = run(t, w, "chmod", nil)
	if res.Error != "Unknown operation: chmod" {
		t.Fatalf("unexpected %+v", res)
	}
}

func TestNotesWorker(t *testing.T) {
	dir := t.TempDir()
	w, err := NewNotesWorker(dir)
	if err != nil {
		t.Fatalf("new notes: %v", err)
	}
	w.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }

	data(t, run(t, w, "create_note", map[string]any{"name": "Shopping list!", "content": "milk and honey"}))
	raw, err := os.ReadFile(filepath.Join(dir, "Shopping_list_.md"))
	if err != nil {
		t.Fatalf("note file: %v", err)
	}
	if string(raw) != "# Shopping list!\n_Created: 2026-03-01T09:30:00Z_\n\nmilk and honey" {
		t.Fatalf("unexpected note body %q", raw)
	}

	data(t, run(t, w, "append_note", map[string]any{"name": "Shopping list!", "content": "eggs"}))
	d := data(t, run(t, w, "read_note", map[string]any{"name": "Shopping list!"}))
	if !strings.HasSuffix(d["content"].(string), "\n\n---\n_Updated: 2026-03-01T09:30:00Z_\n\neggs") {
		t.Fatalf("unexpected appended content %q", d["content"])
	}

	res := run(t, w, "append_note", map[string]any{"name": "nope", "content": "x"})
	if res.Error != `Note "nope" not found` {
		t.Fatalf("unexpected %+v", res)
	}

	d = data(t, run(t, w, "list_notes", nil))
	if d["count"] != 1 {
		t.Fatalf("unexpected list %v", d)
	}

	d = data(t, run(t, w, "search_notes", map[string]any{"query": "HONEY"}))
	matches := d["matches"].([]map[string]any)
	if len(matches) != 1 || !strings.Contains(matches[0]["preview"].(string), "honey") {
		t.Fatalf("unexpected matches %v", matches)
	}
	if p := matches[0]["preview"].(string); !strings.HasPrefix(p, "...") || !strings.HasSuffix(p, "...") {
		t.Fatalf("preview not wrapped: %q", p)
	}
}

func TestSanitizeNoteName(t *testing.T) {
	if got := SanitizeNoteName("a b/c.d"); got != "a_b_c_d" {
		t.Fatalf("unexpected %q", got)
	}
	if got := SanitizeNoteName(strings.Repeat("x", 150)); len(got) != 100 {
		t.Fatalf("expected truncation to 100, got %d", len(got))
	}
}
