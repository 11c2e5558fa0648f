package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/agentpilot/agentpilot/internal/provider"
)

var unsafeNoteChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// NotesWorker keeps markdown notes in a directory.
type NotesWorker struct {
	dir string
	now func() time.Time
}

// NewNotesWorker creates the notes directory if it does not exist.
func NewNotesWorker(dir string) (*NotesWorker, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create notes dir: %w", err)
	}
	return &NotesWorker{dir: dir, now: time.Now}, nil
}

func (w *NotesWorker) Domain() string { return "notes" }

func (w *NotesWorker) Tools() []provider.ToolDefinition {
	nameContent := objectSchema(map[string]any{
		"name":    stringProp("Note name"),
		"content": stringProp("Note content (markdown)"),
	}, "name", "content")
	return []provider.ToolDefinition{
		provider.NewToolDefinition("create_note", "Create a new note with a name and content", nameContent),
		provider.NewToolDefinition("append_note", "Append content to an existing note", nameContent),
		provider.NewToolDefinition("read_note", "Read the contents of a note",
			objectSchema(map[string]any{"name": stringProp("Note name to read")}, "name")),
		provider.NewToolDefinition("list_notes", "List all saved notes", objectSchema(map[string]any{})),
		provider.NewToolDefinition("search_notes", "Search through notes by keyword",
			objectSchema(map[string]any{"query": stringProp("Search term")}, "query")),
	}
}

func (w *NotesWorker) Execute(ctx context.Context, req *ActionRequest) (*ActionResult, error) {
	switch req.Operation {
	case "create_note":
		return w.create(req.Params), nil
	case "append_note":
		return w.appendTo(req.Params), nil
	case "read_note":
		return w.read(req.Params), nil
	case "list_notes":
		return w.list(), nil
	case "search_notes":
		return w.search(req.Params), nil
	}
	return UnknownOperation(req.Operation), nil
}

// SanitizeNoteName maps a note name to its file stem.
func SanitizeNoteName(name string) string {
	s := unsafeNoteChars.ReplaceAllString(name, "_")
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}

func (w *NotesWorker) path(name string) string {
	return filepath.Join(w.dir, SanitizeNoteName(name)+".md")
}

func (w *NotesWorker) stamp() string {
	return w.now().UTC().Format(time.RFC3339)
}

func (w *NotesWorker) create(params map[string]any) *ActionResult {
	name, content := GetString(params, "name", ""), GetString(params, "content", "")
	if name == "" || content == "" {
		return Fail("Missing name or content")
	}
	path := w.path(name)
	header := fmt.Sprintf("# %s\n_Created: %s_\n\n", name, w.stamp())
	if err := os.WriteFile(path, []byte(header+content), 0o644); err != nil {
		return Fail("Error writing note: %v", err)
	}
	return OK(map[string]any{"name": name, "path": path})
}

func (w *NotesWorker) appendTo(params map[string]any) *ActionResult {
	name, content := GetString(params, "name", ""), GetString(params, "content", "")
	if name == "" || content == "" {
		return Fail("Missing name or content")
	}
	path := w.path(name)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrNotExist) {
		return Fail("Note %q not found", name)
	}
	if err != nil {
		return Fail("Error opening note: %v", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "\n\n---\n_Updated: %s_\n\n%s", w.stamp(), content); err != nil {
		return Fail("Error writing note: %v", err)
	}
	return OK(map[string]any{"name": name, "path": path})
}

func (w *NotesWorker) read(params map[string]any) *ActionResult {
	name := GetString(params, "name", "")
	if name == "" {
		return Fail("Missing note name")
	}
	content, err := os.ReadFile(w.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return Fail("Note %q not found", name)
	}
	if err != nil {
		return Fail("Error reading note: %v", err)
	}
	return OK(map[string]any{"name": name, "content": string(content)})
}

func (w *NotesWorker) noteNames() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, strings.TrimSuffix(e.Name(), ".md"))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (w *NotesWorker) list() *ActionResult {
	names, err := w.noteNames()
	if err != nil {
		return Fail("Error listing notes: %v", err)
	}
	return OK(map[string]any{"notes": names, "count": len(names)})
}

func (w *NotesWorker) search(params map[string]any) *ActionResult {
	query := strings.ToLower(GetString(params, "query", ""))
	if query == "" {
		return Fail("Missing search query")
	}
	names, err := w.noteNames()
	if err != nil {
		return Fail("Error listing notes: %v", err)
	}
	matches := []map[string]any{}
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(w.dir, name+".md"))
		if err != nil {
			continue
		}
		content := string(raw)
		idx := strings.Index(strings.ToLower(content), query)
		if idx < 0 {
			continue
		}
		start := max(0, idx-50)
		end := min(len(content), idx+len(query)+50)
		matches = append(matches, map[string]any{
			"name":    name,
			"preview": "..." + content[start:end] + "...",
		})
	}
	return OK(map[string]any{"query": query, "matches": matches, "count": len(matches)})
}
