package tools

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentpilot/agentpilot/internal/provider"
)

const maxReadBytes = 1 << 20

// FilesWorker implements the files domain. When Root is set, every path
// must resolve inside it.
type FilesWorker struct {
	Root string
}

// NewFilesWorker creates a files worker. An empty root leaves paths unrestricted.
func NewFilesWorker(root string) *FilesWorker {
	return &FilesWorker{Root: normalizeRoot(root)}
}

func (w *FilesWorker) Domain() string { return "files" }

func (w *FilesWorker) Tools() []provider.ToolDefinition {
	pathOnly := objectSchema(map[string]any{"path": stringProp("File or directory path")}, "path")
	return []provider.ToolDefinition{
		provider.NewToolDefinition("read_file", "Read the contents of a text file.", pathOnly),
		provider.NewToolDefinition("write_file", "Write content to a file, creating parent directories if needed.",
			objectSchema(map[string]any{
				"path":    stringProp("The path to the file to write"),
				"content": stringProp("The content to write to the file"),
			}, "path", "content")),
		provider.NewToolDefinition("list_files", "List the entries of a directory.",
			objectSchema(map[string]any{"path": stringProp("Directory path (default: current directory)")})),
		provider.NewToolDefinition("delete_file", "Delete a file. Requires user confirmation.", pathOnly),
		provider.NewToolDefinition("move_file", "Move or rename a file.",
			objectSchema(map[string]any{
				"from": stringProp("Source path"),
				"to":   stringProp("Destination path"),
			}, "from", "to")),
	}
}

func (w *FilesWorker) Execute(ctx context.Context, req *ActionRequest) (*ActionResult, error) {
	switch req.Operation {
	case "read_file":
		return w.read(req.Params), nil
	case "write_file":
		return w.write(req.Params), nil
	case "list_files":
		return w.list(req.Params), nil
	case "delete_file":
		return w.remove(req.Params), nil
	case "move_file":
		return w.move(req.Params), nil
	}
	return UnknownOperation(req.Operation), nil
}

// resolve expands ~ and enforces Root.
func (w *FilesWorker) resolve(path string) (string, *ActionResult) {
	if strings.TrimSpace(path) == "" {
		return "", Fail("path is required")
	}
	path = expandPath(path)
	if !isWithin(w.Root, path) {
		return "", Fail("Path outside allowed root: %s", path)
	}
	return path, nil
}

func (w *FilesWorker) read(params map[string]any) *ActionResult {
	path, fail := w.resolve(GetString(params, "path", ""))
	if fail != nil {
		return fail
	}
	f, err := os.Open(path)
	if err != nil {
		return fileError(err, path)
	}
	defer f.Close()
	content, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
	if err != nil {
		return Fail("Error reading file: %v", err)
	}
	truncated := len(content) > maxReadBytes
	if truncated {
		content = content[:maxReadBytes]
	}
	return OK(map[string]any{"path": path, "content": string(content), "truncated": truncated})
}

func (w *FilesWorker) write(params map[string]any) *ActionResult {
	path, fail := w.resolve(GetString(params, "path", ""))
	if fail != nil {
		return fail
	}
	content := GetString(params, "content", "")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Fail("Error creating directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fileError(err, path)
	}
	return OK(map[string]any{"path": path, "bytes": len(content)})
}

func (w *FilesWorker) list(params map[string]any) *ActionResult {
	path, fail := w.resolve(GetString(params, "path", "."))
	if fail != nil {
		return fail
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return fileError(err, path)
	}
	out := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		item := map[string]any{"name": entry.Name(), "dir": entry.IsDir(), "size": int64(0)}
		if info, err := entry.Info(); err == nil && !entry.IsDir() {
			item["size"] = info.Size()
		}
		out = append(out, item)
	}
	return OK(map[string]any{"path": path, "entries": out})
}

func (w *FilesWorker) remove(params map[string]any) *ActionResult {
	path, fail := w.resolve(GetString(params, "path", ""))
	if fail != nil {
		return fail
	}
	info, err := os.Stat(path)
	if err != nil {
		return fileError(err, path)
	}
	if info.IsDir() {
		return Fail("Refusing to delete directory: %s", path)
	}
	if err := os.Remove(path); err != nil {
		return fileError(err, path)
	}
	return OK(map[string]any{"path": path, "deleted": true})
}

func (w *FilesWorker) move(params map[string]any) *ActionResult {
	from, fail := w.resolve(GetString(params, "from", ""))
	if fail != nil {
		return fail
	}
	to, fail := w.resolve(GetString(params, "to", ""))
	if fail != nil {
		return fail
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return Fail("Error creating directory: %v", err)
	}
	if err := os.Rename(from, to); err != nil {
		return fileError(err, from)
	}
	return OK(map[string]any{"from": from, "to": to})
}

func fileError(err error, path string) *ActionResult {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return Fail("File not found: %s", path)
	case errors.Is(err, os.ErrPermission):
		return Fail("Permission denied: %s", path)
	}
	return Fail("File operation failed: %v", err)
}

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path
}

func normalizeRoot(root string) string {
	if root == "" {
		return ""
	}
	return expandPath(root)
}

func isWithin(root, path string) bool {
	if root == "" {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".."
}
