package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/agentpilot/agentpilot/internal/provider"
)

// DenyPatterns contains regex patterns for dangerous commands.
var DenyPatterns = []string{
	`\brm\s+(-[rRf]+\s+)*(/|~/?)(\s|$|\*)`, // rm on root or home
	`\brm\s+-[rRf]*\s+--no-preserve-root`,
	`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`, // fork bomb
	`\bdd\b.*\bof=/dev/`,                       // dd to device
	`\bmkfs(\.\w+)?\b`,                         // filesystem format
	`\bfdisk\b`,                                // partition tool
	`>\s*/dev/(sd|nvme|hd|disk)`,               // redirect to block device
	`\bchmod\s+-R\s+777\s+/(\s|$)`,             // chmod 777 on root
	`\bshutdown\b`,                             // shutdown
	`\breboot\b`,                               // reboot
	`\bhalt\b`,                                 // halt
	`\bpoweroff\b`,                             // poweroff
	`\binit\s+[06]\b`,                          // init level change
}

const (
	defaultShellTimeout = 30 * time.Second
	maxShellOutput      = 10000
	blockedMessage      = "Command blocked by safety policy"
)

// ShellWorker implements the shell domain. shell_exec is destructive and
// always goes through confirmation.
type ShellWorker struct {
	Timeout     time.Duration
	WorkDir     string
	denyRegexes []*regexp.Regexp
}

// NewShellWorker creates a shell worker. A zero timeout uses 30s.
func NewShellWorker(timeout time.Duration, workDir string) *ShellWorker {
	if timeout <= 0 {
		timeout = defaultShellTimeout
	}
	denyRegexes := make([]*regexp.Regexp, 0, len(DenyPatterns))
	for _, pattern := range DenyPatterns {
		denyRegexes = append(denyRegexes, regexp.MustCompile(pattern))
	}
	return &ShellWorker{Timeout: timeout, WorkDir: workDir, denyRegexes: denyRegexes}
}

func (w *ShellWorker) Domain() string { return "shell" }

func (w *ShellWorker) Tools() []provider.ToolDefinition {
	return []provider.ToolDefinition{
		provider.NewToolDefinition("shell_exec", "Execute a shell command. Requires user confirmation.",
			objectSchema(map[string]any{
				"command": stringProp("Shell command to execute"),
				"cwd":     stringProp("Working directory"),
				"timeout": intProp("Timeout in ms (default 30000)"),
			}, "command")),
	}
}

func (w *ShellWorker) Execute(ctx context.Context, req *ActionRequest) (*ActionResult, error) {
	if req.Operation != "shell_exec" {
		return UnknownOperation(req.Operation), nil
	}
	command := GetString(req.Params, "command", "")
	if command == "" {
		return Fail("Missing command"), nil
	}
	if w.Blocked(command) {
		return Fail(blockedMessage), nil
	}

	timeout := w.Timeout
	if ms := GetInt(req.Params, "timeout", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = w.WorkDir
	if cwd := GetString(req.Params, "cwd", ""); cwd != "" {
		cmd.Dir = expandPath(cwd)
	}
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Fail("Command timed out after %dms", timeout.Milliseconds()), nil
	}
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Fail("Error executing command: %v", err), nil
		}
		exitCode = exitErr.ExitCode()
	}

	return &ActionResult{
		Success: exitCode == 0,
		Data: map[string]any{
			"stdout":   truncate(stdout.String(), maxShellOutput),
			"stderr":   truncate(stderr.String(), maxShellOutput),
			"exitCode": exitCode,
		},
	}, nil
}

// Blocked reports whether the command matches a deny pattern.
func (w *ShellWorker) Blocked(command string) bool {
	for _, re := range w.denyRegexes {
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
