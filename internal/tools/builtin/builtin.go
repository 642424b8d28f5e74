// Package builtin implements the non-browser tool categories spec.md §1
// lists alongside browser automation and MCP-backed services: scoped file
// I/O and a sandboxed shell, both bound to one task's working directory.
package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/AriseOS/amid/internal/common/constants"
	"github.com/AriseOS/amid/internal/common/portutil"
	"github.com/AriseOS/amid/internal/errkind"
	"github.com/AriseOS/amid/internal/tools"
)

// maxShellOutputBytes bounds how much combined stdout/stderr a shell tool
// result keeps, matching the dispatcher's own truncation posture for tool
// results rather than letting a runaway command blow the context ceiling.
const maxShellOutputBytes = 32 * 1024

// ForWorkdir returns the builtin tool set scoped to one task's working
// directory: read_file, write_file, list_directory, delete_file, run_shell.
func ForWorkdir(workdir string) []tools.Tool {
	return []tools.Tool{
		&readFileTool{workdir: workdir},
		&writeFileTool{workdir: workdir},
		&listDirectoryTool{workdir: workdir},
		&deleteFileTool{workdir: workdir},
		&runShellTool{workdir: workdir},
	}
}

type readFileTool struct{ workdir string }

func (t *readFileTool) Name() string  { return "read_file" }
func (t *readFileTool) Label() string { return "Read File" }
func (t *readFileTool) Description() string {
	return "Reads a file's contents from the task's working directory."
}
func (t *readFileTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
}
func (t *readFileTool) Async() bool { return false }
func (t *readFileTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return tools.Result{}, errkind.Wrap(errkind.InvalidInput, "invalid read_file params", err)
	}

	full, err := tools.ResolveWithinWorkdir(t.workdir, args.Path)
	if err != nil {
		return tools.Result{}, err
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return tools.Result{}, errkind.Wrap(errkind.NotFound, fmt.Sprintf("file %q not found", args.Path), err)
		}
		return tools.Result{}, errkind.Wrap(errkind.ToolFailure, "read_file failed", err)
	}
	return tools.TextResult(string(data)), nil
}

type writeFileTool struct{ workdir string }

func (t *writeFileTool) Name() string  { return "write_file" }
func (t *writeFileTool) Label() string { return "Write File" }
func (t *writeFileTool) Description() string {
	return "Writes (overwriting) a file under the task's working directory, creating parent directories as needed."
}
func (t *writeFileTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`)
}
func (t *writeFileTool) Async() bool { return false }
func (t *writeFileTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return tools.Result{}, errkind.Wrap(errkind.InvalidInput, "invalid write_file params", err)
	}

	full, err := tools.ResolveWithinWorkdir(t.workdir, args.Path)
	if err != nil {
		return tools.Result{}, err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return tools.Result{}, errkind.Wrap(errkind.ToolFailure, "write_file failed to create parent directory", err)
	}
	if err := os.WriteFile(full, []byte(args.Content), 0o644); err != nil {
		return tools.Result{}, errkind.Wrap(errkind.ToolFailure, "write_file failed", err)
	}
	return tools.TextResult(fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.Path)), nil
}

type listDirectoryTool struct{ workdir string }

func (t *listDirectoryTool) Name() string  { return "list_directory" }
func (t *listDirectoryTool) Label() string { return "List Directory" }
func (t *listDirectoryTool) Description() string {
	return "Lists files and directories under a path in the task's working directory."
}
func (t *listDirectoryTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"defaults to the working directory root"}}}`)
}
func (t *listDirectoryTool) Async() bool { return false }
func (t *listDirectoryTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		Path string `json:"path"`
	}
	_ = json.Unmarshal(params, &args)
	if args.Path == "" {
		args.Path = "."
	}

	full, err := tools.ResolveWithinWorkdir(t.workdir, args.Path)
	if err != nil {
		return tools.Result{}, err
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return tools.Result{}, errkind.Wrap(errkind.ToolFailure, "list_directory failed", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	text := fmt.Sprintf("%d entries", len(names))
	for _, n := range names {
		text += "\n" + n
	}
	return tools.TextResult(text), nil
}

type deleteFileTool struct{ workdir string }

func (t *deleteFileTool) Name() string  { return "delete_file" }
func (t *deleteFileTool) Label() string { return "Delete File" }
func (t *deleteFileTool) Description() string {
	return "Deletes a single file under the task's working directory."
}
func (t *deleteFileTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
}
func (t *deleteFileTool) Async() bool { return false }
func (t *deleteFileTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return tools.Result{}, errkind.Wrap(errkind.InvalidInput, "invalid delete_file params", err)
	}

	full, err := tools.ResolveWithinWorkdir(t.workdir, args.Path)
	if err != nil {
		return tools.Result{}, err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return tools.Result{}, errkind.Wrap(errkind.NotFound, fmt.Sprintf("file %q not found", args.Path), err)
		}
		return tools.Result{}, errkind.Wrap(errkind.ToolFailure, "delete_file failed", err)
	}
	return tools.TextResult(fmt.Sprintf("deleted %s", args.Path)), nil
}

type runShellTool struct{ workdir string }

func (t *runShellTool) Name() string  { return "run_shell" }
func (t *runShellTool) Label() string { return "Run Shell Command" }
func (t *runShellTool) Description() string {
	return "Runs a shell command with the task's working directory as cwd. Times out after 120s by default (cap 600s)."
}
func (t *runShellTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"},"timeout_seconds":{"type":"integer"}},"required":["command"]}`)
}
func (t *runShellTool) Async() bool { return true }
func (t *runShellTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		Command        string `json:"command"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(params, &args); err != nil || args.Command == "" {
		return tools.Result{}, errkind.New(errkind.InvalidInput, "command is required")
	}

	// A code agent starting a dev/preview server rarely knows a free port up
	// front; $PORT/${PORT}-style placeholders get a real allocated port so
	// the command never collides with another task's server.
	command, portEnv, err := portutil.TransformCommand(args.Command)
	if err != nil {
		return tools.Result{}, errkind.Wrap(errkind.ToolFailure, "port placeholder allocation failed", err)
	}

	timeout := constants.ShellCommandTimeout
	if args.TimeoutSeconds > 0 {
		timeout = time.Duration(args.TimeoutSeconds) * time.Second
		if timeout > constants.ShellCommandTimeoutCap {
			timeout = constants.ShellCommandTimeoutCap
		}
	}

	runCtx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	shellPath := os.Getenv("SHELL")
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(runCtx, "cmd", "/C", command)
	} else if shellPath != "" {
		cmd = exec.CommandContext(runCtx, shellPath, "-c", command)
	} else {
		cmd = exec.CommandContext(runCtx, "sh", "-c", command)
	}
	cmd.Dir = t.workdir
	if len(portEnv) > 0 {
		cmd.Env = os.Environ()
		for k, v := range portEnv {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	done := make(chan error, 1)
	if err := cmd.Start(); err != nil {
		return tools.Result{}, errkind.Wrap(errkind.ToolFailure, "failed to start command", err)
	}
	go func() { done <- cmd.Wait() }()

	select {
	case <-cancel:
		_ = cmd.Process.Kill()
		return tools.Result{}, errkind.New(errkind.Cancelled, "run_shell cancelled")
	case err := <-done:
		text := out.String()
		if len(text) > maxShellOutputBytes {
			text = text[:maxShellOutputBytes] + "\n...(truncated)"
		}
		if err != nil {
			if runCtx.Err() != nil {
				return tools.Result{}, errkind.Wrap(errkind.Timeout, fmt.Sprintf("command timed out after %s", timeout), err)
			}
			return tools.TextResult(fmt.Sprintf("exit error: %v\n%s", err, text)), nil
		}
		result := tools.TextResult(text)
		if len(portEnv) > 0 {
			details := make(map[string]interface{}, len(portEnv))
			for k, v := range portEnv {
				details[k] = v
			}
			result.Details = details
		}
		return result, nil
	}
}
