package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultCommandTimeout = 120 * time.Second
	maxCommandTimeout     = 600 * time.Second
)

// ExecuteCommandTool runs a shell command in the workspace.
type ExecuteCommandTool struct {
	ws      Workspace
	timeout time.Duration
}

func (t *ExecuteCommandTool) Name() string                     { return "execute_command" }
func (t *ExecuteCommandTool) IsReadOnly() bool                 { return false }
func (t *ExecuteCommandTool) PermissionLevel() PermissionLevel { return PermissionExecute }

func (t *ExecuteCommandTool) Description() string {
	return "Execute a CLI command on the system. Use this when you need to perform system operations " +
		"or run specific commands to accomplish any step in the user's task. Tailor the command to the " +
		"user's system and explain what it does. Prefer complex CLI commands over creating executable " +
		"scripts. Commands run in the current working directory."
}

func (t *ExecuteCommandTool) Params() []ParamSpec {
	return []ParamSpec{
		{Name: "command", Required: true, Description: "The CLI command to execute. This should be valid for the current operating system."},
	}
}

func (t *ExecuteCommandTool) Preview(params map[string]string, _ bool) Preview {
	return Preview{Kind: PreviewCommand, Text: params["command"]}
}

func (t *ExecuteCommandTool) Execute(ctx context.Context, params map[string]string) (Result, error) {
	command := strings.TrimSpace(params["command"])
	if command == "" {
		return Result{}, fmt.Errorf("command is required")
	}
	return RunCommand(ctx, t.ws, command, t.timeout)
}

// RunCommand runs command with the user's shell in ws. It is shared with
// attempt_completion, whose optional command demonstrates the result.
func RunCommand(ctx context.Context, ws Workspace, command string, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	timeout = min(timeout, maxCommandTimeout)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, shellBin(), "-c", command)
	cmd.Dir = ws.Dir
	out, err := cmd.CombinedOutput()
	output := strings.TrimRight(string(out), "\n")

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			secs := int(timeout.Seconds())
			return Result{
				Content: fmt.Sprintf("Command timed out after %dm%ds\nOutput:\n%s", secs/60, secs%60, output),
				IsError: true,
			}, nil
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return Result{}, fmt.Errorf("cancelled")
		}
		return Result{
			Content: fmt.Sprintf("Command failed: %v\nOutput:\n%s", err, output),
			IsError: true,
		}, nil
	}

	if output == "" {
		return Result{Content: "Command executed."}, nil
	}
	return Result{Content: "Command executed.\nOutput:\n" + output}, nil
}

// shellBin returns the user's preferred shell, falling back to bash then sh.
func shellBin() string {
	if s := os.Getenv("SHELL"); s != "" {
		if _, err := os.Stat(s); err == nil {
			return s
		}
	}
	if p, err := exec.LookPath("bash"); err == nil {
		return p
	}
	return "sh"
}
