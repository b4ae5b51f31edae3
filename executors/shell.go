package executors

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/deepnoodle-ai/chronograph"
)

// ShellInput defines the input parameters for the shell executor
type ShellInput struct {
	Command     string            `json:"command"`
	Args        []string          `json:"args"`
	WorkingDir  string            `json:"working_dir"`
	Environment map[string]string `json:"environment"`
}

// ShellExecutor runs shell commands
type ShellExecutor struct{}

func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{}
}

func (e *ShellExecutor) Name() string {
	return "shell"
}

func (e *ShellExecutor) Execute(ctx context.Context, params map[string]any) (any, error) {
	var input ShellInput
	if err := decodeParams(params, &input); err != nil {
		return nil, err
	}
	if input.Command == "" {
		return nil, fmt.Errorf("command cannot be empty")
	}

	if logger, ok := chronograph.GetLoggerFromContext(ctx); ok {
		logger.Debug("running shell command",
			"command", input.Command,
			"args", input.Args)
	}

	// The node timeout applies through ctx
	cmd := exec.CommandContext(ctx, input.Command, input.Args...)

	if input.WorkingDir != "" {
		cmd.Dir = input.WorkingDir
	}
	cmd.Env = os.Environ()
	// Commands can correlate their own output with the run that spawned them.
	if runID, ok := chronograph.GetRunIDFromContext(ctx); ok {
		cmd.Env = append(cmd.Env, "CHRONOGRAPH_RUN_ID="+runID)
	}
	for key, value := range input.Environment {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	stdout, err := cmd.Output()
	var stderr []byte
	var exitCode int

	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			stderr = exitError.Stderr
			if status, ok := exitError.Sys().(syscall.WaitStatus); ok {
				exitCode = status.ExitStatus()
			}
		} else {
			return nil, fmt.Errorf("failed to execute command: %w", err)
		}
	}

	return map[string]any{
		"stdout":    strings.TrimSpace(string(stdout)),
		"stderr":    strings.TrimSpace(string(stderr)),
		"exit_code": exitCode,
		"success":   exitCode == 0,
	}, nil
}
