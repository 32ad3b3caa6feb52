package cmake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// ErrExternalTool is returned when a child process cannot be launched or
// exits unsuccessfully.
var ErrExternalTool = errors.New("external tool failed")

// Cmd is a child process invocation.
type Cmd struct {
	Name string
	Args []string
	Dir  string
	Env  []string
}

func (c Cmd) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner runs a command to completion. Implementations block until the
// child exits; its exit status decides the result.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) error
}

// ExecRunner runs commands with os/exec, streaming their output. Output goes
// to stderr by default since stdout carries link directives.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (r ExecRunner) Run(ctx context.Context, c Cmd) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stderr
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	slog.Info("running", "cmd", c.String(), "dir", c.Dir)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: %s exited with status %d", ErrExternalTool, c.Name, exitErr.ExitCode())
		}
		return fmt.Errorf("%w: %s: %v", ErrExternalTool, c.Name, err)
	}
	return nil
}
