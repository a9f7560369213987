package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/metawebart/formwatch/internal/logging"
)

// ExecSubmitter runs the form submitter as a child process so a crashed or
// wedged browser cannot take the scheduler down with it.
type ExecSubmitter struct {
	Path string
	Args []string
}

// NewExecSubmitter re-executes the running binary with the submit command.
// A non-empty catalogFile is forwarded so the child submits the same forms
// the parent verifies.
func NewExecSubmitter(catalogFile string) (*ExecSubmitter, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	return &ExecSubmitter{Path: exe, Args: submitArgs(catalogFile)}, nil
}

func submitArgs(catalogFile string) []string {
	args := []string{"submit"}
	if catalogFile != "" {
		args = append(args, "--catalog", catalogFile)
	}
	return args
}

// Submit runs the child to completion and returns its exit code. A non-zero
// exit is not an error; failing to start the process is, with code -1.
func (e *ExecSubmitter) Submit(ctx context.Context) (int, error) {
	log := logging.FromContext(ctx).With("component", "submitter")

	cmd := exec.CommandContext(ctx, e.Path, e.Args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if id, ok := logging.RunIDFromContext(ctx); ok {
		cmd.Env = append(os.Environ(), "FORMWATCH_RUN_ID="+id)
	}

	log.Info("starting submitter", "path", e.Path, "args", strings.Join(e.Args, " "))
	err := cmd.Run()

	if out := strings.TrimSpace(stdout.String()); out != "" {
		log.Info("submitter stdout", "output", out)
	}
	if out := strings.TrimSpace(stderr.String()); out != "" {
		log.Warn("submitter stderr", "output", out)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		log.Info("submitter finished", "exit_code", 0)
		return 0, nil
	case errors.As(err, &exitErr):
		log.Info("submitter finished", "exit_code", exitErr.ExitCode())
		return exitErr.ExitCode(), nil
	default:
		return -1, fmt.Errorf("failed to run submitter: %w", err)
	}
}
