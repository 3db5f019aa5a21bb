package shell

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
)

// LocalExecutor runs commands on the local host via /bin/sh.
// It backs same-host agents and is the executor used by tests.
type LocalExecutor struct{}

// NewLocalExecutor returns an Executor for the local host.
func NewLocalExecutor() *LocalExecutor { return &LocalExecutor{} }

// Exec runs command through /bin/sh -c.
func (e *LocalExecutor) Exec(ctx context.Context, command string) (*Result, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, err
	}
	return res, nil
}

// PutContent writes content to path with 0644 permissions.
func (e *LocalExecutor) PutContent(_ context.Context, content string, remotePath string) error {
	if err := os.MkdirAll(filepath.Dir(remotePath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(remotePath, []byte(content), 0o644)
}

// Close is a no-op for the local executor.
func (e *LocalExecutor) Close() error { return nil }
