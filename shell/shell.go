// Package shell provides remote command execution for fleet agents.
// Implementations exist for SSH hosts, local processes, and Docker
// containers; the rest of the system only sees the Executor interface.
package shell

import "context"

// Result holds the outcome of a single command execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor runs commands and places files on an agent host.
type Executor interface {
	// Exec runs a command and returns its output. A non-zero exit code is
	// reported in Result, not as an error; errors mean the transport failed.
	Exec(ctx context.Context, command string) (*Result, error)

	// PutContent writes content to remotePath, creating parent directories.
	PutContent(ctx context.Context, content string, remotePath string) error

	// Close releases the underlying connection.
	Close() error
}
