package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHOptions configures an SSH connection to an agent host.
type SSHOptions struct {
	Host           string
	Port           int
	User           string
	Password       string        // password auth, used when KeyPath is empty
	KeyPath        string        // path to a private key file
	ConnectTimeout time.Duration // defaults to 10s
}

// SSHExecutor runs commands on a remote host over SSH.
type SSHExecutor struct {
	client *ssh.Client
}

// DialSSH opens an SSH connection with the given options.
func DialSSH(opts SSHOptions) (*SSHExecutor, error) {
	var auth []ssh.AuthMethod
	if opts.KeyPath != "" {
		keyData, err := os.ReadFile(opts.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key %s: %w", opts.KeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key %s: %w", opts.KeyPath, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if opts.Password != "" {
		auth = append(auth, ssh.Password(opts.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh %s: no key or password configured", opts.Host)
	}

	timeout := opts.ConnectTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	port := opts.Port
	if port == 0 {
		port = 22
	}

	cfg := &ssh.ClientConfig{
		User:    opts.User,
		Auth:    auth,
		Timeout: timeout,
		// Fleet hosts are registered by the operator; host keys are not
		// pinned in the roster yet.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
	}

	addr := net.JoinHostPort(opts.Host, fmt.Sprint(port))
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	return &SSHExecutor{client: client}, nil
}

// Exec runs command in a fresh session and returns its output.
func (e *SSHExecutor) Exec(ctx context.Context, command string) (*Result, error) {
	session, err := e.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close() //nolint:errcheck

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case err = <-done:
	}

	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return nil, fmt.Errorf("ssh exec: %w", err)
	}
	return res, nil
}

// PutContent writes content to remotePath by streaming it to a remote
// `cat > path` command. Parent directories are created first.
func (e *SSHExecutor) PutContent(ctx context.Context, content string, remotePath string) error {
	dir := filepath.ToSlash(filepath.Dir(remotePath))
	if res, err := e.Exec(ctx, fmt.Sprintf("mkdir -p %q", dir)); err != nil {
		return err
	} else if res.ExitCode != 0 {
		return fmt.Errorf("mkdir %s: %s", dir, res.Stderr)
	}

	session, err := e.client.NewSession()
	if err != nil {
		return fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close() //nolint:errcheck

	session.Stdin = bytes.NewReader([]byte(content))
	var stderr bytes.Buffer
	session.Stderr = &stderr

	if err := session.Run(fmt.Sprintf("cat > %q", remotePath)); err != nil {
		return fmt.Errorf("write %s: %w (%s)", remotePath, err, stderr.String())
	}
	return nil
}

// Close shuts down the SSH connection.
func (e *SSHExecutor) Close() error { return e.client.Close() }
