package fleet

import (
	"context"
	"strings"
	"time"

	"github.com/fleetsmith/armada/shell"
)

// DialOptions configure how DefaultDialer reaches agent hosts.
type DialOptions struct {
	SSHKeyPath  string
	SSHPassword string
	Timeout     time.Duration
}

// DefaultDialer picks an executor from the agent's host field: an empty
// host runs locally, a "docker://<container>" host execs into a container,
// anything else is dialed over SSH.
func DefaultDialer(opts DialOptions) Dialer {
	return func(a *Agent) (shell.Executor, error) {
		switch {
		case a.Host == "":
			return shell.NewLocalExecutor(), nil
		case strings.HasPrefix(a.Host, "docker://"):
			ctx, cancel := context.WithTimeout(context.Background(), dialTimeout(opts))
			defer cancel()
			return shell.DialDocker(ctx, strings.TrimPrefix(a.Host, "docker://"))
		default:
			return shell.DialSSH(shell.SSHOptions{
				Host:           a.Host,
				Port:           a.Port,
				User:           a.User,
				Password:       opts.SSHPassword,
				KeyPath:        opts.SSHKeyPath,
				ConnectTimeout: dialTimeout(opts),
			})
		}
	}
}

func dialTimeout(opts DialOptions) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	return 10 * time.Second
}
