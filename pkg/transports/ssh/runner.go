package ssh

import (
	"context"
	"fmt"
	"sync"

	"github.com/converge-sh/converge/pkg/capability"
	"github.com/converge-sh/converge/pkg/inventory"
)

// Runner is the SSH implementation of the capability runner. It lazily
// establishes one connection per host and shares it across the host's
// provider calls; hosts converging in parallel never contend on each
// other's connections.
type Runner struct {
	config *Config

	mu      sync.Mutex
	clients map[string]*client
}

var (
	_ capability.Runner   = (*Runner)(nil)
	_ capability.Uploader = (*Runner)(nil)
)

// NewRunner creates an SSH runner from a base configuration.
func NewRunner(cfg *Config) (*Runner, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ssh config: %w", err)
	}
	return &Runner{
		config:  cfg,
		clients: make(map[string]*client),
	}, nil
}

// Execute runs a command on the host. Non-zero exit codes are returned in
// the result; the error covers connection and session failures only.
func (r *Runner) Execute(ctx context.Context, host *inventory.Host, command string, elevated bool) (*capability.ExecResult, error) {
	cl, err := r.clientFor(ctx, host)
	if err != nil {
		return nil, err
	}

	stdout, stderr, exitCode, err := cl.execute(ctx, command, elevated)
	if err != nil {
		return nil, err
	}
	return &capability.ExecResult{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
	}, nil
}

// Upload transfers content to a remote path over SFTP.
func (r *Runner) Upload(ctx context.Context, host *inventory.Host, content []byte, remotePath string) error {
	cl, err := r.clientFor(ctx, host)
	if err != nil {
		return err
	}
	return cl.upload(ctx, content, remotePath)
}

// Close tears down every open connection. Called once at the end of a run.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, cl := range r.clients {
		if err := cl.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.clients = make(map[string]*client)
	return firstErr
}

// ConnectionInfo returns details about a host's connection, if one exists.
func (r *Runner) ConnectionInfo(hostID string) (ConnectionInfo, bool) {
	r.mu.Lock()
	cl, ok := r.clients[hostID]
	r.mu.Unlock()
	if !ok {
		return ConnectionInfo{}, false
	}
	return cl.info(), true
}

// clientFor returns the host's client, dialing on first use.
func (r *Runner) clientFor(ctx context.Context, host *inventory.Host) (*client, error) {
	r.mu.Lock()
	cl, ok := r.clients[host.ID]
	if !ok {
		hc, err := r.config.forHost(host)
		if err != nil {
			r.mu.Unlock()
			return nil, &TransportError{Op: "configure", Host: host.ID, Err: err}
		}
		sshConf, err := r.config.buildClientConfig(hc)
		if err != nil {
			r.mu.Unlock()
			return nil, &TransportError{Op: "configure", Host: host.ID, Err: err, IsAuthError: true}
		}
		cl = newClient(host.ID, hc, r.config, sshConf)
		r.clients[host.ID] = cl
	}
	r.mu.Unlock()

	if err := cl.connect(ctx); err != nil {
		return nil, err
	}
	return cl, nil
}
