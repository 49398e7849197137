package ssh

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// client maintains one SSH connection to one host and runs commands over
// fresh sessions. Sessions are cheap; connections are not, so the connection
// lives for the duration of the run.
type client struct {
	hostID  string
	hc      *hostConfig
	config  *Config
	sshConf *ssh.ClientConfig

	connMu      sync.RWMutex
	conn        *ssh.Client
	isConnected bool
	connectedAt time.Time
	lastUsedAt  time.Time
}

func newClient(hostID string, hc *hostConfig, cfg *Config, sshConf *ssh.ClientConfig) *client {
	return &client{
		hostID:  hostID,
		hc:      hc,
		config:  cfg,
		sshConf: sshConf,
	}
}

// connect establishes the SSH connection, reusing a live one when possible.
func (c *client) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.isConnected && c.conn != nil {
		if err := c.healthCheckInternal(); err == nil {
			return nil
		}
		log.Warn().Str("host", c.hostID).Msg("existing connection is dead, reconnecting")
		_ = c.conn.Close()
	}

	address := c.hc.Address()
	log.Debug().Str("host", c.hostID).Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		conn, err := ssh.Dial("tcp", address, c.sshConf)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- conn
	}()

	select {
	case <-ctx.Done():
		return &TransportError{
			Op:          "connect",
			Host:        c.hostID,
			Err:         ctx.Err(),
			IsTemporary: true,
		}
	case err := <-errChan:
		return &TransportError{
			Op:          "connect",
			Host:        c.hostID,
			Err:         err,
			IsTemporary: true,
		}
	case conn := <-connChan:
		c.conn = conn
		c.isConnected = true
		c.connectedAt = time.Now()
		c.lastUsedAt = time.Now()

		if c.config.KeepAliveInterval > 0 {
			go c.keepAlive()
		}

		log.Info().Str("host", c.hostID).Str("address", address).Msg("SSH connection established")
		return nil
	}
}

// execute runs one command over a new session. A non-zero exit status is a
// result, not an error; errors are reserved for transport failures.
func (c *client) execute(ctx context.Context, cmd string, elevated bool) (stdout, stderr string, exitCode int, err error) {
	conn, err := c.getConn()
	if err != nil {
		return "", "", -1, err
	}

	session, err := conn.NewSession()
	if err != nil {
		return "", "", -1, &TransportError{
			Op:          "execute",
			Host:        c.hostID,
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	finalCmd := cmd
	if elevated {
		if c.config.SudoPassword != "" {
			finalCmd = fmt.Sprintf("echo '%s' | sudo -S %s", c.config.SudoPassword, cmd)
		} else {
			finalCmd = fmt.Sprintf("sudo %s", cmd)
		}
	}

	startTime := time.Now()
	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(finalCmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		execErr = ctx.Err()
	case execErr = <-doneChan:
	}

	stdout = strings.TrimSpace(stdoutBuf.String())
	stderr = strings.TrimSpace(stderrBuf.String())

	log.Debug().
		Str("host", c.hostID).
		Str("command", cmd).
		Bool("elevated", elevated).
		Dur("duration", time.Since(startTime)).
		Err(execErr).
		Msg("command completed")

	if execErr != nil {
		if exitErr, ok := execErr.(*ssh.ExitError); ok {
			return stdout, stderr, exitErr.ExitStatus(), nil
		}
		return stdout, stderr, -1, &TransportError{
			Op:          "execute",
			Host:        c.hostID,
			Err:         execErr,
			IsTemporary: true,
		}
	}

	return stdout, stderr, 0, nil
}

// close tears down the connection.
func (c *client) close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.isConnected || c.conn == nil {
		return nil
	}

	log.Debug().Str("host", c.hostID).Msg("closing SSH connection")

	err := c.conn.Close()
	c.conn = nil
	c.isConnected = false

	if err != nil {
		return &TransportError{
			Op:   "disconnect",
			Host: c.hostID,
			Err:  err,
		}
	}
	return nil
}

// getConn returns the live SSH connection and stamps last activity. It takes
// the write lock: hosts converge in parallel and lastUsedAt is mutable state.
func (c *client) getConn() (*ssh.Client, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.isConnected || c.conn == nil {
		return nil, &TransportError{
			Op:   "get-conn",
			Host: c.hostID,
			Err:  fmt.Errorf("not connected"),
		}
	}

	c.lastUsedAt = time.Now()
	return c.conn, nil
}

// healthCheckInternal verifies liveness (must be called with lock held).
func (c *client) healthCheckInternal() error {
	session, err := c.conn.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()
	return session.Run("true")
}

// keepAlive sends periodic keep-alive messages to keep the connection alive.
func (c *client) keepAlive() {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	for range ticker.C {
		c.connMu.RLock()
		if !c.isConnected || c.conn == nil {
			c.connMu.RUnlock()
			return
		}
		conn := c.conn
		c.connMu.RUnlock()

		_, _, err := conn.SendRequest("keepalive@openssh.com", true, nil)
		if err != nil {
			retries++
			log.Warn().Err(err).Str("host", c.hostID).Int("retries", retries).Msg("keep-alive failed")
			if retries >= c.config.MaxKeepAliveRetries {
				log.Error().Str("host", c.hostID).Msg("keep-alive failed too many times, connection may be dead")
				return
			}
		} else {
			retries = 0
		}
	}
}

// info returns details about the connection.
func (c *client) info() ConnectionInfo {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	return ConnectionInfo{
		Host:         c.hc.address,
		Port:         c.hc.port,
		User:         c.hc.user,
		ConnectedAt:  c.connectedAt,
		LastActivity: c.lastUsedAt,
	}
}
