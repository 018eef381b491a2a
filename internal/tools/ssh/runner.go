// Package ssh implements the remote-execution tools: ssh_exec for a
// single host and ssh_exec_batch for fleet-wide fan-out. Both resolve
// hosts through the inventory, route policy decisions through the
// shared gatekeeper, and run commands over the Runner transport.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/mrtian2016/flowpilot/internal/inventory"
	"github.com/mrtian2016/flowpilot/internal/observability"
)

const (
	// DefaultCommandTimeout bounds one remote command when the call
	// does not set its own.
	DefaultCommandTimeout = 30 * time.Second

	dialTimeout = 10 * time.Second
)

// Runner executes shell commands on inventory hosts over SSH,
// tunnelling through the host's jump entry when one is configured.
type Runner struct {
	resolver *inventory.Resolver
	metrics  *observability.Metrics
}

// NewRunner builds a runner. metrics may be nil.
func NewRunner(resolver *inventory.Resolver, metrics *observability.Metrics) *Runner {
	return &Runner{resolver: resolver, metrics: metrics}
}

// ExecResult is the remote side of one command run. A non-zero
// ExitCode with a nil error means the command itself failed; transport
// problems surface as errors instead.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Run executes command on host and waits for it to finish. A timeout
// of zero or less falls back to DefaultCommandTimeout.
func (r *Runner) Run(ctx context.Context, host *inventory.Host, command string, timeout time.Duration) (*ExecResult, error) {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	res, err := r.run(ctx, host, command, timeout)
	if r.metrics != nil {
		status := "success"
		if err != nil || (res != nil && res.ExitCode != 0) {
			status = "error"
		}
		r.metrics.RecordSSHCommand(host.Name, status)
	}
	return res, err
}

func (r *Runner) run(ctx context.Context, host *inventory.Host, command string, timeout time.Duration) (*ExecResult, error) {
	conn, err := r.dial(ctx, host)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	session, err := conn.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session on %s: %w", host.Name, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-runCtx.Done():
		// Closing the session unblocks Run. The far side may keep
		// executing; the audit row records the local outcome.
		session.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ConnError{Kind: FailureTimeout, Host: host.Name, Cause: runCtx.Err()}
	case err := <-done:
		res := &ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			return res, nil
		}
		var exitErr *gossh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return nil, fmt.Errorf("run on %s: %w", host.Name, err)
	}
}

// connection bundles the target client with the jump client carrying
// it, so Close tears both down.
type connection struct {
	client *gossh.Client
	jump   *gossh.Client
}

func (c *connection) Close() error {
	err := c.client.Close()
	if c.jump != nil {
		c.jump.Close()
	}
	return err
}

func (r *Runner) dial(ctx context.Context, host *inventory.Host) (*connection, error) {
	cfg, err := clientConfig(host.User, host.SSHKey)
	if err != nil {
		return nil, &ConnError{Kind: FailureAuth, Host: host.Name, Cause: err}
	}
	addr := net.JoinHostPort(host.Addr, strconv.Itoa(defaultPort(host.Port)))

	if host.Jump == "" {
		client, err := dialDirect(ctx, addr, cfg)
		if err != nil {
			return nil, classifyConnError(host.Name, err)
		}
		return &connection{client: client}, nil
	}

	jump, err := r.resolver.ResolveJump(host.Jump)
	if err != nil {
		return nil, err
	}
	jumpKey := jump.SSHKey
	if jumpKey == "" {
		jumpKey = host.SSHKey
	}
	jumpCfg, err := clientConfig(jump.User, jumpKey)
	if err != nil {
		return nil, &ConnError{Kind: FailureAuth, Host: jump.Name, Cause: err}
	}
	jumpAddr := net.JoinHostPort(jump.Addr, strconv.Itoa(defaultPort(jump.Port)))
	jumpClient, err := dialDirect(ctx, jumpAddr, jumpCfg)
	if err != nil {
		return nil, classifyConnError(jump.Name, err)
	}

	tunnel, err := jumpClient.DialContext(ctx, "tcp", addr)
	if err != nil {
		jumpClient.Close()
		return nil, classifyConnError(host.Name, err)
	}
	ncc, chans, reqs, err := gossh.NewClientConn(tunnel, addr, cfg)
	if err != nil {
		tunnel.Close()
		jumpClient.Close()
		return nil, classifyConnError(host.Name, err)
	}
	return &connection{client: gossh.NewClient(ncc, chans, reqs), jump: jumpClient}, nil
}

func defaultPort(p int) int {
	if p <= 0 {
		return 22
	}
	return p
}

// dialDirect opens a TCP connection under ctx and completes the SSH
// handshake with a deadline, since ClientConfig.Timeout only covers
// the dial.
func dialDirect(ctx context.Context, addr string, cfg *gossh.ClientConfig) (*gossh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}
	ncc, chans, reqs, err := gossh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return gossh.NewClient(ncc, chans, reqs), nil
}

func clientConfig(user, keyFile string) (*gossh.ClientConfig, error) {
	auth, err := authMethods(keyFile)
	if err != nil {
		return nil, err
	}
	return &gossh.ClientConfig{
		User: user,
		Auth: auth,
		// Host keys are not pinned; targets come from the operator's
		// own inventory.
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}, nil
}

// authMethods prefers an explicit key file, then the running agent,
// then the default keys under ~/.ssh.
func authMethods(keyFile string) ([]gossh.AuthMethod, error) {
	if keyFile != "" {
		signer, err := loadKey(keyFile)
		if err != nil {
			return nil, err
		}
		return []gossh.AuthMethod{gossh.PublicKeys(signer)}, nil
	}

	var methods []gossh.AuthMethod
	if m, ok := agentAuth(); ok {
		methods = append(methods, m)
	}
	home, _ := os.UserHomeDir()
	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		signer, err := loadKey(filepath.Join(home, ".ssh", name))
		if err != nil {
			continue
		}
		methods = append(methods, gossh.PublicKeys(signer))
	}
	if len(methods) == 0 {
		return nil, errors.New("no SSH credentials: set the host's ssh_key, run an agent, or provide a default key under ~/.ssh")
	}
	return methods, nil
}

func loadKey(path string) (gossh.Signer, error) {
	raw, err := os.ReadFile(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", path, err)
	}
	signer, err := gossh.ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", path, err)
	}
	return signer, nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

var (
	agentOnce   sync.Once
	agentMethod gossh.AuthMethod
)

// agentAuth connects to the SSH agent at most once per process; the
// socket stays open because agent-backed signers sign through it at
// handshake time.
func agentAuth() (gossh.AuthMethod, bool) {
	agentOnce.Do(func() {
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return
		}
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return
		}
		agentMethod = gossh.PublicKeysCallback(agent.NewClient(conn).Signers)
	})
	return agentMethod, agentMethod != nil
}
