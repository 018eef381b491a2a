package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// FailureKind buckets transport failures into the classes an operator
// can act on.
type FailureKind string

const (
	FailureAuth    FailureKind = "auth"
	FailureConnect FailureKind = "connect"
	FailureTimeout FailureKind = "timeout"
)

// ConnError is a transport-level failure reaching a host. Its text is
// written for the model and the operator reading the transcript, so it
// names the host and suggests what to check.
type ConnError struct {
	Kind  FailureKind
	Host  string
	Cause error
}

func (e *ConnError) Error() string {
	switch e.Kind {
	case FailureAuth:
		return fmt.Sprintf("⚠️ SSH authentication failed for %s: the key or user was rejected. Check the host's user and ssh_key settings. (%v)", e.Host, e.Cause)
	case FailureTimeout:
		return fmt.Sprintf("⚠️ SSH timeout: %s did not respond. The machine may be down, unreachable, or a firewall is dropping packets.", e.Host)
	default:
		return fmt.Sprintf("⚠️ SSH connection to %s failed: the machine may be down or sshd may not be listening. (%v)", e.Host, e.Cause)
	}
}

func (e *ConnError) Unwrap() error { return e.Cause }

// classifyConnError maps a dial or handshake failure onto a
// FailureKind. Auth is matched first so an authentication rejection
// inside a completed handshake never reads as a connectivity problem.
func classifyConnError(host string, err error) *ConnError {
	msg := strings.ToLower(err.Error())
	var netErr net.Error
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods"),
		strings.Contains(msg, "permission denied"):
		return &ConnError{Kind: FailureAuth, Host: host, Cause: err}
	case errors.As(err, &netErr) && netErr.Timeout(),
		errors.Is(err, context.DeadlineExceeded),
		strings.Contains(msg, "i/o timeout"):
		return &ConnError{Kind: FailureTimeout, Host: host, Cause: err}
	default:
		return &ConnError{Kind: FailureConnect, Host: host, Cause: err}
	}
}
