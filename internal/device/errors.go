package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Kind buckets session-level failures for reporting.
type Kind int

const (
	KindGeneral Kind = iota
	KindConnection
	KindAuth
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindAuth:
		return "auth"
	case KindTimeout:
		return "timeout"
	default:
		return "general"
	}
}

// ConnectError is the uniform wrapper for everything that kills a device
// session: dial and handshake failures, auth rejections, timeouts, and
// mid-dialog transport errors.
type ConnectError struct {
	Addr string
	Kind Kind
	Err  error
	Hint string
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// SyntaxError reports a command the device parser rejected. The session has
// already re-printed its prompt and remains usable.
type SyntaxError struct {
	Command string
	Marker  string // the device's error line
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("device rejected %q: %s", e.Command, e.Marker)
}

// syntaxMarkers are the parser-rejection lines Cisco-style CLIs print.
// Matched as substrings of the command output.
var syntaxMarkers = []string{
	"Invalid input detected",
	"Incomplete command",
}

// syntaxMarker returns the first parser-rejection line in output, or "".
func syntaxMarker(output string) string {
	for _, line := range strings.Split(output, "\n") {
		for _, marker := range syntaxMarkers {
			if strings.Contains(line, marker) {
				return strings.TrimSpace(line)
			}
		}
	}
	return ""
}

// Classify folds a session-level error into a *ConnectError with a failure
// kind and, where possible, a hint. Passing an existing *ConnectError
// returns it unchanged; nil stays nil.
func Classify(addr string, err error) error {
	if err == nil {
		return nil
	}

	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce
	}

	wrap := func(kind Kind, hint string) error {
		return &ConnectError{Addr: addr, Kind: kind, Err: err, Hint: hint}
	}

	// Timeouts, both context-driven and socket-level.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return wrap(KindTimeout, "raise connect_timeout/command_timeout if the device is slow")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return wrap(KindTimeout, "raise connect_timeout/command_timeout if the device is slow")
	}

	msg := err.Error()

	// Authentication failures.
	var authErr *ssh.ServerAuthError
	if errors.As(err, &authErr) ||
		strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") {
		return wrap(KindAuth, "verify the username and password, SSH key, or agent")
	}

	// Host key problems.
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return wrap(KindConnection, fmt.Sprintf("remove the old key with: ssh-keygen -R %s", addr))
	}
	if strings.Contains(msg, "no known_hosts") || strings.Contains(msg, "knownhosts") {
		return wrap(KindConnection, "set ssh.accept_unknown_hosts: true or connect once with ssh")
	}

	// Name resolution.
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || strings.Contains(msg, "no such host") {
		return wrap(KindConnection, "verify the hostname is correct")
	}

	// Transport failures.
	if strings.Contains(msg, "connection refused") {
		return wrap(KindConnection, "verify the SSH server is enabled on the device")
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		strings.Contains(msg, "connection reset") {
		return wrap(KindConnection, "the device closed the connection; check vty limits and allowed transports")
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return wrap(KindConnection, "")
	}

	return wrap(KindGeneral, "")
}
