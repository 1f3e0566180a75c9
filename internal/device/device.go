// Package device opens interactive SSH sessions to network devices and
// drives their command/prompt dialog.
package device

import (
	"context"
	"time"
)

// Endpoint identifies one device to dial. Unset fields are resolved from
// the factory config, ~/.ssh/config, and process defaults, in that order.
type Endpoint struct {
	Address     string
	Port        int
	Username    string
	Password    string
	DisplayName string // label used in reports and output names; Address when empty
}

// Session is one interactive dialog with a device. Commands are strictly
// sequential; Send must not be called concurrently. Close is safe to call
// more than once.
type Session interface {
	// Send writes one command and returns the device's reply with the
	// echoed command and trailing prompt stripped. A *SyntaxError return
	// means the device parser rejected the command and the session is
	// still usable; any other error means the session is dead.
	Send(ctx context.Context, command string) (string, error)
	Close() error
}

// Factory opens sessions. Implementations must be safe for concurrent Open
// calls; the collector dials many devices at once.
type Factory interface {
	Open(ctx context.Context, ep Endpoint) (Session, error)
}

// Config holds transport options applied to every device.
type Config struct {
	// User is the fallback username for endpoints that carry none.
	User string

	// Port is the fallback SSH port. Zero resolves from ~/.ssh/config,
	// then 22.
	Port int

	// ProxyJump routes connections through one or more comma-separated
	// jump hosts ("bastion", "user@jump1:2222,jump2"). "none" disables
	// jumping (SSH convention).
	ProxyJump string

	// IdentityFiles lists explicit private key paths to try. If empty,
	// keys are resolved from ~/.ssh/config and default locations.
	IdentityFiles []string

	// KnownHostsFile verifies host keys against the given file. When it
	// is empty and AcceptUnknownHosts is false, ~/.ssh/known_hosts is
	// used.
	KnownHostsFile string

	// AcceptUnknownHosts skips host key verification entirely.
	AcceptUnknownHosts bool

	// ConnectTimeout bounds dialing, the SSH handshake, and the wait for
	// the first prompt. Zero means no limit.
	ConnectTimeout time.Duration

	// CommandTimeout bounds each Send. Zero means no limit.
	CommandTimeout time.Duration

	// PromptPattern overrides the prompt regexp applied to the last line
	// of accumulated output. Empty selects DefaultPromptPattern.
	PromptPattern string
}
