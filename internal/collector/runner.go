// Package collector drives command collection across a fleet of devices
// and persists the captured output.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agent462/muster/internal/credentials"
	"github.com/agent462/muster/internal/device"
	"github.com/agent462/muster/internal/inventory"
	"github.com/agent462/muster/internal/naming"
)

// HostRunner collects from a single host. Implementations must be safe for
// concurrent use; the orchestrator calls RunHost from multiple goroutines.
type HostRunner interface {
	RunHost(ctx context.Context, host inventory.HostEntry) *HostOutcome
}

// SessionRunner opens one device session per host and walks it through the
// init commands followed by every command group. A parser rejection records
// the failure and moves on; any other session error abandons the host and
// keeps the results gathered so far.
type SessionRunner struct {
	Factory     device.Factory
	Credentials credentials.Source
	Namer       *naming.Namer
	Writer      *naming.Writer

	// InitCommands run before the groups and produce no results. A device
	// that rejects one keeps going; not every platform knows every pager
	// command.
	InitCommands []string

	Groups []inventory.CommandGroup

	// RecordFailures persists the device's rejection text alongside the
	// successful captures instead of dropping it.
	RecordFailures bool

	// OnEvent, when set, receives a CommandDone event per group command.
	OnEvent func(Event)

	// Warnf receives non-fatal notices, currently init commands the device
	// rejected. Nil discards them.
	Warnf func(format string, args ...any)
}

// RunHost implements HostRunner.
func (r *SessionRunner) RunHost(ctx context.Context, host inventory.HostEntry) *HostOutcome {
	start := time.Now()
	outcome := &HostOutcome{Host: host}
	defer func() { outcome.Duration = time.Since(start) }()

	creds, err := r.Credentials.Lookup(host.Address)
	if err != nil {
		outcome.ConnectErr = device.Classify(host.Address, fmt.Errorf("credentials: %w", err))
		return outcome
	}

	sess, err := r.Factory.Open(ctx, device.Endpoint{
		Address:     host.Address,
		Username:    creds.Username,
		Password:    creds.Password,
		DisplayName: host.DisplayName,
	})
	if err != nil {
		outcome.ConnectErr = device.Classify(host.Address, err)
		return outcome
	}
	defer sess.Close()

	for _, cmd := range r.InitCommands {
		if _, err := sess.Send(ctx, cmd); err != nil {
			var syntaxErr *device.SyntaxError
			if errors.As(err, &syntaxErr) {
				r.warnf("%s: init command %q rejected", host.DisplayName, cmd)
				continue
			}
			outcome.ConnectErr = device.Classify(host.Address, err)
			return outcome
		}
	}

	for _, group := range r.Groups {
		for _, cmd := range group.Commands {
			res := r.runCommand(ctx, sess, host, group.ID, cmd)
			outcome.Results = append(outcome.Results, res)
			r.emit(Event{Type: EventCommandDone, Host: host.DisplayName, Command: cmd, Err: res.Err})
			if res.Err != nil && !res.Rejected() {
				outcome.ConnectErr = device.Classify(host.Address, res.Err)
				return outcome
			}
		}
	}
	return outcome
}

func (r *SessionRunner) runCommand(ctx context.Context, sess device.Session, host inventory.HostEntry, groupID, cmd string) CommandResult {
	started := time.Now()
	output, err := sess.Send(ctx, cmd)
	res := CommandResult{
		Group:     groupID,
		Host:      host.DisplayName,
		Command:   cmd,
		Output:    output,
		Err:       err,
		Timestamp: time.Now(),
		Duration:  time.Since(started),
	}
	if res.Err == nil || (r.RecordFailures && res.Rejected()) {
		if werr := r.persist(&res); werr != nil && res.Err == nil {
			res.Err = fmt.Errorf("write output: %w", werr)
		}
	}
	return res
}

func (r *SessionRunner) persist(res *CommandResult) error {
	path := r.Namer.Path(res.Group, res.Host, res.Command)
	body := r.Namer.Body(res.Host, res.Group, res.Command, res.Timestamp, res.Output)
	if err := r.Writer.Append(path, []byte(body)); err != nil {
		return err
	}
	res.Path = path
	return nil
}

func (r *SessionRunner) emit(ev Event) {
	if r.OnEvent != nil {
		r.OnEvent(ev)
	}
}

func (r *SessionRunner) warnf(format string, args ...any) {
	if r.Warnf != nil {
		r.Warnf(format, args...)
	}
}
