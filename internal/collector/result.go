package collector

import (
	"errors"
	"time"

	"github.com/agent462/muster/internal/device"
	"github.com/agent462/muster/internal/inventory"
)

// CommandResult is the outcome of one command on one device.
type CommandResult struct {
	Group     string
	Host      string // display name
	Command   string
	Output    string
	Path      string // output file, "" when nothing was persisted
	Err       error  // nil, *device.SyntaxError, or the error that killed the session
	Timestamp time.Time
	Duration  time.Duration
}

// Rejected reports whether the device parser refused the command.
func (r *CommandResult) Rejected() bool {
	var syntaxErr *device.SyntaxError
	return errors.As(r.Err, &syntaxErr)
}

// HostOutcome aggregates one host's collection run. Results holds whatever
// completed before any fatal session error, in command order.
type HostOutcome struct {
	Host       inventory.HostEntry
	Results    []CommandResult
	ConnectErr error // non-nil when the session could not be opened or died mid-run
	Duration   time.Duration
}

// Captured counts commands whose output was collected.
func (o *HostOutcome) Captured() int {
	n := 0
	for i := range o.Results {
		if o.Results[i].Err == nil {
			n++
		}
	}
	return n
}

// Rejected counts commands the device parser refused.
func (o *HostOutcome) Rejected() int {
	n := 0
	for i := range o.Results {
		if o.Results[i].Rejected() {
			n++
		}
	}
	return n
}

// Failed counts commands that produced any error.
func (o *HostOutcome) Failed() int {
	n := 0
	for i := range o.Results {
		if o.Results[i].Err != nil {
			n++
		}
	}
	return n
}

// OK reports whether the whole host ran clean.
func (o *HostOutcome) OK() bool {
	return o.ConnectErr == nil && o.Failed() == 0
}

// FailureKind classifies ConnectErr for reporting.
func (o *HostOutcome) FailureKind() device.Kind {
	var ce *device.ConnectError
	if errors.As(o.ConnectErr, &ce) {
		return ce.Kind
	}
	return device.KindGeneral
}
