package collector

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/agent462/muster/internal/device"
	"github.com/agent462/muster/internal/inventory"
)

// EventType identifies a progress event.
type EventType int

const (
	// EventHostStarted fires when a host's worker picks it up.
	EventHostStarted EventType = iota
	// EventCommandDone fires after each group command, success or not.
	EventCommandDone
	// EventHostDone fires once per host with the finished outcome.
	EventHostDone
)

// Event reports collection progress for interactive displays.
type Event struct {
	Type    EventType
	Host    string // display name
	Command string
	Err     error
	Outcome *HostOutcome // set on EventHostDone
}

// Orchestrator fans host collection out across a bounded worker pool.
type Orchestrator struct {
	runner      HostRunner
	concurrency int
	onEvent     func(Event)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency bounds the number of hosts collected at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithEvents installs a progress callback. It is invoked from worker
// goroutines and must be safe for concurrent use.
func WithEvents(fn func(Event)) Option {
	return func(o *Orchestrator) { o.onEvent = fn }
}

// New creates an Orchestrator around the given per-host runner.
func New(runner HostRunner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runner:      runner,
		concurrency: 8,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run collects from every host and returns one outcome per host in input
// order. A failing host never disturbs the others. Cancelling ctx stops new
// hosts from starting; hosts already in flight wind down through their own
// dialog timeouts, and hosts never started are reported as failed.
func (o *Orchestrator) Run(ctx context.Context, hosts []inventory.HostEntry) []*HostOutcome {
	outcomes := make([]*HostOutcome, len(hosts))

	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)
	for i, host := range hosts {
		if err := ctx.Err(); err != nil {
			outcomes[i] = o.skipped(host, err)
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = o.skipped(host, err)
				return nil
			}
			o.emit(Event{Type: EventHostStarted, Host: host.DisplayName})
			outcome := o.runner.RunHost(ctx, host)
			outcomes[i] = outcome
			o.emit(Event{Type: EventHostDone, Host: host.DisplayName, Outcome: outcome})
			return nil
		})
	}
	g.Wait()
	return outcomes
}

func (o *Orchestrator) skipped(host inventory.HostEntry, err error) *HostOutcome {
	outcome := &HostOutcome{
		Host:       host,
		ConnectErr: device.Classify(host.Address, err),
	}
	o.emit(Event{Type: EventHostDone, Host: host.DisplayName, Outcome: outcome})
	return outcome
}

func (o *Orchestrator) emit(ev Event) {
	if o.onEvent != nil {
		o.onEvent(ev)
	}
}
