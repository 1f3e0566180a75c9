// Package report renders finished collection runs for terminal display.
package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agent462/muster/internal/collector"
	"github.com/agent462/muster/internal/device"
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// Formatter renders host outcomes.
type Formatter struct {
	// Color enables ANSI color codes.
	Color bool
	// ErrorsOnly suppresses hosts that ran clean.
	ErrorsOnly bool
}

// NewFormatter creates a Formatter.
func NewFormatter(color, errorsOnly bool) *Formatter {
	return &Formatter{Color: color, ErrorsOnly: errorsOnly}
}

// Format renders every host outcome followed by a totals line.
func (f *Formatter) Format(outcomes []*collector.HostOutcome) string {
	var b strings.Builder

	captured, rejected, cmdFailed := 0, 0, 0
	unreachable, timedOut := 0, 0
	for _, o := range outcomes {
		captured += o.Captured()
		rejected += o.Rejected()
		cmdFailed += o.Failed() - o.Rejected()
		if o.ConnectErr != nil {
			if o.FailureKind() == device.KindTimeout {
				timedOut++
			} else {
				unreachable++
			}
		}
		f.writeHost(&b, o)
	}

	b.WriteString(f.summaryLine(captured, rejected, cmdFailed, unreachable, timedOut))
	b.WriteString("\n")
	return b.String()
}

func (f *Formatter) writeHost(b *strings.Builder, o *collector.HostOutcome) {
	name := o.Host.DisplayName
	switch {
	case o.ConnectErr != nil:
		verb := "failed"
		if o.FailureKind() == device.KindTimeout {
			verb = "timed out"
		}
		b.WriteString(f.colorize(fmt.Sprintf(" %s %s:", name, verb), colorRed))
		b.WriteString("\n   ")
		b.WriteString(o.ConnectErr.Error())
		b.WriteString("\n")
		var ce *device.ConnectError
		if errors.As(o.ConnectErr, &ce) && ce.Hint != "" {
			b.WriteString("   hint: ")
			b.WriteString(ce.Hint)
			b.WriteString("\n")
		}
		if n := o.Captured(); n > 0 {
			b.WriteString(fmt.Sprintf("   kept %d earlier %s\n", n, plural(n, "capture")))
		}
	case o.Failed() > 0:
		b.WriteString(f.colorize(fmt.Sprintf(" %s: %d captured, %d failed:", name, o.Captured(), o.Failed()), colorYellow))
		b.WriteString("\n")
		for i := range o.Results {
			r := &o.Results[i]
			if r.Err == nil {
				continue
			}
			b.WriteString("   ")
			b.WriteString(f.colorize(r.Command, colorCyan))
			b.WriteString(": ")
			b.WriteString(failureText(r.Err))
			b.WriteString("\n")
		}
	default:
		if f.ErrorsOnly {
			return
		}
		b.WriteString(f.colorize(fmt.Sprintf(" %s: %d captured (%s)", name, o.Captured(), o.Duration.Round(time.Millisecond)), colorGreen))
		b.WriteString("\n")
	}
}

func (f *Formatter) summaryLine(captured, rejected, cmdFailed, unreachable, timedOut int) string {
	parts := []string{fmt.Sprintf("%d %s captured", captured, plural(captured, "command"))}
	if rejected > 0 {
		parts = append(parts, fmt.Sprintf("%d rejected", rejected))
	}
	if cmdFailed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", cmdFailed))
	}
	if unreachable > 0 {
		parts = append(parts, fmt.Sprintf("%d %s unreachable", unreachable, plural(unreachable, "host")))
	}
	if timedOut > 0 {
		parts = append(parts, fmt.Sprintf("%d %s timed out", timedOut, plural(timedOut, "host")))
	}
	return strings.Join(parts, ", ")
}

func (f *Formatter) colorize(s, color string) string {
	if !f.Color {
		return s
	}
	return color + s + colorReset
}

func failureText(err error) string {
	var syntaxErr *device.SyntaxError
	if errors.As(err, &syntaxErr) {
		return syntaxErr.Marker
	}
	return err.Error()
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
