package progress

import "github.com/agent462/muster/internal/collector"

// eventMsg delivers one collector event to the model.
type eventMsg collector.Event

// doneMsg signals the event stream is exhausted.
type doneMsg struct{}
