// Package progress renders a live per-host table while a collection run
// is in flight.
package progress

import (
	"fmt"
	"time"

	"charm.land/bubbles/v2/table"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/agent462/muster/internal/collector"
	"github.com/agent462/muster/internal/device"
	"github.com/agent462/muster/internal/inventory"
)

// Config holds the parameters needed to create a progress Model.
type Config struct {
	Hosts           []inventory.HostEntry
	CommandsPerHost int
	Events          <-chan collector.Event
}

// hostEntry tracks per-host state shown in the table.
type hostEntry struct {
	Name     string
	Status   string // "pending", "running", "ok", "partial", "failed", "timeout"
	Done     int
	Total    int
	Duration string
}

// Model is the root Bubble Tea model for the live collection view.
type Model struct {
	events  <-chan collector.Event
	table   table.Model
	entries []hostEntry

	finished int
	captured int
	failed   int

	width  int
	height int
}

// New creates a progress Model for the given hosts and event stream.
func New(cfg Config) Model {
	entries := make([]hostEntry, len(cfg.Hosts))
	for i, h := range cfg.Hosts {
		entries[i] = hostEntry{
			Name:   h.DisplayName,
			Status: "pending",
			Total:  cfg.CommandsPerHost,
		}
	}

	columns := []table.Column{
		{Title: "Host", Width: 24},
		{Title: "Status", Width: 8},
		{Title: "Cmds", Width: 7},
		{Title: "Time", Width: 8},
	}

	rows := len(entries)
	if rows > 15 {
		rows = 15
	}
	if rows < 3 {
		rows = 3
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(buildRows(entries)),
		table.WithFocused(false),
		table.WithHeight(rows+1), // account for the header border-bottom
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorSubtle).
		BorderBottom(true).
		Bold(true)
	// The table is display-only, so suppress the selected-row highlight.
	s.Selected = lipgloss.NewStyle()
	t.SetStyles(s)

	return Model{
		events:  cfg.Events,
		table:   t,
		entries: entries,
	}
}

// Init starts listening on the event stream.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

// Update handles all messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil

	case eventMsg:
		m.apply(collector.Event(msg))
		m.table.SetRows(buildRows(m.entries))
		if m.finished == len(m.entries) {
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)

	case doneMsg:
		return m, tea.Quit
	}
	return m, nil
}

// apply folds one collector event into the host entries and counters.
func (m *Model) apply(ev collector.Event) {
	switch ev.Type {
	case collector.EventHostStarted:
		if e := m.entry(ev.Host, "pending"); e != nil {
			e.Status = "running"
		}

	case collector.EventCommandDone:
		if e := m.entry(ev.Host, "running"); e != nil {
			e.Done++
		}
		if ev.Err == nil {
			m.captured++
		}

	case collector.EventHostDone:
		m.finished++
		e := m.entry(ev.Host, "running")
		if e == nil {
			// Skipped hosts finish without ever starting.
			e = m.entry(ev.Host, "pending")
		}
		if e == nil {
			return
		}
		o := ev.Outcome
		if o == nil {
			e.Status = "ok"
			return
		}
		e.Done = len(o.Results)
		e.Duration = formatDuration(o.Duration)
		switch {
		case o.ConnectErr != nil && o.FailureKind() == device.KindTimeout:
			e.Status = "timeout"
			m.failed++
		case o.ConnectErr != nil:
			e.Status = "failed"
			m.failed++
		case o.Failed() > 0:
			e.Status = "partial"
		default:
			e.Status = "ok"
		}
	}
}

// entry returns the first host entry matching name and status. Display
// names are not required to be unique, so the status narrows duplicates
// to the one a given event belongs to.
func (m *Model) entry(name, status string) *hostEntry {
	for i := range m.entries {
		if m.entries[i].Name == name && m.entries[i].Status == status {
			return &m.entries[i]
		}
	}
	return nil
}

// View renders the full screen.
func (m Model) View() tea.View {
	if m.width == 0 {
		return tea.NewView("Starting collection...")
	}

	title := titleStyle.Render(" muster") +
		subtleStyle.Render(fmt.Sprintf("  collecting from %d hosts", len(m.entries)))

	content := lipgloss.JoinVertical(lipgloss.Left,
		title,
		paneStyle.Render(m.table.View()),
		m.renderStatusBar(),
	)

	v := tea.NewView(content)
	v.AltScreen = true
	return v
}

// renderStatusBar builds the bottom bar with run counters and key hints.
func (m Model) renderStatusBar() string {
	left := fmt.Sprintf(" %d/%d hosts", m.finished, len(m.entries))

	capStr := statusOKStyle.Render(fmt.Sprintf("%d captured", m.captured))
	failStr := ""
	if m.failed > 0 {
		failStr = statusFailStyle.Render(fmt.Sprintf(" %d failed", m.failed))
	}
	left += " │ " + capStr + failStr

	right := helpKeyStyle.Render("q") + helpDescStyle.Render(" abort") + " "

	// Pad middle.
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	middle := fmt.Sprintf("%*s", gap, "")

	return statusBarStyle.Width(m.width).Render(left + middle + right)
}

func (m *Model) resize() {
	// Subtract 2 for the outer pane border so rows fit inside the content area.
	w := m.width - 2
	if w < 44 {
		w = 44
	}
	m.table.SetWidth(w)

	// Fixed-width columns get a share; the host name gets the remainder
	// minus cell padding (1 left + 1 right per column × 4 cols).
	statusW := 8
	cmdsW := 7
	timeW := 8
	hostW := w - statusW - cmdsW - timeW - 8
	if hostW < 12 {
		hostW = 12
	}
	m.table.SetColumns([]table.Column{
		{Title: "Host", Width: hostW},
		{Title: "Status", Width: statusW},
		{Title: "Cmds", Width: cmdsW},
		{Title: "Time", Width: timeW},
	})
}

func buildRows(entries []hostEntry) []table.Row {
	rows := make([]table.Row, len(entries))
	for i, e := range entries {
		cmds := ""
		if e.Status != "pending" {
			cmds = fmt.Sprintf("%d/%d", e.Done, e.Total)
		}
		rows[i] = table.Row{e.Name, e.Status, cmds, e.Duration}
	}
	return rows
}

// waitForEvent blocks on the collector's event stream. A closed channel
// means the run is over.
func waitForEvent(ch <-chan collector.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
}
