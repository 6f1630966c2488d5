// Package progress implements an optional live terminal dashboard for a
// running benchmark (--tui), adapted from studiowebux-restcli's
// internal/tui stress-test progress modal, scaled down to the handful of
// counters the end-of-run report already prints.
package progress

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/loadbench/mb/internal/stats"
)

// Snapshot is polled once per tick to refresh the dashboard; the
// coordinator supplies it bound to its live instance slice.
type Snapshot func() stats.Totals

type tickMsg time.Time

// Model is the bubbletea model backing the dashboard.
type Model struct {
	snapshot Snapshot
	started  time.Time
	deadline time.Time
	latest   stats.Totals
}

// New builds a dashboard that polls snapshot and runs until deadline.
func New(snapshot Snapshot, deadline time.Time) Model {
	return Model{snapshot: snapshot, started: now(), deadline: deadline}
}

var now = time.Now

func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case tickMsg:
		m.latest = m.snapshot()
		m.latest.Duration = time.Time(msg).Sub(m.started)
		if time.Time(msg).After(m.deadline) {
			return m, tea.Quit
		}
		return m, tick()
	}
	return m, nil
}

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	boxStyle   = lipgloss.NewStyle().Padding(1, 2).Border(lipgloss.RoundedBorder())
)

func (m Model) View() string {
	remaining := m.deadline.Sub(now())
	if remaining < 0 {
		remaining = 0
	}
	body := fmt.Sprintf(
		"%s %s\n%s %d\n%s %.2f\n%s %d\n%s %s / %s\n",
		labelStyle.Render("elapsed:"), m.latest.Duration.Round(time.Second),
		labelStyle.Render("requests:"), m.latest.Requests,
		labelStyle.Render("requests/sec:"), m.latest.RequestsPerSecond(),
		labelStyle.Render("errors:"), m.latest.Errors,
		labelStyle.Render("bytes sent/recv:"), stats.FormatBytes(m.latest.BytesSent), stats.FormatBytes(m.latest.BytesRecv),
	)
	return boxStyle.Render(body)
}

// Run blocks until the dashboard quits (deadline reached or 'q'/ctrl-c).
func Run(snapshot Snapshot, deadline time.Time) error {
	_, err := tea.NewProgram(New(snapshot, deadline)).Run()
	return err
}
