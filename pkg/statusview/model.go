package statusview

import (
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jaspreet-dot-casa/cinit/pkg/paths"
	"github.com/jaspreet-dot-casa/cinit/pkg/status"
)

// RefreshInterval is how often the live view re-reads status.json.
const RefreshInterval = time.Second

// SummaryMsg carries a freshly loaded summary.
type SummaryMsg struct {
	Summary status.Summary
}

// RefreshMsg triggers a reload.
type RefreshMsg struct{}

// KeyMap defines the key bindings of the live view.
type KeyMap struct {
	Quit key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c", "esc"),
			key.WithHelp("q", "quit"),
		),
	}
}

// Model follows the boot until it reaches a terminal state.
type Model struct {
	load     func() status.Summary
	interval time.Duration
	keys     KeyMap
	spinner  spinner.Model
	summary  status.Summary
	loaded   bool
	quitting bool
}

// New creates a live view over the status files under p.
func New(p *paths.Paths) Model {
	return NewWithLoader(func() status.Summary { return status.Load(p) }, RefreshInterval)
}

// NewWithLoader creates a live view that polls load every interval.
func NewWithLoader(load func() status.Summary, interval time.Duration) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return Model{
		load:     load,
		interval: interval,
		keys:     DefaultKeyMap(),
		spinner:  s,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh)
}

func (m Model) refresh() tea.Msg {
	return SummaryMsg{Summary: m.load()}
}

func (m Model) scheduleRefresh() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return RefreshMsg{}
	})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case RefreshMsg:
		return m, m.refresh

	case SummaryMsg:
		m.summary = msg.Summary
		m.loaded = true
		if m.summary.State.Terminal() {
			return m, tea.Quit
		}
		return m, m.scheduleRefresh()
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.loaded {
		return m.spinner.View() + " Reading status...\n"
	}
	view := renderTable(m.summary, true, m.spinner.View)
	if !m.summary.State.Terminal() && !m.quitting {
		view += "\n" + DimStyle.Render("waiting for boot to finish, q to quit") + "\n"
	}
	return view
}

// Summary returns the last loaded summary.
func (m Model) Summary() status.Summary {
	return m.summary
}

// Done reports whether the boot reached a terminal state.
func (m Model) Done() bool {
	return m.loaded && m.summary.State.Terminal()
}
