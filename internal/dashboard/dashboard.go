package dashboard

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/grycap/vmca/internal/resource"
)

const refreshInterval = 10 * time.Second
const hostTableHeight = 12

// Source is the read-only state the dashboard polls. cmd/vmcactl wires it
// to a monitor over the platform, with no ongoing migrations reported;
// tests use a fake.
type Source interface {
	Snapshot() (*resource.HostsInfo, error)
	OngoingMigrations() map[string]resource.VMMigration
}

// Model is the dashboard's bubbletea model: a single read-only host table
// plus an ongoing-migrations view.
type Model struct {
	source  Source
	version string

	hosts *resource.HostsInfo
	table table.Model
	err   error

	width      int
	height     int
	showHelp   bool
	showVMList bool
}

// New builds a dashboard Model bound to source.
func New(source Source, version string) Model {
	return Model{source: source, version: version, table: newHostTable(resource.New(), 100, hostTableHeight)}
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type refreshMsg struct {
	hosts *resource.HostsInfo
	err   error
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		hi, err := m.source.Snapshot()
		return refreshMsg{hosts: hi, err: err}
	}
}

// Init kicks off the first refresh and arms the periodic tick.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), tickCmd())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.hosts != nil {
			m.table = newHostTable(m.hosts, m.width, hostTableHeight)
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refresh(), tickCmd())

	case refreshMsg:
		m.hosts = msg.hosts
		m.err = msg.err
		if m.hosts != nil {
			cursor := m.table.Cursor()
			m.table = newHostTable(m.hosts, m.width, hostTableHeight)
			if cursor < len(m.hosts.Keys()) {
				m.table.SetCursor(cursor)
			}
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "?":
		m.showHelp = !m.showHelp
		return m, nil
	case "r":
		return m, m.refresh()
	case "enter":
		m.showVMList = !m.showVMList
		return m, nil
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.err != nil {
		return fmt.Sprintf("vmcad %s: could not refresh: %v\n\npress q to quit\n", m.version, m.err)
	}
	if m.hosts == nil {
		return fmt.Sprintf("vmcad %s: loading...\n", m.version)
	}

	view := renderClusterSummary(m.hosts) + "\n"
	view += m.table.View() + "\n"
	if m.showVMList {
		if row := m.table.SelectedRow(); row != nil {
			view += renderVMList(m.hosts, row[0]) + "\n"
		}
	}
	view += renderOngoingMigrations(m.source.OngoingMigrations()) + "\n"
	if m.showHelp {
		view += renderHelp()
	}
	return view
}
