package dashboard

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/grycap/vmca/internal/resource"
)

type fakeSource struct {
	hosts   *resource.HostsInfo
	err     error
	ongoing map[string]resource.VMMigration
}

func (f *fakeSource) Snapshot() (*resource.HostsInfo, error)             { return f.hosts, f.err }
func (f *fakeSource) OngoingMigrations() map[string]resource.VMMigration { return f.ongoing }

func twoHosts() *resource.HostsInfo {
	hi := resource.New()
	hi.Hosts["A"] = &resource.Host{Hostname: "A", CPUTotal: 8, CPUFree: 2, MemTotal: 16, MemFree: 4, MaxVMs: -1,
		VMs: []resource.VM{{ID: "v1", CPU: 6, Memory: 12, Hostname: "A"}}}
	hi.Hosts["B"] = &resource.Host{Hostname: "B", CPUTotal: 8, CPUFree: 8, MemTotal: 16, MemFree: 16, MaxVMs: -1}
	return hi
}

func TestInitTriggersRefresh(t *testing.T) {
	src := &fakeSource{hosts: twoHosts()}
	m := New(src, "dev")

	cmd := m.Init()
	require.NotNil(t, cmd)
	msg := cmd()
	batch, ok := msg.(tea.BatchMsg)
	require.True(t, ok)
	require.NotEmpty(t, batch)
}

func TestRefreshMsgPopulatesHostsAndTable(t *testing.T) {
	src := &fakeSource{hosts: twoHosts()}
	m := New(src, "dev")

	updated, _ := m.Update(refreshMsg{hosts: src.hosts})
	um := updated.(Model)
	require.NotNil(t, um.hosts)
	require.Len(t, um.hosts.Keys(), 2)
	require.Len(t, um.table.Rows(), 2)
}

func TestRefreshMsgCarriesError(t *testing.T) {
	src := &fakeSource{err: errors.New("boom")}
	m := New(src, "dev")

	updated, _ := m.Update(refreshMsg{err: src.err})
	um := updated.(Model)
	require.Error(t, um.err)
	require.Contains(t, um.View(), "boom")
}

func TestTableNavigationStaysInBounds(t *testing.T) {
	m := New(&fakeSource{}, "dev")
	updated, _ := m.Update(refreshMsg{hosts: twoHosts()})
	m = updated.(Model)

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = updated.(Model)
	require.Equal(t, 1, m.table.Cursor())

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = updated.(Model)
	require.Equal(t, 1, m.table.Cursor(), "cursor does not advance past the last host")
}

func TestQuitKeyReturnsQuitCommand(t *testing.T) {
	m := New(&fakeSource{}, "dev")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
}

func TestHelpToggles(t *testing.T) {
	m := New(&fakeSource{}, "dev")
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("?")})
	um := updated.(Model)
	require.True(t, um.showHelp)
}

func TestEnterTogglesVMListForSelectedHost(t *testing.T) {
	m := New(&fakeSource{}, "dev")
	updated, _ := m.Update(refreshMsg{hosts: twoHosts()})
	m = updated.(Model)

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)
	require.True(t, m.showVMList)
	require.Contains(t, m.View(), "v1")

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)
	require.False(t, m.showVMList)
}
