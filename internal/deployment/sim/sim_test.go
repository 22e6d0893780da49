package sim

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grycap/vmca/internal/resource"
)

func twoHosts() *resource.HostsInfo {
	hi := resource.New()
	hi.Hosts["A"] = &resource.Host{Hostname: "A", CPUTotal: 4, CPUFree: 2, MemTotal: 8, MemFree: 4, MaxVMs: -1,
		VMs: []resource.VM{{ID: "v1", CPU: 2, Memory: 4, Hostname: "A", State: resource.StateRunning}}}
	hi.Hosts["B"] = &resource.Host{Hostname: "B", CPUTotal: 4, CPUFree: 4, MemTotal: 8, MemFree: 8, MaxVMs: -1}
	return hi
}

func TestMigrateVMMarksMigratingThenCompletes(t *testing.T) {
	s := New(twoHosts(), nil)
	require.True(t, s.MigrateVM("v1", "A", "B"))
	require.Contains(t, s.MigratingVMs(), "v1")

	info := s.GetInfo()
	vm, ok := info.Hosts["B"].GetVM("v1")
	require.True(t, ok)
	require.Equal(t, resource.StateMigrating, vm.State)

	require.True(t, s.CompleteMigration("v1", 1000))
	require.NotContains(t, s.MigratingVMs(), "v1")

	info = s.GetInfo()
	vm, ok = info.Hosts["B"].GetVM("v1")
	require.True(t, ok)
	require.Equal(t, resource.StateRunning, vm.State)
	require.Equal(t, int64(1000), vm.TimestampState)
}

func TestMigrateVMRejectsDoubleMigration(t *testing.T) {
	s := New(twoHosts(), nil)
	require.True(t, s.MigrateVM("v1", "A", "B"))
	require.False(t, s.MigrateVM("v1", "B", "A"))
}

func TestMigrateVMRejectsUnknownHost(t *testing.T) {
	s := New(twoHosts(), nil)
	require.False(t, s.MigrateVM("v1", "A", "nope"))
}

func TestLockedVMs(t *testing.T) {
	s := New(twoHosts(), []string{"v1"})
	require.Equal(t, []string{"v1"}, s.LockedVMs())
}
