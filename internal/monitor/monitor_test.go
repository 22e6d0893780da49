package monitor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grycap/vmca/internal/resource"
)

type fakeDeployment struct {
	info      *resource.HostsInfo
	migrateOK bool
}

func (f *fakeDeployment) GetInfo() *resource.HostsInfo { return f.info }
func (f *fakeDeployment) MigrateVM(vmID, src, dst string) bool {
	if !f.migrateOK {
		return false
	}
	f.info.MakeMovement(resource.VMMigration{VMID: vmID, HostSrc: src, HostDst: dst})
	return true
}
func (f *fakeDeployment) MigratingVMs() []string { return nil }
func (f *fakeDeployment) LockedVMs() []string    { return nil }

func twoHostSnapshot() *resource.HostsInfo {
	hi := resource.New()
	hi.Hosts["A"] = &resource.Host{Hostname: "A", CPUTotal: 4, CPUFree: 2, MemTotal: 8, MemFree: 4, MaxVMs: -1,
		VMs: []resource.VM{{ID: "v1", CPU: 2, Memory: 4, Hostname: "A", State: resource.StateRunning}}}
	hi.Hosts["B"] = &resource.Host{Hostname: "B", CPUTotal: 4, CPUFree: 4, MemTotal: 8, MemFree: 8, MaxVMs: -1}
	return hi
}

func clock(t *int64) func() int64 {
	return func() int64 { return *t }
}

func TestSnapshotCachesWithinValidity(t *testing.T) {
	dep := &fakeDeployment{info: twoHostSnapshot()}
	now := int64(100)
	m := New(dep, 10, clock(&now), nil)

	_, err := m.Snapshot()
	require.NoError(t, err)

	dep.info = nil
	now = 105
	hi, err := m.Snapshot()
	require.NoError(t, err)
	require.NotNil(t, hi)
}

func TestSnapshotFailsOutsideValidity(t *testing.T) {
	dep := &fakeDeployment{info: twoHostSnapshot()}
	now := int64(100)
	m := New(dep, 10, clock(&now), nil)

	_, err := m.Snapshot()
	require.NoError(t, err)

	dep.info = nil
	now = 200
	_, err = m.Snapshot()
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestSnapshotFailsWithNoCacheYet(t *testing.T) {
	dep := &fakeDeployment{info: nil}
	now := int64(100)
	m := New(dep, 10, clock(&now), nil)

	_, err := m.Snapshot()
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestMakeMigrationUpdatesCache(t *testing.T) {
	dep := &fakeDeployment{info: twoHostSnapshot(), migrateOK: true}
	now := int64(100)
	m := New(dep, 10, clock(&now), nil)

	_, err := m.Snapshot()
	require.NoError(t, err)

	ok := m.MakeMigration(resource.VMMigration{VMID: "v1", HostSrc: "A", HostDst: "B"})
	require.True(t, ok)

	hi, err := m.Snapshot()
	require.NoError(t, err)
	require.True(t, hi.Hosts["B"].HasVM("v1"))
}
