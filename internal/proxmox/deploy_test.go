package proxmox

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var errTest = errors.New("migrate failed")

type migrateCall struct {
	node, target, vmType string
	vmid                 int
}

// fakeClient is a hand-rolled ProxmoxClient double; CollectClusterData only
// needs GetClusterResources and GetNodeStatus to build a usable Cluster, the
// rest of the interface is satisfied with no-ops.
type fakeClient struct {
	resources []pveResourceRow
	statuses  map[string]*pveNodeStatus

	migrateErr   error
	migrateCalls []migrateCall
}

func (f *fakeClient) GetClusterResources() ([]pveResourceRow, error) {
	return f.resources, nil
}

func (f *fakeClient) GetNodeStatus(node string) (*pveNodeStatus, error) {
	if s, ok := f.statuses[node]; ok {
		return s, nil
	}
	return &pveNodeStatus{}, nil
}

func (f *fakeClient) GetVMStatus(node string, vmid int) (*pveVMStatus, error) {
	return &pveVMStatus{}, nil
}

func (f *fakeClient) GetVMConfig(node string, vmid int) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

func (f *fakeClient) GetNodes() ([]string, error) { return nil, nil }
func (f *fakeClient) Ping() error                 { return nil }
func (f *fakeClient) Authenticate() error         { return nil }

func (f *fakeClient) Migrate(node string, vmid int, vmType, target string) error {
	f.migrateCalls = append(f.migrateCalls, migrateCall{node: node, target: target, vmType: vmType, vmid: vmid})
	return f.migrateErr
}

func twoNodeCluster() []pveResourceRow {
	return []pveResourceRow{
		// CPU is nonzero so findNodesNeedingCPURetry doesn't trigger the
		// (sleeping) stale-data retry path for these already-fresh fixtures.
		{Type: "node", Node: "hostA", Status: "online", MaxCPU: 8, MaxMem: 16 << 30, CPU: 0.2},
		{Type: "node", Node: "hostB", Status: "online", MaxCPU: 8, MaxMem: 16 << 30, CPU: 0.1},
		{Type: "qemu", Node: "hostA", VMID: 101, Name: "web1", Status: "running", MaxCPU: 2, MaxMem: 4 << 30, MaxDisk: 20 << 30},
		{Type: "lxc", Node: "hostA", VMID: 102, Name: "ct1", Status: "running", MaxCPU: 1, MaxMem: 1 << 30, MaxDisk: 10 << 30},
	}
}

func TestDeploymentGetInfoConvertsClusterAndCachesVMLocations(t *testing.T) {
	fc := &fakeClient{resources: twoNodeCluster()}
	dep := NewDeployment(fc)

	hi := dep.GetInfo()
	require.NotNil(t, hi)
	require.Contains(t, hi.Hosts, "hostA")
	require.Contains(t, hi.Hosts, "hostB")

	hostA := hi.Hosts["hostA"]
	require.Equal(t, float64(8), hostA.CPUTotal)
	require.Equal(t, float64(16<<30), hostA.MemTotal)
	require.Len(t, hostA.VMs, 2)
	require.True(t, hostA.HasVM("101"))
	require.True(t, hostA.HasVM("102"))

	require.Empty(t, hi.Hosts["hostB"].VMs)
}

func TestMigrateVMUsesCachedVMTypeFromLastGetInfo(t *testing.T) {
	fc := &fakeClient{resources: twoNodeCluster()}
	dep := NewDeployment(fc)

	require.NotNil(t, dep.GetInfo())

	ok := dep.MigrateVM("102", "hostA", "hostB")
	require.True(t, ok)
	require.Len(t, fc.migrateCalls, 1)
	require.Equal(t, migrateCall{node: "hostA", target: "hostB", vmType: "lxc", vmid: 102}, fc.migrateCalls[0])

	ok = dep.MigrateVM("101", "hostA", "hostB")
	require.True(t, ok)
	require.Equal(t, "qemu", fc.migrateCalls[1].vmType)
}

func TestMigrateVMDefaultsToQemuForUnknownVM(t *testing.T) {
	fc := &fakeClient{resources: twoNodeCluster()}
	dep := NewDeployment(fc)
	require.NotNil(t, dep.GetInfo())

	ok := dep.MigrateVM("999", "hostA", "hostB")
	require.True(t, ok)
	require.Equal(t, "qemu", fc.migrateCalls[0].vmType)
}

func TestMigrateVMRejectsNonNumericID(t *testing.T) {
	fc := &fakeClient{resources: twoNodeCluster()}
	dep := NewDeployment(fc)

	ok := dep.MigrateVM("not-a-number", "hostA", "hostB")
	require.False(t, ok)
	require.Empty(t, fc.migrateCalls)
}

func TestMigrateVMReportsClientFailure(t *testing.T) {
	fc := &fakeClient{resources: twoNodeCluster(), migrateErr: errTest}
	dep := NewDeployment(fc)
	require.NotNil(t, dep.GetInfo())

	ok := dep.MigrateVM("101", "hostA", "hostB")
	require.False(t, ok)
}

func TestToHostsInfoSurfacesMigrationBlockedAndConstraintMetadata(t *testing.T) {
	cluster := &Cluster{
		Nodes: []Node{
			{
				Name: "free", Status: "online", CPUCores: 4, MaxMem: 8 << 30, HostState: -1,
				VMs: []VM{
					{VMID: 1, Name: "v1", Status: "running", CPUCores: 1, MaxMem: 2 << 30,
						WithVM: []string{"v2"}, WithoutVM: []string{"v3"}},
				},
			},
			{
				Name: "blocked", Status: "online", CPUCores: 4, MaxMem: 8 << 30, HostState: 3,
				VMs: []VM{
					{VMID: 2, Name: "v2", Status: "running", CPUCores: 1, MaxMem: 2 << 30},
				},
			},
		},
	}

	hi := toHostsInfo(cluster)

	require.Equal(t, "false", hi.Hosts["free"].Keywords["migration_blocked"])
	require.Equal(t, "true", hi.Hosts["blocked"].Keywords["migration_blocked"])

	v1, ok := hi.Hosts["free"].GetVM("1")
	require.True(t, ok)
	require.Equal(t, "v2", v1.Metadata["with_vm"])
	require.Equal(t, "v3", v1.Metadata["without_vm"])
}

func TestLockedVMIDsLocksNoMigrateAndMigrationBlockedHostVMs(t *testing.T) {
	cluster := &Cluster{
		Nodes: []Node{
			{
				Name: "free", HostState: -1,
				VMs: []VM{
					{VMID: 1, NoMigrate: false},
					{VMID: 2, NoMigrate: true},
				},
			},
			{
				Name: "maintenance", HostState: 0,
				VMs: []VM{
					{VMID: 3, NoMigrate: false},
				},
			},
		},
	}

	locked := lockedVMIDs(cluster)
	require.ElementsMatch(t, []string{"2", "3"}, locked)
}
