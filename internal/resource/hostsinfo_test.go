package resource

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func threeHostCluster() *HostsInfo {
	hi := New()
	hi.Hosts["A"] = &Host{Hostname: "A", CPUTotal: 4, CPUFree: 3, MemTotal: 8, MemFree: 6, MaxVMs: -1,
		VMs: []VM{{ID: "v1", CPU: 1, Memory: 2, Hostname: "A", State: StateRunning}}}
	hi.Hosts["B"] = &Host{Hostname: "B", CPUTotal: 4, CPUFree: 2, MemTotal: 8, MemFree: 4, MaxVMs: -1,
		VMs: []VM{
			{ID: "v2", CPU: 1, Memory: 2, Hostname: "B", State: StateRunning},
			{ID: "v3", CPU: 1, Memory: 2, Hostname: "B", State: StateRunning},
		}}
	hi.Hosts["C"] = &Host{Hostname: "C", CPUTotal: 4, CPUFree: 4, MemTotal: 8, MemFree: 8, MaxVMs: -1}
	return hi
}

func TestHostCanFitAndAddRemove(t *testing.T) {
	h := &Host{Hostname: "h", CPUTotal: 4, CPUFree: 4, MemTotal: 8, MemFree: 8, MaxVMs: 1}
	vm := VM{ID: "v1", CPU: 1, Memory: 2}
	require.True(t, h.CanFit(vm))
	h.AddVM(vm)
	require.Equal(t, 3.0, h.CPUFree)
	require.Equal(t, 6.0, h.MemFree)
	require.False(t, h.CanFit(VM{ID: "v2", CPU: 1, Memory: 1}))

	require.True(t, h.RemoveVM("v1"))
	require.Equal(t, 4.0, h.CPUFree)
	require.False(t, h.HasVM("v1"))
}

func TestNormalizeSingleHost(t *testing.T) {
	hi := New()
	hi.Hosts["only"] = &Host{Hostname: "only", CPUTotal: 4, CPUFree: 2, MemTotal: 8, MemFree: 4}
	require.NoError(t, hi.Normalize())
	h := hi.Hosts["only"]
	require.Equal(t, 1.0, h.NormCPUFree)
	require.Equal(t, 1.0, h.NormCPUTotal)
	require.Equal(t, 1.0, h.NormMemFree)
	require.Equal(t, 1.0, h.NormMemTotal)
}

func TestNormalizeFailsOnZeroMax(t *testing.T) {
	hi := New()
	hi.Hosts["a"] = &Host{Hostname: "a", CPUTotal: 0, MemTotal: 8}
	hi.Hosts["b"] = &Host{Hostname: "b", CPUTotal: 0, MemTotal: 8}
	err := hi.Normalize()
	require.Error(t, err)
	var cne *CannotNormalizeError
	require.ErrorAs(t, err, &cne)
}

func TestMakeMovementRoundTrip(t *testing.T) {
	hi := threeHostCluster()
	require.NoError(t, hi.Normalize())
	before := hi.Clone()

	m := VMMigration{VMID: "v1", HostSrc: "A", HostDst: "B"}
	require.True(t, hi.MakeMovement(m))
	require.True(t, hi.Hosts["B"].HasVM("v1"))
	require.False(t, hi.Hosts["A"].HasVM("v1"))

	require.True(t, hi.MakeMovement(m.Inverse()))
	require.True(t, hi.Equal(before))
}

func TestCloneIsIndependent(t *testing.T) {
	hi := threeHostCluster()
	clone := hi.Clone()
	clone.Hosts["A"].RemoveVM("v1")
	require.True(t, hi.Hosts["A"].HasVM("v1"))
	require.False(t, clone.Hosts["A"].HasVM("v1"))
}

func TestReduceCapacity(t *testing.T) {
	hi := New()
	hi.Hosts["a"] = &Host{Hostname: "a", CPUTotal: 10, CPUFree: 10, MemTotal: 100, MemFree: 100}
	hi.ReduceCapacity(2, 0, 10, 10)
	h := hi.Hosts["a"]
	require.InDelta(t, 7.2, h.CPUTotal, 1e-9) // (10-2) - 10% = 7.2
	require.InDelta(t, 90.0, h.MemTotal, 1e-9)
}

func TestFilterHostsToEmptyDropsUnstable(t *testing.T) {
	hi := threeHostCluster()
	for i := range hi.Hosts["A"].VMs {
		hi.Hosts["A"].VMs[i].TimestampState = 100
	}
	out := hi.FilterHostsToEmpty([]string{"A", "B", "C"}, nil, nil, 600, 200, Thresholds{})
	require.NotContains(t, out, "A")

	out2 := hi.FilterHostsToEmpty([]string{"A", "B", "C"}, map[string]bool{"B": true}, nil, 0, 200, Thresholds{})
	require.NotContains(t, out2, "B")
}

func TestVarianceZeroWhenUniform(t *testing.T) {
	hi := New()
	for _, name := range []string{"a", "b", "c"} {
		hi.Hosts[name] = &Host{Hostname: name, CPUTotal: 4, CPUFree: 4, MemTotal: 8, MemFree: 8}
	}
	require.NoError(t, hi.Normalize())
	require.InDelta(t, 0.0, hi.Variance(), 1e-9)
}
