package policy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grycap/vmca/internal/resource"
)

func cluster() *resource.HostsInfo {
	hi := resource.New()
	hi.Hosts["A"] = &resource.Host{Hostname: "A", CPUTotal: 4, CPUFree: 1, MemTotal: 8, MemFree: 2, MaxVMs: -1,
		VMs: []resource.VM{{ID: "v1"}, {ID: "v2"}, {ID: "v3"}}}
	hi.Hosts["B"] = &resource.Host{Hostname: "B", CPUTotal: 4, CPUFree: 3, MemTotal: 8, MemFree: 6, MaxVMs: -1,
		VMs: []resource.VM{{ID: "v4"}}}
	hi.Hosts["C"] = &resource.Host{Hostname: "C", CPUTotal: 4, CPUFree: 4, MemTotal: 8, MemFree: 8, MaxVMs: -1}
	_ = hi.Normalize()
	return hi
}

func TestSchedulerPackingPrefersFullest(t *testing.T) {
	hi := cluster()
	vm := resource.VM{ID: "new", CPU: 1, Memory: 1}
	host, ok := SchedulerPacking{}.ScheduleVM(hi, []string{"A", "B", "C"}, vm)
	require.True(t, ok)
	require.Equal(t, "A", host)
}

func TestSchedulerStrippingPrefersEmptiest(t *testing.T) {
	hi := cluster()
	vm := resource.VM{ID: "new", CPU: 1, Memory: 1}
	host, ok := SchedulerStripping{}.ScheduleVM(hi, []string{"A", "B", "C"}, vm)
	require.True(t, ok)
	require.Equal(t, "C", host)
}

func TestSchedulerExcludesHostsThatDontFit(t *testing.T) {
	hi := cluster()
	vm := resource.VM{ID: "big", CPU: 10, Memory: 1}
	_, ok := SchedulerFirstFit{}.ScheduleVM(hi, []string{"A", "B", "C"}, vm)
	require.False(t, ok)
}

func TestSelectMoreVMsFirst(t *testing.T) {
	hi := cluster()
	host, ok := SelectMoreVMsFirst{}.SelectHostToEmpty(hi, []string{"A", "B", "C"})
	require.True(t, ok)
	require.Equal(t, "A", host)
}

func TestSelectLessVMsFirstSkipsEmptyHosts(t *testing.T) {
	hi := cluster()
	host, ok := SelectLessVMsFirst{}.SelectHostToEmpty(hi, []string{"A", "B", "C"})
	require.True(t, ok)
	require.Equal(t, "B", host)
}

func TestCostPerRewardInfinityOnZeroReward(t *testing.T) {
	require.True(t, math.IsInf(CostPerReward(5, 0), 1))
	require.Equal(t, 2.5, CostPerReward(5, 2))
}

func TestRewardListLength(t *testing.T) {
	migrations := []resource.VMMigration{{VMID: "v1"}, {VMID: "v2"}}
	require.Equal(t, 2.0, RewardListLength{}.Reward(nil, nil, migrations))
}
