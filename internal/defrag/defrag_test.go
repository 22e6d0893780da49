package defrag

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grycap/vmca/internal/policy"
	"github.com/grycap/vmca/internal/resource"
)

func TestFirstFitEvacuatesHostWithRoom(t *testing.T) {
	hi := resource.New()
	hi.Hosts["A"] = &resource.Host{Hostname: "A", CPUTotal: 2, CPUFree: 1, MemTotal: 4, MemFree: 2, MaxVMs: -1,
		VMs: []resource.VM{{ID: "v1", CPU: 1, Memory: 2, Hostname: "A", State: resource.StateRunning}}}
	hi.Hosts["B"] = &resource.Host{Hostname: "B", CPUTotal: 4, CPUFree: 4, MemTotal: 8, MemFree: 8, MaxVMs: -1}

	d := NewFirstFit(Config{UseEmptyHostsAsDestination: true})
	plan, err := d.Defrag(hi, nil, nil)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.Len(t, plan[0].Migrations, 1)
	require.Equal(t, "B", plan[0].Migrations[0].HostDst)
}

func TestFirstFitRejectsPartialEvacuation(t *testing.T) {
	hi := resource.New()
	hi.Hosts["A"] = &resource.Host{Hostname: "A", CPUTotal: 2, CPUFree: 0, MemTotal: 2, MemFree: 0, MaxVMs: -1,
		VMs: []resource.VM{
			{ID: "v1", CPU: 1, Memory: 1, Hostname: "A", State: resource.StateRunning},
			{ID: "v2", CPU: 1, Memory: 1, Hostname: "A", State: resource.StateRunning},
		}}
	hi.Hosts["B"] = &resource.Host{Hostname: "B", CPUTotal: 1, CPUFree: 1, MemTotal: 1, MemFree: 1, MaxVMs: 1}

	d := NewFirstFit(Config{UseEmptyHostsAsDestination: true})
	plan, err := d.Defrag(hi, nil, nil)
	require.NoError(t, err)
	require.Empty(t, plan)
}

func TestBestFitPicksLargerRewardCandidate(t *testing.T) {
	hi := resource.New()
	hi.Hosts["A"] = &resource.Host{Hostname: "A", CPUTotal: 2, CPUFree: 1, MemTotal: 2, MemFree: 1, MaxVMs: 1,
		VMs: []resource.VM{{ID: "a1", CPU: 1, Memory: 1, Hostname: "A", State: resource.StateRunning}}}
	hi.Hosts["B"] = &resource.Host{Hostname: "B", CPUTotal: 2, CPUFree: 0, MemTotal: 2, MemFree: 0, MaxVMs: -1,
		VMs: []resource.VM{
			{ID: "b1", CPU: 1, Memory: 1, Hostname: "B", State: resource.StateRunning},
			{ID: "b2", CPU: 1, Memory: 1, Hostname: "B", State: resource.StateRunning},
		}}
	hi.Hosts["D"] = &resource.Host{Hostname: "D", CPUTotal: 4, CPUFree: 4, MemTotal: 4, MemFree: 4, MaxVMs: -1}

	d := NewBestFit(Config{Reward: policy.RewardListLength{}, UseEmptyHostsAsDestination: true}, BestFitReward)
	plan, err := d.Defrag(hi, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, plan)
	require.Len(t, plan[0].Migrations, 2)
	for _, m := range plan[0].Migrations {
		require.Equal(t, "D", m.HostDst)
	}
}

func TestDistributeMovesVMTowardFreerHost(t *testing.T) {
	hi := resource.New()
	hi.Hosts["H1"] = &resource.Host{Hostname: "H1", CPUTotal: 10, CPUFree: 0, MemTotal: 10, MemFree: 0, MaxVMs: -1,
		VMs: []resource.VM{{ID: "v1", CPU: 2, Memory: 2, Hostname: "H1", State: resource.StateRunning}}}
	hi.Hosts["H2"] = &resource.Host{Hostname: "H2", CPUTotal: 10, CPUFree: 10, MemTotal: 10, MemFree: 10, MaxVMs: -1}

	d := NewDistribute(Config{})
	plan, err := d.Defrag(hi, nil, nil)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.Len(t, plan[0].Migrations, 1)
	require.Equal(t, "v1", plan[0].Migrations[0].VMID)
	require.Equal(t, "H2", plan[0].Migrations[0].HostDst)
}

func TestRefillPullsVMIntoEmptiestHost(t *testing.T) {
	hi := resource.New()
	hi.Hosts["H1"] = &resource.Host{Hostname: "H1", CPUTotal: 10, CPUFree: 0, MemTotal: 10, MemFree: 0, MaxVMs: -1,
		VMs: []resource.VM{{ID: "v1", CPU: 2, Memory: 2, Hostname: "H1", State: resource.StateRunning}}}
	hi.Hosts["H2"] = &resource.Host{Hostname: "H2", CPUTotal: 10, CPUFree: 10, MemTotal: 10, MemFree: 10, MaxVMs: -1}

	d := NewRefill(Config{})
	plan, err := d.Defrag(hi, nil, nil)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.Len(t, plan[0].Migrations, 1)
	require.Equal(t, "H2", plan[0].Migrations[0].HostDst)
}
