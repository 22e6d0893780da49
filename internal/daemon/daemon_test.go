package daemon

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grycap/vmca/internal/config"
	"github.com/grycap/vmca/internal/defrag"
	"github.com/grycap/vmca/internal/deployment/sim"
	"github.com/grycap/vmca/internal/monitor"
	"github.com/grycap/vmca/internal/planner"
	"github.com/grycap/vmca/internal/resource"
)

// twoHostSnapshot gives B a small resident VM rather than leaving it empty:
// plain FirstFit refuses to use an empty host as a migration destination,
// so an already-occupied B is what makes A's evacuation to B eligible.
func twoHostSnapshot() *resource.HostsInfo {
	hi := resource.New()
	hi.Hosts["A"] = &resource.Host{Hostname: "A", CPUTotal: 8, CPUFree: 4, MemTotal: 16, MemFree: 8, MaxVMs: -1,
		VMs: []resource.VM{{ID: "v1", CPU: 4, Memory: 8, Hostname: "A", State: resource.StateRunning}}}
	hi.Hosts["B"] = &resource.Host{Hostname: "B", CPUTotal: 8, CPUFree: 7, MemTotal: 16, MemFree: 14, MaxVMs: -1,
		VMs: []resource.VM{{ID: "v2", CPU: 1, Memory: 2, Hostname: "B", State: resource.StateRunning}}}
	return hi
}

// imbalancedFourHostSnapshot puts three small, equal-size VMs on one host
// and leaves three equal-capacity hosts empty: small enough that moving one
// off the loaded host narrows the gap to the cluster mean without
// overshooting it, which is what gives Distribute an improving move.
func imbalancedFourHostSnapshot() *resource.HostsInfo {
	hi := resource.New()
	hi.Hosts["A"] = &resource.Host{Hostname: "A", CPUTotal: 4, CPUFree: 1, MemTotal: 8, MemFree: 2, MaxVMs: -1,
		VMs: []resource.VM{
			{ID: "v1", CPU: 1, Memory: 2, Hostname: "A", State: resource.StateRunning},
			{ID: "v2", CPU: 1, Memory: 2, Hostname: "A", State: resource.StateRunning},
			{ID: "v3", CPU: 1, Memory: 2, Hostname: "A", State: resource.StateRunning},
		}}
	hi.Hosts["B"] = &resource.Host{Hostname: "B", CPUTotal: 4, CPUFree: 4, MemTotal: 8, MemFree: 8, MaxVMs: -1}
	hi.Hosts["C"] = &resource.Host{Hostname: "C", CPUTotal: 4, CPUFree: 4, MemTotal: 8, MemFree: 8, MaxVMs: -1}
	hi.Hosts["D"] = &resource.Host{Hostname: "D", CPUTotal: 4, CPUFree: 4, MemTotal: 8, MemFree: 8, MaxVMs: -1}
	return hi
}

func newDaemon(t *testing.T, enableDefragger bool) (*Daemon, *sim.Sim) {
	t.Helper()
	return newDaemonWithSnapshot(t, enableDefragger, twoHostSnapshot())
}

func newDaemonWithSnapshot(t *testing.T, enableDefragger bool, snapshot *resource.HostsInfo) (*Daemon, *sim.Sim) {
	t.Helper()
	dep := sim.New(snapshot, nil)
	clock := func() int64 { return 1000 }
	mon := monitor.New(dep, 100, clock, nil)
	plan, err := planner.New(mon, planner.Config{
		CooldownMigration:         0,
		MigrationPlanFrequency:    1000,
		MaxMigrationTime:          1000,
		MaxSimultaneousMigrations: 1,
		EnableMigration:           true,
		Now:                       clock,
	})
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.EnableDefragger = enableDefragger
	cfg.DefraggerFrequency = 1

	ff := defrag.NewFirstFit(defrag.Config{})
	dist := defrag.NewDistribute(defrag.Config{})
	newCleaner := func(useEmpty bool) defrag.Defragger {
		return defrag.NewFirstFit(defrag.Config{UseEmptyHostsAsDestination: useEmpty})
	}

	d := New(cfg, Deps{
		Monitor:     mon,
		Deployment:  dep,
		Plan:        plan,
		Periodic:    ff,
		Distributer: dist,
		NewCleaner:  newCleaner,
	})
	return d, dep
}

func TestDefragCycleStartsPlanWhenImbalanced(t *testing.T) {
	d, _ := newDaemon(t, true)
	require.False(t, d.plan.IsAlive())

	d.DefragCycle()
	require.True(t, d.plan.IsAlive())
}

func TestDefragCycleSkipsWhenDisabled(t *testing.T) {
	d, _ := newDaemon(t, false)
	d.DefragCycle()
	require.False(t, d.plan.IsAlive())
}

func TestDefragCycleSkipsWhenPlanAlreadyAlive(t *testing.T) {
	d, _ := newDaemon(t, true)
	d.DefragCycle()
	require.True(t, d.plan.IsAlive())

	ok, msg := d.ForceRun()
	require.True(t, ok)
	require.Contains(t, msg, "no new plan started")
}

func TestCleanHostsRestrictsEvacuationToListedHosts(t *testing.T) {
	d, _ := newDaemon(t, true)
	ok, _ := d.CleanHosts([]string{"A"}, true, true)
	require.True(t, ok)
	require.True(t, d.plan.IsAlive())
}

func TestGetMeanInvokesDistributeDefragger(t *testing.T) {
	d, _ := newDaemonWithSnapshot(t, true, imbalancedFourHostSnapshot())
	ok, _ := d.GetMean(true)
	require.True(t, ok)
	require.True(t, d.plan.IsAlive())
}

// TestFixedVMsIncludesFailedMigrationsForNextCycle drives a migration to
// timeout at the planner level and checks that the daemon folds the failed
// VM into fixedVMsLocked, so the next defrag cycle leaves it alone rather
// than retrying the same doomed move.
func TestFixedVMsIncludesFailedMigrationsForNextCycle(t *testing.T) {
	dep := sim.New(twoHostSnapshot(), nil)
	now := int64(1000)
	clock := func() int64 { return now }
	mon := monitor.New(dep, 0, clock, nil)
	plan, err := planner.New(mon, planner.Config{
		CooldownMigration:         0,
		MigrationPlanFrequency:    1_000_000,
		MaxMigrationTime:          500,
		MaxSimultaneousMigrations: 1,
		EnableMigration:           true,
		Now:                       clock,
	})
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.EnableDefragger = true
	cfg.DefraggerFrequency = 1

	d := New(cfg, Deps{
		Monitor:     mon,
		Deployment:  dep,
		Plan:        plan,
		Periodic:    defrag.NewFirstFit(defrag.Config{}),
		Distributer: defrag.NewDistribute(defrag.Config{}),
		NewCleaner: func(useEmpty bool) defrag.Defragger {
			return defrag.NewFirstFit(defrag.Config{UseEmptyHostsAsDestination: useEmpty})
		},
	})

	d.DefragCycle()
	require.True(t, d.plan.IsAlive())

	d.plan.Tick()
	require.Contains(t, d.plan.OngoingMigrations(), "v1")

	now += 600 // now-TimestampStart > MaxMigrationTime(500); the platform never reported v1 Running on B
	d.plan.Tick()
	require.NotContains(t, d.plan.OngoingMigrations(), "v1")
	require.Contains(t, d.plan.GetFailedMigrations(), "v1")
	require.Contains(t, d.fixedVMsLocked(), "v1")

	d.DefragCycle()
	require.False(t, d.plan.IsAlive(), "v1 sits fixed on B, the only host left to evacuate, so no new plan starts")
}

func TestDumpDataIncludesHostUtilization(t *testing.T) {
	d, _ := newDaemon(t, true)
	out := d.DumpData()
	require.Contains(t, out, "A")
	require.Contains(t, out, "B")
}
