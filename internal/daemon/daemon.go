// Package daemon wires the Monitor, the defragmenter family, and the
// migration plan executor into the periodic control loop: a
// DEFRAGGER_FREQUENCY cron tick driving the defrag cycle, plus the
// operator-triggered forcerun/clean-hosts/get-plan/dump-data operations.
package daemon

import (
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/grycap/vmca/internal/config"
	"github.com/grycap/vmca/internal/defrag"
	"github.com/grycap/vmca/internal/deployment"
	"github.com/grycap/vmca/internal/logging"
	"github.com/grycap/vmca/internal/monitor"
	"github.com/grycap/vmca/internal/planner"
	"github.com/grycap/vmca/internal/resource"
)

// CleanDefraggerFactory builds a fresh defragmenter for clean_hosts,
// parameterized on whether currently-empty hosts may be used as
// destinations (the "use_empty" RPC argument).
type CleanDefraggerFactory func(useEmptyHosts bool) defrag.Defragger

// Daemon is the periodic control loop: it owns a single mutex that
// serializes the cron-driven defrag tick against operator-triggered RPCs
// (forcerun, clean_hosts, get_plan, dump_data).
type Daemon struct {
	mu sync.Mutex

	cfg config.Config
	log logging.Logger

	mon  *monitor.Monitor
	dep  deployment.Deployment
	plan *planner.Plan

	periodic    defrag.Defragger
	distributer defrag.Defragger
	newCleaner  CleanDefraggerFactory

	cron    *cron.Cron
	entryID cron.EntryID
}

// Deps bundles the dependencies Daemon needs beyond the plain
// configuration values, since those dependencies (Monitor, Plan,
// Defragger instances) are constructed and wired by the caller.
type Deps struct {
	Monitor     *monitor.Monitor
	Deployment  deployment.Deployment
	Plan        *planner.Plan
	Periodic    defrag.Defragger
	Distributer defrag.Defragger
	NewCleaner  CleanDefraggerFactory
	Log         logging.Logger
}

// New builds a Daemon. It does not start the periodic tick; call Start.
func New(cfg config.Config, d Deps) *Daemon {
	log := d.Log
	if log == nil {
		log = logging.Nop
	}
	return &Daemon{
		cfg:         cfg,
		log:         log,
		mon:         d.Monitor,
		dep:         d.Deployment,
		plan:        d.Plan,
		periodic:    d.Periodic,
		distributer: d.Distributer,
		newCleaner:  d.NewCleaner,
	}
}

// Start arms the DEFRAGGER_FREQUENCY cron tick, whether or not
// EnableDefragger is set: with EnableDefragger false the tick still fires
// but defragCycleLocked returns without doing anything, matching
// defrag_cycle()'s own checks rather than suppressing the cron entry.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cron != nil {
		return nil
	}
	d.cron = cron.New()
	spec := fmt.Sprintf("@every %ds", d.cfg.DefraggerFrequency)
	id, err := d.cron.AddFunc(spec, d.DefragCycle)
	if err != nil {
		d.cron = nil
		return fmt.Errorf("daemon: scheduling defrag cycle: %w", err)
	}
	d.entryID = id
	d.cron.Start()
	return nil
}

// Stop halts the periodic tick. In-flight plan execution (the planner's
// own timer) is untouched.
func (d *Daemon) Stop() {
	d.mu.Lock()
	c := d.cron
	d.cron = nil
	d.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}

// DefragCycle is defrag_cycle: skip if a plan is already running,
// otherwise monitor, compute locked hosts and fixed VMs, shrink capacity
// by the configured spare, run the periodic defragmenter, and start
// whatever plan it returns.
func (d *Daemon) DefragCycle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defragCycleLocked()
}

func (d *Daemon) defragCycleLocked() {
	if !d.cfg.EnableDefragger {
		d.log.Debug("defragger disabled, skipping cycle")
		return
	}
	if d.plan.IsAlive() {
		d.log.Debug("a migration plan is already running, skipping cycle")
		return
	}

	hi, err := d.mon.Snapshot()
	if err != nil {
		d.log.Error("could not monitor deployment", "err", err)
		return
	}

	lockedHosts := d.lockedHostsLocked(hi)
	fixedVMs := d.fixedVMsLocked()

	d.reduceCapacityLocked(hi)

	result, err := d.periodic.Defrag(hi, lockedHosts, fixedVMs)
	if err != nil {
		d.log.Error("defragger failed", "err", err)
		return
	}
	if len(result) == 0 {
		d.log.Debug("defrag cycle produced an empty plan")
		return
	}
	d.plan.Start(result)
}

// lockedHostsLocked returns hosts holding more VMs than
// MAX_MIGRATIONS_PER_HOST, which should not themselves be picked as an
// eviction target this cycle.
func (d *Daemon) lockedHostsLocked(hi *resource.HostsInfo) []string {
	if d.cfg.MaxMigrationsPerHost <= 0 {
		return nil
	}
	var locked []string
	for _, hostname := range hi.Keys() {
		if len(hi.Hosts[hostname].VMs) > d.cfg.MaxMigrationsPerHost {
			locked = append(locked, hostname)
		}
	}
	return locked
}

// fixedVMsLocked returns failed ∪ deployment.locked_vms().
func (d *Daemon) fixedVMsLocked() []string {
	failed := d.plan.GetFailedMigrations()
	out := make([]string, 0, len(failed))
	for vmid := range failed {
		out = append(out, vmid)
	}
	out = append(out, d.dep.LockedVMs()...)
	return out
}

func (d *Daemon) reduceCapacityLocked(hi *resource.HostsInfo) {
	c := d.cfg
	if c.SpareCPU != 0 || c.SpareMemory != 0 || c.SpareCPUPct != 0 || c.SpareMemoryPct != 0 {
		hi.ReduceCapacity(c.SpareCPU, c.SpareMemory, c.SpareCPUPct, c.SpareMemoryPct)
	}
}

// ForceRun triggers one immediate defrag cycle, bypassing the cron
// schedule (forcerun()).
func (d *Daemon) ForceRun() (bool, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	before := d.plan.IsAlive()
	d.defragCycleLocked()
	if !before && d.plan.IsAlive() {
		return true, "defrag cycle started a new migration plan"
	}
	return true, "defrag cycle ran, no new plan started"
}

// CleanHosts runs the "clean" defragmenter restricted to evacuating only
// the named hosts: every other host is passed as fixed (hosts_fixed =
// all - list). The listed hosts' VMs are stabilized first, bypassing the
// stability gate, and any running plan is cancelled before the new one
// starts (clean_hosts).
func (d *Daemon) CleanHosts(hosts []string, overrideFixed, useEmpty bool) (bool, string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	hi, err := d.mon.Snapshot()
	if err != nil {
		return false, fmt.Sprintf("could not monitor deployment: %v", err)
	}
	hi.StabilizeVMs(d.cfg.StableTime, hosts)

	target := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		target[h] = true
	}
	var hostsFixed []string
	for _, h := range hi.Keys() {
		if !target[h] {
			hostsFixed = append(hostsFixed, h)
		}
	}

	var fixedVMs []string
	if !overrideFixed {
		fixedVMs = d.fixedVMsLocked()
	}

	cleaner := d.newCleaner(useEmpty)
	result, err := cleaner.Defrag(hi, hostsFixed, fixedVMs)
	if err != nil {
		return false, fmt.Sprintf("clean defragger failed: %v", err)
	}

	d.plan.Cancel()
	if len(result) == 0 {
		return true, "clean produced an empty plan"
	}
	d.plan.Start(result)
	return true, "clean started a new migration plan"
}

// GetMean invokes the distribute-style defragmenter directly
// (getmean(override)), optionally ignoring the normally fixed VMs.
func (d *Daemon) GetMean(override bool) (bool, string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	hi, err := d.mon.Snapshot()
	if err != nil {
		return false, fmt.Sprintf("could not monitor deployment: %v", err)
	}

	var fixedVMs []string
	if !override {
		fixedVMs = d.fixedVMsLocked()
	}

	result, err := d.distributer.Defrag(hi, nil, fixedVMs)
	if err != nil {
		return false, fmt.Sprintf("distribute defragger failed: %v", err)
	}
	if len(result) == 0 {
		return true, "distribute produced an empty plan"
	}
	d.plan.Cancel()
	d.plan.Start(result)
	return true, "distribute started a new migration plan"
}

// GetPlan formats the plan state (get_plan()/getplan RPC): a "no migration
// plan is running" line when the plan is not alive, then the ongoing and
// failed migrations. The pending (not yet dispatched) migrations of the
// plan are not listed.
func (d *Daemon) GetPlan() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var sb strings.Builder
	if !d.plan.IsAlive() {
		sb.WriteString("no migration plan is running\n")
	}
	ongoing := d.plan.OngoingMigrations()
	if len(ongoing) == 0 {
		sb.WriteString("no migrations in flight\n")
	}
	for _, m := range ongoing {
		fmt.Fprintf(&sb, "ongoing: %s\n", m)
	}
	failed := d.plan.GetFailedMigrations()
	for _, m := range failed {
		fmt.Fprintf(&sb, "failed: %s\n", m)
	}
	return sb.String()
}

// DumpData formats the latest snapshot plus failed migrations
// (dump_data()/getinfo RPC).
func (d *Daemon) DumpData() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	hi, err := d.mon.Snapshot()
	if err != nil {
		return fmt.Sprintf("could not monitor deployment: %v\n", err)
	}
	var sb strings.Builder
	sb.WriteString(hi.FancyString())
	for _, m := range d.plan.GetFailedMigrations() {
		fmt.Fprintf(&sb, "failed: %s\n", m)
	}
	return sb.String()
}
