// Package planner executes a defrag.PlanValue one migration at a time,
// reconciling progress against fresh monitor snapshots and applying
// cooldowns, drift detection, and migration timeouts.
package planner

import (
	"fmt"
	"sync"
	"time"

	"github.com/grycap/vmca/internal/defrag"
	"github.com/grycap/vmca/internal/logging"
	"github.com/grycap/vmca/internal/monitor"
	"github.com/grycap/vmca/internal/resource"
)

// Config holds the plan executor's tunables, named after the VMCA config
// keys they come from.
type Config struct {
	CooldownMigration      int64
	MigrationPlanFrequency int64
	MaxMigrationTime       int64

	// MaxSimultaneousMigrations is validated at construction time: only 1
	// is supported, matching _execute_event's "there is no support for
	// more than one migration at once" fail-fast disposition.
	MaxSimultaneousMigrations int

	EnableMigration bool

	Now func() int64
	Log logging.Logger
}

// ongoingMigration is VMMigration_ongoing: a dispatched migration plus the
// timestamp it was dispatched at.
type ongoingMigration struct {
	resource.VMMigration
	TimestampStart int64
}

// Plan is the single-flight migration plan executor.
type Plan struct {
	mu sync.Mutex

	monitor *monitor.Monitor
	cfg     Config

	migrationPlan          defrag.PlanValue
	ongoing                map[string]ongoingMigration
	failed                 map[string]ongoingMigration
	timestampLastMigration int64
	timestampEnd           int64
	hostsInfo              *resource.HostsInfo
	timer                  *time.Timer
}

// New builds a Plan executor bound to m. It rejects any
// MaxSimultaneousMigrations other than 1, the one concurrency level the
// dispatch logic below actually supports.
func New(m *monitor.Monitor, cfg Config) (*Plan, error) {
	if cfg.MaxSimultaneousMigrations != 1 {
		return nil, fmt.Errorf("planner: unsupported MaxSimultaneousMigrations=%d, only 1 is supported", cfg.MaxSimultaneousMigrations)
	}
	if cfg.Now == nil {
		cfg.Now = func() int64 { return time.Now().Unix() }
	}
	if cfg.Log == nil {
		cfg.Log = logging.Nop
	}
	return &Plan{
		monitor: m,
		cfg:     cfg,
		ongoing: make(map[string]ongoingMigration),
		failed:  make(map[string]ongoingMigration),
	}, nil
}

// SetEnableMigration toggles whether the executor is allowed to dispatch
// migrations, the way a live config reload would flip ENABLE_MIGRATION.
func (p *Plan) SetEnableMigration(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.EnableMigration = enabled
}

// IsAlive reports whether there is a pending plan or any migration still in
// flight, pruning exhausted sublists first (MigrationPlan.is_alive).
func (p *Plan) IsAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prunePlanLocked()
	return p.migrationPlan != nil || len(p.ongoing) > 0
}

func (p *Plan) prunePlanLocked() {
	if p.migrationPlan == nil {
		return
	}
	var kept defrag.PlanValue
	for _, ep := range p.migrationPlan {
		if len(ep.Migrations) > 0 {
			kept = append(kept, ep)
		}
	}
	if len(kept) == 0 {
		p.migrationPlan = nil
		return
	}
	p.migrationPlan = kept
}

// GetFailedMigrations returns a snapshot of VMs whose migration failed.
func (p *Plan) GetFailedMigrations() map[string]resource.VMMigration {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]resource.VMMigration, len(p.failed))
	for id, m := range p.failed {
		out[id] = m.VMMigration
	}
	return out
}

// OngoingMigrations returns a snapshot of the migrations currently in
// flight, keyed by VM id.
func (p *Plan) OngoingMigrations() map[string]resource.VMMigration {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]resource.VMMigration, len(p.ongoing))
	for id, m := range p.ongoing {
		out[id] = m.VMMigration
	}
	return out
}

// Start installs a new migration plan and schedules its first tick.
func (p *Plan) Start(plan defrag.PlanValue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.migrationPlan = plan
	p.timestampEnd = 0
	p.scheduleNextLocked(0)
}

// Cancel discards the pending plan without aborting migrations already in
// flight.
func (p *Plan) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelLocked()
}

func (p *Plan) cancelLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.migrationPlan = nil
	p.timestampEnd = p.cfg.Now()
	p.timestampLastMigration = 0
}

// Update refreshes the cached snapshot, detects drift, and purges completed
// or timed-out migrations, discarding its outcome like MigrationPlan.update.
func (p *Plan) Update() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updateLocked()
}

func (p *Plan) updateLocked() int {
	hi, err := p.monitor.Snapshot()
	if err != nil {
		p.cfg.Log.Error("could not monitor deployment")
		return -1
	}
	if p.hostsInfo == nil {
		p.hostsInfo = hi
	}

	now := p.cfg.Now()
	excluded := make(map[string]bool, len(p.ongoing))
	for vmid, m := range p.ongoing {
		if now-m.TimestampStart < p.cfg.MaxMigrationTime {
			excluded[vmid] = true
		}
	}
	if compareHostsInfo(hi, p.hostsInfo, excluded) != 0 && p.migrationPlan != nil {
		p.cfg.Log.Error("things have changed, cancelling the migration plan")
		p.cancelLocked()
	}

	p.hostsInfo = hi
	return p.purgeMigratingVMsLocked()
}

func (p *Plan) purgeMigratingVMsLocked() int {
	still := make(map[string]ongoingMigration, len(p.ongoing))
	failedCount := 0
	now := p.cfg.Now()

	for vmid, m := range p.ongoing {
		done := false
		if h := p.hostsInfo.Hosts[m.HostDst]; h != nil {
			if vm, ok := h.GetVM(vmid); ok && vm.State == resource.StateRunning {
				done = true
			}
		}
		if done {
			continue
		}
		if now-m.TimestampStart < p.cfg.MaxMigrationTime {
			still[vmid] = m
		} else {
			p.failed[vmid] = m
			p.cfg.Log.Error("failed to migrate vm in time", "vm", vmid)
			failedCount++
		}
	}
	p.ongoing = still
	return failedCount
}

func (p *Plan) popNextMigrationLocked() *resource.VMMigration {
	for i := range p.migrationPlan {
		if len(p.migrationPlan[i].Migrations) > 0 {
			m := p.migrationPlan[i].Migrations[0]
			p.migrationPlan[i].Migrations = p.migrationPlan[i].Migrations[1:]
			return &m
		}
	}
	return nil
}

func (p *Plan) pendingMigrationsLocked() bool {
	for _, ep := range p.migrationPlan {
		if len(ep.Migrations) > 0 {
			return true
		}
	}
	return false
}

func (p *Plan) makeMigrationLocked(vmm resource.VMMigration) bool {
	if _, already := p.ongoing[vmm.VMID]; already {
		p.cfg.Log.Error("trying to migrate a vm that is already being migrated", "vm", vmm.VMID)
		return false
	}
	om := ongoingMigration{VMMigration: vmm, TimestampStart: p.cfg.Now()}
	if p.monitor.MakeMigration(vmm) {
		p.ongoing[vmm.VMID] = om
		p.timestampLastMigration = p.cfg.Now()
		return true
	}
	p.failed[vmm.VMID] = om
	return false
}

func (p *Plan) migrateNextVMLocked() bool {
	next := p.popNextMigrationLocked()
	if next == nil {
		p.cancelLocked()
		return false
	}
	p.cfg.Log.Info("dispatching migration", "vm", next.VMID, "from", next.HostSrc, "to", next.HostDst)
	if !p.makeMigrationLocked(*next) {
		p.cfg.Log.Error("cancelling migration plan, migration could not be dispatched", "vm", next.VMID)
		p.cancelLocked()
		return false
	}
	return true
}

// Tick runs one pass of the execution loop: cooldown check, the
// ENABLE_MIGRATION gate, a snapshot refresh, and at most one dispatched
// migration, then reschedules itself.
func (p *Plan) Tick() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timer = nil

	now := p.cfg.Now()
	if since := now - p.timestampLastMigration; since < p.cfg.CooldownMigration {
		p.cfg.Log.Debug("cooling down migrations")
		p.scheduleNextLocked(p.cfg.CooldownMigration - since)
		return
	}

	if !p.cfg.EnableMigration {
		p.cfg.Log.Info("migration disabled, cancelling migration plan")
		p.cancelLocked()
		return
	}

	failedCount := p.updateLocked()
	if failedCount < 0 {
		return
	}
	if failedCount > 0 {
		p.cfg.Log.Error("cancelling migration plan, there are failed migrations")
		p.cancelLocked()
		return
	}

	if len(p.ongoing) >= p.cfg.MaxSimultaneousMigrations {
		p.cfg.Log.Debug("still migrating some vms")
		p.scheduleNextLocked(0)
		return
	}

	if p.pendingMigrationsLocked() {
		p.migrateNextVMLocked()
	}
	p.scheduleNextLocked(0)
}

// scheduleNextLocked arms the one-shot retry timer if there is still work
// to do and none is already armed, capped at MigrationPlanFrequency
// (MigrationPlan._program_event).
func (p *Plan) scheduleNextLocked(nextProgram int64) {
	if !p.pendingMigrationsLocked() && len(p.ongoing) == 0 {
		return
	}
	if p.timer != nil {
		return
	}
	if nextProgram <= 0 {
		nextProgram = p.cfg.MigrationPlanFrequency
	}
	if nextProgram > p.cfg.MigrationPlanFrequency {
		nextProgram = p.cfg.MigrationPlanFrequency
	}
	p.timer = time.AfterFunc(time.Duration(nextProgram)*time.Second, p.Tick)
}

// compareHostsInfo reports whether a and b hold the same VMs in the same
// hosts, ignoring vms in excluded. The sign of a nonzero result identifies
// which side diverged, though callers here only need the zero/nonzero
// distinction.
func compareHostsInfo(a, b *resource.HostsInfo, excluded map[string]bool) int {
	for hostname, ha := range a.Hosts {
		hb, ok := b.Hosts[hostname]
		if !ok {
			return -1
		}
		for _, vm := range ha.VMs {
			if excluded[vm.ID] {
				continue
			}
			if !hb.HasVM(vm.ID) {
				return -2
			}
		}
	}
	for hostname, hb := range b.Hosts {
		ha, ok := a.Hosts[hostname]
		if !ok {
			return 1
		}
		for _, vm := range hb.VMs {
			if excluded[vm.ID] {
				continue
			}
			if !ha.HasVM(vm.ID) {
				return 2
			}
		}
	}
	return 0
}
