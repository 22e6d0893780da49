// Package defrag implements the defragmenter family: First-Fit, Best-Fit,
// and Distribute/Refill consolidation algorithms built from the policy
// axes in internal/policy over the resource model in internal/resource.
package defrag

import (
	"github.com/grycap/vmca/internal/logging"
	"github.com/grycap/vmca/internal/policy"
	"github.com/grycap/vmca/internal/resource"
)

// EvaluatedPlan is an ordered list of migrations plus the summed cost and
// reward of the list.
type EvaluatedPlan struct {
	Migrations []resource.VMMigration
	Cost       float64
	Reward     float64
}

func newEvaluatedPlan(migrations []resource.VMMigration) EvaluatedPlan {
	p := EvaluatedPlan{Migrations: migrations}
	for _, m := range migrations {
		p.Cost += m.Cost
		p.Reward += m.Reward
	}
	return p
}

// PlanValue is an ordered list of EvaluatedPlans; iteration consumes
// migrations front-to-back across its sublists.
type PlanValue []EvaluatedPlan

// Defragger is the one entry point every consolidator exposes.
type Defragger interface {
	Defrag(snapshot *resource.HostsInfo, hostsFixed, vmsFixed []string) (PlanValue, error)
}

// Config holds the pluggable policy axes and tunables shared by every
// defragmenter, set as fields rather than through a type hierarchy —
// translating Python's mixin-based Defragger subclasses into composition.
type Config struct {
	VMScheduler  policy.VMScheduler
	HostSelector policy.HostSelector
	Cost         policy.CostPolicy
	Reward       policy.ListRewardPolicy

	// UseEmptyHostsAsDestination mirrors
	// Defragger_Base._can_use_empty_hosts_as_destination.
	UseEmptyHostsAsDestination bool

	DisabledHosts map[string]bool
	StableTime    int64
	Now           func() int64
	Thresholds    resource.Thresholds

	// MaxIterations caps the First-Fit outer loop; <=0 means unbounded.
	MaxIterations int

	Log logging.Logger
}

func (c *Config) logger() logging.Logger {
	if c.Log == nil {
		return logging.Nop
	}
	return c.Log
}

func (c *Config) now() int64 {
	if c.Now == nil {
		return 0
	}
	return c.Now()
}

// Base implements the shared skeleton every defragmenter composes: the
// common pre-steps, the filter/refilter hooks, and schedule_vms_from_host.
type Base struct {
	Config
}

func defaultedConfig(c Config) Config {
	if c.VMScheduler == nil {
		c.VMScheduler = policy.SchedulerFirstFit{}
	}
	if c.HostSelector == nil {
		c.HostSelector = policy.SelectFirstFit{}
	}
	if c.Cost == nil {
		c.Cost = policy.DefaultCost{}
	}
	if c.Reward == nil {
		c.Reward = policy.DefaultReward{}
	}
	return c
}

// NewBase builds a Base with unset policy fields defaulted to the plain
// First-Fit/default-cost/zero-reward behavior of Defragger_Base.
func NewBase(c Config) Base {
	return Base{Config: defaultedConfig(c)}
}

// PrefilterPossibleDestinations is the prefilter_possible_destinations hook;
// the default keeps every host as a possible destination.
func (b *Base) PrefilterPossibleDestinations(hi *resource.HostsInfo) []string {
	return hi.Keys()
}

// FilterHostsToEmpty drops disabled, fixed-VM-holding, and unstable hosts
// from candidates (filter_hosts_to_empty).
func (b *Base) FilterHostsToEmpty(hi *resource.HostsInfo, candidates []string, fixedVMs map[string]bool) []string {
	return hi.FilterHostsToEmpty(candidates, b.DisabledHosts, fixedVMs, b.StableTime, b.now(), b.Thresholds)
}

// RefilterHostsToEmpty implements the Defragger_Base.refilter_hosts_to_empty
// contract exactly: the current node is dropped when the migration list was
// empty (rejected, no point retrying an unchanged host) or when it emptied
// the node; every host that received a VM this round is also dropped
// because it is no longer stable.
func (b *Base) RefilterHostsToEmpty(hi *resource.HostsInfo, currentNode string, filtered []string, migrations []resource.VMMigration) []string {
	out := make([]string, 0, len(filtered))
	removeCurrent := len(migrations) == 0
	if !removeCurrent {
		if h := hi.Hosts[currentNode]; h != nil && len(h.VMs) == 0 {
			removeCurrent = true
		}
	}
	dst := make(map[string]bool, len(migrations))
	for _, m := range migrations {
		dst[m.HostDst] = true
	}
	for _, h := range filtered {
		if h == currentNode && removeCurrent {
			continue
		}
		if dst[h] {
			continue
		}
		out = append(out, h)
	}
	return out
}

// FilterMigrationsForHost accepts the migration list only if it evacuates
// every VM of host (strict all-or-nothing); host is read from hi, which
// must not yet have had the candidate migrations applied.
func (b *Base) FilterMigrationsForHost(hi *resource.HostsInfo, hostID string, migrations []resource.VMMigration) []resource.VMMigration {
	h := hi.Hosts[hostID]
	if h == nil || len(migrations) != len(h.VMs) {
		return nil
	}
	return migrations
}

// FilterDestinationsForVM excludes vm's own host, and excludes empty hosts
// unless UseEmptyHostsAsDestination is set.
func (b *Base) FilterDestinationsForVM(hi *resource.HostsInfo, candidates []string, vm resource.VM) []string {
	var out []string
	for _, id := range candidates {
		if id == vm.Hostname {
			continue
		}
		if !b.UseEmptyHostsAsDestination {
			if h := hi.Hosts[id]; h == nil || len(h.VMs) == 0 {
				continue
			}
		}
		out = append(out, id)
	}
	return out
}

// ScheduleVMsFromHost reschedules host's VMs onto destCandidates, optionally
// simulating the movements on hi as it goes so later choices in the same
// call see updated occupancy (schedule_vms_from_host with
// make_movements=True). hi is expected to be a clone the caller owns.
func (b *Base) ScheduleVMsFromHost(hi *resource.HostsInfo, hostID string, destCandidates []string, fixedVMs map[string]bool, makeMovements bool) []resource.VMMigration {
	host := hi.Hosts[hostID]
	if host == nil {
		return nil
	}
	vms := make([]resource.VM, len(host.VMs))
	copy(vms, host.VMs)

	var migrations []resource.VMMigration
	for _, vm := range vms {
		if fixedVMs[vm.ID] {
			continue
		}
		possible := b.FilterDestinationsForVM(hi, destCandidates, vm)
		dst, ok := b.VMScheduler.ScheduleVM(hi, possible, vm)
		if !ok {
			b.logger().Debug("could not find a new place for vm", "vm", vm.ID)
			continue
		}
		m := resource.VMMigration{
			VMID:    vm.ID,
			HostSrc: vm.Hostname,
			HostDst: dst,
			Cost:    b.Cost.Cost(hi, vm, dst),
			Reward:  0,
		}
		migrations = append(migrations, m)
		if makeMovements {
			hi.MakeMovement(m)
		}
	}
	return migrations
}

// MakeMigrations applies every migration in order onto hi (the live,
// non-clone snapshot) and reports whether any were applied.
func (b *Base) MakeMigrations(hi *resource.HostsInfo, migrations []resource.VMMigration) bool {
	applied := false
	for _, m := range migrations {
		b.logger().Info("migrating", "vm", m.VMID, "from", m.HostSrc, "to", m.HostDst)
		if hi.MakeMovement(m) {
			applied = true
		}
	}
	return applied
}

func hostsToEmpty(hi *resource.HostsInfo, hostsFixed []string) []string {
	fixed := make(map[string]bool, len(hostsFixed))
	for _, h := range hostsFixed {
		fixed[h] = true
	}
	var out []string
	for _, h := range hi.Keys() {
		if !fixed[h] {
			out = append(out, h)
		}
	}
	return out
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, it := range items {
		s[it] = true
	}
	return s
}
