// Package policy implements the three orthogonal policy axes the
// defragmenter family composes by delegation rather than inheritance:
// VM-scheduler (destination choice for one VM), host-to-empty selection
// (which host's VMs to evict next), and cost/reward evaluation of a
// proposed migration or migration list. Each axis is a small interface set
// as a field on a Defragger configuration, rather than a type hierarchy.
package policy

import (
	"math"
	"sort"
	"strconv"

	"github.com/grycap/vmca/internal/resource"
)

// rankedHost pairs a host id with the rank assigned to it by a selection
// policy; higher rank wins.
type rankedHost struct {
	rank float64
	host string
}

func pickHighestRank(candidates []rankedHost) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].rank > candidates[j].rank })
	return candidates[0].host, true
}

// VMScheduler picks a destination host for one VM out of a candidate set.
// Implementations rank candidates and the caller takes the highest rank.
type VMScheduler interface {
	ScheduleVM(hi *resource.HostsInfo, candidates []string, vm resource.VM) (hostID string, ok bool)
}

func suitableForVM(hi *resource.HostsInfo, candidates []string, vm resource.VM) []string {
	var suitable []string
	for _, id := range candidates {
		h := hi.Hosts[id]
		if h != nil && h.CanFit(vm) {
			suitable = append(suitable, id)
		}
	}
	return suitable
}

// SchedulerFirstFit ranks candidates by arrival order: the first one that
// fits wins.
type SchedulerFirstFit struct{}

func (SchedulerFirstFit) ScheduleVM(hi *resource.HostsInfo, candidates []string, vm resource.VM) (string, bool) {
	suitable := suitableForVM(hi, candidates, vm)
	var ranked []rankedHost
	for i, id := range suitable {
		ranked = append(ranked, rankedHost{rank: -float64(i), host: id})
	}
	return pickHighestRank(ranked)
}

// SchedulerPacking prefers the fullest suitable host.
type SchedulerPacking struct{}

func (SchedulerPacking) ScheduleVM(hi *resource.HostsInfo, candidates []string, vm resource.VM) (string, bool) {
	suitable := suitableForVM(hi, candidates, vm)
	var ranked []rankedHost
	for _, id := range suitable {
		ranked = append(ranked, rankedHost{rank: float64(len(hi.Hosts[id].VMs)), host: id})
	}
	return pickHighestRank(ranked)
}

// SchedulerStripping prefers the emptiest suitable host.
type SchedulerStripping struct{}

func (SchedulerStripping) ScheduleVM(hi *resource.HostsInfo, candidates []string, vm resource.VM) (string, bool) {
	suitable := suitableForVM(hi, candidates, vm)
	var ranked []rankedHost
	for _, id := range suitable {
		ranked = append(ranked, rankedHost{rank: -float64(len(hi.Hosts[id].VMs)), host: id})
	}
	return pickHighestRank(ranked)
}

// SchedulerLoad ranks by the host's advertised "FREE_CPU" keyword, warning
// (via the supplied warn callback, which may be nil) and defaulting to zero
// when the keyword is absent or unparsable.
type SchedulerLoad struct {
	Warn func(host string)
}

func (s SchedulerLoad) ScheduleVM(hi *resource.HostsInfo, candidates []string, vm resource.VM) (string, bool) {
	suitable := suitableForVM(hi, candidates, vm)
	var ranked []rankedHost
	for _, id := range suitable {
		h := hi.Hosts[id]
		freeCPU := 0.0
		if raw, ok := h.Keywords["FREE_CPU"]; ok {
			if v, err := parseFloat(raw); err == nil {
				freeCPU = v
			} else if s.Warn != nil {
				s.Warn(id)
			}
		} else if s.Warn != nil {
			s.Warn(id)
		}
		ranked = append(ranked, rankedHost{rank: freeCPU, host: id})
	}
	return pickHighestRank(ranked)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// HostSelector picks the next host whose VMs the consolidator will attempt
// to evict, among candidates holding at least one VM.
type HostSelector interface {
	SelectHostToEmpty(hi *resource.HostsInfo, candidates []string) (hostID string, ok bool)
}

func nonEmptyCandidates(hi *resource.HostsInfo, candidates []string) []string {
	var out []string
	for _, id := range candidates {
		if h := hi.Hosts[id]; h != nil && len(h.VMs) > 0 {
			out = append(out, id)
		}
	}
	return out
}

// SelectFirstFit takes hosts in candidate order.
type SelectFirstFit struct{}

func (SelectFirstFit) SelectHostToEmpty(hi *resource.HostsInfo, candidates []string) (string, bool) {
	nonEmpty := nonEmptyCandidates(hi, candidates)
	var ranked []rankedHost
	for i, id := range nonEmpty {
		ranked = append(ranked, rankedHost{rank: -float64(i), host: id})
	}
	return pickHighestRank(ranked)
}

// SelectMoreVMsFirst prefers the host with the most VMs.
type SelectMoreVMsFirst struct{}

func (SelectMoreVMsFirst) SelectHostToEmpty(hi *resource.HostsInfo, candidates []string) (string, bool) {
	nonEmpty := nonEmptyCandidates(hi, candidates)
	var ranked []rankedHost
	for _, id := range nonEmpty {
		ranked = append(ranked, rankedHost{rank: float64(len(hi.Hosts[id].VMs)), host: id})
	}
	return pickHighestRank(ranked)
}

// SelectLessVMsFirst prefers the host with the fewest VMs.
type SelectLessVMsFirst struct{}

func (SelectLessVMsFirst) SelectHostToEmpty(hi *resource.HostsInfo, candidates []string) (string, bool) {
	nonEmpty := nonEmptyCandidates(hi, candidates)
	var ranked []rankedHost
	for _, id := range nonEmpty {
		ranked = append(ranked, rankedHost{rank: -float64(len(hi.Hosts[id].VMs)), host: id})
	}
	return pickHighestRank(ranked)
}

func usedFraction(hi *resource.HostsInfo, hostname string) float64 {
	total := hi.EuclidTotal(hostname)
	free := hi.EuclidFree(hostname)
	if total == 0 {
		return 0
	}
	return (total - free) / total
}

// SelectMoreUsedResourcesFirst prefers the host with the highest fraction of
// resources used.
type SelectMoreUsedResourcesFirst struct{}

func (SelectMoreUsedResourcesFirst) SelectHostToEmpty(hi *resource.HostsInfo, candidates []string) (string, bool) {
	nonEmpty := nonEmptyCandidates(hi, candidates)
	var ranked []rankedHost
	for _, id := range nonEmpty {
		ranked = append(ranked, rankedHost{rank: usedFraction(hi, id), host: id})
	}
	return pickHighestRank(ranked)
}

// SelectLessUsedResourcesFirst prefers the host with the lowest fraction of
// resources used.
type SelectLessUsedResourcesFirst struct{}

func (SelectLessUsedResourcesFirst) SelectHostToEmpty(hi *resource.HostsInfo, candidates []string) (string, bool) {
	nonEmpty := nonEmptyCandidates(hi, candidates)
	var ranked []rankedHost
	for _, id := range nonEmpty {
		ranked = append(ranked, rankedHost{rank: -usedFraction(hi, id), host: id})
	}
	return pickHighestRank(ranked)
}

// CostPolicy assigns a cost to migrating a single VM.
type CostPolicy interface {
	Cost(hi *resource.HostsInfo, vm resource.VM, hostDst string) float64
}

// DefaultCost is the memory-demand cost used unless overridden.
type DefaultCost struct{}

func (DefaultCost) Cost(hi *resource.HostsInfo, vm resource.VM, hostDst string) float64 {
	return vm.Memory
}

// ListRewardPolicy re-evaluates the reward of a whole candidate migration
// list, used by the Best-Fit consolidator's selection orderings.
type ListRewardPolicy interface {
	// Reward is called once per candidate list, after it has been
	// simulated; hiBefore is the snapshot before the list was applied,
	// hiAfter is the snapshot after.
	Reward(hiBefore, hiAfter *resource.HostsInfo, migrations []resource.VMMigration) float64
}

// DefaultReward returns 0 for every list.
type DefaultReward struct{}

func (DefaultReward) Reward(hiBefore, hiAfter *resource.HostsInfo, migrations []resource.VMMigration) float64 {
	return 0
}

// RewardListLength rewards longer migration lists.
type RewardListLength struct{}

func (RewardListLength) Reward(hiBefore, hiAfter *resource.HostsInfo, migrations []resource.VMMigration) float64 {
	return float64(len(migrations))
}

// RewardVarianceReduction rewards lists that flatten the distribution of
// per-host free-E, i.e. the negative variance after simulating the list.
type RewardVarianceReduction struct{}

func (RewardVarianceReduction) Reward(hiBefore, hiAfter *resource.HostsInfo, migrations []resource.VMMigration) float64 {
	return -hiAfter.Variance()
}

// CostPerReward and RewardPerCost are exposed for the Best-Fit selection
// orderings (internal/defrag), which need the same div-by-zero handling:
// a zero reward makes cost/reward +Inf rather than panicking.
func CostPerReward(cost, reward float64) float64 {
	if reward == 0 {
		return math.Inf(1)
	}
	return cost / reward
}

func RewardPerCost(cost, reward float64) float64 {
	if cost == 0 {
		return math.Inf(1)
	}
	return reward / cost
}
