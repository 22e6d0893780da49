package defrag

import (
	"math"

	"github.com/grycap/vmca/internal/resource"
)

// Refill is host-driven rather than VM-driven: it walks hosts-to-empty in
// enumeration order and, for each, repeatedly pulls in the best still
// available VM from the shared movable pool until no VM improves that host
// any further. It shares Distribute's Δ-gate but swaps which side of
// the move drives the search.
type Refill struct {
	Base
}

// NewRefill builds a Refill defragmenter.
func NewRefill(c Config) *Refill {
	return &Refill{Base: NewBase(c)}
}

func (d *Refill) Defrag(snapshot *resource.HostsInfo, hostsFixed, vmsFixed []string) (PlanValue, error) {
	hi := snapshot.Clone()
	if err := hi.Normalize(); err != nil {
		d.logger().Error("cannot normalize resources, returning empty plan", "err", err)
		return nil, nil
	}

	toEmptyHosts := hostsToEmpty(hi, hostsFixed)
	fixedVMs := toSet(vmsFixed)
	filtered := d.FilterHostsToEmpty(hi, toEmptyHosts, fixedVMs)

	rMean := clusterMeanFreeE(hi)
	pool := movablePool(hi, filtered, fixedVMs)

	var plan PlanValue
	for _, host := range filtered {
		var migrations []resource.VMMigration
		for {
			bestIdx := -1
			bestScore := math.Inf(-1)
			bestDelta := 0.0

			h := hi.Hosts[host]
			if h == nil {
				break
			}
			for i, vm := range pool {
				if vm.Hostname == host || !h.CanFit(vm) {
					continue
				}
				vmE := vmResourceE(hi, vm)
				srcFree := hi.EuclidFree(vm.Hostname)
				deltaSrc := delta(rMean, srcFree, vmE)
				if deltaSrc < 0 {
					continue
				}
				dstFree := hi.EuclidFree(host)
				deltaDst := delta(rMean, dstFree, -vmE)
				if deltaDst <= 0 {
					continue
				}
				score := dstFree - deltaDst
				if score > bestScore {
					bestScore, bestIdx, bestDelta = score, i, deltaDst
				}
			}
			if bestIdx < 0 {
				break
			}

			vm := pool[bestIdx]
			pool = append(pool[:bestIdx], pool[bestIdx+1:]...)

			m := resource.VMMigration{VMID: vm.ID, HostSrc: vm.Hostname, HostDst: host, Cost: 0, Reward: bestDelta}
			hi.MakeMovement(m)
			migrations = append(migrations, m)
		}
		if len(migrations) > 0 {
			plan = append(plan, newEvaluatedPlan(migrations))
		}
	}
	return plan, nil
}
