package defrag

import (
	"math"
	"sort"

	"github.com/grycap/vmca/internal/resource"
)

// vmResourceE is the normalized E-metric of a VM's own (cpu, mem)
// footprint, the "vm_E" of the Distribute/Refill improvement formulas.
func vmResourceE(hi *resource.HostsInfo, vm resource.VM) float64 {
	if hi.MaxCPU == 0 || hi.MaxMemory == 0 {
		return 0
	}
	tmp := resource.New()
	tmp.WeightCPU, tmp.WeightMem = hi.WeightCPU, hi.WeightMem
	tmp.MaxCPU, tmp.MaxMemory = hi.MaxCPU, hi.MaxMemory
	tmp.Hosts["x"] = &resource.Host{Hostname: "x", CPUTotal: 1, MemTotal: 1, NormCPUFree: vm.CPU / hi.MaxCPU, NormMemFree: vm.Memory / hi.MaxMemory}
	return tmp.EuclidFree("x")
}

// delta is the Δ(h, δ) improvement function shared by Distribute and
// Refill: positive means the change brings the host's free-E closer to the
// cluster mean.
func delta(rMean, freeBefore, amount float64) float64 {
	return math.Abs(rMean-freeBefore) - math.Abs(rMean-(freeBefore+amount))
}

func clusterMeanFreeE(hi *resource.HostsInfo) float64 {
	if len(hi.Hosts) == 0 {
		return 0
	}
	var sum float64
	for h := range hi.Hosts {
		sum += hi.EuclidFree(h)
	}
	return sum / float64(len(hi.Hosts))
}

func movablePool(hi *resource.HostsInfo, fromHosts []string, fixedVMs map[string]bool) []resource.VM {
	var pool []resource.VM
	for _, hostname := range fromHosts {
		h := hi.Hosts[hostname]
		if h == nil {
			continue
		}
		for _, vm := range h.VMs {
			if !fixedVMs[vm.ID] {
				pool = append(pool, vm)
			}
		}
	}
	sort.SliceStable(pool, func(i, j int) bool { return vmResourceE(hi, pool[i]) < vmResourceE(hi, pool[j]) })
	return pool
}

// Distribute spreads VMs to reduce the variance of per-host free-E, rather
// than packing them onto empty hosts.
type Distribute struct {
	Base
}

// NewDistribute builds a Distribute defragmenter.
func NewDistribute(c Config) *Distribute {
	return &Distribute{Base: NewBase(c)}
}

func (d *Distribute) Defrag(snapshot *resource.HostsInfo, hostsFixed, vmsFixed []string) (PlanValue, error) {
	hi := snapshot.Clone()
	if err := hi.Normalize(); err != nil {
		d.logger().Error("cannot normalize resources, returning empty plan", "err", err)
		return nil, nil
	}

	toEmptyHosts := hostsToEmpty(hi, hostsFixed)
	fixedVMs := toSet(vmsFixed)
	filtered := d.FilterHostsToEmpty(hi, toEmptyHosts, fixedVMs)
	destCandidates := d.PrefilterPossibleDestinations(hi)

	rMean := clusterMeanFreeE(hi)
	pool := movablePool(hi, filtered, fixedVMs)

	var migrations []resource.VMMigration
	for len(pool) > 0 {
		vm := pool[0]
		pool = pool[1:]

		vmE := vmResourceE(hi, vm)
		srcFree := hi.EuclidFree(vm.Hostname)
		deltaSrc := delta(rMean, srcFree, vmE)
		if deltaSrc < 0 {
			continue
		}

		bestDst := ""
		bestScore := math.Inf(-1)
		bestDelta := 0.0
		for _, dst := range destCandidates {
			if dst == vm.Hostname {
				continue
			}
			h := hi.Hosts[dst]
			if h == nil || !h.CanFit(vm) {
				continue
			}
			dstFree := hi.EuclidFree(dst)
			deltaDst := delta(rMean, dstFree, -vmE)
			if deltaDst <= 0 {
				continue
			}
			score := dstFree - deltaDst
			if score > bestScore {
				bestScore, bestDst, bestDelta = score, dst, deltaDst
			}
		}
		if bestDst == "" {
			continue
		}

		m := resource.VMMigration{VMID: vm.ID, HostSrc: vm.Hostname, HostDst: bestDst, Cost: 0, Reward: bestDelta}
		hi.MakeMovement(m)
		migrations = append(migrations, m)
	}

	if len(migrations) == 0 {
		return nil, nil
	}
	return PlanValue{newEvaluatedPlan(migrations)}, nil
}
