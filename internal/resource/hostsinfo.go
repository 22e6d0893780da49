package resource

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// CannotNormalizeError is returned by Normalize when the snapshot contains
// two or more hosts and at least one of max_cpu/max_memory is zero, making
// normalization undefined.
type CannotNormalizeError struct {
	Reason string
}

func (e *CannotNormalizeError) Error() string {
	return fmt.Sprintf("cannot normalize resources: %s", e.Reason)
}

// HostsInfo is a cluster snapshot: a mapping hostname -> Host, plus the
// snapshot-global max_cpu/max_memory used by Normalize, and the weights used
// by the Euclidean resource metric.
type HostsInfo struct {
	Hosts map[string]*Host

	MaxCPU    float64
	MaxMemory float64

	// WeightCPU/WeightMem are WEIGHT_CPU/WEIGHT_MEM from configuration.
	WeightCPU float64
	WeightMem float64
}

// New builds an empty snapshot with the default (1,1) weights.
func New() *HostsInfo {
	return &HostsInfo{
		Hosts:     map[string]*Host{},
		WeightCPU: 1,
		WeightMem: 1,
	}
}

// Keys returns the hostnames in the snapshot, in a stable (sorted) order so
// that algorithms built on top of iteration order are deterministic.
func (hi *HostsInfo) Keys() []string {
	keys := make([]string, 0, len(hi.Hosts))
	for k := range hi.Hosts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone produces an independent deep copy suitable for simulating
// hypothetical migrations.
func (hi *HostsInfo) Clone() *HostsInfo {
	c := &HostsInfo{
		Hosts:     make(map[string]*Host, len(hi.Hosts)),
		MaxCPU:    hi.MaxCPU,
		MaxMemory: hi.MaxMemory,
		WeightCPU: hi.WeightCPU,
		WeightMem: hi.WeightMem,
	}
	for k, h := range hi.Hosts {
		c.Hosts[k] = h.clone()
	}
	return c
}

// Normalize computes max_cpu/max_memory over the snapshot and fills the
// normalized fields of every host. A single-host snapshot is defined to
// normalize to 1.0 everywhere; two or more hosts with a zero total fails.
func (hi *HostsInfo) Normalize() error {
	if len(hi.Hosts) == 0 {
		return nil
	}
	if len(hi.Hosts) == 1 {
		for _, h := range hi.Hosts {
			hi.MaxCPU = h.CPUTotal
			hi.MaxMemory = h.MemTotal
			h.NormCPUFree, h.NormCPUTotal = 1.0, 1.0
			h.NormMemFree, h.NormMemTotal = 1.0, 1.0
		}
		return nil
	}

	var maxCPU, maxMem float64
	for _, h := range hi.Hosts {
		maxCPU = math.Max(maxCPU, h.CPUTotal)
		maxMem = math.Max(maxMem, h.MemTotal)
	}
	if maxCPU == 0 || maxMem == 0 {
		return &CannotNormalizeError{Reason: "zero max_cpu or max_memory across more than one host"}
	}

	hi.MaxCPU = maxCPU
	hi.MaxMemory = maxMem
	for _, h := range hi.Hosts {
		h.NormCPUFree = h.CPUFree / maxCPU
		h.NormCPUTotal = h.CPUTotal / maxCPU
		h.NormMemFree = h.MemFree / maxMem
		h.NormMemTotal = h.MemTotal / maxMem
	}
	return nil
}

// euclid is the configured-weight Euclidean norm of a normalized
// (memory, cpu) vector: E(m,c) = sqrt((Wm*m)^2 + (Wc*c)^2) / sqrt(Wm^2+Wc^2).
func euclid(wm, wc, m, c float64) float64 {
	denom := math.Sqrt(wm*wm + wc*wc)
	if denom == 0 {
		return 0
	}
	return math.Sqrt(wm*wm*m*m+wc*wc*c*c) / denom
}

// EuclidFree returns the E-metric over the normalized free vector of host.
func (hi *HostsInfo) EuclidFree(hostname string) float64 {
	h := hi.Hosts[hostname]
	if h == nil {
		return 0
	}
	return euclid(hi.WeightMem, hi.WeightCPU, h.NormMemFree, h.NormCPUFree)
}

// EuclidTotal returns the E-metric over the normalized total vector of host.
func (hi *HostsInfo) EuclidTotal(hostname string) float64 {
	h := hi.Hosts[hostname]
	if h == nil {
		return 0
	}
	return euclid(hi.WeightMem, hi.WeightCPU, h.NormMemTotal, h.NormCPUTotal)
}

// VMMigration describes a proposed or ongoing migration of one VM.
type VMMigration struct {
	VMID    string
	HostSrc string
	HostDst string
	Cost    float64
	Reward  float64
}

func (m VMMigration) String() string {
	return fmt.Sprintf("migrate %s: %s -> %s (cost=%.3f reward=%.3f)", m.VMID, m.HostSrc, m.HostDst, m.Cost, m.Reward)
}

// Inverse returns the migration that would undo m.
func (m VMMigration) Inverse() VMMigration {
	return VMMigration{VMID: m.VMID, HostSrc: m.HostDst, HostDst: m.HostSrc, Cost: m.Cost, Reward: m.Reward}
}

// MakeMovement atomically removes the VM from m.HostSrc, adds it to
// m.HostDst, rewrites the VM's back-reference, and incrementally refreshes
// the normalized fields for the two affected hosts only (preserving
// MaxCPU/MaxMemory for the rest of the snapshot).
func (hi *HostsInfo) MakeMovement(m VMMigration) bool {
	src := hi.Hosts[m.HostSrc]
	dst := hi.Hosts[m.HostDst]
	if src == nil || dst == nil {
		return false
	}
	vm, ok := src.GetVM(m.VMID)
	if !ok {
		return false
	}
	src.RemoveVM(m.VMID)
	vm.Hostname = m.HostDst
	dst.AddVM(vm)

	hi.refreshNormalized(src)
	hi.refreshNormalized(dst)
	return true
}

func (hi *HostsInfo) refreshNormalized(h *Host) {
	if hi.MaxCPU == 0 || hi.MaxMemory == 0 {
		return
	}
	h.NormCPUFree = h.CPUFree / hi.MaxCPU
	h.NormCPUTotal = h.CPUTotal / hi.MaxCPU
	h.NormMemFree = h.MemFree / hi.MaxMemory
	h.NormMemTotal = h.MemTotal / hi.MaxMemory
}

// StabilizeVMs sets every VM on the named hosts to Running and backdates
// timestamp_state by delta seconds, bypassing the stability gate. Used by
// the "clean" command.
func (hi *HostsInfo) StabilizeVMs(delta int64, hosts []string) {
	set := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		set[h] = true
	}
	for hostname, h := range hi.Hosts {
		if len(hosts) > 0 && !set[hostname] {
			continue
		}
		for i := range h.VMs {
			h.VMs[i].State = StateRunning
			h.VMs[i].TimestampState -= delta
		}
	}
}

// ReduceCapacity shrinks every host's free/total CPU and memory by a spare
// amount: absolute first, then a percentage of the already-reduced total,
// floored at zero. Covers both the absolute SPARE_CPU/SPARE_MEMORY
// reservation and the SPARE_CPU_PCT/SPARE_MEMORY_PCT percentage variants.
func (hi *HostsInfo) ReduceCapacity(spareCPU, spareMem, spareCPUPct, spareMemPct float64) {
	for _, h := range hi.Hosts {
		cpuTotal := h.CPUTotal - spareCPU
		if cpuTotal < 0 {
			cpuTotal = 0
		}
		if spareCPUPct > 0 {
			cpuTotal -= cpuTotal * spareCPUPct / 100.0
			if cpuTotal < 0 {
				cpuTotal = 0
			}
		}
		memTotal := h.MemTotal - spareMem
		if memTotal < 0 {
			memTotal = 0
		}
		if spareMemPct > 0 {
			memTotal -= memTotal * spareMemPct / 100.0
			if memTotal < 0 {
				memTotal = 0
			}
		}

		cpuDelta := h.CPUTotal - cpuTotal
		memDelta := h.MemTotal - memTotal
		h.CPUTotal = cpuTotal
		h.MemTotal = memTotal
		h.CPUFree -= cpuDelta
		if h.CPUFree < 0 {
			h.CPUFree = 0
		}
		h.MemFree -= memDelta
		if h.MemFree < 0 {
			h.MemFree = 0
		}
	}
}

// EmptyCount returns the number of hosts currently holding no VMs.
func (hi *HostsInfo) EmptyCount() int {
	n := 0
	for _, h := range hi.Hosts {
		if len(h.VMs) == 0 {
			n++
		}
	}
	return n
}

// AllVMs returns every VM in the snapshot, across all hosts.
func (hi *HostsInfo) AllVMs() []VM {
	var all []VM
	for _, h := range hi.Hosts {
		all = append(all, h.VMs...)
	}
	return all
}

// Equal reports whether hi and other hold the same set of VMs on the same
// hosts, order-insensitive.
func (hi *HostsInfo) Equal(other *HostsInfo) bool {
	if other == nil {
		return false
	}
	if len(hi.Hosts) != len(other.Hosts) {
		return false
	}
	for hostname, h := range hi.Hosts {
		oh, ok := other.Hosts[hostname]
		if !ok || len(h.VMs) != len(oh.VMs) {
			return false
		}
		for _, vm := range h.VMs {
			if !oh.HasVM(vm.ID) {
				return false
			}
		}
	}
	return true
}

// String renders the snapshot as a flat dump.
func (hi *HostsInfo) String() string {
	var sb strings.Builder
	for _, hostname := range hi.Keys() {
		h := hi.Hosts[hostname]
		fmt.Fprintf(&sb, "%s\n", h)
		for _, vm := range h.VMs {
			fmt.Fprintf(&sb, "\t%s\n", vm)
		}
	}
	return sb.String()
}

// FancyString renders the snapshot with per-host utilization percentages.
func (hi *HostsInfo) FancyString() string {
	var sb strings.Builder
	for _, hostname := range hi.Keys() {
		h := hi.Hosts[hostname]
		cpuPct, memPct := 0.0, 0.0
		if h.CPUTotal > 0 {
			cpuPct = 100.0 * (h.CPUTotal - h.CPUFree) / h.CPUTotal
		}
		if h.MemTotal > 0 {
			memPct = 100.0 * (h.MemTotal - h.MemFree) / h.MemTotal
		}
		fmt.Fprintf(&sb, "%-20s cpu=%5.1f%% mem=%5.1f%% vms=%d\n", hostname, cpuPct, memPct, len(h.VMs))
	}
	return sb.String()
}

// FilterHostsToEmpty drops, from candidates, hosts that are administratively
// disabled, hold any VM in fixedVMs, or are "unstable" (hold a Running VM
// whose state was entered less than stableTime ago). thresholds supplements
// this with CPU_MIN/MEMORY_MIN/VM_MIN style exclusion; a zero-value
// Thresholds leaves behavior unchanged.
func (hi *HostsInfo) FilterHostsToEmpty(candidates []string, disabled map[string]bool, fixedVMs map[string]bool, stableTime int64, now int64, thresholds Thresholds) []string {
	var out []string
	for _, hostname := range candidates {
		h := hi.Hosts[hostname]
		if h == nil || disabled[hostname] {
			continue
		}
		unstable := false
		for _, vm := range h.VMs {
			if fixedVMs[vm.ID] {
				unstable = true
				break
			}
			if vm.State == StateRunning && (now-vm.TimestampState) < stableTime {
				unstable = true
				break
			}
		}
		if unstable {
			continue
		}
		if thresholds.excludes(hi, h) {
			continue
		}
		out = append(out, hostname)
	}
	return out
}

// Thresholds supplements the basic DISABLED_HOSTS exclusion with
// CPU_MIN/MEMORY_MIN/VM_MIN style thresholds: a host whose usage is below
// the minimums is considered not worth evacuating. The zero value disables
// all three checks.
type Thresholds struct {
	CPUUsageMinPct float64 // 0 disables
	MemUsageMinPct float64 // 0 disables
	VMCountMin     int     // <=0 disables
}

func (t Thresholds) excludes(hi *HostsInfo, h *Host) bool {
	if t.CPUUsageMinPct <= 0 && t.MemUsageMinPct <= 0 && t.VMCountMin <= 0 {
		return false
	}
	cpuUsage, memUsage := 0.0, 0.0
	if h.CPUTotal > 0 {
		cpuUsage = 100.0 * (h.CPUTotal - h.CPUFree) / h.CPUTotal
	}
	if h.MemTotal > 0 {
		memUsage = 100.0 * (h.MemTotal - h.MemFree) / h.MemTotal
	}
	if t.CPUUsageMinPct > 0 && cpuUsage <= t.CPUUsageMinPct {
		return true
	}
	if t.MemUsageMinPct > 0 && memUsage <= t.MemUsageMinPct {
		return true
	}
	if t.VMCountMin > 0 && len(h.VMs) <= t.VMCountMin {
		return true
	}
	return false
}

// Variance returns the population variance of per-host free-E across the
// snapshot, used by the variance-reducing reward policy and by the
// dashboard summary.
func (hi *HostsInfo) Variance() float64 {
	n := len(hi.Hosts)
	if n == 0 {
		return 0
	}
	var sum float64
	values := make([]float64, 0, n)
	for hostname := range hi.Hosts {
		v := hi.EuclidFree(hostname)
		values = append(values, v)
		sum += v
	}
	mean := sum / float64(n)
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return variance / float64(n)
}
