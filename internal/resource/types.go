// Package resource implements the consolidation core's resource model: hosts,
// VMs, the normalized (CPU, memory) vector arithmetic, cloning, and the
// movement primitive that both the defragmenter family and the execution
// supervisor use to simulate or apply migrations.
package resource

import "fmt"

// VMState is the lifecycle state of a VM as observed by the agent.
type VMState int

const (
	StateRunning VMState = iota
	StateOther
	StateMigrating
)

func (s VMState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateMigrating:
		return "migrating"
	default:
		return "other"
	}
}

// VM is a hosted virtual machine as seen by a snapshot.
type VM struct {
	ID     string
	CPU    float64
	Memory float64

	// Hostname is a back-reference by value, never a pointer into the
	// hosts map, so a VM can outlive the host it was read from.
	Hostname string

	State          VMState
	TimestampState int64 // unix seconds the state was last entered

	Metadata map[string]string
}

func (vm VM) String() string {
	return fmt.Sprintf("vm(%s cpu=%.2f mem=%.2f host=%s state=%s)", vm.ID, vm.CPU, vm.Memory, vm.Hostname, vm.State)
}

func (vm VM) clone() VM {
	c := vm
	if vm.Metadata != nil {
		c.Metadata = make(map[string]string, len(vm.Metadata))
		for k, v := range vm.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// Host is a physical host along with its currently hosted VMs.
type Host struct {
	Hostname string

	CPUTotal, CPUFree float64
	MemTotal, MemFree float64

	// Normalized fields, valid only after HostsInfo.Normalize.
	NormCPUFree, NormCPUTotal float64
	NormMemFree, NormMemTotal float64

	// MaxVMs >= 0 is a cap on len(VMs); -1 means unbounded.
	MaxVMs int

	VMs []VM

	// Keywords is the opaque platform metadata bag (e.g. "FREE_CPU" used
	// by the Load scheduler policy).
	Keywords map[string]string
}

// AddVM appends vm to the host and decrements free resources. It performs no
// capacity check; callers that need one should call CanFit first.
func (h *Host) AddVM(vm VM) {
	vm.Hostname = h.Hostname
	h.VMs = append(h.VMs, vm)
	h.CPUFree -= vm.CPU
	h.MemFree -= vm.Memory
}

// RemoveVM removes the VM identified by id, restoring free resources. It
// reports whether a VM with that id was found.
func (h *Host) RemoveVM(id string) bool {
	for i, vm := range h.VMs {
		if vm.ID == id {
			h.CPUFree += vm.CPU
			h.MemFree += vm.Memory
			h.VMs = append(h.VMs[:i], h.VMs[i+1:]...)
			return true
		}
	}
	return false
}

// HasVM reports whether the host currently holds a VM with the given id.
func (h *Host) HasVM(id string) bool {
	_, ok := h.GetVM(id)
	return ok
}

// GetVM returns the VM with the given id, if present.
func (h *Host) GetVM(id string) (VM, bool) {
	for _, vm := range h.VMs {
		if vm.ID == id {
			return vm, true
		}
	}
	return VM{}, false
}

// CanFit reports whether vm could be placed on h without violating free
// capacity or the VM-count cap.
func (h *Host) CanFit(vm VM) bool {
	if h.CPUFree < vm.CPU || h.MemFree < vm.Memory {
		return false
	}
	if h.MaxVMs >= 0 && len(h.VMs) >= h.MaxVMs {
		return false
	}
	return true
}

func (h *Host) clone() *Host {
	c := &Host{
		Hostname:     h.Hostname,
		CPUTotal:     h.CPUTotal,
		CPUFree:      h.CPUFree,
		MemTotal:     h.MemTotal,
		MemFree:      h.MemFree,
		NormCPUFree:  h.NormCPUFree,
		NormCPUTotal: h.NormCPUTotal,
		NormMemFree:  h.NormMemFree,
		NormMemTotal: h.NormMemTotal,
		MaxVMs:       h.MaxVMs,
	}
	if h.VMs != nil {
		c.VMs = make([]VM, len(h.VMs))
		for i, vm := range h.VMs {
			c.VMs[i] = vm.clone()
		}
	}
	if h.Keywords != nil {
		c.Keywords = make(map[string]string, len(h.Keywords))
		for k, v := range h.Keywords {
			c.Keywords[k] = v
		}
	}
	return c
}

func (h *Host) String() string {
	return fmt.Sprintf("host(%s cpu=%.2f/%.2f mem=%.2f/%.2f vms=%d)", h.Hostname, h.CPUFree, h.CPUTotal, h.MemFree, h.MemTotal, len(h.VMs))
}
