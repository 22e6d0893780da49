package proxmox

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/grycap/vmca/internal/resource"
)

// Deployment adapts a ProxmoxClient (either the HTTP Client or the
// pvesh-based ShellClient) into the deployment.Deployment port the core
// consumes, giving the agent a genuine Proxmox VE target in addition to
// internal/deployment/sim's in-memory test double.
type Deployment struct {
	client ProxmoxClient

	mu      sync.Mutex
	lastVMs map[int]vmLocation
}

type vmLocation struct {
	node   string
	vmType string
}

// NewDeployment builds a Deployment over client, which may be either
// NewClient's HTTP implementation or NewShellClient's pvesh one.
func NewDeployment(client ProxmoxClient) *Deployment {
	return &Deployment{client: client, lastVMs: make(map[int]vmLocation)}
}

// GetInfo collects the current cluster state and converts it into a
// resource.HostsInfo snapshot. It returns nil on any collection failure,
// which the Monitor treats as "platform temporarily unavailable".
func (d *Deployment) GetInfo() *resource.HostsInfo {
	cluster, err := CollectClusterData(d.client)
	if err != nil {
		return nil
	}

	d.mu.Lock()
	d.lastVMs = make(map[int]vmLocation, cluster.TotalVMs)
	for _, node := range cluster.Nodes {
		for _, vm := range node.VMs {
			d.lastVMs[vm.VMID] = vmLocation{node: node.Name, vmType: vm.Type}
		}
	}
	d.mu.Unlock()

	return toHostsInfo(cluster)
}

// MigrateVM dispatches a real Proxmox migration via the underlying client.
// It looks up vmID's hypervisor type (qemu vs lxc) from the most recent
// GetInfo collection, since a VMMigration carries only an id.
func (d *Deployment) MigrateVM(vmID, hostSrc, hostDst string) bool {
	vmid, err := strconv.Atoi(vmID)
	if err != nil {
		return false
	}

	d.mu.Lock()
	loc, ok := d.lastVMs[vmid]
	d.mu.Unlock()
	vmType := "qemu"
	if ok {
		vmType = loc.vmType
	}

	return d.client.Migrate(hostSrc, vmid, vmType, hostDst) == nil
}

// MigratingVMs returns an empty list: the cluster/resources API this
// adapter polls does not distinguish "migrating" from "running" the way
// the VM state model does. A nil/empty MigratingVMs is treated as "no
// VMs known to be migrating" everywhere it is consumed.
func (d *Deployment) MigratingVMs() []string {
	return nil
}

// LockedVMs returns the ids of VMs that must not be moved: those whose
// config comment carries nomigrate=true (the migration-constraint metadata
// ParseVMConfigMeta/fetchVMConfigMeta already extracts), plus every VM
// resident on a host whose IsMigrationBlocked is true — a host in
// maintenance or blocked state accepts no incoming or outgoing migrations,
// so its VMs are locked in place until the operator clears the host state.
func (d *Deployment) LockedVMs() []string {
	cluster, err := CollectClusterData(d.client)
	if err != nil {
		return nil
	}
	return lockedVMIDs(cluster)
}

func lockedVMIDs(cluster *Cluster) []string {
	var out []string
	for _, node := range cluster.Nodes {
		blocked := node.IsMigrationBlocked()
		for _, vm := range node.VMs {
			if vm.NoMigrate || blocked {
				out = append(out, fmt.Sprintf("%d", vm.VMID))
			}
		}
	}
	return out
}

// toHostsInfo converts a Proxmox Cluster into the core's normalized
// (cpu, memory) resource.HostsInfo snapshot: cpu is measured in vCPU
// cores (Node.CPUCores / VM.CPUCores), memory in bytes
// (Node.MaxMem / VM.MaxMem). Disk is not part of the core's resource
// model and is dropped here; node/VM config metadata
// (HostCPUModel, WithVM, WithoutVM, status indicators, migration-blocked
// state) is preserved in the Keywords/Metadata bags for a
// deployment-specific policy to consume. Migration-blocked hosts are not
// dropped from the snapshot (their VMs still occupy real capacity) — a
// caller that must exclude them as migration destinations reads
// Keywords["migration_blocked"]; LockedVMs already keeps their VMs from
// being picked as migration sources.
func toHostsInfo(cluster *Cluster) *resource.HostsInfo {
	hi := resource.New()
	for _, node := range cluster.Nodes {
		h := &resource.Host{
			Hostname: node.Name,
			CPUTotal: float64(node.CPUCores),
			MemTotal: float64(node.MaxMem),
			MaxVMs:   -1,
			Keywords: map[string]string{
				"status":            node.GetStatusWithIndicators(),
				"pve_version":       node.PVEVersion,
				"migration_blocked": strconv.FormatBool(node.IsMigrationBlocked()),
			},
		}
		h.CPUFree = h.CPUTotal
		h.MemFree = h.MemTotal

		for _, vm := range node.VMs {
			state := resource.StateOther
			if vm.Status == "running" {
				state = resource.StateRunning
			}
			rv := resource.VM{
				ID:             strconv.Itoa(vm.VMID),
				CPU:            float64(vm.CPUCores),
				Memory:         float64(vm.MaxMem),
				Hostname:       node.Name,
				State:          state,
				TimestampState: vm.CreationTime,
				Metadata: map[string]string{
					"name":           vm.Name,
					"type":           vm.Type,
					"host_cpu_model": vm.HostCPUModel,
					"with_vm":        strings.Join(vm.WithVM, ","),
					"without_vm":     strings.Join(vm.WithoutVM, ","),
				},
			}
			h.AddVM(rv)
		}
		hi.Hosts[node.Name] = h
	}
	return hi
}
