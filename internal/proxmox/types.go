package proxmox

import "fmt"

// Node is one hypervisor host in the cluster, enriched with the
// config-comment metadata CollectClusterData layers on top of the plain
// cluster/resources numbers: host state, provisioning/OSD/old-VM flags,
// and the raw key=value pairs those flags were derived from.
type Node struct {
	Name        string
	Status      string
	CPUCores    int       // logical CPUs (cores * threads)
	CPUSockets  int       // physical sockets
	CPUModel    string
	CPUMHz      float64
	CPUUsage    float64   // 0-100
	LoadAverage []float64 // 1, 5, 15 minute averages
	MaxMem      int64     // bytes
	UsedMem     int64     // bytes
	MaxDisk     int64     // bytes
	UsedDisk    int64     // bytes
	SwapTotal   int64     // bytes configured
	SwapUsed    int64     // bytes in use
	VMs         []VM
	Uptime      int64
	PVEVersion  string

	HasOSD            bool              // a VM name matches osd*.cloudwm.com
	AllowProvisioning bool              // hostprovision=true in the node config
	HasOldVMs         bool              // P flag set and a VM older than RecentlyCreatedThresholdDays
	HostState         int               // hoststate= from config; -1 means unset. 0=maintenance, 3=blocked
	ConfigMeta        map[string]string // every key=value pair from the node config comment line
}

// IsMigrationBlocked reports whether hoststate forbids migrations to or
// from this node: 0 (maintenance) and 3 (blocked) both do; an unset
// HostState (-1) allows them.
func (n *Node) IsMigrationBlocked() bool {
	return n.HostState == 0 || n.HostState == 3
}

// HasHostState reports whether hoststate was present in the node config at
// all, as opposed to HostState's zero value being ambiguous with hoststate=0.
func (n *Node) HasHostState() bool {
	return n.HostState >= 0
}

// GetStatusIndicators renders the one-letter-per-flag suffix (OSD,
// Provisioning, old-vms-Created) used alongside the node's status string;
// hoststate is reported separately by GetStatusWithIndicators.
func (n *Node) GetStatusIndicators() string {
	indicators := ""
	if n.HasOSD {
		indicators += "O"
	}
	if n.AllowProvisioning {
		indicators += "P"
	}
	if n.HasOldVMs {
		indicators += "C"
	}
	return indicators
}

// GetStatusWithIndicators formats "<status>/<hoststate> (<indicators>)",
// e.g. "online/3 (OPC)". hoststate=1 renders as the bare word "maint"
// instead of "online/1", and the parenthesized suffix is dropped entirely
// when no indicator flag is set.
func (n *Node) GetStatusWithIndicators() string {
	status := n.Status
	if n.HasHostState() {
		if n.HostState == 1 {
			status = "maint"
		} else {
			status = fmt.Sprintf("%s/%d", n.Status, n.HostState)
		}
	}

	indicators := n.GetStatusIndicators()
	if indicators == "" {
		return status
	}
	return fmt.Sprintf("%s (%s)", status, indicators)
}

// VM is one guest (qemu or lxc), enriched with the migration-constraint
// metadata parsed out of its config comment line.
type VM struct {
	VMID     int
	Name     string
	Node     string
	Status   string
	Type     string // qemu or lxc
	CPUCores int    // allocated vCPUs
	CPUUsage float64
	MaxMem   int64 // allocated, bytes
	UsedMem  int64
	MaxDisk  int64 // allocated, bytes
	UsedDisk int64
	Uptime   int64

	NoMigrate    bool              // nomigrate=true in the config comment
	ConfigMeta   map[string]string // every key=value pair from that comment line
	CreationTime int64             // meta: ctime= from the config, Unix seconds

	HostCPUModel string   // hostcpumodel=<substring>: only hosts whose CPU model contains this may run the VM
	WithVM       []string // withvm=name1,name2: must share a host with these VMs
	WithoutVM    []string // without=name1,name2: must not share a host with these VMs
}

// Cluster is the aggregate view CollectClusterData builds, combining the
// cluster/resources listing with per-node and per-VM detail fetched
// separately.
type Cluster struct {
	Nodes        []Node
	TotalVMs     int
	TotalVCPUs   int
	RunningVMs   int
	StoppedVMs   int
	TotalCPUs    int
	TotalRAM     int64
	TotalStorage int64
	UsedStorage  int64
}

// pveResourceRow is one entry of the cluster/resources API listing: a flat
// union of node, storage, qemu and lxc rows distinguished by Type, with
// most numeric fields only populated for the types that carry them.
type pveResourceRow struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Node     string  `json:"node"`
	Status   string  `json:"status"`
	Name     string  `json:"name"`
	Storage  string  `json:"storage,omitempty"`
	VMID     int     `json:"vmid,omitempty"`
	MaxCPU   int     `json:"maxcpu,omitempty"`
	CPU      float64 `json:"cpu,omitempty"`
	MaxMem   int64   `json:"maxmem,omitempty"`
	Mem      int64   `json:"mem,omitempty"`
	MaxDisk  int64   `json:"maxdisk,omitempty"`
	Disk     int64   `json:"disk,omitempty"`
	Uptime   int64   `json:"uptime,omitempty"`
	Template int     `json:"template,omitempty"`
}

// pveNodeStatus decodes /nodes/{node}/status. Only the fields the two
// ProxmoxClient implementations actually populate are kept here;
// memory/rootfs breakdowns the API also returns are never consumed by
// CollectClusterData and are decoded away silently by encoding/json.
type pveNodeStatus struct {
	Uptime      int64      `json:"uptime"`
	CPUInfo     pveCPUInfo `json:"cpuinfo"`
	Swap        pveSwap    `json:"swap"`
	LoadAverage []float64  `json:"loadavg"`
	PVEVersion  string     `json:"pveversion"`
}

type pveSwap struct {
	Total int64 `json:"total"`
	Used  int64 `json:"used"`
	Free  int64 `json:"free"`
}

type pveCPUInfo struct {
	Cores   int     `json:"cores"`
	CPUs    int     `json:"cpus"`
	Model   string  `json:"model"`
	Sockets int     `json:"sockets"`
	MHz     float64 `json:"mhz"`
}

// pveVMStatus decodes /nodes/{node}/{qemu,lxc}/{vmid}/status/current.
type pveVMStatus struct {
	Status  string  `json:"status"`
	VMID    int     `json:"vmid"`
	Name    string  `json:"name"`
	Uptime  int64   `json:"uptime"`
	CPUs    int     `json:"cpus"`
	CPU     float64 `json:"cpu"`
	MaxMem  int64   `json:"maxmem"`
	Mem     int64   `json:"mem"`
	MaxDisk int64   `json:"maxdisk"`
	Disk    int64   `json:"disk"`
}

// pveEnvelope is the {"data": ...} wrapper every /api2/json endpoint
// returns; Client re-marshals Data into the concrete shape it expects.
type pveEnvelope struct {
	Data interface{} `json:"data"`
}
