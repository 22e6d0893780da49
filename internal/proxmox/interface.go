package proxmox

// ProxmoxClient is the transport-agnostic surface CollectClusterData and
// Deployment drive: Client speaks the REST API over HTTPS, ShellClient
// shells out to pvesh on-node. Neither transport detail leaks past this
// interface into the rest of the package.
type ProxmoxClient interface {
	GetClusterResources() ([]pveResourceRow, error)
	GetNodeStatus(node string) (*pveNodeStatus, error)
	GetVMStatus(node string, vmid int) (*pveVMStatus, error)

	// GetVMConfig fetches the raw VM config, the source ParseVMConfigMeta
	// parses for migration-constraint comments and disk sizes.
	GetVMConfig(node string, vmid int) (map[string]interface{}, error)

	GetNodes() ([]string, error)
	Ping() error
	Authenticate() error

	// Migrate requests a live migration of vmid from node to target.
	Migrate(node string, vmid int, vmType, target string) error
}

var (
	_ ProxmoxClient = (*Client)(nil)
	_ ProxmoxClient = (*ShellClient)(nil)
)
