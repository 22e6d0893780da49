// Package deployment defines the port the agent uses to talk to whatever
// hypervisor platform actually hosts the VMs. Concrete platform adapters
// are kept separate from the consolidation core, so only the interface and
// a simulated test double live here.
package deployment

import "github.com/grycap/vmca/internal/resource"

// Deployment is the external hypervisor adapter contract.
// GetInfo returns nil on failure rather than an error, which the Monitor
// treats as "platform temporarily unavailable" rather than a hard failure.
type Deployment interface {
	GetInfo() *resource.HostsInfo
	MigrateVM(vmID, hostSrc, hostDst string) bool
	MigratingVMs() []string
	LockedVMs() []string
}
