// Package sim implements a simulated deployment.Deployment backed purely by
// an in-memory resource.HostsInfo, with no real hypervisor on the other
// end. Migration completion is an explicit CompleteMigration call rather
// than a timer, which keeps the test double deterministic.
package sim

import (
	"sync"

	"github.com/grycap/vmca/internal/resource"
)

type migration struct {
	hostSrc, hostDst string
}

// Sim is a test/demo double for deployment.Deployment.
type Sim struct {
	mu         sync.Mutex
	hostsInfo  *resource.HostsInfo
	migrations map[string]migration
	locked     map[string]bool
}

// New builds a Sim seeded with the given snapshot. The snapshot is owned by
// the Sim from this point on.
func New(hostsInfo *resource.HostsInfo, lockedVMs []string) *Sim {
	s := &Sim{
		hostsInfo:  hostsInfo,
		migrations: make(map[string]migration),
		locked:     make(map[string]bool, len(lockedVMs)),
	}
	for _, id := range lockedVMs {
		s.locked[id] = true
	}
	return s
}

// GetInfo returns a clone of the current simulated cluster state.
func (s *Sim) GetInfo() *resource.HostsInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostsInfo.Clone()
}

// MigrateVM moves a VM between hosts immediately, marking it migrating
// until CompleteMigration transitions it back to Running.
func (s *Sim) MigrateVM(vmID, hostSrc, hostDst string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, already := s.migrations[vmID]; already {
		return false
	}
	src, srcOK := s.hostsInfo.Hosts[hostSrc]
	_, dstOK := s.hostsInfo.Hosts[hostDst]
	if !srcOK || !dstOK {
		return false
	}
	vm, ok := src.GetVM(vmID)
	if !ok {
		return false
	}
	vm.State = resource.StateMigrating
	src.RemoveVM(vmID)
	s.hostsInfo.Hosts[hostDst].AddVM(vm)
	s.migrations[vmID] = migration{hostSrc: hostSrc, hostDst: hostDst}
	return true
}

// CompleteMigration finishes a migration previously started by MigrateVM,
// transitioning the VM back to Running on its destination host.
func (s *Sim) CompleteMigration(vmID string, nowUnix int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.migrations[vmID]
	if !ok {
		return false
	}
	h := s.hostsInfo.Hosts[m.hostDst]
	if h == nil {
		return false
	}
	vm, ok := h.GetVM(vmID)
	if !ok {
		return false
	}
	vm.State = resource.StateRunning
	vm.TimestampState = nowUnix
	h.RemoveVM(vmID)
	h.AddVM(vm)
	delete(s.migrations, vmID)
	return true
}

// MigratingVMs returns the VM ids currently mid-migration.
func (s *Sim) MigratingVMs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.migrations))
	for id := range s.migrations {
		out = append(out, id)
	}
	return out
}

// LockedVMs returns the VM ids this deployment refuses to schedule moves
// for, set at construction time.
func (s *Sim) LockedVMs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.locked))
	for id := range s.locked {
		out = append(out, id)
	}
	return out
}
