// Package monitor caches one snapshot of the cluster behind a single lock,
// refreshing it from a deployment.Deployment and falling back to the last
// good snapshot within a validity window if the platform is unreachable.
package monitor

import (
	"errors"
	"sync"

	"github.com/grycap/vmca/internal/deployment"
	"github.com/grycap/vmca/internal/logging"
	"github.com/grycap/vmca/internal/resource"
)

// ErrUnavailable is returned when the deployment could not be reached and no
// cached snapshot is within the validity window.
var ErrUnavailable = errors.New("monitor: deployment unavailable and no valid cached snapshot")

// Monitor serializes access to one cached resource.HostsInfo snapshot.
type Monitor struct {
	mu sync.Mutex

	deployment deployment.Deployment
	validity   int64
	now        func() int64
	log        logging.Logger

	hostsInfo *resource.HostsInfo
	timestamp int64
}

// New builds a Monitor. validity is MONITORIZATION_VALIDITY in seconds; now
// is an injectable clock (time.Now().Unix() in production).
func New(d deployment.Deployment, validity int64, now func() int64, log logging.Logger) *Monitor {
	if log == nil {
		log = logging.Nop
	}
	return &Monitor{deployment: d, validity: validity, now: now, log: log}
}

func (m *Monitor) setHostsInfo(hi *resource.HostsInfo) {
	m.hostsInfo = hi
	m.timestamp = m.now()
}

// Snapshot returns a clone of the cached snapshot while it is still within
// the validity window; otherwise it refreshes the cache from the deployment
// and returns it, or ErrUnavailable if that refresh fails.
func (m *Monitor) Snapshot() (*resource.HostsInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() (*resource.HostsInfo, error) {
	if m.hostsInfo != nil && m.now()-m.timestamp < m.validity {
		return m.hostsInfo.Clone(), nil
	}

	hi := m.deployment.GetInfo()
	if hi != nil {
		m.setHostsInfo(hi)
		return hi.Clone(), nil
	}

	m.log.Error("could not get hosts info from deployment")
	if m.hostsInfo == nil {
		return nil, ErrUnavailable
	}
	if m.now()-m.timestamp >= m.validity {
		return nil, ErrUnavailable
	}
	return m.hostsInfo.Clone(), nil
}

// MakeMigration delegates a migration to the deployment and, on success,
// applies the equivalent movement to the cached snapshot so subsequent
// reads see it without waiting for the next refresh.
func (m *Monitor) MakeMigration(vmm resource.VMMigration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ok := m.deployment.MigrateVM(vmm.VMID, vmm.HostSrc, vmm.HostDst)
	if !ok {
		return false
	}
	if m.hostsInfo != nil {
		m.hostsInfo.MakeMovement(vmm)
	}
	return true
}
