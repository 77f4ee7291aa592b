package pptp

import (
	"sort"
	"sync"
)

// MockProbe is an in-memory Probe for tests.
type MockProbe struct {
	mu       sync.Mutex
	pids     map[string]int
	remotes  map[string]map[string]int
	inactive map[string]bool
}

// NewMockProbe returns an empty probe: nothing running, nothing connected.
func NewMockProbe() *MockProbe {
	return &MockProbe{
		pids:     make(map[string]int),
		remotes:  make(map[string]map[string]int),
		inactive: make(map[string]bool),
	}
}

// SetRunning records pid as the live server of serviceID.
func (m *MockProbe) SetRunning(serviceID string, pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pids[serviceID] = pid
	delete(m.inactive, serviceID)
}

// SetStopped forgets the server of serviceID.
func (m *MockProbe) SetStopped(serviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pids, serviceID)
}

// StopPID forgets whichever service runs pid.
func (m *MockProbe) StopPID(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, running := range m.pids {
		if running == pid {
			delete(m.pids, id)
		}
	}
}

// SetStale keeps the pid file of serviceID but makes its command line no
// longer match, as after a crash with pid reuse.
func (m *MockProbe) SetStale(serviceID string, stale bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stale {
		m.inactive[serviceID] = true
		return
	}
	delete(m.inactive, serviceID)
}

// Connect adds a connection marker for remoteIP holding pid.
func (m *MockProbe) Connect(serviceID, remoteIP string, pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.remotes[serviceID] == nil {
		m.remotes[serviceID] = make(map[string]int)
	}
	m.remotes[serviceID][remoteIP] = pid
}

// Disconnect removes the connection marker for remoteIP.
func (m *MockProbe) Disconnect(serviceID, remoteIP string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.remotes[serviceID], remoteIP)
}

func (m *MockProbe) PID(serviceID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pid, ok := m.pids[serviceID]
	return pid, ok
}

func (m *MockProbe) Active(serviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pids[serviceID]
	return ok && !m.inactive[serviceID]
}

func (m *MockProbe) ConnectedRemotes(serviceID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.remotes[serviceID]))
	for ip := range m.remotes[serviceID] {
		out = append(out, ip)
	}
	sort.Strings(out)
	return out
}

func (m *MockProbe) ConnectionPID(serviceID, remoteIP string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pid, ok := m.remotes[serviceID][remoteIP]
	return pid, ok && pid > 0
}
