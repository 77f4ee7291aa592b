package pptp

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"pptp-vpn-agent/internal/netns"
)

type recordingReporter struct {
	mu      sync.Mutex
	reports []StatusReport
	err     error
}

func (r *recordingReporter) ReportStatus(_ context.Context, report StatusReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return r.err
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

type harness struct {
	driver   *Driver
	exec     *netns.MockExecutor
	probe    *MockProbe
	layout   Layout
	secrets  string
	reporter *recordingReporter
}

// newHarness wires a driver to a mock executor whose pptpd and kill -9 calls
// update the mock probe, so spawned servers look alive until killed.
func newHarness(t *testing.T) *harness {
	t.Helper()
	base := t.TempDir()
	layout := Layout{BaseDir: filepath.Join(base, "pptp")}
	probe := NewMockProbe()
	var nextPID atomic.Int64
	nextPID.Store(1000)

	exec := &netns.MockExecutor{}
	exec.ExecuteFunc = func(_ string, args ...string) ([]byte, error) {
		switch {
		case args[0] == "pptpd":
			probe.SetRunning(serviceFromArgs(args), int(nextPID.Add(1)))
		case args[0] == "kill" && len(args) == 4 && args[1] == "-9":
			pid, err := strconv.Atoi(strings.TrimPrefix(args[3], "-"))
			if err == nil {
				probe.StopPID(pid)
			}
		}
		return nil, nil
	}

	reporter := &recordingReporter{}
	secrets := filepath.Join(base, "ppp", "chap-secrets")
	driver, err := NewDriver(Options{
		Host:        "agent-1",
		SecretsPath: secrets,
		Layout:      layout,
		Executor:    exec,
		Namespaces: NamespaceFunc(func(routerID string) string {
			if routerID == "" || routerID == "missing" {
				return ""
			}
			return "qrouter-" + routerID
		}),
		Probe:    probe,
		Reporter: reporter,
	})
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}
	return &harness{driver: driver, exec: exec, probe: probe, layout: layout, secrets: secrets, reporter: reporter}
}

// process returns the live instance for serviceID. Tests only read it while
// no sync or tick is running.
func (d *Driver) process(serviceID string) (*ServiceProcess, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.processes[serviceID]
	return p, ok
}

func serviceFromArgs(args []string) string {
	for i, arg := range args {
		if arg == "--option" && i+1 < len(args) {
			return filepath.Base(filepath.Dir(args[i+1]))
		}
	}
	return ""
}

func (h *harness) readSecrets(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(h.secrets)
	if err != nil {
		t.Fatalf("read secrets: %v", err)
	}
	return string(data)
}

func (h *harness) sync(t *testing.T, delta *ReconcileDelta) {
	t.Helper()
	if err := h.driver.SyncFromServer(context.Background(), delta); err != nil {
		t.Fatalf("SyncFromServer failed: %v", err)
	}
}

func scenarioA() *ReconcileDelta {
	return &ReconcileDelta{
		VPNServices: ServiceDelta{
			Added: []ServiceSpec{{
				VPNService: VPNService{ID: "vpn1", RouterID: "r1", AdminStateUp: true},
				LocalIP:    "10.0.0.1",
			}},
		},
		Credentials: CredentialDelta{
			Added: []Credential{{ID: "c1", Username: "u", Password: "p"}},
		},
		Ports: PortDelta{
			Added: []PortSpec{{ID: "port1", VPNServiceID: "vpn1", IP: "10.0.0.5", CredentialID: "c1"}},
		},
	}
}

func newTestProcess(t *testing.T) (*ServiceProcess, *netns.MockExecutor, *MockProbe, Layout) {
	t.Helper()
	h := newHarness(t)
	tmpl, err := LoadOptionsTemplate("")
	if err != nil {
		t.Fatalf("LoadOptionsTemplate failed: %v", err)
	}
	proc, err := NewServiceProcess("vpn1", "10.0.0.1", "qrouter-r1", Env{
		Layout:   h.layout,
		Binary:   "pptpd",
		Executor: h.exec,
		Probe:    h.probe,
		Template: tmpl,
	})
	if err != nil {
		t.Fatalf("NewServiceProcess failed: %v", err)
	}
	return proc, h.exec, h.probe, h.layout
}
