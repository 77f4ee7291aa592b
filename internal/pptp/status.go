package pptp

import (
	"context"
	"fmt"
	"time"
)

// ProcessStatus is the reported state of one service instance.
type ProcessStatus struct {
	Enabled bool     `json:"enabled"`
	Active  bool     `json:"active"`
	Ports   []string `json:"ports"`
}

// StatusReport is emitted once per status tick.
type StatusReport struct {
	Host         string                   `json:"host"`
	Processes    map[string]ProcessStatus `json:"pptp_processes_status"`
	Credentials  map[string]Credential    `json:"credentials"`
	UpdatedPorts map[string]bool          `json:"updated_ports"`
	GeneratedAt  time.Time                `json:"generated_at"`
}

// Reporter delivers status reports to the controller. Delivery guarantees
// belong to the implementation; the driver does not retry.
type Reporter interface {
	ReportStatus(ctx context.Context, report StatusReport) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, report StatusReport) error

func (f ReporterFunc) ReportStatus(ctx context.Context, report StatusReport) error {
	return f(ctx, report)
}

// Start runs CheckAndReport immediately and then every interval until stop
// is closed.
func (d *Driver) Start(stop <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	d.CheckAndReport(ctx)
	for {
		select {
		case <-ticker.C:
			d.CheckAndReport(ctx)
		case <-stop:
			return
		}
	}
}

// CheckAndReport restarts enabled instances that died, collects port
// connection transitions and emits one report. The emitted report is also
// returned.
func (d *Driver) CheckAndReport(ctx context.Context) StatusReport {
	report := d.collectStatus(ctx)
	if d.reporter == nil {
		return report
	}
	if err := d.reporter.ReportStatus(ctx, report); err != nil {
		d.log.Warnw("status report failed", "error", err)
	}
	return report
}

func (d *Driver) collectStatus(ctx context.Context) StatusReport {
	d.mu.Lock()
	defer d.mu.Unlock()

	report := StatusReport{
		Host:         d.host,
		Processes:    make(map[string]ProcessStatus, len(d.processes)),
		Credentials:  d.credentialsCopyLocked(),
		UpdatedPorts: make(map[string]bool),
		GeneratedAt:  time.Now().UTC(),
	}
	for _, id := range d.serviceIDsLocked() {
		report.Processes[id] = d.checkProcessLocked(ctx, d.processes[id], report.UpdatedPorts)
	}
	return report
}

func (d *Driver) checkProcessLocked(ctx context.Context, proc *ServiceProcess, updated map[string]bool) (status ProcessStatus) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorw("status check failed", "vpnservice", proc.ID, "panic", fmt.Sprint(r))
			status = ProcessStatus{Enabled: proc.Enabled(), Active: false, Ports: proc.PortIDs()}
		}
	}()

	if proc.Enabled() && !proc.Active() {
		d.log.Infow("restarting vpn service that is not running", "vpnservice", proc.ID)
		if err := proc.Start(ctx); err != nil {
			d.log.Warnw("restart failed", "vpnservice", proc.ID, "error", err)
		}
	}
	for portID, connected := range proc.UpdatePortsStatus() {
		updated[portID] = connected
	}
	return ProcessStatus{
		Enabled: proc.Enabled(),
		Active:  proc.Active(),
		Ports:   proc.PortIDs(),
	}
}

// Snapshot returns the current state without restarting anything or
// consuming port transitions. Passwords are left out.
func (d *Driver) Snapshot() StatusReport {
	d.mu.Lock()
	defer d.mu.Unlock()

	report := StatusReport{
		Host:         d.host,
		Processes:    make(map[string]ProcessStatus, len(d.processes)),
		Credentials:  RedactCredentials(d.credentials),
		UpdatedPorts: map[string]bool{},
		GeneratedAt:  time.Now().UTC(),
	}
	for id, proc := range d.processes {
		report.Processes[id] = ProcessStatus{
			Enabled: proc.Enabled(),
			Active:  proc.Active(),
			Ports:   proc.PortIDs(),
		}
	}
	return report
}

// ServiceStatus returns the current state of one service.
func (d *Driver) ServiceStatus(serviceID string) (ProcessStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	proc, ok := d.processes[serviceID]
	if !ok {
		return ProcessStatus{}, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceID)
	}
	return ProcessStatus{
		Enabled: proc.Enabled(),
		Active:  proc.Active(),
		Ports:   proc.PortIDs(),
	}, nil
}
