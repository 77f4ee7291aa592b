package pptp

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"slices"
	"sort"
	"strconv"
	"text/template"

	"go.uber.org/zap"
	"go4.org/netipx"

	"pptp-vpn-agent/internal/netns"
)

// Env carries the collaborators shared by every ServiceProcess.
type Env struct {
	Layout   Layout
	Binary   string
	Executor netns.Executor
	Probe    Probe
	Template *template.Template
	Logger   *zap.SugaredLogger
}

// Port is one tunnel endpoint served by a service instance.
type Port struct {
	ID           string `json:"id"`
	RemoteIP     string `json:"ip"`
	CredentialID string `json:"credential_id"`
	Connected    bool   `json:"connected"`
	WasConnected bool   `json:"was_connected"`

	// observed is false until the first status poll.
	observed bool
}

// ServiceProcess supervises the pptpd instance of one VPN service.
//
// ServiceProcess is not safe for concurrent use; the Driver serialises every
// call under its own lock.
type ServiceProcess struct {
	ID        string
	LocalIP   string
	Namespace string

	enabled bool
	ports   map[string]*Port
	env     Env
	log     *zap.SugaredLogger
}

// NewServiceProcess creates the instance and (re)writes its configuration.
func NewServiceProcess(id, localIP, namespace string, env Env) (*ServiceProcess, error) {
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	p := &ServiceProcess{
		ID:        id,
		LocalIP:   localIP,
		Namespace: namespace,
		ports:     make(map[string]*Port),
		env:       env,
		log:       logger.With("vpnservice", id),
	}
	if err := p.EnsureConfig(); err != nil {
		return nil, err
	}
	return p, nil
}

// EnsureConfig wipes the config directory and renders the options file.
func (p *ServiceProcess) EnsureConfig() error {
	if err := p.RemoveConfig(); err != nil {
		return err
	}
	if err := os.MkdirAll(p.env.Layout.ConnectionsDir(p.ID), 0o755); err != nil {
		return fmt.Errorf("create config dir for %s: %w", p.ID, err)
	}
	content, err := renderOptions(p.env.Template, p.ID, p.LocalIP)
	if err != nil {
		return fmt.Errorf("render options for %s: %w", p.ID, err)
	}
	if err := writeFileAtomic(p.env.Layout.OptionsFile(p.ID), content, 0o644); err != nil {
		return fmt.Errorf("write options for %s: %w", p.ID, err)
	}
	return nil
}

// RemoveConfig deletes the config directory; a missing directory is fine.
func (p *ServiceProcess) RemoveConfig() error {
	if err := os.RemoveAll(p.env.Layout.ConfigDir(p.ID)); err != nil {
		return fmt.Errorf("remove config dir for %s: %w", p.ID, err)
	}
	return nil
}

// Enabled is the desired state last requested by the controller.
func (p *ServiceProcess) Enabled() bool {
	return p.enabled
}

// Active is the observed state.
func (p *ServiceProcess) Active() bool {
	return p.env.Probe.Active(p.ID)
}

// PID returns the pid of the running server, if any.
func (p *ServiceProcess) PID() (int, bool) {
	return p.env.Probe.PID(p.ID)
}

// Start marks the service enabled and spawns the server unless it already
// runs.
func (p *ServiceProcess) Start(ctx context.Context) error {
	p.enabled = true
	if p.Active() {
		return nil
	}
	_, err := p.env.Executor.Execute(ctx, p.Namespace,
		p.env.Binary,
		"--noipparam",
		"--option", p.env.Layout.OptionsFile(p.ID),
		"--pidfile", p.env.Layout.PIDFile(p.ID),
		"--delegate",
	)
	if err != nil {
		return fmt.Errorf("start %s: %w", p.ID, err)
	}
	p.log.Infow("server started", "namespace", p.Namespace)
	return nil
}

// Stop marks the service disabled and kills the server's process group.
func (p *ServiceProcess) Stop(ctx context.Context) error {
	p.enabled = false
	if !p.Active() {
		return nil
	}
	pid, ok := p.PID()
	if !ok {
		return nil
	}
	if _, err := p.env.Executor.Execute(ctx, p.Namespace, "kill", "-9", "--", "-"+strconv.Itoa(pid)); err != nil {
		return fmt.Errorf("stop %s: %w", p.ID, err)
	}
	p.log.Infow("server stopped", "pid", pid)
	return nil
}

// AddPort adds or replaces a port. Re-adding a port with identical attributes
// keeps its observed connection state. The remote address is stored in
// canonical form so it matches the connection markers.
func (p *ServiceProcess) AddPort(portID, remoteIP, credentialID string) error {
	return p.addPort(portID, remoteIP, credentialID, nil)
}

// addPort is AddPort where ports in releasing do not hold their remote
// address, as when they are deleted by the same batch.
func (p *ServiceProcess) addPort(portID, remoteIP, credentialID string, releasing map[string]struct{}) error {
	addr, err := netip.ParseAddr(remoteIP)
	if err != nil {
		return fmt.Errorf("%w: port %s: %v", ErrInvalidDelta, portID, err)
	}
	remote := addr.String()
	if existing, ok := p.ports[portID]; ok &&
		existing.RemoteIP == remote && existing.CredentialID == credentialID {
		return nil
	}
	used, err := p.remoteSet(portID, releasing)
	if err != nil {
		return err
	}
	if used.Contains(addr) {
		return fmt.Errorf("%w: %s already used on %s", ErrDuplicateRemote, remote, p.ID)
	}
	p.ports[portID] = &Port{ID: portID, RemoteIP: remote, CredentialID: credentialID}
	return nil
}

// DelPort disconnects (best effort) and forgets a port.
func (p *ServiceProcess) DelPort(ctx context.Context, portID string) bool {
	if _, ok := p.ports[portID]; !ok {
		return false
	}
	p.DisconnectPort(ctx, portID)
	delete(p.ports, portID)
	return true
}

// DisconnectPort signals the connection serving the port's remote address.
// It reports whether a signal was sent; every failure is swallowed.
func (p *ServiceProcess) DisconnectPort(ctx context.Context, portID string) bool {
	port, ok := p.ports[portID]
	if !ok {
		return false
	}
	if !slices.Contains(p.env.Probe.ConnectedRemotes(p.ID), port.RemoteIP) {
		return false
	}
	pid, ok := p.env.Probe.ConnectionPID(p.ID, port.RemoteIP)
	if !ok {
		return false
	}
	if _, err := p.env.Executor.Execute(ctx, p.Namespace, "kill", strconv.Itoa(pid)); err != nil {
		p.log.Debugw("disconnect failed", "port", portID, "pid", pid, "error", err)
		return false
	}
	p.log.Infow("port disconnected", "port", portID, "remote", port.RemoteIP)
	return true
}

// UpdatePortsStatus rescans connection markers and returns the ports whose
// connection state changed since the previous call. A port's first poll
// always reports it.
func (p *ServiceProcess) UpdatePortsStatus() map[string]bool {
	connected := make(map[string]struct{})
	for _, ip := range p.env.Probe.ConnectedRemotes(p.ID) {
		connected[ip] = struct{}{}
	}
	changed := make(map[string]bool)
	for id, port := range p.ports {
		_, isConnected := connected[port.RemoteIP]
		port.WasConnected = port.Connected
		port.Connected = isConnected
		if !port.observed || port.WasConnected != port.Connected {
			changed[id] = port.Connected
		}
		port.observed = true
	}
	return changed
}

// Port returns a copy of a port.
func (p *ServiceProcess) Port(portID string) (Port, bool) {
	port, ok := p.ports[portID]
	if !ok {
		return Port{}, false
	}
	return *port, true
}

// Ports returns copies of all ports ordered by id.
func (p *ServiceProcess) Ports() []Port {
	out := make([]Port, 0, len(p.ports))
	for _, port := range p.ports {
		out = append(out, *port)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PortIDs returns the sorted port ids.
func (p *ServiceProcess) PortIDs() []string {
	ids := make([]string, 0, len(p.ports))
	for id := range p.ports {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *ServiceProcess) remoteSet(exclude string, releasing map[string]struct{}) (*netipx.IPSet, error) {
	var builder netipx.IPSetBuilder
	for id, port := range p.ports {
		if id == exclude {
			continue
		}
		if _, ok := releasing[id]; ok {
			continue
		}
		addr, err := netip.ParseAddr(port.RemoteIP)
		if err != nil {
			continue
		}
		builder.Add(addr)
	}
	return builder.IPSet()
}
