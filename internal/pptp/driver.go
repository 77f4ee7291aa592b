// Package pptp supervises pptpd instances, applies controller deltas and
// reports observed state back.
package pptp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"go.uber.org/zap"

	"pptp-vpn-agent/internal/netns"
)

const (
	defaultBinary   = "pptpd"
	defaultInterval = 60 * time.Second
)

// NamespaceResolver returns the namespace of a router, or "" when it is not
// available yet.
type NamespaceResolver interface {
	Namespace(routerID string) string
}

// NamespaceFunc adapts a function to NamespaceResolver.
type NamespaceFunc func(routerID string) string

func (f NamespaceFunc) Namespace(routerID string) string { return f(routerID) }

// Options configures a Driver.
type Options struct {
	Host        string
	SecretsPath string
	Layout      Layout
	Binary      string
	Template    *template.Template
	Executor    netns.Executor
	Namespaces  NamespaceResolver
	Probe       Probe
	Reporter    Reporter
	Interval    time.Duration
	Logger      *zap.SugaredLogger
}

// Driver owns the process table and the credential map. Every mutation and
// every status tick runs under one lock.
type Driver struct {
	mu sync.Mutex

	host        string
	secretsPath string
	env         Env
	namespaces  NamespaceResolver
	reporter    Reporter
	interval    time.Duration
	log         *zap.SugaredLogger

	processes   map[string]*ServiceProcess
	credentials map[string]Credential
}

// NewDriver validates opts and fills defaults.
func NewDriver(opts Options) (*Driver, error) {
	if strings.TrimSpace(opts.SecretsPath) == "" {
		return nil, errors.New("secrets path is required")
	}
	if strings.TrimSpace(opts.Layout.BaseDir) == "" {
		return nil, errors.New("config base dir is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("namespace executor is required")
	}
	if opts.Namespaces == nil {
		return nil, errors.New("namespace resolver is required")
	}
	if opts.Binary == "" {
		opts.Binary = defaultBinary
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Probe == nil {
		opts.Probe = NewOSProbe(opts.Layout)
	}
	if opts.Template == nil {
		tmpl, err := LoadOptionsTemplate("")
		if err != nil {
			return nil, err
		}
		opts.Template = tmpl
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Driver{
		host:        opts.Host,
		secretsPath: opts.SecretsPath,
		env: Env{
			Layout:   opts.Layout,
			Binary:   opts.Binary,
			Executor: opts.Executor,
			Probe:    opts.Probe,
			Template: opts.Template,
			Logger:   opts.Logger,
		},
		namespaces:  opts.Namespaces,
		reporter:    opts.Reporter,
		interval:    opts.Interval,
		log:         opts.Logger,
		processes:   make(map[string]*ServiceProcess),
		credentials: make(map[string]Credential),
	}, nil
}

// StartVPNService creates the service instance if needed and starts it when
// enabled. A missing local address or namespace is logged and skipped.
func (d *Driver) StartVPNService(ctx context.Context, svc VPNService, localIP string) error {
	if err := validateServiceID(svc.ID); err != nil || svc.ID == "" {
		return fmt.Errorf("%w: vpnservice id %q", ErrInvalidDelta, svc.ID)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startProcessLocked(ctx, svc.ID, svc.RouterID, localIP, svc.AdminStateUp)
}

// StopVPNService stops the instance and, with remove, deletes its config and
// table entry. Unknown ids are ignored.
func (d *Driver) StopVPNService(ctx context.Context, serviceID string, remove bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopProcessLocked(ctx, serviceID, remove)
}

// ServiceIDs returns the sorted ids of the process table.
func (d *Driver) ServiceIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.serviceIDsLocked()
}

// Credential returns a copy of a stored credential.
func (d *Driver) Credential(id string) (Credential, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.credentials[id]
	return c, ok
}

func (d *Driver) startProcessLocked(ctx context.Context, id, routerID, localIP string, enabled bool) error {
	if localIP == "" {
		d.log.Warnw("vpn service has no local ip; connected subnet may lack a gateway", "vpnservice", id)
		return nil
	}
	proc, ok := d.processes[id]
	if !ok {
		namespace := d.namespaces.Namespace(routerID)
		if namespace == "" {
			d.log.Warnw("namespace not ready for vpn service", "vpnservice", id, "router", routerID)
			return nil
		}
		var err error
		proc, err = NewServiceProcess(id, localIP, namespace, d.env)
		if err != nil {
			return err
		}
		d.processes[id] = proc
	}
	if enabled {
		return proc.Start(ctx)
	}
	return nil
}

func (d *Driver) stopProcessLocked(ctx context.Context, id string, remove bool) error {
	proc, ok := d.processes[id]
	if !ok {
		return nil
	}
	if err := proc.Stop(ctx); err != nil {
		return err
	}
	if !remove {
		return nil
	}
	if err := proc.RemoveConfig(); err != nil {
		return err
	}
	delete(d.processes, id)
	return nil
}

func (d *Driver) serviceIDsLocked() []string {
	ids := make([]string, 0, len(d.processes))
	for id := range d.processes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d *Driver) credentialsCopyLocked() map[string]Credential {
	out := make(map[string]Credential, len(d.credentials))
	for id, c := range d.credentials {
		out[id] = c
	}
	return out
}
