package pptp

import (
	"bufio"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/process"
)

// Probe answers liveness and connectivity questions about service instances.
// Implementations never return errors: any failure reads as "not running" or
// "nothing connected".
type Probe interface {
	// PID returns the pid recorded in the service's pid file.
	PID(serviceID string) (int, bool)
	// Active reports whether the recorded pid is a server started with this
	// service's options file.
	Active(serviceID string) bool
	// ConnectedRemotes lists the remote addresses that currently have a
	// connection marker.
	ConnectedRemotes(serviceID string) []string
	// ConnectionPID returns the pid stored in the connection marker of
	// remoteIP.
	ConnectionPID(serviceID, remoteIP string) (int, bool)
}

// OSProbe reads pid files, process command lines and connection markers.
type OSProbe struct {
	layout  Layout
	cmdline func(pid int) (string, error)
}

// NewOSProbe creates a probe for services laid out under layout.
func NewOSProbe(layout Layout) *OSProbe {
	return &OSProbe{layout: layout, cmdline: processCmdline}
}

func (p *OSProbe) PID(serviceID string) (int, bool) {
	return readPIDFile(p.layout.PIDFile(serviceID))
}

func (p *OSProbe) Active(serviceID string) bool {
	pid, ok := p.PID(serviceID)
	if !ok {
		return false
	}
	cmdline, err := p.cmdline(pid)
	if err != nil {
		return false
	}
	// A pid reused after a crash belongs to some other command line.
	return strings.Contains(cmdline, p.layout.OptionsFile(serviceID))
}

func (p *OSProbe) ConnectedRemotes(serviceID string) []string {
	entries, err := os.ReadDir(p.layout.ConnectionsDir(serviceID))
	if err != nil {
		return nil
	}
	remotes := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		remotes = append(remotes, entry.Name())
	}
	sort.Strings(remotes)
	return remotes
}

func (p *OSProbe) ConnectionPID(serviceID, remoteIP string) (int, bool) {
	if remoteIP == "" || strings.ContainsAny(remoteIP, `/\`) {
		return 0, false
	}
	return readPIDFile(p.layout.ConnectionMarker(serviceID, remoteIP))
}

func processCmdline(pid int) (string, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", err
	}
	return proc.Cmdline()
}

func readPIDFile(path string) (int, bool) {
	file, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
