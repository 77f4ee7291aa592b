package pptp

import "path/filepath"

const (
	optionsFileName    = "ppp_options"
	pidFileName        = "pid"
	connectionsDirName = "connections"
)

// Layout derives the on-disk paths of every service instance from a base
// directory.
type Layout struct {
	BaseDir string
}

// ConfigDir is the per-service directory wiped by EnsureConfig.
func (l Layout) ConfigDir(serviceID string) string {
	return filepath.Join(l.BaseDir, serviceID)
}

func (l Layout) OptionsFile(serviceID string) string {
	return filepath.Join(l.ConfigDir(serviceID), optionsFileName)
}

func (l Layout) PIDFile(serviceID string) string {
	return filepath.Join(l.ConfigDir(serviceID), pidFileName)
}

// ConnectionsDir holds one marker file per connected remote address, written
// by the ip-up hook of the running server.
func (l Layout) ConnectionsDir(serviceID string) string {
	return filepath.Join(l.ConfigDir(serviceID), connectionsDirName)
}

func (l Layout) ConnectionMarker(serviceID, remoteIP string) string {
	return filepath.Join(l.ConnectionsDir(serviceID), remoteIP)
}
