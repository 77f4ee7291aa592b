// Package config loads the agent's YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pptp-vpn-agent/internal/logger"
)

const (
	DefaultPath                = "/etc/pptp-agent/config.yaml"
	defaultListen              = "127.0.0.1:9697"
	defaultChapSecrets         = "/etc/ppp/chap-secrets"
	defaultConfigBaseDir       = "/var/lib/neutron/pptp"
	defaultBinary              = "pptpd"
	defaultStatusCheckInterval = 60 * time.Second
	defaultStartTimeout        = 30 * time.Second
	defaultNetnsRunDir         = "/var/run/netns"
	defaultOutboxPath          = "/var/lib/pptp-agent/outbox.db"
	defaultOutboxRetention     = 7 * 24 * time.Hour
	defaultOutboxCleanup       = time.Hour
)

// Config is the full agent configuration.
type Config struct {
	Host   string        `yaml:"host"`
	Listen string        `yaml:"listen"`
	Log    logger.Config `yaml:"log"`
	PPTP   PPTPConfig    `yaml:"pptp"`
	Netns  NetnsConfig   `yaml:"netns"`
	Outbox OutboxConfig  `yaml:"outbox"`
	API    APIConfig     `yaml:"api"`
}

// PPTPConfig holds the driver options.
type PPTPConfig struct {
	ChapSecrets         string        `yaml:"chap_secrets"`
	ConfigBaseDir       string        `yaml:"config_base_dir"`
	OptionsTemplate     string        `yaml:"ppp_options_template"`
	Binary              string        `yaml:"binary"`
	StatusCheckInterval time.Duration `yaml:"status_check_interval"`
	ProcessStartTimeout time.Duration `yaml:"process_start_timeout"`
}

// NetnsConfig controls how commands enter router namespaces.
type NetnsConfig struct {
	RunDir     string `yaml:"run_dir"`
	RootHelper string `yaml:"root_helper"`
}

// OutboxConfig controls the SQLite report outbox.
type OutboxConfig struct {
	Path            string        `yaml:"path"`
	Retention       time.Duration `yaml:"retention"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// APIConfig protects the HTTP API. An empty TokenHash disables auth, which
// is only allowed on a loopback listen address.
type APIConfig struct {
	TokenHash string `yaml:"token_hash"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	host, _ := os.Hostname()
	return &Config{
		Host:   host,
		Listen: defaultListen,
		Log:    logger.Config{Level: "info", Console: true},
		PPTP: PPTPConfig{
			ChapSecrets:         defaultChapSecrets,
			ConfigBaseDir:       defaultConfigBaseDir,
			Binary:              defaultBinary,
			StatusCheckInterval: defaultStatusCheckInterval,
			ProcessStartTimeout: defaultStartTimeout,
		},
		Netns: NetnsConfig{RunDir: defaultNetnsRunDir},
		Outbox: OutboxConfig{
			Path:            defaultOutboxPath,
			Retention:       defaultOutboxRetention,
			CleanupInterval: defaultOutboxCleanup,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults;
// a missing file at DefaultPath does too.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, cfg.validate()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultPath {
			return cfg, cfg.validate()
		}
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate normalises cfg and returns the first problem found.
func (c *Config) Validate() error {
	return c.validate()
}

func (c *Config) validate() error {
	c.Host = strings.TrimSpace(c.Host)
	c.Listen = strings.TrimSpace(c.Listen)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.API.TokenHash = strings.TrimSpace(c.API.TokenHash)

	if c.Host == "" {
		return errors.New("host required")
	}
	if c.Listen == "" {
		return errors.New("listen required")
	}
	listenHost, _, err := net.SplitHostPort(c.Listen)
	if err != nil {
		return fmt.Errorf("listen invalid: %w", err)
	}
	if c.API.TokenHash == "" && !isLoopback(listenHost) {
		return fmt.Errorf("listen %s is not a loopback address; set api.token_hash to serve it", c.Listen)
	}
	if c.PPTP.ChapSecrets == "" || !filepath.IsAbs(c.PPTP.ChapSecrets) {
		return errors.New("pptp.chap_secrets must be an absolute path")
	}
	if c.PPTP.ConfigBaseDir == "" || !filepath.IsAbs(c.PPTP.ConfigBaseDir) {
		return errors.New("pptp.config_base_dir must be an absolute path")
	}
	if c.PPTP.Binary == "" {
		c.PPTP.Binary = defaultBinary
	}
	if c.PPTP.StatusCheckInterval <= 0 {
		return errors.New("pptp.status_check_interval must be positive")
	}
	if c.PPTP.ProcessStartTimeout <= 0 {
		return errors.New("pptp.process_start_timeout must be positive")
	}
	if c.Netns.RunDir == "" {
		c.Netns.RunDir = defaultNetnsRunDir
	}
	if c.Outbox.Path == "" {
		return errors.New("outbox.path required")
	}
	if c.Outbox.Retention <= 0 {
		c.Outbox.Retention = defaultOutboxRetention
	}
	if c.Outbox.CleanupInterval <= 0 {
		c.Outbox.CleanupInterval = defaultOutboxCleanup
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	return nil
}

// isLoopback reports whether host only accepts local connections. An empty
// host binds every interface.
func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	addr, err := netip.ParseAddr(host)
	return err == nil && addr.IsLoopback()
}
