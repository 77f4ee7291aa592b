package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PPTP.ChapSecrets != "/etc/ppp/chap-secrets" {
		t.Errorf("unexpected chap_secrets %q", cfg.PPTP.ChapSecrets)
	}
	if cfg.PPTP.ConfigBaseDir != "/var/lib/neutron/pptp" {
		t.Errorf("unexpected config_base_dir %q", cfg.PPTP.ConfigBaseDir)
	}
	if cfg.PPTP.StatusCheckInterval != 60*time.Second {
		t.Errorf("unexpected interval %v", cfg.PPTP.StatusCheckInterval)
	}
	if cfg.Listen != "127.0.0.1:9697" || cfg.Netns.RunDir != "/var/run/netns" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Outbox.Retention != 168*time.Hour {
		t.Errorf("unexpected retention %v", cfg.Outbox.Retention)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
host: net-node-3
listen: 127.0.0.1:9000
log:
  level: WARNING
  file: /var/log/pptp-agent/agent.log
pptp:
  chap_secrets: /tmp/chap-secrets
  status_check_interval: 15s
  ppp_options_template: /etc/pptp-agent/options.tmpl
netns:
  root_helper: sudo
outbox:
  retention: 24h
api:
  token_hash: " $2a$10$abc "
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "net-node-3" || cfg.Listen != "127.0.0.1:9000" {
		t.Errorf("unexpected host/listen: %q %q", cfg.Host, cfg.Listen)
	}
	if cfg.Log.Level != "warning" {
		t.Errorf("expected normalised level, got %q", cfg.Log.Level)
	}
	if cfg.PPTP.ChapSecrets != "/tmp/chap-secrets" || cfg.PPTP.StatusCheckInterval != 15*time.Second {
		t.Errorf("unexpected pptp section: %+v", cfg.PPTP)
	}
	if cfg.PPTP.ConfigBaseDir != "/var/lib/neutron/pptp" {
		t.Errorf("expected untouched default, got %q", cfg.PPTP.ConfigBaseDir)
	}
	if cfg.Netns.RootHelper != "sudo" || cfg.Outbox.Retention != 24*time.Hour {
		t.Errorf("unexpected netns/outbox: %+v %+v", cfg.Netns, cfg.Outbox)
	}
	if cfg.API.TokenHash != "$2a$10$abc" {
		t.Errorf("expected trimmed token hash, got %q", cfg.API.TokenHash)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "relative secrets", content: "pptp:\n  chap_secrets: chap-secrets\n", wantErr: "chap_secrets"},
		{name: "bad listen", content: "listen: nonsense\n", wantErr: "listen invalid"},
		{name: "negative interval", content: "pptp:\n  status_check_interval: -1s\n", wantErr: "status_check_interval"},
		{name: "bad duration", content: "pptp:\n  status_check_interval: soon\n", wantErr: "parse"},
		{name: "empty outbox", content: "outbox:\n  path: \"\"\n", wantErr: "outbox.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadRequiresTokenHashOffLoopback(t *testing.T) {
	for _, listen := range []string{":9697", "0.0.0.0:9697", "192.0.2.10:9697", "[::]:9697"} {
		_, err := Load(writeConfig(t, "listen: \""+listen+"\"\n"))
		if err == nil || !strings.Contains(err.Error(), "api.token_hash") {
			t.Fatalf("expected %s without token_hash to be rejected, got %v", listen, err)
		}
	}
	for _, listen := range []string{"127.0.0.1:9697", "[::1]:9697", "localhost:9697"} {
		if _, err := Load(writeConfig(t, "listen: \""+listen+"\"\n")); err != nil {
			t.Fatalf("expected loopback %s to be accepted, got %v", listen, err)
		}
	}
	cfg, err := Load(writeConfig(t, "listen: \":9697\"\napi:\n  token_hash: $2a$10$abc\n"))
	if err != nil {
		t.Fatalf("expected wildcard listen with token_hash to be accepted, got %v", err)
	}
	if cfg.Listen != ":9697" {
		t.Errorf("unexpected listen %q", cfg.Listen)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}
