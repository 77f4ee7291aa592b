package pptp

import (
	"errors"
	"strings"
	"testing"
)

const validDeltaJSON = `{
  "vpnservices": {
    "added": [{"id": "vpn1", "router_id": "r1", "admin_state_up": true, "localip": "10.0.0.1"}],
    "enabled": [], "disabled": [], "deleted": []
  },
  "credentials": {
    "added": [{"id": "c1", "username": "u", "password": "p"}],
    "deleted": [],
    "updated": {"c2": "newpass"}
  },
  "ports": {
    "added": [{"id": "port1", "vpnservice_id": "vpn1", "ip": "10.0.0.5", "credential_id": "c1"}],
    "deleted": ["port0"]
  }
}`

func TestDecodeDeltaValid(t *testing.T) {
	delta, err := DecodeDelta([]byte(validDeltaJSON))
	if err != nil {
		t.Fatalf("DecodeDelta failed: %v", err)
	}
	svc := delta.VPNServices.Added[0]
	if svc.ID != "vpn1" || svc.RouterID != "r1" || !svc.AdminStateUp || svc.LocalIP != "10.0.0.1" {
		t.Fatalf("unexpected service: %+v", svc)
	}
	if delta.Credentials.Added[0].Username != "u" || delta.Credentials.Updated["c2"] != "newpass" {
		t.Fatalf("unexpected credentials: %+v", delta.Credentials)
	}
	port := delta.Ports.Added[0]
	if port.VPNServiceID != "vpn1" || port.IP != "10.0.0.5" || port.CredentialID != "c1" {
		t.Fatalf("unexpected port: %+v", port)
	}
	if len(delta.Ports.Deleted) != 1 || delta.Ports.Deleted[0] != "port0" {
		t.Fatalf("unexpected deleted ports: %v", delta.Ports.Deleted)
	}
}

func TestDecodeDeltaRejectsMalformedBundles(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "not json",
			body:    `{`,
			wantErr: "invalid reconcile delta",
		},
		{
			name:    "missing section",
			body:    strings.Replace(validDeltaJSON, `"ports"`, `"other"`, 1),
			wantErr: "missing ports",
		},
		{
			name:    "null section",
			body:    `{"vpnservices": null, "credentials": {}, "ports": {}}`,
			wantErr: "missing vpnservices",
		},
		{
			name:    "missing sub-key",
			body:    strings.Replace(validDeltaJSON, `"updated"`, `"changed"`, 1),
			wantErr: "missing credentials.updated",
		},
		{
			name:    "bad port ip",
			body:    strings.Replace(validDeltaJSON, `"10.0.0.5"`, `"10.0.0"`, 1),
			wantErr: "ports.added[0]: ip",
		},
		{
			name:    "bad local ip",
			body:    strings.Replace(validDeltaJSON, `"10.0.0.1"`, `"gateway"`, 1),
			wantErr: "localip",
		},
		{
			name:    "path-like service id",
			body:    strings.Replace(validDeltaJSON, `"id": "vpn1"`, `"id": "../etc"`, 1),
			wantErr: "not a valid path component",
		},
		{
			name:    "empty deleted id",
			body:    strings.Replace(validDeltaJSON, `["port0"]`, `[""]`, 1),
			wantErr: "ports.deleted[0]",
		},
		{
			name:    "missing credential username",
			body:    strings.Replace(validDeltaJSON, `"username": "u"`, `"username": ""`, 1),
			wantErr: "username is required",
		},
		{
			name:    "wrong section type",
			body:    `{"vpnservices": [], "credentials": {}, "ports": {}}`,
			wantErr: "vpnservices",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDelta([]byte(tt.body))
			if !errors.Is(err, ErrInvalidDelta) {
				t.Fatalf("expected ErrInvalidDelta, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestValidateAcceptsEmptyDelta(t *testing.T) {
	var delta ReconcileDelta
	if err := delta.Validate(); err != nil {
		t.Fatalf("expected empty delta to be valid, got %v", err)
	}
}
