package pptp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

var (
	// ErrInvalidDelta indicates a malformed reconcile bundle.
	ErrInvalidDelta = errors.New("invalid reconcile delta")
	// ErrServiceNotFound indicates an unknown vpn service id.
	ErrServiceNotFound = errors.New("vpn service not found")
	// ErrDuplicateRemote indicates two ports of one service claim the same
	// remote address.
	ErrDuplicateRemote = errors.New("remote address already in use")
)

// VPNService identifies a service and its desired admin state.
type VPNService struct {
	ID           string `json:"id"`
	RouterID     string `json:"router_id"`
	AdminStateUp bool   `json:"admin_state_up"`
}

// ServiceSpec is an added service together with the gateway address it
// serves on.
type ServiceSpec struct {
	VPNService
	LocalIP string `json:"localip"`
}

// Credential is a username/password pair referenced by ports.
type Credential struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

// Redacted returns the credential without its password.
func (c Credential) Redacted() Credential {
	c.Password = ""
	return c
}

// RedactCredentials returns a copy of creds with every password removed.
func RedactCredentials(creds map[string]Credential) map[string]Credential {
	out := make(map[string]Credential, len(creds))
	for id, c := range creds {
		out[id] = c.Redacted()
	}
	return out
}

// PortSpec is an added port.
type PortSpec struct {
	ID           string `json:"id"`
	VPNServiceID string `json:"vpnservice_id"`
	IP           string `json:"ip"`
	CredentialID string `json:"credential_id"`
}

type ServiceDelta struct {
	Added    []ServiceSpec `json:"added"`
	Enabled  []string      `json:"enabled"`
	Disabled []string      `json:"disabled"`
	Deleted  []string      `json:"deleted"`
}

type CredentialDelta struct {
	Added   []Credential      `json:"added"`
	Deleted []string          `json:"deleted"`
	Updated map[string]string `json:"updated"`
}

type PortDelta struct {
	Added   []PortSpec `json:"added"`
	Deleted []string   `json:"deleted"`
}

// ReconcileDelta is one desired-state bundle pushed by the controller.
type ReconcileDelta struct {
	VPNServices ServiceDelta    `json:"vpnservices"`
	Credentials CredentialDelta `json:"credentials"`
	Ports       PortDelta       `json:"ports"`
}

var requiredDeltaKeys = map[string][]string{
	"vpnservices": {"added", "enabled", "disabled", "deleted"},
	"credentials": {"added", "deleted", "updated"},
	"ports":       {"added", "deleted"},
}

// DecodeDelta parses a JSON bundle, requiring every top-level section and
// every sub-key, and validates entry shapes.
func DecodeDelta(data []byte) (*ReconcileDelta, error) {
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDelta, err)
	}
	for _, section := range []string{"vpnservices", "credentials", "ports"} {
		raw, ok := sections[section]
		if !ok || isJSONNull(raw) {
			return nil, fmt.Errorf("%w: missing %s", ErrInvalidDelta, section)
		}
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(raw, &keys); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDelta, section, err)
		}
		for _, key := range requiredDeltaKeys[section] {
			if _, ok := keys[key]; !ok {
				return nil, fmt.Errorf("%w: missing %s.%s", ErrInvalidDelta, section, key)
			}
		}
	}

	var delta ReconcileDelta
	if err := json.Unmarshal(data, &delta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDelta, err)
	}
	if err := delta.Validate(); err != nil {
		return nil, err
	}
	return &delta, nil
}

// Validate checks entry shapes. It does not look at agent state: unknown
// services or credentials are handled per entry during reconciliation.
func (d *ReconcileDelta) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil delta", ErrInvalidDelta)
	}
	for i, svc := range d.VPNServices.Added {
		if strings.TrimSpace(svc.ID) == "" {
			return fmt.Errorf("%w: vpnservices.added[%d]: id is required", ErrInvalidDelta, i)
		}
		if strings.TrimSpace(svc.RouterID) == "" {
			return fmt.Errorf("%w: vpnservices.added[%d]: router_id is required", ErrInvalidDelta, i)
		}
		if err := validateServiceID(svc.ID); err != nil {
			return fmt.Errorf("%w: vpnservices.added[%d]: %v", ErrInvalidDelta, i, err)
		}
		if svc.LocalIP != "" {
			if _, err := netip.ParseAddr(svc.LocalIP); err != nil {
				return fmt.Errorf("%w: vpnservices.added[%d]: localip: %v", ErrInvalidDelta, i, err)
			}
		}
	}
	lists := []struct {
		name string
		ids  []string
	}{
		{"vpnservices.enabled", d.VPNServices.Enabled},
		{"vpnservices.disabled", d.VPNServices.Disabled},
		{"vpnservices.deleted", d.VPNServices.Deleted},
		{"credentials.deleted", d.Credentials.Deleted},
		{"ports.deleted", d.Ports.Deleted},
	}
	for _, list := range lists {
		for i, id := range list.ids {
			if strings.TrimSpace(id) == "" {
				return fmt.Errorf("%w: %s[%d]: empty id", ErrInvalidDelta, list.name, i)
			}
		}
	}
	for i, cred := range d.Credentials.Added {
		if strings.TrimSpace(cred.ID) == "" {
			return fmt.Errorf("%w: credentials.added[%d]: id is required", ErrInvalidDelta, i)
		}
		if cred.Username == "" {
			return fmt.Errorf("%w: credentials.added[%d]: username is required", ErrInvalidDelta, i)
		}
	}
	for id := range d.Credentials.Updated {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: credentials.updated: empty id", ErrInvalidDelta)
		}
	}
	for i, port := range d.Ports.Added {
		switch {
		case strings.TrimSpace(port.ID) == "":
			return fmt.Errorf("%w: ports.added[%d]: id is required", ErrInvalidDelta, i)
		case strings.TrimSpace(port.VPNServiceID) == "":
			return fmt.Errorf("%w: ports.added[%d]: vpnservice_id is required", ErrInvalidDelta, i)
		case strings.TrimSpace(port.CredentialID) == "":
			return fmt.Errorf("%w: ports.added[%d]: credential_id is required", ErrInvalidDelta, i)
		}
		if _, err := netip.ParseAddr(port.IP); err != nil {
			return fmt.Errorf("%w: ports.added[%d]: ip: %v", ErrInvalidDelta, i, err)
		}
	}
	return nil
}

// validateServiceID keeps service ids usable as a directory name and as a
// single chap-secrets field.
func validateServiceID(id string) error {
	if id == "." || id == ".." || strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("id %q is not a valid path component", id)
	}
	if strings.ContainsAny(id, " \t\r\n") {
		return fmt.Errorf("id %q must not contain whitespace", id)
	}
	return nil
}

func isJSONNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
