package pptp

import (
	"context"
	"fmt"
	"strings"
)

type portRef struct {
	proc   *ServiceProcess
	portID string
}

// SyncFromServer applies one controller delta. The delta is validated before
// anything is touched; afterwards individual entries that cannot be applied
// are logged and skipped. Applying the same delta twice leaves the same
// state and the same secrets file.
func (d *Driver) SyncFromServer(ctx context.Context, delta *ReconcileDelta) error {
	if err := delta.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.log.Debugw("syncing from server",
		"services_added", len(delta.VPNServices.Added),
		"services_enabled", delta.VPNServices.Enabled,
		"services_disabled", delta.VPNServices.Disabled,
		"services_deleted", delta.VPNServices.Deleted,
		"credentials_added", len(delta.Credentials.Added),
		"credentials_deleted", delta.Credentials.Deleted,
		"credentials_updated", len(delta.Credentials.Updated),
		"ports_added", len(delta.Ports.Added),
		"ports_deleted", delta.Ports.Deleted,
	)

	for _, svc := range delta.VPNServices.Added {
		if err := d.startProcessLocked(ctx, svc.ID, svc.RouterID, svc.LocalIP, svc.AdminStateUp); err != nil {
			d.log.Warnw("failed to start added vpn service", "vpnservice", svc.ID, "error", err)
		}
	}
	for _, id := range delta.VPNServices.Enabled {
		proc, ok := d.processes[id]
		if !ok {
			continue
		}
		if err := proc.Start(ctx); err != nil {
			d.log.Warnw("failed to start enabled vpn service", "vpnservice", id, "error", err)
		}
	}
	for _, id := range delta.VPNServices.Disabled {
		if err := d.stopProcessLocked(ctx, id, false); err != nil {
			d.log.Warnw("failed to stop disabled vpn service", "vpnservice", id, "error", err)
		}
	}
	for _, id := range delta.VPNServices.Deleted {
		if err := d.stopProcessLocked(ctx, id, true); err != nil {
			d.log.Warnw("failed to delete vpn service", "vpnservice", id, "error", err)
		}
	}

	d.applyCredentialsLocked(delta.Credentials)

	added := toSet(portIDs(delta.Ports.Added))
	deleted := toSet(delta.Ports.Deleted)

	for _, port := range delta.Ports.Added {
		proc, ok := d.processes[port.VPNServiceID]
		if !ok {
			d.log.Warnw("port references unknown vpn service", "port", port.ID, "vpnservice", port.VPNServiceID)
			continue
		}
		if err := proc.addPort(port.ID, port.IP, port.CredentialID, deleted); err != nil {
			d.log.Warnw("failed to add port", "port", port.ID, "vpnservice", port.VPNServiceID, "error", err)
		}
	}

	var toDisconnect, toDelete []portRef
	lines := make([]string, 0)
	for _, id := range d.serviceIDsLocked() {
		proc := d.processes[id]
		for _, port := range proc.Ports() {
			if _, ok := deleted[port.ID]; ok {
				toDelete = append(toDelete, portRef{proc: proc, portID: port.ID})
				continue
			}
			_, credentialUpdated := delta.Credentials.Updated[port.CredentialID]
			if _, fresh := added[port.ID]; credentialUpdated && !fresh {
				toDisconnect = append(toDisconnect, portRef{proc: proc, portID: port.ID})
			}
			cred, ok := d.credentials[port.CredentialID]
			if !ok {
				d.log.Warnw("port references unknown credential", "port", port.ID, "credential", port.CredentialID)
				continue
			}
			lines = append(lines, secretsLine(cred, id, port.RemoteIP))
		}
	}

	if err := writeFileAtomic(d.secretsPath, []byte(renderSecrets(lines)), 0o600); err != nil {
		return fmt.Errorf("write secrets %s: %w", d.secretsPath, err)
	}

	for _, ref := range toDisconnect {
		ref.proc.DisconnectPort(ctx, ref.portID)
	}
	for _, ref := range toDelete {
		ref.proc.DelPort(ctx, ref.portID)
	}
	return nil
}

func (d *Driver) applyCredentialsLocked(delta CredentialDelta) {
	for _, cred := range delta.Added {
		if !validSecretField(cred.Username) || !validSecretField(cred.Password) {
			d.log.Warnw("credential contains a line break or NUL; skipped", "credential", cred.ID)
			continue
		}
		d.credentials[cred.ID] = Credential{ID: cred.ID, Username: cred.Username, Password: cred.Password}
	}
	for _, id := range delta.Deleted {
		delete(d.credentials, id)
	}
	for id, password := range delta.Updated {
		cred, ok := d.credentials[id]
		if !ok {
			continue
		}
		if !validSecretField(password) {
			d.log.Warnw("updated password contains a line break or NUL; skipped", "credential", id)
			continue
		}
		cred.Password = password
		d.credentials[id] = cred
	}
}

func secretsLine(cred Credential, serviceID, remoteIP string) string {
	return quoteSecretField(cred.Username) + " " + serviceID + " " + quoteSecretField(cred.Password) + " " + remoteIP
}

// renderSecrets joins one line per port and ends with an empty line.
func renderSecrets(lines []string) string {
	return strings.Join(append(lines, "\n"), "\n")
}

// quoteSecretField double-quotes values pppd would otherwise split or treat
// as a comment. Inside quotes a backslash escapes the next character.
func quoteSecretField(value string) string {
	if value != "" && !strings.ContainsAny(value, " \t\"'\\#") {
		return value
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range value {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// validSecretField rejects values no chap-secrets quoting can carry.
func validSecretField(value string) bool {
	return !strings.ContainsAny(value, "\r\n\x00")
}

func portIDs(ports []PortSpec) []string {
	ids := make([]string, 0, len(ports))
	for _, p := range ports {
		ids = append(ids, p.ID)
	}
	return ids
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
