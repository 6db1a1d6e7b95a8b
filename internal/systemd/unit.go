// Package systemd renders the unit that runs trustgate serve and checks it
// has not been edited since installation.
package systemd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// UnitName is the installed unit file name.
const UnitName = "trustgate.service"

// UnitDir is where init --install-systemd writes the unit.
var UnitDir = "/etc/systemd/system"

// Unit describes one trustgate serve installation.
type Unit struct {
	Binary    string // path of the trustgate binary
	ConfigDir string // holds policy.yaml and the unit hash
	StateDir  string // holds the state database and audit log
	Addr      string // gRPC listen address
}

// UnitPath returns the install path of the unit.
func UnitPath() string {
	return filepath.Join(UnitDir, UnitName)
}

// HashPath returns where the install-time hash of the unit is kept.
func (u Unit) HashPath() string {
	return HashPathIn(u.ConfigDir)
}

// HashPathIn returns the unit hash path for a config directory.
func HashPathIn(configDir string) string {
	return filepath.Join(configDir, "unit-file.sha256")
}

// Render returns the unit file text.
func (u Unit) Render() string {
	return fmt.Sprintf(`[Unit]
Description=trustgate policy server
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
Environment=TRUSTGATE_ADDR=%[4]s
Environment=TRUSTGATE_POLICY=%[2]s/policy.yaml
Environment=TRUSTGATE_DB=%[3]s/trustgate.db
Environment=TRUSTGATE_AUDIT_LOG=%[3]s/audit.jsonl
ExecStart=%[1]s serve
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=2
StateDirectory=%[5]s
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=true
ReadWritePaths=%[3]s

[Install]
WantedBy=multi-user.target
`, u.Binary, u.ConfigDir, u.StateDir, u.Addr, filepath.Base(u.StateDir))
}

// Install writes the unit to path and records its hash for
// CheckIntegrity.
func (u Unit) Install(path string) error {
	content := []byte(u.Render())
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write systemd unit: %w", err)
	}
	if err := os.MkdirAll(u.ConfigDir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(u.HashPath(), []byte(hashHex(content)+"\n"), 0o600); err != nil {
		return fmt.Errorf("write unit hash: %w", err)
	}
	return nil
}

// CheckIntegrity compares the unit file against the hash stored at install.
// It returns a warning if the unit was modified, or "" when it matches or
// there is nothing to check (no unit file or no stored hash).
func CheckIntegrity(unitPath, hashPath string) string {
	data, err := os.ReadFile(unitPath)
	if os.IsNotExist(err) {
		return ""
	}
	if err != nil {
		return fmt.Sprintf("cannot read unit file %s: %v", unitPath, err)
	}

	stored, err := os.ReadFile(hashPath)
	if err != nil {
		return ""
	}
	expected := strings.TrimSpace(string(stored))
	if len(expected) != 64 {
		return ""
	}

	actual := hashHex(data)
	if actual == expected {
		return ""
	}
	return fmt.Sprintf("systemd unit file %s has been modified since installation (expected %s, got %s)",
		unitPath, expected[:16], actual[:16])
}

func hashHex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
