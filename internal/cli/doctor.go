package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/config"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/store"
	"github.com/ppiankov/trustgate/internal/systemd"
)

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check system readiness and diagnose configuration issues",
	RunE:  runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
	fix    string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := env()
	if err != nil {
		return err
	}
	policyFile, err := policyPath("")
	if err != nil {
		return err
	}

	checks := doctorChecks(cfg, policyFile)

	// Print results.
	hasFailures := false
	for _, c := range checks {
		mark := "✓" // ✓
		if !c.ok {
			mark = "✗" // ✗
			hasFailures = true
		}
		line := fmt.Sprintf("%s %-20s %s", mark, c.label+":", c.detail)
		if !c.ok && c.fix != "" {
			line += fmt.Sprintf("  ->  %s", c.fix)
		}
		fmt.Fprintln(stdout, line)
	}

	if hasFailures {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Some checks failed. Run the suggested commands to fix.")
		return fmt.Errorf("doctor found issues")
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "All checks passed.")
	return nil
}

func doctorChecks(cfg config.Config, policyFile string) []checkResult {
	var checks []checkResult

	// 1. Binary location and version.
	execPath, _ := os.Executable()
	if execPath != "" {
		checks = append(checks, checkResult{
			label:  "trustgate binary",
			ok:     true,
			detail: fmt.Sprintf("%s (v%s)", execPath, version),
		})
	} else {
		checks = append(checks, checkResult{
			label:  "trustgate binary",
			ok:     false,
			detail: "cannot determine executable path",
		})
	}

	// 2. Config directory.
	configDir := config.Dir()
	if info, err := os.Stat(configDir); err == nil && info.IsDir() {
		checks = append(checks, checkResult{label: "config directory", ok: true, detail: configDir})
	} else {
		checks = append(checks, checkResult{
			label:  "config directory",
			ok:     false,
			detail: "missing",
			fix:    "trustgate init",
		})
	}

	// 3. Policy file parses.
	data, err := os.ReadFile(policyFile)
	switch {
	case os.IsNotExist(err):
		checks = append(checks, checkResult{
			label:  "policy",
			ok:     false,
			detail: policyFile + " missing, built-in policy in use",
			fix:    "trustgate init",
		})
	case err != nil:
		checks = append(checks, checkResult{label: "policy", ok: false, detail: err.Error()})
	default:
		if p, err := policy.ParseConfig(data); err != nil {
			checks = append(checks, checkResult{
				label:  "policy",
				ok:     false,
				detail: err.Error(),
				fix:    "trustgate policy validate " + policyFile,
			})
		} else {
			checks = append(checks, checkResult{
				label:  "policy",
				ok:     true,
				detail: fmt.Sprintf("%s (%d rules, hash %s)", p.Name, len(p.Rules), policy.Hash(data)),
			})
		}
	}

	// 4. State database opens and migrates.
	if st, err := store.Open(cfg.DBPath); err != nil {
		checks = append(checks, checkResult{label: "state database", ok: false, detail: err.Error()})
	} else {
		st.Close()
		checks = append(checks, checkResult{label: "state database", ok: true, detail: cfg.DBPath})
	}

	// 5. Audit log, when configured.
	if cfg.AuditLogPath != "" {
		if _, err := os.Stat(cfg.AuditLogPath); os.IsNotExist(err) {
			checks = append(checks, checkResult{label: "audit log", ok: true, detail: cfg.AuditLogPath + " (not created yet)"})
		} else if r := audit.Verify(cfg.AuditLogPath); r.Valid {
			checks = append(checks, checkResult{label: "audit log", ok: true, detail: fmt.Sprintf("%d entries verified", r.Entries)})
		} else {
			checks = append(checks, checkResult{
				label:  "audit log",
				ok:     false,
				detail: fmt.Sprintf("broken at entry %d: %s", r.ErrorEntry, r.Error),
				fix:    "trustgate audit verify " + cfg.AuditLogPath,
			})
		}
	}

	// 6. Installed systemd unit unchanged since init.
	if unitPath := systemd.UnitPath(); fileExists(unitPath) {
		hashPath := systemd.HashPathIn(configDir)
		if !fileExists(hashPath) {
			hashPath = systemd.HashPathIn("/etc/trustgate")
		}
		if warn := systemd.CheckIntegrity(unitPath, hashPath); warn != "" {
			checks = append(checks, checkResult{
				label:  "systemd unit",
				ok:     false,
				detail: warn,
				fix:    "sudo trustgate init --mode system --install-systemd --force",
			})
		} else {
			checks = append(checks, checkResult{label: "systemd unit", ok: true, detail: unitPath})
		}
	}

	return checks
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
