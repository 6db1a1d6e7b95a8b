package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/approval"
	"github.com/ppiankov/trustgate/internal/config"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/redact"
	"github.com/ppiankov/trustgate/internal/systemd"
)

var (
	initMode           string
	initInstallSystemd bool
	initForce          bool
)

func init() {
	initCmd.Flags().StringVar(&initMode, "mode", "user", "Config location: user (~/.trustgate) or system (/etc/trustgate)")
	initCmd.Flags().BoolVar(&initInstallSystemd, "install-systemd", false, "Install a trustgate.service unit running 'trustgate serve' (requires root)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config files")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap trustgate configuration and optional systemd integration",
	Long: `Creates the config directory, default policy, redaction settings and
approval store.

User mode (default):  writes to ~/.trustgate/
System mode:          writes to /etc/trustgate/ (requires root)

With --install-systemd: installs trustgate.service, which runs the policy
server with state under /var/lib/trustgate:
  systemctl enable --now trustgate`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := initConfigDir()
	if err != nil {
		return err
	}

	var created []string

	policyPath := filepath.Join(configDir, "policy.yaml")
	if wrote, err := writeIfMissing(policyPath, policy.DefaultConfigYAML()); err != nil {
		return err
	} else if wrote {
		created = append(created, policyPath)
	}

	redactPath := filepath.Join(configDir, "redact.yaml")
	if wrote, err := writeIfMissing(redactPath, redact.DefaultConfigYAML()); err != nil {
		return err
	} else if wrote {
		created = append(created, redactPath)
	}

	// The approval store lives under the user config dir in both modes.
	if _, err := approval.NewStore(approval.DefaultDir()); err != nil {
		return err
	}

	if initInstallSystemd {
		if runtime.GOOS != "linux" {
			return fmt.Errorf("--install-systemd is only supported on Linux")
		}
		if os.Geteuid() != 0 {
			return fmt.Errorf("--install-systemd requires root; run with sudo")
		}
		hostCfg, err := env()
		if err != nil {
			return err
		}
		binary, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate trustgate binary: %w", err)
		}
		unit := systemd.Unit{
			Binary:    binary,
			ConfigDir: configDir,
			StateDir:  "/var/lib/trustgate",
			Addr:      hostCfg.Addr,
		}
		unitPath := systemd.UnitPath()
		if err := unit.Install(unitPath); err != nil {
			return err
		}
		created = append(created, unitPath)

		if err := exec.Command("systemctl", "daemon-reload").Run(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: systemctl daemon-reload failed: %v\n", err)
		}
	}

	fmt.Fprintln(stdout, "trustgate init complete.")
	fmt.Fprintln(stdout)
	if len(created) > 0 {
		fmt.Fprintln(stdout, "Created:")
		for _, path := range created {
			fmt.Fprintf(stdout, "  %s\n", path)
		}
	} else {
		fmt.Fprintln(stdout, "All files already exist (use --force to overwrite).")
	}
	fmt.Fprintln(stdout)

	fmt.Fprintln(stdout, "Verify:")
	fmt.Fprintln(stdout, "  trustgate doctor")
	if initMode == "system" && !initInstallSystemd {
		fmt.Fprintln(stdout)
		fmt.Fprintf(stdout, "Point the CLI at this policy:\n  export TRUSTGATE_POLICY=%s\n", policyPath)
	}
	if initInstallSystemd {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Start the policy server:")
		fmt.Fprintln(stdout, "  sudo systemctl enable --now trustgate")
		fmt.Fprintln(stdout, "Reload after editing the policy:")
		fmt.Fprintln(stdout, "  sudo systemctl reload trustgate")
	}
	return nil
}

// initConfigDir returns the configuration directory based on mode.
func initConfigDir() (string, error) {
	switch initMode {
	case "system":
		return "/etc/trustgate", nil
	case "user", "":
		return config.Dir(), nil
	default:
		return "", fmt.Errorf("unknown mode %q: use 'user' or 'system'", initMode)
	}
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
