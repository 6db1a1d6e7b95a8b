package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/audit"
)

var (
	replayLog    string
	replayFrom   string
	replayTo     string
	replayFormat string
)

func init() {
	auditCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVarP(&replayLog, "log", "l", "", "Path to audit log (default $TRUSTGATE_AUDIT_LOG)")
	replayCmd.Flags().StringVar(&replayFrom, "from", "", "Start time filter (RFC3339)")
	replayCmd.Flags().StringVar(&replayTo, "to", "", "End time filter (RFC3339)")
	replayCmd.Flags().StringVarP(&replayFormat, "format", "f", "text", "Output format (text|json)")
	replayCmd.Flags().BoolVar(&redactOutput, "redact", false, "Mask credentials, hosts, IPs, emails and usernames")
	replayCmd.Flags().StringVar(&redactConfig, "redact-config", "", "Redaction config YAML (default ~/.trustgate/redact.yaml)")
}

var replayCmd = &cobra.Command{
	Use:   "replay <session-id>",
	Short: "Replay a session from the audit log",
	Long:  "Reads the audit log, filters by session ID and optional time range,\nand renders a human-readable decision timeline with summary.",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	filter := audit.ReplayFilter{SessionID: args[0]}

	if replayFrom != "" {
		from, err := time.Parse(time.RFC3339, replayFrom)
		if err != nil {
			return fmt.Errorf("invalid --from time %q: %w", replayFrom, err)
		}
		filter.From = from
	}

	if replayTo != "" {
		to, err := time.Parse(time.RFC3339, replayTo)
		if err != nil {
			return fmt.Errorf("invalid --to time %q: %w", replayTo, err)
		}
		filter.To = to
	}

	path := replayLog
	if path == "" {
		cfg, err := env()
		if err != nil {
			return err
		}
		path = cfg.AuditLogPath
	}
	if path == "" {
		return fmt.Errorf("no audit log: pass --log or set TRUSTGATE_AUDIT_LOG")
	}

	masker, err := newMasker()
	if err != nil {
		return err
	}
	result, err := audit.Replay(path, filter)
	if err != nil {
		return err
	}
	if masker != nil {
		masker.Records(result.Records)
	}

	switch replayFormat {
	case "json":
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, out)
	default:
		fmt.Fprint(stdout, audit.FormatTimeline(result))
	}

	return nil
}
