package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/sim"
)

var (
	simLog     string
	simSession string
	simDB      string
	simTrust   float64
	simFormat  string
)

func init() {
	policyCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVarP(&simLog, "log", "l", "", "Path to JSONL audit log (default $TRUSTGATE_AUDIT_LOG)")
	simulateCmd.Flags().StringVar(&simSession, "session", "", "Only replay this session; without --log, read it from the state store")
	simulateCmd.Flags().StringVar(&simDB, "db", "", "Path to state database (default $TRUSTGATE_DB)")
	simulateCmd.Flags().Float64Var(&simTrust, "trust", -1, "Evaluate every action at this trust score instead of the recorded one")
	simulateCmd.Flags().StringVarP(&simFormat, "format", "f", "text", "Output format (text|json)")
}

var simulateCmd = &cobra.Command{
	Use:   "simulate <policy.yaml>",
	Short: "Replay recorded decisions against a new policy and show decision diffs",
	Long: "Reads recorded decisions from an audit log or a stored session, re-evaluates\n" +
		"each one under the given policy, and shows which decisions changed.\n\n" +
		"Use this to preview policy changes before deploying them.",
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	opts := sim.Options{SessionID: simSession}
	if simTrust >= 0 {
		if simTrust > 1 {
			return fmt.Errorf("--trust must be in [0,1]")
		}
		t := simTrust
		opts.Trust = &t
	}

	var result *sim.SimResult
	path := simLog
	if path == "" && simSession == "" {
		cfg, err := env()
		if err != nil {
			return err
		}
		path = cfg.AuditLogPath
	}

	switch {
	case path != "":
		r, err := sim.SimulateLog(path, args[0], opts)
		if err != nil {
			return err
		}
		result = r
	case simSession != "":
		cfg, err := policy.LoadConfig(args[0])
		if err != nil {
			return fmt.Errorf("load policy: %w", err)
		}
		st, err := openStore(simDB)
		if err != nil {
			return err
		}
		defer st.Close()
		records, err := st.Records(context.Background(), simSession)
		if err != nil {
			return err
		}
		result = sim.Simulate(records, cfg, opts)
		result.PolicyPath = args[0]
	default:
		return fmt.Errorf("no recorded decisions: pass --log, --session or set TRUSTGATE_AUDIT_LOG")
	}

	switch simFormat {
	case "json":
		out, err := sim.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, out)
	default:
		fmt.Fprint(stdout, sim.FormatText(result))
	}
	return nil
}
