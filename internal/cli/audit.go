package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/gate"
	"github.com/ppiankov/trustgate/internal/redact"
)

var (
	auditDB       string
	auditSession  string
	auditPolicyID string
	auditInput    string
	auditLogPath  string
	tailLines     int
	redactOutput  bool
	redactConfig  string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditAppendCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)

	auditAppendCmd.Flags().StringVar(&auditDB, "db", "", "Path to state database (default $TRUSTGATE_DB)")
	auditAppendCmd.Flags().StringVar(&auditSession, "session", "", "Session to append to (required)")
	auditAppendCmd.Flags().StringVar(&auditPolicyID, "policy-id", "default", "Policy id for a new session")
	auditAppendCmd.Flags().StringVar(&auditInput, "input", "-", "Audit input JSON file (- for stdin)")
	auditAppendCmd.Flags().StringVar(&auditLogPath, "audit-log", "", "Also append the record to this JSONL audit log (default $TRUSTGATE_AUDIT_LOG)")
	auditAppendCmd.MarkFlagRequired("session")

	auditVerifyCmd.Flags().StringVar(&auditDB, "db", "", "Path to state database (default $TRUSTGATE_DB)")
	auditVerifyCmd.Flags().StringVar(&auditSession, "session", "", "Verify a stored session instead of a log file")

	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditTailCmd.Flags().BoolVar(&redactOutput, "redact", false, "Mask credentials, hosts, IPs, emails and usernames")
	auditTailCmd.Flags().StringVar(&redactConfig, "redact-config", "", "Redaction config YAML (default ~/.trustgate/redact.yaml)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit chain operations",
	Long:  "Commands for appending to, verifying and inspecting hash-chained audit sessions.",
}

var auditAppendCmd = &cobra.Command{
	Use:   "append",
	Short: "Append a decision to a stored session",
	Long: "Reads an audit input (policy_id, policy_hash, matched_rule, decision,\n" +
		"session_id, agent_id, trust_score, tool_name, parameters_hash, target,\n" +
		"success, enforced, blocked, error) and links it into the session chain.",
	Args:  cobra.NoArgs,
	RunE:  runAuditAppend,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of an audit log or stored session",
	Long: "Walks the JSONL audit log, or the records of --session in the state\n" +
		"store, and checks every record's content hash and link to its\n" +
		"predecessor. Exits 0 if valid, 1 if tampered.",
	Args: cobra.MaximumNArgs(1),
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail <path>",
	Short: "Show recent audit log entries",
	Long:  "Reads the last N entries from the JSONL audit log and pretty-prints them.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditTail,
}

func runAuditAppend(cmd *cobra.Command, args []string) error {
	raw, err := readInput(auditInput)
	if err != nil {
		return err
	}
	in, err := gate.ParseAction(raw)
	if err != nil {
		return err
	}

	st, err := openStore(auditDB)
	if err != nil {
		return err
	}
	defer st.Close()
	closeLog, err := mirrorAudit(st, auditLogPath, nil)
	if err != nil {
		return err
	}
	defer closeLog()

	if in.PolicyID == "" {
		in.PolicyID = auditPolicyID
	}
	c, rec, hash, err := st.AppendAudit(context.Background(), auditSession, auditPolicyID, in, time.Now())
	if err != nil {
		return err
	}
	return printJSON(gate.AppendAuditResult{Chain: c, Action: rec, NewHash: hash})
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	var result audit.VerifyResult
	switch {
	case auditSession != "":
		st, err := openStore(auditDB)
		if err != nil {
			return err
		}
		defer st.Close()
		result, err = st.VerifySession(context.Background(), auditSession)
		if err != nil {
			return err
		}
	case len(args) == 1:
		result = audit.Verify(args[0])
	default:
		return fmt.Errorf("give a log path or --session")
	}

	if !result.Valid {
		return fmt.Errorf("FAILED at entry %d: %s", result.ErrorEntry, result.Error)
	}
	fmt.Fprintf(stdout, "OK: %d entries verified\n", result.Entries)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	masker, err := newMasker()
	if err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	// Read all lines, keep last N
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	start := len(lines) - tailLines
	if start < 0 {
		start = 0
	}

	for _, line := range lines[start:] {
		var rec audit.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			if masker != nil {
				line = masker.Text(line)
			}
			fmt.Fprintln(stdout, line)
			continue
		}
		if masker != nil {
			rec = masker.Record(rec)
		}
		out, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Fprintln(stdout, string(out))
	}

	return nil
}

// newMasker returns nil unless --redact was given.
func newMasker() (*redact.Masker, error) {
	if !redactOutput {
		return nil, nil
	}
	cfg, err := redact.LoadConfig(redactConfig)
	if err != nil {
		return nil, err
	}
	return redact.NewMasker(cfg)
}
