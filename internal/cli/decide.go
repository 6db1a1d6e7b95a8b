package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/alert"
	"github.com/ppiankov/trustgate/internal/approval"
	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/client"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/server"
	"github.com/ppiankov/trustgate/internal/store"
	"github.com/ppiankov/trustgate/internal/trust"
)

var (
	decidePolicy     string
	decideTool       string
	decideTarget     string
	decideEntityID   string
	decideEntityType string
	decideSession    string
	decideOutcome    string
	decideParams     string
	decideDB         string
	decideAuditLog   string
	decideRemote     string
)

func init() {
	rootCmd.AddCommand(decideCmd)
	decideCmd.Flags().StringVar(&decidePolicy, "policy", "", "Path to policy YAML/JSON (default $TRUSTGATE_POLICY or ~/.trustgate/policy.yaml)")
	decideCmd.Flags().StringVar(&decideTool, "tool", "", "Tool name (required)")
	decideCmd.Flags().StringVar(&decideTarget, "target", "", "Target of the tool")
	decideCmd.Flags().StringVar(&decideEntityID, "entity", "", "Acting entity id (required)")
	decideCmd.Flags().StringVar(&decideEntityType, "entity-type", string(trust.KindAgent), "Entity kind for a first-seen entity")
	decideCmd.Flags().StringVar(&decideSession, "session", "", "Audit session id (default: new session)")
	decideCmd.Flags().StringVar(&decideOutcome, "outcome", "", "Outcome to record (success|error|blocked|enforced), default derived from the decision")
	decideCmd.Flags().StringVar(&decideParams, "parameters", "", "Tool parameters as JSON, recorded by hash")
	decideCmd.Flags().StringVar(&decideDB, "db", "", "Path to state database (default $TRUSTGATE_DB)")
	decideCmd.Flags().StringVar(&decideAuditLog, "audit-log", "", "Also append the record to this JSONL audit log (default $TRUSTGATE_AUDIT_LOG)")
	decideCmd.Flags().StringVar(&decideRemote, "remote", "", "Send the decision to the trustgate server at this address")
	decideCmd.MarkFlagRequired("tool")
	decideCmd.MarkFlagRequired("entity")
}

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Decide a tool invocation and record it",
	Long: "Evaluates the invocation, applies the matched rule's rate limit and\n" +
		"appends the decision to the session's audit chain in the state store.\n" +
		"An ask_user decision opens an approval request; once granted with\n" +
		"'trustgate approve', the same action proceeds.",
	RunE: runDecide,
}

// decideOutput is the decision plus the approval request it opened or
// spent, if any.
type decideOutput struct {
	server.DecideResponse
	Approval *approval.Approval `json:"approval,omitempty"`
}

func runDecide(cmd *cobra.Command, args []string) error {
	kind := trust.EntityKind(decideEntityType)
	if !kind.Valid() {
		return fmt.Errorf("unknown entity type %q", decideEntityType)
	}
	outcome := model.Outcome(decideOutcome)
	if outcome != "" && !outcome.Valid() {
		return fmt.Errorf("unknown outcome %q", decideOutcome)
	}
	var target *string
	if decideTarget != "" {
		target = &decideTarget
	}
	var params json.RawMessage
	if decideParams != "" {
		if !json.Valid([]byte(decideParams)) {
			return fmt.Errorf("--parameters is not valid JSON")
		}
		params = json.RawMessage(decideParams)
	}
	if decideRemote != "" {
		return decideRemotely(server.DecideRequest{
			SessionID:  decideSession,
			ToolName:   decideTool,
			Target:     target,
			Parameters: params,
			EntityID:   decideEntityID,
			EntityType: kind,
			Outcome:    outcome,
		})
	}

	path, err := policyPath(decidePolicy)
	if err != nil {
		return err
	}
	cfg, hash, err := policy.LoadConfigWithHash(path)
	if err != nil {
		return err
	}
	session := decideSession
	if session == "" {
		session = uuid.NewString()
	}

	st, err := openStore(decideDB)
	if err != nil {
		return err
	}
	defer st.Close()
	closeLog, err := mirrorAudit(st, decideAuditLog, alert.NewDispatcher(cfg.Alerts, nil))
	if err != nil {
		return err
	}
	defer closeLog()

	approvals, err := approval.NewStore(approval.DefaultDir())
	if err != nil {
		return fmt.Errorf("failed to open approval store: %w", err)
	}
	now := time.Now()
	key := approval.Key(decideEntityID, decideTool, target)
	approved, err := approvals.Granted(key, now)
	if err != nil {
		return err
	}

	res, err := st.Decide(context.Background(), store.DecideRequest{
		SessionID:  session,
		PolicyID:   cfg.Name,
		PolicyHash: hash,
		Policy:     cfg,
		ToolName:   decideTool,
		Target:     target,
		Parameters: params,
		EntityID:   decideEntityID,
		EntityKind: kind,
		Outcome:    outcome,
		Approved:   approved,
	}, now)
	if err != nil {
		return err
	}
	ap, err := settleApproval(approvals, key, session, res, now)
	if err != nil {
		return err
	}
	return printJSON(decideOutput{
		DecideResponse: server.DecideResponse{SessionID: session, PolicyHash: hash, DecideResult: res},
		Approval:       ap,
	})
}

// decideRemotely records the decision on a running server, which owns the
// store and the audit log.
func decideRemotely(req server.DecideRequest) error {
	c, err := client.New(decideRemote)
	if err != nil {
		return err
	}
	defer c.Close()
	resp, err := c.Decide(context.Background(), req)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

// mirrorAudit appends every record the store commits to a JSONL audit log,
// taken from the flag or TRUSTGATE_AUDIT_LOG, and hands it to the policy's
// alert webhooks. The returned func waits for pending alerts and closes
// the log.
func mirrorAudit(st *store.Store, flag string, alerts *alert.Dispatcher) (func(), error) {
	path := flag
	if path == "" {
		cfg, err := env()
		if err != nil {
			return nil, err
		}
		path = cfg.AuditLogPath
	}
	var l *audit.Log
	if path != "" {
		var err error
		if l, err = audit.Open(path); err != nil {
			return nil, err
		}
	}
	st.OnAppend(func(rec audit.Record) {
		alerts.DispatchRecord(rec)
		if l == nil {
			return
		}
		if err := l.Write(rec); err != nil {
			fmt.Fprintf(os.Stderr, "warning: audit log %s: %v\n", path, err)
		}
	})
	return func() {
		alerts.Wait()
		if l != nil {
			l.Close()
		}
	}, nil
}
