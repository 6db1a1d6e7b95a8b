package cli

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/approval"
	"github.com/ppiankov/trustgate/internal/gate"
	"github.com/ppiankov/trustgate/internal/model"
)

var approveDuration time.Duration

func init() {
	rootCmd.AddCommand(approveCmd)
	approveCmd.Flags().DurationVar(&approveDuration, "duration", 0, "Validity period (e.g., 5m, 1h). Default: one-time use")
}

var approveCmd = &cobra.Command{
	Use:   "approve <key>",
	Short: "Grant approval for an ask_user action",
	Long: "Approves a pending approval request. Without --duration, approval is one-time (consumed on first use).\n" +
		"With --duration, approval is valid for the specified period and can be reused.",
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

func runApprove(cmd *cobra.Command, args []string) error {
	key := args[0]

	store, err := approval.NewStore(approval.DefaultDir())
	if err != nil {
		return fmt.Errorf("failed to open approval store: %w", err)
	}

	if err := store.Approve(key, approveDuration, time.Now()); err != nil {
		return err
	}

	if approveDuration > 0 {
		fmt.Fprintf(stdout, "Approved %q for %s\n", key, approveDuration)
	} else {
		fmt.Fprintf(stdout, "Approved %q (one-time use)\n", key)
	}
	return nil
}

// settleApproval spends a granted approval, or opens a request for a
// held one. Decisions other than ask_user return nil.
func settleApproval(store *approval.Store, key, session string, res gate.DecideResult, now time.Time) (*approval.Approval, error) {
	ev := res.Evaluation
	if ev.Decision != model.AskUser {
		return nil, nil
	}
	a, err := store.Settle(approvalFor(key, session, res), slices.Contains(ev.Constraints, gate.ApprovalGranted), now)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// approvalFor is the request a held decision opens.
func approvalFor(key, session string, res gate.DecideResult) approval.Approval {
	a := approval.Approval{
		Key:       key,
		EntityID:  res.Record.Actor(),
		ToolName:  res.Record.Request.ToolName,
		Target:    res.Record.Resource.Target,
		Reason:    res.Evaluation.Reason,
		SessionID: session,
		ActionID:  res.Record.ActionID,
	}
	if rule := res.Evaluation.MatchedRule; rule != nil {
		a.RuleID = *rule
	}
	return a
}
