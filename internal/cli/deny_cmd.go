package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/approval"
)

func init() {
	rootCmd.AddCommand(denyCmd)
}

var denyCmd = &cobra.Command{
	Use:   "deny <key>",
	Short: "Refuse an approval request",
	Long: "Marks an approval request denied. Later decisions of the same action\n" +
		"stay held; a new request is not opened until the entry is cleared with\n" +
		"'trustgate pending --clear' or approved.",
	Args: cobra.ExactArgs(1),
	RunE: runDeny,
}

func runDeny(cmd *cobra.Command, args []string) error {
	approvals, err := approval.NewStore(approval.DefaultDir())
	if err != nil {
		return fmt.Errorf("failed to open approval store: %w", err)
	}
	if err := approvals.Deny(args[0], time.Now()); err != nil {
		return err
	}
	a, err := approvals.Get(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Denied %q: %s %s by %s\n", a.Key, a.ToolName, targetLabel(a.Target), a.EntityID)
	return nil
}

func targetLabel(target *string) string {
	if target == nil {
		return "(no target)"
	}
	return *target
}
