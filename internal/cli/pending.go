package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/approval"
)

var pendingClear bool

func init() {
	rootCmd.AddCommand(pendingCmd)
	pendingCmd.Flags().BoolVar(&pendingClear, "clear", false, "Remove every approval request")
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List approval requests",
	Long:  "Shows all approval requests in the store with their status, action, and timestamps.",
	RunE:  runPending,
}

func runPending(cmd *cobra.Command, args []string) error {
	store, err := approval.NewStore(approval.DefaultDir())
	if err != nil {
		return fmt.Errorf("failed to open approval store: %w", err)
	}

	if pendingClear {
		if err := store.Cleanup(); err != nil {
			return fmt.Errorf("failed to clear approvals: %w", err)
		}
		fmt.Fprintln(stdout, "Approvals cleared.")
		return nil
	}

	list, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to list approvals: %w", err)
	}

	if len(list) == 0 {
		fmt.Fprintln(stdout, "No pending approvals.")
		return nil
	}

	fmt.Fprintf(stdout, "%-16s %-10s %-12s %-40s %s\n", "KEY", "STATUS", "ENTITY", "ACTION", "CREATED")
	for _, a := range list {
		action := a.ToolName
		if a.Target != nil {
			action += " " + *a.Target
		}
		fmt.Fprintf(stdout, "%-16s %-10s %-12s %-40s %s\n",
			a.Key,
			a.Status,
			truncate(a.EntityID, 12),
			truncate(action, 40),
			a.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
