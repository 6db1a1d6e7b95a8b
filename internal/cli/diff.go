package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/policydiff"
)

var (
	diffFormat string
	diffFailOn string
)

func init() {
	policyCmd.AddCommand(diffCmd)
	diffCmd.Flags().StringVarP(&diffFormat, "format", "f", "text", "Output format (text|json)")
	diffCmd.Flags().StringVar(&diffFailOn, "fail-on", "", "Exit non-zero when the change is looser (looser) or changes anything (any)")
}

var diffCmd = &cobra.Command{
	Use:   "diff <old.yaml> <new.yaml>",
	Short: "Compare two policy files and show changes",
	Long: "Shows how a policy change moves enforcement: the enforce flag, the\n" +
		"default decision and rules added, removed or changed, each marked\n" +
		"stricter or looser. With --fail-on looser a review pipeline can stop\n" +
		"changes that relax the policy.",
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func runDiff(cmd *cobra.Command, args []string) error {
	switch diffFailOn {
	case "", "looser", "any":
	default:
		return fmt.Errorf("unknown --fail-on %q: use looser or any", diffFailOn)
	}

	oldCfg, err := policy.LoadConfig(args[0])
	if err != nil {
		return fmt.Errorf("load old policy: %w", err)
	}
	newCfg, err := policy.LoadConfig(args[1])
	if err != nil {
		return fmt.Errorf("load new policy: %w", err)
	}

	result := policydiff.Diff(oldCfg, newCfg)
	result.OldPath, result.NewPath = args[0], args[1]

	if diffFormat == "json" {
		out, err := policydiff.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, out)
	} else {
		fmt.Fprint(stdout, policydiff.FormatText(result))
	}

	switch dir := result.Direction(); {
	case diffFailOn == "any" && result.HasChanges:
		return fmt.Errorf("policy changed")
	case diffFailOn == "looser" && (dir == "looser" || dir == "mixed"):
		return fmt.Errorf("policy change is %s", dir)
	}
	return nil
}
