package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/scenario"
)

var (
	checkScenario string
	checkPolicy   string
	checkFormat   string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkScenario, "scenario", "", "Glob pattern for scenario YAML files (required)")
	checkCmd.Flags().StringVar(&checkPolicy, "policy", "", "Path to policy YAML (default $TRUSTGATE_POLICY or ~/.trustgate/policy.yaml)")
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
	checkCmd.MarkFlagRequired("scenario")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run policy assertions from scenario files",
	Long: "Loads scenario YAML files matching a glob pattern, evaluates each\n" +
		"test case against the policy, and reports pass/fail.\n\n" +
		"Exit code 0 if all cases pass, 1 if any fail.\n" +
		"Use in CI to gate policy changes.",
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	matches, err := filepath.Glob(checkScenario)
	if err != nil {
		return fmt.Errorf("invalid glob pattern: %w", err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("no scenario files match pattern: %s", checkScenario)
	}
	path, err := policyPath(checkPolicy)
	if err != nil {
		return err
	}

	var results []*scenario.RunResult
	for _, m := range matches {
		r, err := scenario.LoadAndRun(m, path)
		if err != nil {
			return fmt.Errorf("%s: %w", m, err)
		}
		results = append(results, r)
	}

	switch checkFormat {
	case "json":
		out, err := scenario.FormatJSON(results)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, out)
	default:
		fmt.Fprint(stdout, scenario.FormatText(results))
	}

	if t := scenario.Sum(results); t.Failed > 0 {
		return fmt.Errorf("%d scenario case(s) failed", t.Failed)
	}
	return nil
}
