package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/policy"
)

var (
	initPolicyForce  bool
	initPolicyOutput string
)

func init() {
	rootCmd.AddCommand(initPolicyCmd)
	initPolicyCmd.Flags().BoolVar(&initPolicyForce, "force", false, "Overwrite an existing file")
	initPolicyCmd.Flags().StringVarP(&initPolicyOutput, "output", "o", "", "Write to this path, or - for stdout (default ~/.trustgate/policy.yaml)")
}

var initPolicyCmd = &cobra.Command{
	Use:   "init-policy",
	Short: "Write the built-in policy as a commented policy.yaml",
	Long: "Writes only the policy file, for example into a repository that\n" +
		"checks it with 'trustgate check'. Use 'trustgate init' to bootstrap a\n" +
		"whole installation.",
	RunE: runInitPolicy,
}

func runInitPolicy(cmd *cobra.Command, args []string) error {
	content := policy.DefaultConfigYAML()
	if initPolicyOutput == "-" {
		_, err := fmt.Fprint(stdout, content)
		return err
	}

	path := initPolicyOutput
	if path == "" {
		path = policy.DefaultPath()
	}
	if _, err := os.Stat(path); err == nil && !initPolicyForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(stdout, "Created %s\n", path)
	return nil
}
