package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/gate"
	"github.com/ppiankov/trustgate/internal/policy"
)

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyHashCmd)
	policyCmd.AddCommand(policyValidateCmd)
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Policy file operations",
}

var policyHashCmd = &cobra.Command{
	Use:   "hash [path]",
	Short: "Print the fingerprint of a policy file",
	Long:  "Prints the first 16 hex characters of the SHA-256 of the file's raw bytes.\nWithout a path, hashes the configured policy.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPolicyHash,
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Check that a policy file parses and is well formed",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPolicyValidate,
}

func runPolicyHash(cmd *cobra.Command, args []string) error {
	raw, err := readPolicy(firstArg(args))
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, gate.PolicyHash(raw))
	return nil
}

func runPolicyValidate(cmd *cobra.Command, args []string) error {
	raw, err := readPolicy(firstArg(args))
	if err != nil {
		return err
	}
	cfg, err := policy.ParseConfig(raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "OK: policy %q (%d rules, default %s, enforce %t) hash %s\n",
		cfg.Name, len(cfg.Rules), cfg.DefaultPolicy, cfg.Enforce, policy.Hash(raw))
	return nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
