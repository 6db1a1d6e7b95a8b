package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/config"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/store"
)

// stdout receives command output; tests replace it.
var stdout io.Writer = os.Stdout

var rootCmd = &cobra.Command{
	Use:   "trustgate",
	Short: "Trust-scored policy gate for agent tool calls",
	Long: "Decides whether an agent's tool invocation may proceed, based on a rule\n" +
		"set and the actor's learned trust, and records every decision in a\n" +
		"hash-chained audit log.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env loads environment configuration; flags given on the command line win.
func env() (config.Config, error) {
	return config.Load()
}

func openStore(dbPath string) (*store.Store, error) {
	if dbPath == "" {
		cfg, err := env()
		if err != nil {
			return nil, err
		}
		dbPath = cfg.DBPath
	}
	return store.Open(dbPath)
}

// policyPath resolves a --policy flag against TRUSTGATE_POLICY and the
// default location.
func policyPath(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	cfg, err := env()
	if err != nil {
		return "", err
	}
	if cfg.PolicyPath != "" {
		return cfg.PolicyPath, nil
	}
	return policy.DefaultPath(), nil
}

// readPolicy returns the raw policy text. A missing default file yields the
// built-in policy.
func readPolicy(flag string) ([]byte, error) {
	path, err := policyPath(flag)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && flag == "" {
		return []byte(policy.DefaultConfigYAML()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return data, nil
}

// readInput reads a file, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Fprintln(stdout, string(out))
	return nil
}

// printRaw pretty-prints JSON produced by the gate.
func printRaw(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode output: %w", err)
	}
	return printJSON(v)
}
