package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	gatemcp "github.com/ppiankov/trustgate/internal/mcp"
)

var (
	mcpPolicy   string
	mcpDB       string
	mcpAuditLog string
	mcpSession  string
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpPolicy, "policy", "", "Path to policy YAML (default $TRUSTGATE_POLICY or ~/.trustgate/policy.yaml)")
	mcpCmd.Flags().StringVar(&mcpDB, "db", "", "Path to state database (default $TRUSTGATE_DB)")
	mcpCmd.Flags().StringVar(&mcpAuditLog, "audit-log", "", "Path to audit log JSONL file (default $TRUSTGATE_AUDIT_LOG)")
	mcpCmd.Flags().StringVar(&mcpSession, "session", "", "Audit session for decisions (default: new session)")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs trustgate as an MCP (Model Context Protocol) server over stdio.\nExposes tools: evaluate, decide, trust, witness, rate_limit, audit_verify.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := env()
	if err != nil {
		return err
	}
	if mcpDB != "" {
		cfg.DBPath = mcpDB
	}
	if mcpAuditLog != "" {
		cfg.AuditLogPath = mcpAuditLog
	}
	policyFile, err := policyPath(mcpPolicy)
	if err != nil {
		return err
	}
	// stdout carries the protocol; logs go to stderr.
	logger := cfg.NewLogger(os.Stderr)

	srv, err := gatemcp.New(gatemcp.Config{
		PolicyPath:   policyFile,
		DBPath:       cfg.DBPath,
		AuditLogPath: cfg.AuditLogPath,
		SessionID:    mcpSession,
		Version:      version,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutting down MCP server")
		cancel()
	}()

	err = srv.Run(ctx)
	logger.Info("mcp session closed", "session", srv.SessionID())
	return err
}
