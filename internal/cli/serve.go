package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/server"
)

var (
	serveAddr     string
	servePolicy   string
	serveDB       string
	serveAuditLog string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "gRPC listen address (default $TRUSTGATE_ADDR or 127.0.0.1:9443)")
	serveCmd.Flags().StringVar(&servePolicy, "policy", "", "Path to policy YAML (default $TRUSTGATE_POLICY or ~/.trustgate/policy.yaml)")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "Path to state database (default $TRUSTGATE_DB)")
	serveCmd.Flags().StringVar(&serveAuditLog, "audit-log", "", "Path to audit log JSONL file (default $TRUSTGATE_AUDIT_LOG)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start gRPC decision server",
	Long:  "Runs trustgate as a central decision server over gRPC.\nMultiple agents connect as clients for remote evaluation and audit.\nThe policy is reloaded when its file changes or on SIGHUP; an invalid\nfile keeps the loaded policy.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := env()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if serveDB != "" {
		cfg.DBPath = serveDB
	}
	if serveAuditLog != "" {
		cfg.AuditLogPath = serveAuditLog
	}
	policyFile, err := policyPath(servePolicy)
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(os.Stderr)

	srv, err := server.New(server.Config{
		Addr:         cfg.Addr,
		PolicyPath:   policyFile,
		DBPath:       cfg.DBPath,
		AuditLogPath: cfg.AuditLogPath,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	// Start hot-reload watcher for the policy file
	reloader, err := server.NewReloader(srv, []string{policyFile})
	if err != nil {
		logger.Warn("hot-reload disabled", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if reloader != nil {
		go reloader.Run(ctx)
		for _, p := range reloader.Paths() {
			logger.Info("hot-reload enabled", "file", p)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				if err := srv.ReloadPolicy(); err != nil {
					logger.Error("reload on SIGHUP failed, keeping loaded policy", "error", err)
				} else {
					logger.Info("policy reloaded on SIGHUP", "policy_hash", srv.LoadedPolicyHash())
				}
				continue
			}
			logger.Info("shutting down decision server")
			cancel()
			srv.GracefulStop()
			return
		}
	}()

	return srv.Serve()
}
