// Package mcp serves the decision core to agents over the Model Context
// Protocol on stdio.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/trustgate/internal/alert"
	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/store"
)

// Config holds MCP server configuration.
type Config struct {
	PolicyPath   string
	DBPath       string
	AuditLogPath string
	Version      string
	Logger       *slog.Logger

	// SessionID names the audit session decisions are chained into when a
	// call does not name one. Empty generates one per server.
	SessionID string

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Server wraps the MCP SDK server with the trust gate's state.
type Server struct {
	mcpServer  *mcpsdk.Server
	store      *store.Store
	auditLog   *audit.Log
	alerts     *alert.Dispatcher
	policyCfg  *policy.Config
	policyHash string
	sessionID  string
	log        *slog.Logger
	now        func() time.Time
	mu         sync.Mutex
}

// New creates an MCP server with a loaded policy, an open store and tools.
func New(cfg Config) (*Server, error) {
	policyCfg, policyHash, err := policy.LoadConfigWithHash(cfg.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy config: %w", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	var auditLog *audit.Log
	if cfg.AuditLogPath != "" {
		auditLog, err = audit.Open(cfg.AuditLogPath)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		store:      st,
		auditLog:   auditLog,
		alerts:     alert.NewDispatcher(policyCfg.Alerts, logger),
		policyCfg:  policyCfg,
		policyHash: policyHash,
		sessionID:  sessionID,
		log:        logger,
		now:        now,
	}
	st.OnAppend(s.recordAudit)

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "trustgate",
			Version: version,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("trustgate mcp serving", "session", s.sessionID, "policy", s.policyCfg.Name, "policy_hash", s.policyHash)
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close waits for pending alerts and closes the store and the audit log
// if configured.
func (s *Server) Close() error {
	s.alerts.Wait()
	var err error
	if s.auditLog != nil {
		err = s.auditLog.Close()
	}
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// SessionID returns the default audit session of this server.
func (s *Server) SessionID() string {
	return s.sessionID
}

// recordAudit copies a committed record to the JSONL audit log and the
// alert webhooks.
func (s *Server) recordAudit(rec audit.Record) {
	s.alerts.DispatchRecord(rec)
	if s.auditLog == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.auditLog.Write(rec); err != nil {
		s.log.Warn("audit log write failed", "action_id", rec.ActionID, "error", err)
	}
}

// registerTools adds all trustgate tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustgate_evaluate",
		Description: "Evaluate a tool invocation against the loaded policy without recording it (dry-run).",
	}, s.handleEvaluate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustgate_decide",
		Description: "Decide a tool invocation: evaluate, apply the rule's rate limit and append the decision to the session audit chain. Blocked invocations return an error result with the reason.",
	}, s.handleDecide)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustgate_trust",
		Description: "Show an entity's trust record, or record an outcome when tool_name and success are given.",
	}, s.handleTrust)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustgate_witness",
		Description: "Record that one entity observed another at a trust score, and return the observed entity's transitive trust.",
	}, s.handleWitness)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustgate_rate_limit",
		Description: "Check and record one event against a sliding-window limit.",
	}, s.handleRateLimit)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustgate_audit_verify",
		Description: "Verify the hash chain of an audit session (default: this server's session).",
	}, s.handleAuditVerify)
}
