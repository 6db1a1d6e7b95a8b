package trustgate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/trustgate/internal/approval"
	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/config"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/store"
	"github.com/ppiankov/trustgate/internal/trust"
)

// Client holds the decide pipeline for in-process enforcement.
// Safe for concurrent tool calls.
type Client struct {
	cfg        clientConfig
	policy     *policy.Config
	policyHash string
	store      *store.Store
	approvals  *approval.Store
	log        *audit.Log
	now        func() time.Time
}

// New creates a Client with the given options. Unset paths fall back to
// the TRUSTGATE_* environment and ~/.trustgate.
func New(opts ...Option) (*Client, error) {
	cfg := clientConfig{entityID: "sdk", entityKind: trust.KindAgent}
	for _, o := range opts {
		o(&cfg)
	}
	if !cfg.entityKind.Valid() {
		return nil, fmt.Errorf("trustgate: unknown entity kind %q", cfg.entityKind)
	}
	if cfg.sessionID == "" {
		cfg.sessionID = uuid.NewString()
	}

	hostCfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("trustgate: %w", err)
	}
	if cfg.policyPath == "" {
		cfg.policyPath = hostCfg.PolicyPath
	}
	if cfg.dbPath == "" {
		cfg.dbPath = hostCfg.DBPath
	}
	if cfg.auditLogPath == "" {
		cfg.auditLogPath = hostCfg.AuditLogPath
	}
	if cfg.approvalDir == "" {
		cfg.approvalDir = approval.DefaultDir()
	}

	policyCfg, hash, err := policy.LoadConfigWithHash(cfg.policyPath)
	if err != nil {
		return nil, fmt.Errorf("trustgate: failed to load policy: %w", err)
	}
	approvals, err := approval.NewStore(cfg.approvalDir)
	if err != nil {
		return nil, fmt.Errorf("trustgate: failed to open approval store: %w", err)
	}
	st, err := store.Open(cfg.dbPath)
	if err != nil {
		return nil, fmt.Errorf("trustgate: %w", err)
	}

	c := &Client{
		cfg:        cfg,
		policy:     policyCfg,
		policyHash: hash,
		store:      st,
		approvals:  approvals,
		now:        time.Now,
	}
	if cfg.auditLogPath != "" {
		if c.log, err = audit.Open(cfg.auditLogPath); err != nil {
			st.Close()
			return nil, fmt.Errorf("trustgate: %w", err)
		}
		st.OnAppend(c.mirror)
	}
	return c, nil
}

func (c *Client) mirror(rec audit.Record) {
	if err := c.log.Write(rec); err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Warn("audit log write failed",
			"path", c.log.Path(), "error", err)
	}
}

// SessionID returns the audit session decisions are chained into.
func (c *Client) SessionID() string {
	return c.cfg.sessionID
}

// PolicyHash returns the fingerprint of the loaded policy.
func (c *Client) PolicyHash() string {
	return c.policyHash
}

// Check evaluates policy for an action without recording or executing
// anything.
func (c *Client) Check(ctx context.Context, action Action) (Result, error) {
	entity, err := c.store.EntityOrNeutral(ctx, c.cfg.entityID, c.cfg.entityKind, c.now())
	if err != nil {
		return Result{}, err
	}
	return toResult(policy.Evaluate(c.policy, action.Tool, action.target(), entity.T3)), nil
}

// Verify checks the hash chain of the client's session.
func (c *Client) Verify(ctx context.Context) (audit.VerifyResult, error) {
	return c.store.VerifySession(ctx, c.cfg.sessionID)
}

// Close releases the state database and the audit log.
func (c *Client) Close() error {
	err := c.store.Close()
	if c.log != nil {
		if lerr := c.log.Close(); err == nil {
			err = lerr
		}
	}
	return err
}
