package trustgate

import "github.com/ppiankov/trustgate/internal/trust"

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	policyPath   string
	dbPath       string
	approvalDir  string
	auditLogPath string
	sessionID    string
	entityID     string
	entityKind   trust.EntityKind
	skipTrust    bool
}

// WithPolicy sets the path to a policy YAML or JSON file.
func WithPolicy(path string) Option {
	return func(c *clientConfig) { c.policyPath = path }
}

// WithDB sets the state database path.
func WithDB(path string) Option {
	return func(c *clientConfig) { c.dbPath = path }
}

// WithApprovalDir sets where approval requests are kept.
func WithApprovalDir(dir string) Option {
	return func(c *clientConfig) { c.approvalDir = dir }
}

// WithAuditLog mirrors every decision to a JSONL audit log.
func WithAuditLog(path string) Option {
	return func(c *clientConfig) { c.auditLogPath = path }
}

// WithSession pins the audit session. The default is a new session per
// client.
func WithSession(id string) Option {
	return func(c *clientConfig) { c.sessionID = id }
}

// WithEntity sets the default acting entity and the kind it is created
// with on first sight.
func WithEntity(id string, kind string) Option {
	return func(c *clientConfig) {
		c.entityID = id
		c.entityKind = trust.EntityKind(kind)
	}
}

// WithoutTrustUpdates stops Wrap from recording outcomes on the actor's
// trust tensor.
func WithoutTrustUpdates() Option {
	return func(c *clientConfig) { c.skipTrust = true }
}

// WrapOption configures a single Wrap call.
type WrapOption func(*wrapConfig)

type wrapConfig struct {
	entityID string
}

// WrapWithEntity overrides the client-level entity for this wrap.
func WrapWithEntity(id string) WrapOption {
	return func(w *wrapConfig) { w.entityID = id }
}
