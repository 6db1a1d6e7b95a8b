// Package server exposes the decision core over gRPC. State lives in the
// SQLite store; the policy is loaded from a file and hot-reloaded.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ppiankov/trustgate/internal/alert"
	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/gate"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/store"
)

// Config holds gRPC server configuration.
type Config struct {
	Addr         string
	PolicyPath   string
	DBPath       string
	AuditLogPath string
	Logger       *slog.Logger

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Server implements TrustGateServer.
type Server struct {
	mu         sync.RWMutex
	policyCfg  *policy.Config
	policyHash string
	alerts     *alert.Dispatcher

	store    *store.Store
	auditLog *audit.Log
	cfg      Config
	log      *slog.Logger
	now      func() time.Time

	grpcServer *grpc.Server
}

// New creates a server with a loaded policy and an open store.
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

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		policyCfg:  policyCfg,
		policyHash: policyHash,
		alerts:     alert.NewDispatcher(policyCfg.Alerts, logger),
		store:      st,
		auditLog:   auditLog,
		cfg:        cfg,
		log:        logger,
		now:        now,
	}
	st.OnAppend(s.recorded)
	s.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(s.logRequests))
	s.grpcServer.RegisterService(&ServiceDesc, s)
	return s, nil
}

// Serve listens on the configured address. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.ServeOn(lis)
}

// ServeOn serves on the given listener.
func (s *Server) ServeOn(lis net.Listener) error {
	s.log.Info("trustgate serving", "addr", lis.Addr().String(), "policy", s.currentPolicyName(), "policy_hash", s.LoadedPolicyHash())
	return s.grpcServer.Serve(lis)
}

// GracefulStop gracefully shuts down the gRPC server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Close waits for pending alerts and releases the store and the audit log.
func (s *Server) Close() error {
	s.mu.RLock()
	alerts := s.alerts
	s.mu.RUnlock()
	alerts.Wait()

	var errs []error
	if s.auditLog != nil {
		errs = append(errs, s.auditLog.Close())
	}
	errs = append(errs, s.store.Close())
	return errors.Join(errs...)
}

// ReloadPolicy atomically swaps the policy. Called by the hot-reloader on
// file change; an invalid file leaves the current policy in place.
func (s *Server) ReloadPolicy() error {
	policyCfg, policyHash, err := policy.LoadConfigWithHash(s.cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("failed to reload policy config: %w", err)
	}

	alerts := alert.NewDispatcher(policyCfg.Alerts, s.log)

	s.mu.Lock()
	s.policyCfg = policyCfg
	s.policyHash = policyHash
	s.alerts = alerts
	s.mu.Unlock()
	return nil
}

// LoadedPolicyHash returns the fingerprint of the loaded policy.
func (s *Server) LoadedPolicyHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policyHash
}

// snapshot returns the loaded policy and its hash.
func (s *Server) snapshot() (*policy.Config, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policyCfg, s.policyHash
}

func (s *Server) currentPolicyName() string {
	cfg, _ := s.snapshot()
	return cfg.Name
}

// logRequests tags each call with a request id and logs its outcome.
func (s *Server) logRequests(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	reqID := uuid.NewString()
	resp, err := handler(ctx, req)
	attrs := []any{
		"method", info.FullMethod,
		"request_id", reqID,
		"code", status.Code(err).String(),
		"duration", time.Since(start),
	}
	if err != nil {
		s.log.Warn("rpc failed", append(attrs, "error", err)...)
	} else {
		s.log.Debug("rpc", attrs...)
	}
	return resp, err
}

// rpcError maps boundary and store errors to gRPC status codes.
func rpcError(err error) error {
	var (
		parseErr *gate.ParseError
		valErr   *gate.ValidationError
		serErr   *gate.SerializationError
	)
	switch {
	case errors.As(err, &parseErr), errors.As(err, &valErr):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.As(err, &serErr):
		return status.Error(codes.Internal, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
