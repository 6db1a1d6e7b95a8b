// Package client connects to a trustgate gRPC server.
package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/server"
)

// DefaultTimeout bounds each call when the caller's context has no deadline.
const DefaultTimeout = 5 * time.Second

// Client connects to a trustgate gRPC policy server.
type Client struct {
	conn *grpc.ClientConn
	rpc  *server.Client
}

// New creates a client for the server at addr. The connection is
// established lazily on the first call.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to policy server: %w", err)
	}
	return &Client{conn: conn, rpc: server.NewClient(conn)}, nil
}

// Evaluate asks the server for a dry-run decision.
// Fail-closed: any RPC error yields an enforced deny and a nil error.
func (c *Client) Evaluate(ctx context.Context, req server.EvaluateRequest) server.EvaluateResponse {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var resp server.EvaluateResponse
	if err := c.rpc.Call(ctx, server.MethodEvaluate, req, &resp); err != nil {
		return server.EvaluateResponse{Evaluation: policy.Evaluation{
			Decision:    model.Deny,
			Enforced:    true,
			Reason:      fmt.Sprintf("policy server unreachable: %v", err),
			Constraints: []string{},
		}}
	}
	return resp
}

// Decide runs the full decision pipeline on the server. Unlike Evaluate it
// returns the error, since nothing was recorded.
func (c *Client) Decide(ctx context.Context, req server.DecideRequest) (server.DecideResponse, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var resp server.DecideResponse
	if err := c.rpc.Call(ctx, server.MethodDecide, req, &resp); err != nil {
		return server.DecideResponse{}, fmt.Errorf("decide: %w", err)
	}
	return resp, nil
}

// PolicyHash returns the fingerprint of the policy the server has loaded.
func (c *Client) PolicyHash(ctx context.Context) (server.PolicyHashResponse, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var resp server.PolicyHashResponse
	if err := c.rpc.Call(ctx, server.MethodPolicyHash, server.PolicyHashRequest{}, &resp); err != nil {
		return server.PolicyHashResponse{}, fmt.Errorf("policy hash: %w", err)
	}
	return resp, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultTimeout)
}
