package trustgate

import (
	"context"

	"github.com/ppiankov/trustgate/internal/approval"
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/store"
)

// ToolFunc is the function signature that Wrap guards.
// The caller provides an Action describing the intended operation.
type ToolFunc func(ctx context.Context, action Action) (any, error)

// Wrap returns a new ToolFunc that decides each call before running fn.
// Denied calls and calls held for approval return a *BlockedError without
// calling fn. A held call opens an approval request; once an operator
// approves it, the same action runs. The error fn returns is recorded on
// the actor's trust tensor as the realized outcome.
func (c *Client) Wrap(fn ToolFunc, opts ...WrapOption) ToolFunc {
	wcfg := wrapConfig{entityID: c.cfg.entityID}
	for _, o := range opts {
		o(&wcfg)
	}

	return func(ctx context.Context, action Action) (any, error) {
		result, err := c.decide(ctx, wcfg.entityID, action)
		if err != nil {
			return nil, err
		}
		if !result.Allowed() {
			return nil, &BlockedError{Action: action, Result: result}
		}

		out, runErr := fn(ctx, action)
		if !c.cfg.skipTrust {
			if _, _, err := c.store.UpdateTrust(ctx, wcfg.entityID, c.cfg.entityKind, action.Tool, runErr == nil, c.now()); err != nil {
				return out, err
			}
		}
		return out, runErr
	}
}

// decide records one decision and settles its approval step.
func (c *Client) decide(ctx context.Context, entityID string, action Action) (Result, error) {
	now := c.now()
	target := action.target()
	key := approval.Key(entityID, action.Tool, target)
	approved, err := c.approvals.Granted(key, now)
	if err != nil {
		return Result{}, err
	}

	params, err := action.parameters()
	if err != nil {
		return Result{}, err
	}

	res, err := c.store.Decide(ctx, store.DecideRequest{
		SessionID:  c.cfg.sessionID,
		PolicyID:   c.policy.Name,
		PolicyHash: c.policyHash,
		Policy:     c.policy,
		ToolName:   action.Tool,
		Target:     target,
		Parameters: params,
		EntityID:   entityID,
		EntityKind: c.cfg.entityKind,
		Approved:   approved,
	}, now)
	if err != nil {
		return Result{}, err
	}

	result := toResult(res.Evaluation)
	result.ActionID = res.Record.ActionID
	result.Hash = res.Hash
	if res.Evaluation.Decision == model.AskUser {
		a := approval.Approval{
			Key:       key,
			EntityID:  entityID,
			ToolName:  action.Tool,
			Target:    target,
			RuleID:    result.RuleID,
			Reason:    result.Reason,
			SessionID: c.cfg.sessionID,
			ActionID:  result.ActionID,
		}
		if _, err := c.approvals.Settle(a, approved, now); err != nil {
			return Result{}, err
		}
		result.ApprovalKey = key
	}
	return result, nil
}

