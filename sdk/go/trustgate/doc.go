// Package trustgate provides in-process policy enforcement for Go agent
// frameworks. It wraps tool functions, decides each call against the
// trust-gated policy, records it in the session's hash-chained audit log
// and feeds the realized outcome back into the actor's trust tensor.
//
// Usage:
//
//	tg, err := trustgate.New(trustgate.WithEntity("agent-7", "agent"))
//	defer tg.Close()
//	wrapped := tg.Wrap(myTool)
//	result, err := wrapped(ctx, trustgate.Action{
//	    Tool:   "Read",
//	    Target: "/srv/app/main.go",
//	})
//
// The SDK links directly against internal packages for zero-subprocess
// overhead. External users import github.com/ppiankov/trustgate/sdk/go/trustgate.
package trustgate
