package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/client"
	"github.com/ppiankov/trustgate/internal/gate"
	"github.com/ppiankov/trustgate/internal/server"
	"github.com/ppiankov/trustgate/internal/trust"
)

var (
	evalPolicy     string
	evalTools      []string
	evalTargets    []string
	evalEntityFile string
	evalEntityID   string
	evalEntityType string
	evalDB         string
	evalRemote     string
)

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringVar(&evalPolicy, "policy", "", "Path to policy YAML/JSON (default $TRUSTGATE_POLICY or ~/.trustgate/policy.yaml)")
	evaluateCmd.Flags().StringArrayVar(&evalTools, "tool", nil, "Tool name; repeat for a batch (required)")
	evaluateCmd.Flags().StringArrayVar(&evalTargets, "target", nil, "Target of the tool; repeat once per --tool in a batch")
	evaluateCmd.Flags().StringVar(&evalEntityFile, "entity-file", "", "Entity trust record JSON (- for stdin)")
	evaluateCmd.Flags().StringVar(&evalEntityID, "entity", "", "Look up the entity's trust in the store")
	evaluateCmd.Flags().StringVar(&evalEntityType, "entity-type", string(trust.KindAgent), "Entity kind for a first-seen --entity")
	evaluateCmd.Flags().StringVar(&evalDB, "db", "", "Path to state database (default $TRUSTGATE_DB)")
	evaluateCmd.Flags().StringVar(&evalRemote, "remote", "", "Ask the trustgate server at this address instead of evaluating locally")
	evaluateCmd.MarkFlagRequired("tool")
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate tool invocations against a policy (dry-run)",
	Long: "Evaluates one tool invocation, or a batch when --tool is repeated, and\n" +
		"prints the decision. Nothing is recorded. The actor is a neutral entity\n" +
		"unless --entity-file or --entity is given.",
	RunE: runEvaluate,
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	if evalRemote != "" {
		return runEvaluateRemote()
	}
	policyRaw, err := readPolicy(evalPolicy)
	if err != nil {
		return err
	}
	entityRaw, err := entityJSON(evalEntityFile, evalEntityID, evalEntityType, evalDB)
	if err != nil {
		return err
	}

	var out []byte
	if len(evalTools) == 1 && len(evalTargets) <= 1 {
		var target *string
		if len(evalTargets) == 1 {
			target = &evalTargets[0]
		}
		out, err = gate.EvaluatePolicy(policyRaw, evalTools[0], target, entityRaw)
	} else {
		var targets []*string
		for i := range evalTargets {
			targets = append(targets, &evalTargets[i])
		}
		out, err = gate.EvaluateBatch(policyRaw, evalTools, targets, entityRaw)
	}
	if err != nil {
		return err
	}
	return printRaw(out)
}

// runEvaluateRemote asks a running server. An unreachable server yields an
// enforced deny, which is printed like any other decision.
func runEvaluateRemote() error {
	if len(evalTools) != 1 || len(evalTargets) > 1 {
		return fmt.Errorf("--remote evaluates a single --tool")
	}
	req := server.EvaluateRequest{
		ToolName:   evalTools[0],
		EntityID:   evalEntityID,
		EntityType: trust.EntityKind(evalEntityType),
	}
	if len(evalTargets) == 1 {
		req.Target = &evalTargets[0]
	}
	if evalEntityFile != "" {
		raw, err := readInput(evalEntityFile)
		if err != nil {
			return err
		}
		req.Entity = raw
	} else if req.EntityID == "" {
		req.EntityID = "cli"
	}

	c, err := client.New(evalRemote)
	if err != nil {
		return err
	}
	defer c.Close()
	return printJSON(c.Evaluate(context.Background(), req))
}

// entityJSON returns the actor's trust record from a file, from the store,
// or a neutral record.
func entityJSON(file, id, kind, dbPath string) ([]byte, error) {
	if file != "" {
		return readInput(file)
	}
	now := time.Now()
	if id == "" {
		return json.Marshal(trust.NewEntity("cli", trust.KindAgent, now))
	}
	k := trust.EntityKind(kind)
	if !k.Valid() {
		return nil, fmt.Errorf("unknown entity type %q", kind)
	}
	st, err := openStore(dbPath)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	e, err := st.EntityOrNeutral(context.Background(), id, k, now)
	if err != nil {
		return nil, err
	}
	return json.Marshal(e)
}
