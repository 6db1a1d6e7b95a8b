package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/gate"
	"github.com/ppiankov/trustgate/internal/store"
	"github.com/ppiankov/trustgate/internal/trust"
)

var (
	trustDB         string
	trustEntityType string
	trustTool       string
	trustSuccess    bool
	trustLimit      int
)

func init() {
	rootCmd.AddCommand(trustCmd)
	trustCmd.PersistentFlags().StringVar(&trustDB, "db", "", "Path to state database (default $TRUSTGATE_DB)")
	trustCmd.AddCommand(trustShowCmd)
	trustCmd.AddCommand(trustUpdateCmd)
	trustCmd.AddCommand(trustListCmd)
	trustUpdateCmd.Flags().StringVar(&trustTool, "tool", "", "Tool whose outcome is recorded (required)")
	trustUpdateCmd.Flags().BoolVar(&trustSuccess, "success", true, "Outcome of the invocation; --success=false records a failure")
	trustUpdateCmd.Flags().StringVar(&trustEntityType, "entity-type", string(trust.KindAgent), "Entity kind for a first-seen entity")
	trustUpdateCmd.MarkFlagRequired("tool")
	trustListCmd.Flags().IntVarP(&trustLimit, "limit", "n", 20, "Number of entities to show")
}

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Entity trust operations",
	Long:  "Commands for inspecting and updating stored entity trust records.",
}

var trustShowCmd = &cobra.Command{
	Use:   "show <entity-id>",
	Short: "Show an entity's trust record",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrustShow,
}

var trustUpdateCmd = &cobra.Command{
	Use:   "update <entity-id>",
	Short: "Record a tool outcome and update the entity's trust",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrustUpdate,
}

var trustListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entities by composite trust, highest first",
	RunE:  runTrustList,
}

func runTrustShow(cmd *cobra.Command, args []string) error {
	st, err := openStore(trustDB)
	if err != nil {
		return err
	}
	defer st.Close()

	e, err := st.Entity(context.Background(), args[0])
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "%s has no trust record; showing neutral trust\n", args[0])
		e = trust.NewEntity(args[0], trust.KindAgent, time.Now())
	} else if err != nil {
		return err
	}
	return printJSON(e)
}

func runTrustUpdate(cmd *cobra.Command, args []string) error {
	kind := trust.EntityKind(trustEntityType)
	if !kind.Valid() {
		return fmt.Errorf("unknown entity type %q", trustEntityType)
	}
	st, err := openStore(trustDB)
	if err != nil {
		return err
	}
	defer st.Close()

	e, delta, err := st.UpdateTrust(context.Background(), args[0], kind, trustTool, trustSuccess, time.Now())
	if err != nil {
		return err
	}
	return printJSON(gate.UpdateTrustResult{Entity: e, Delta: delta})
}

func runTrustList(cmd *cobra.Command, args []string) error {
	st, err := openStore(trustDB)
	if err != nil {
		return err
	}
	defer st.Close()

	entities, err := st.Entities(context.Background(), trustLimit)
	if err != nil {
		return err
	}
	if len(entities) == 0 {
		fmt.Fprintln(stdout, "No trust records.")
		return nil
	}
	fmt.Fprintf(stdout, "%-24s %-8s %-9s %-12s %s\n", "ENTITY", "TYPE", "COMPOSITE", "LEVEL", "INTERACTIONS")
	for _, e := range entities {
		fmt.Fprintf(stdout, "%-24s %-8s %-9.3f %-12s %d\n", e.EntityID, e.EntityType, e.Composite(), e.TrustLevel, e.InteractionCount)
	}
	return nil
}
