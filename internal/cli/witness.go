package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/witness"
)

var witnessDB string

func init() {
	rootCmd.AddCommand(witnessCmd)
	witnessCmd.PersistentFlags().StringVar(&witnessDB, "db", "", "Path to state database (default $TRUSTGATE_DB)")
	witnessCmd.AddCommand(witnessRecordCmd)
	witnessCmd.AddCommand(witnessChainCmd)
}

var witnessCmd = &cobra.Command{
	Use:   "witness",
	Short: "Witnessing graph operations",
	Long:  "Commands for recording observations between entities and computing\ntransitive trust from them.",
}

var witnessRecordCmd = &cobra.Command{
	Use:   "record <witness-id> <witnessed-id> <trust-score>",
	Short: "Record that one entity observed another",
	Args:  cobra.ExactArgs(3),
	RunE:  runWitnessRecord,
}

var witnessChainCmd = &cobra.Command{
	Use:   "chain <entity-id>",
	Short: "Show an entity's witnessing chain and transitive trust",
	Args:  cobra.ExactArgs(1),
	RunE:  runWitnessChain,
}

type witnessChainOutput struct {
	Chain      witness.Chain `json:"chain"`
	Aggregate  float64       `json:"aggregate"`
	Transitive float64       `json:"transitive"`
}

func runWitnessRecord(cmd *cobra.Command, args []string) error {
	score, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("invalid trust score %q: %w", args[2], err)
	}
	ev := witness.Record(args[0], args[1], score, time.Now())
	if err := ev.Validate(); err != nil {
		return err
	}

	st, err := openStore(witnessDB)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.RecordWitness(context.Background(), ev); err != nil {
		return err
	}
	return printJSON(ev)
}

func runWitnessChain(cmd *cobra.Command, args []string) error {
	st, err := openStore(witnessDB)
	if err != nil {
		return err
	}
	defer st.Close()

	c, err := st.WitnessChain(context.Background(), args[0], time.Now())
	if err != nil {
		return err
	}
	return printJSON(witnessChainOutput{
		Chain:      c,
		Aggregate:  witness.Aggregate(c),
		Transitive: witness.Transitive(c),
	})
}
