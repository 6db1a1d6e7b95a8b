package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/ratelimit"
)

var (
	rateLimitDB     string
	rateLimitMax    int
	rateLimitWindow time.Duration
)

func init() {
	rootCmd.AddCommand(rateLimitCmd)
	rateLimitCmd.AddCommand(rateLimitCheckCmd)
	rateLimitCheckCmd.Flags().StringVar(&rateLimitDB, "db", "", "Path to state database (default $TRUSTGATE_DB)")
	rateLimitCheckCmd.Flags().IntVar(&rateLimitMax, "max", 0, "Events allowed per window (required)")
	rateLimitCheckCmd.Flags().DurationVar(&rateLimitWindow, "window", time.Minute, "Window length")
	rateLimitCheckCmd.MarkFlagRequired("max")
}

var rateLimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Sliding-window rate limiter operations",
}

var rateLimitCheckCmd = &cobra.Command{
	Use:   "check <key>",
	Short: "Check and record one event for a key",
	Long:  "Counts the key's events inside the window and records this one if the\ncount is below --max. Exits 1 when the limit is exceeded.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRateLimitCheck,
}

func runRateLimitCheck(cmd *cobra.Command, args []string) error {
	spec := &ratelimit.Spec{MaxCount: rateLimitMax, WindowMs: rateLimitWindow.Milliseconds()}
	if !spec.HasLimit() {
		return fmt.Errorf("--max and --window must be positive")
	}

	st, err := openStore(rateLimitDB)
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := st.CheckRateLimit(context.Background(), args[0], spec.MaxCount, spec.Window(), time.Now())
	if err != nil {
		return err
	}
	if err := printJSON(res); err != nil {
		return err
	}
	if !res.Allowed {
		return fmt.Errorf("%s", res.Reason(args[0], spec.MaxCount, spec.Window()))
	}
	return nil
}
