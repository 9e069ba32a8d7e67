package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ancer-engine/services"
)

var (
	refreshForce  bool
	refreshLimit  int
	refreshBudget time.Duration

	estimateID   int64
	estimateJSON bool
)

var refreshValuationsCmd = &cobra.Command{
	Use:   "properties:refresh-valuations",
	Short: "Recompute estimates for approved properties",
	Long: `Walks every approved property in id order and recomputes its estimate
from comparable listings and external market data. Properties valued within
the cooldown window are skipped unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: runRefreshValuations,
}

var estimateCmd = &cobra.Command{
	Use:   "properties:estimate",
	Short: "Show the estimate for one property without saving it",
	Args:  cobra.NoArgs,
	RunE:  runEstimate,
}

func init() {
	refreshValuationsCmd.Flags().BoolVar(&refreshForce, "force", false, "Ignore the valuation cooldown")
	refreshValuationsCmd.Flags().IntVar(&refreshLimit, "limit", 0, "Maximum properties to examine (0 = all)")
	refreshValuationsCmd.Flags().DurationVar(&refreshBudget, "time-budget", 0, "Stop after this long (default from SWEEP_TIME_BUDGET)")

	estimateCmd.Flags().Int64Var(&estimateID, "id", 0, "Property id")
	estimateCmd.Flags().BoolVar(&estimateJSON, "json", false, "Print the estimate object as JSON")
	_ = estimateCmd.MarkFlagRequired("id")
}

func runRefreshValuations(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	scheduler, err := newScheduler(store)
	if err != nil {
		return err
	}

	report, err := scheduler.RefreshValuations(ctx, services.RefreshOptions{
		Force:      refreshForce,
		Limit:      refreshLimit,
		TimeBudget: refreshBudget,
	})
	if report != nil {
		printer().Valuation(report)
	}
	return err
}

func runEstimate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	scheduler, err := newScheduler(store)
	if err != nil {
		return err
	}

	p, err := store.GetProperty(ctx, estimateID)
	if err != nil {
		return err
	}
	appraisal, err := scheduler.Valuer().Appraise(ctx, p)
	if err != nil {
		return err
	}

	if !estimateJSON {
		printer().Appraisal(appraisal)
		return nil
	}
	if !appraisal.OK {
		return fmt.Errorf("property %d: no comparable evidence available", p.ID)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(appraisal.Valuation.ToAncerEstimate())
}
