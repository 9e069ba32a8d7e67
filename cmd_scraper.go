package main

import (
	"time"

	"github.com/spf13/cobra"

	"ancer-engine/services"
)

var (
	importDryRun  bool
	importLimit   int
	importRescore bool
	importBudget  time.Duration
)

var scraperImportCmd = &cobra.Command{
	Use:   "scraper:import",
	Short: "Deduplicate pending scraped listings against the catalogue",
	Long: `Scores every pending scraped listing against canonical properties in the
same location. Clear duplicates are marked matched, clear misses imported,
and borderline listings keep their score for human review.`,
	Args: cobra.NoArgs,
	RunE: runScraperImport,
}

func init() {
	scraperImportCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Report decisions without writing")
	scraperImportCmd.Flags().IntVar(&importLimit, "limit", 0, "Maximum listings to examine (default from SCRAPER_IMPORT_LIMIT)")
	scraperImportCmd.Flags().BoolVar(&importRescore, "rescore", false, "Re-score listings already waiting for review")
	scraperImportCmd.Flags().DurationVar(&importBudget, "time-budget", 0, "Stop after this long (default from SWEEP_TIME_BUDGET)")
}

func runScraperImport(cmd *cobra.Command, args []string) error {
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

	report, err := scheduler.ImportScraped(ctx, services.ImportOptions{
		DryRun:     importDryRun,
		Limit:      importLimit,
		Rescore:    importRescore,
		TimeBudget: importBudget,
	})
	if report != nil {
		printer().Dedup(report)
	}
	return err
}
