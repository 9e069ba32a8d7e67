package main

import (
	"github.com/spf13/cobra"

	"ancer-engine/services"
	"ancer-engine/storage"
	"ancer-engine/utils"
)

var (
	priceSource string
	priceDir    string
)

var collectPricesCmd = &cobra.Command{
	Use:   "prices:collect-external",
	Short: "Ingest external market price files",
	Long: `Reads every CSV in the price import directory and stores each valid row
as market data. Rows already stored are skipped, so re-running is safe.`,
	Args: cobra.NoArgs,
	RunE: runCollectPrices,
}

var migrateCmd = &cobra.Command{
	Use:   "db:migrate",
	Short: "Create the engine's tables when missing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("Schema is up to date")
		return nil
	},
}

func init() {
	collectPricesCmd.Flags().StringVar(&priceSource, "source", services.SourceCSV, "Price source to collect (csv|all)")
	collectPricesCmd.Flags().StringVar(&priceDir, "dir", "", "Import directory (default from PRICE_IMPORT_DIR)")
}

func runCollectPrices(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	types, err := loadTypes()
	if err != nil {
		return err
	}

	dir := cfg.PriceImportDir
	if priceDir != "" {
		dir = priceDir
	}
	aggregator := services.NewPriceAggregator(store, storage.NewPriceCSVReader(dir), types, utils.SystemClock{}, logger)

	report, err := aggregator.Collect(ctx, priceSource)
	if report != nil {
		printer().Ingest(report)
	}
	return err
}
