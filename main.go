package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ancer-engine/config"
	"ancer-engine/services"
	"ancer-engine/storage"
	"ancer-engine/utils"
)

var (
	verbose bool
	noColor bool

	logger *utils.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ancer",
	Short: "Valuation and listing dedup engine for the property catalogue",
	Long: `ancer keeps property estimates fresh, imports scraped listings without
duplicating the canonical catalogue, and ingests external market prices.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = utils.NewLogger(verbose)
		cfg = config.Load()
		if err := cfg.Validate(); err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable coloured report output")

	rootCmd.AddCommand(refreshValuationsCmd)
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(scraperImportCmd)
	rootCmd.AddCommand(collectPricesCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT/SIGTERM so sweeps stop between rows.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openStore connects to PostgreSQL with the configured retry policy.
func openStore(ctx context.Context) (*storage.PostgresStore, error) {
	store, err := storage.NewPostgresStore(ctx, cfg.DSN(), &utils.RetryConfig{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   2 * time.Second,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL: %v", err)
		return nil, err
	}
	return store, nil
}

func loadTypes() (*services.TypeMapper, error) {
	dict, err := config.LoadTypeDictionary(cfg.TypeDictionaryPath)
	if err != nil {
		return nil, fmt.Errorf("load property type dictionary: %w", err)
	}
	return services.NewTypeMapper(dict), nil
}

func newScheduler(store storage.ReferenceStore) (*services.Scheduler, error) {
	types, err := loadTypes()
	if err != nil {
		return nil, err
	}
	return services.NewScheduler(store, types, cfg, utils.SystemClock{}, logger), nil
}

func printer() *services.Printer {
	return services.NewPrinter(os.Stdout, !noColor)
}
