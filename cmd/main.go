package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"award_spider/internal/app"
	"award_spider/internal/config"
	"award_spider/internal/db"
	"award_spider/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "award_spider",
	Short:         "Scrape public procurement award notices into per-nature JSON stores",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

// env bundles what every scraping command needs.
type env struct {
	cfg *config.SpiderConfig
	log *zap.Logger
	app *app.SpiderApp
}

func setup(withSink bool) (*env, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(debug || cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	var sink db.Sink
	if withSink {
		sink, err = db.Open(cfg.DB, log.Named("db"))
		if err != nil {
			// the JSON stores do not depend on the mirror
			log.Warn("mirror sinks disabled", zap.Error(err))
			sink = nil
		}
	}
	return &env{cfg: cfg, log: log, app: app.NewSpiderApp(cfg, sink, log)}, nil
}

func (e *env) close() {
	if err := e.app.Close(); err != nil {
		e.log.Warn("closing sinks", zap.Error(err))
	}
	_ = e.log.Sync()
}

func logStats(log *zap.Logger, stats app.RunStats) {
	log.Info("run complete",
		zap.Int("facets", stats.Facets),
		zap.Int("pages", stats.Pages),
		zap.Int("records", stats.Records),
		zap.Int("awarded", stats.Awarded),
		zap.Int("infructuous", stats.Infructuous),
		zap.Int("failed_cards", stats.FailedCards),
		zap.Int("new_entries", stats.NewEntries),
		zap.Int("skipped", stats.Skipped),
		zap.Int("sink_errors", stats.SinkErrors))
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
