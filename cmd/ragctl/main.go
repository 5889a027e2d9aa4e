package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/medcontent/backend/internal/storage/sqlite"
	"github.com/medcontent/backend/pkg/config"
	"github.com/medcontent/backend/pkg/logger"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "Operate the medical content chat backend from the command line",
	Long: `ragctl runs the chat pipeline, reports token usage and cost, indexes articles
and manages the embedding cache using the same configuration as the API server.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug,info,warn,error)")
}

// loadConfig reads configuration and sends logs to stderr so stdout stays clean for answers.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Init(logLevel, "console", "stderr"); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// openStore opens the SQLite database named by cfg and makes sure its schema exists.
func openStore(ctx context.Context, cfg *config.Config) (*sqlite.Client, error) {
	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, err
	}
	if err := store.InitSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
