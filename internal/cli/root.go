package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/audiomesh/chainmirror/internal/control"
	"github.com/audiomesh/chainmirror/internal/core/config"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "chainmirror",
	Short: "Chainmirror indexing service",
	Long:  `Chainmirror mirrors contract state from an EVM chain into a relational database, surviving reorgs.`,
	Run:   runMirror,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

// initLogging installs the tint handler as the default slog logger.
func initLogging(level slog.Level) *slog.Logger {
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	}))
	slog.SetDefault(log)
	return log
}

// loadConfig loads .env then the YAML config. Used by every subcommand.
func loadConfig() (*config.AppConfig, error) {
	_ = godotenv.Load()
	return config.Load(cfgPath)
}

func runMirror(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		initLogging(slog.LevelInfo)
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}
	log := initLogging(slogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := control.NewMirror(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize mirror", "error", err)
		os.Exit(1)
	}

	log.Info("Mirror started", "config", cfgPath)
	runErr := app.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	app.Stop(shutdownCtx)

	if runErr != nil {
		log.Error("Mirror stopped with error", "error", runErr)
		os.Exit(1)
	}
	log.Info("Mirror stopped gracefully")
}
