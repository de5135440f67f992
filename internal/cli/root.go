package cli

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/scrapeguard/internal/core/config"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "scrapeguard",
	Short: "Resilient scraping toolkit",
	Long: `scrapeguard fetches pages through an error classifier, retry with backoff,
and a per-domain circuit breaker, and reports every outcome as a uniform envelope.`,
	SilenceUsage: true,
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

// loadConfig reads .env and the config file and installs the logger. A
// missing config file at the default path falls back to defaults.
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || cmd.Flags().Changed("config") {
			stylelog.InitDefault()
			slog.Error("Failed to load config", "error", err)
			return nil, err
		}
		d := config.Default()
		cfg = &d
	}

	setupLogging(cfg.Logging, isDebug)
	return cfg, nil
}

// setupLogging installs the default logger: tint for text, slog JSON for json.
func setupLogging(lc config.LoggingConfig, debug bool) {
	level, _ := config.ParseLevel(lc.Level)
	if debug {
		level = slog.LevelDebug
	}

	if strings.EqualFold(lc.Format, "json") {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return
	}
	stylelog.InitDefault(&tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
}
