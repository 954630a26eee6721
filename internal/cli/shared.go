package cli

import (
	"log/slog"
	"os"

	"github.com/pvt-x/pvtx/internal/config"
	"github.com/spf13/cobra"
)

// loadConfig resolves --config if given, otherwise falls back to
// ./pvtx.json if present, otherwise the documented defaults
// (config.GenerateDefault) — a missing file is not an error, unlike an
// explicitly-named one that fails to load.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	if path != "" {
		return config.LoadFromFile(path)
	}
	if _, err := os.Stat("pvtx.json"); err == nil {
		return config.LoadFromFile("pvtx.json")
	}
	return config.GenerateDefault(), nil
}

// newLogger builds the shared slog.Logger every engine component is
// constructed with, honoring the config's logging.level.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
