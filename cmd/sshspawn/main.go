package main

import (
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/sshspawn/internal/config"
)

type rootOptions struct {
	configPath string
	logLevel   string

	config *config.Config
	logger *slog.Logger
}

// prepare loads the config file (falling back to defaults) and builds the
// logger. Called from PersistentPreRunE so every subcommand sees the same
// resolved state.
func (r *rootOptions) prepare() error {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	r.config = cfg

	levelName := r.logLevel
	if levelName == "" {
		levelName = cfg.LogLevel
	}
	level := slog.LevelInfo
	switch l := strings.ToLower(strings.TrimSpace(levelName)); l {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		// Keep it user-friendly: warn and continue with info.
		log.Printf("unknown log level %q (expected debug|info|warn|error); defaulting to info", levelName)
	}
	r.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return nil
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "sshspawn",
		Short: "Launch and supervise remote user sessions over SSH",
	}
	defaultConfig := os.Getenv("SSHSPAWN_CONFIG")
	if defaultConfig == "" {
		defaultConfig = config.DefaultConfigPath()
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfig, "path to sshspawn config file (default $HOME/.sshspawn/config)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug|info|warn|error (overrides config)")
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return opts.prepare()
	}

	rootCmd.AddCommand(newStartCmd(opts))
	rootCmd.AddCommand(newStatusCmd(opts))
	rootCmd.AddCommand(newStopCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
