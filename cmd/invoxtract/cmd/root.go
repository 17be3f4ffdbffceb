package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/invoxtract/internal/config"
	"github.com/MeKo-Tech/invoxtract/internal/models"
	"github.com/MeKo-Tech/invoxtract/internal/version"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Configuration file path.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "invoxtract",
	Short: "Extract structured fields from invoice images",
	Long: `invoxtract reads scanned or photographed invoices and extracts their
header fields, line items and totals.

Each page is normalized, searched for field regions, read by several OCR
engines in parallel, and the competing candidates are reconciled into one
result with an arithmetic check of subtotal, tax and total.

Examples:
  invoxtract extract invoice.jpg
  invoxtract extract scan.pdf --pages 1-2 --format yaml
  invoxtract engines
  invoxtract config init`,
	Version:      version.String(),
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/invoxtract, /etc/invoxtract)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	defaultModelsDir := models.DefaultModelsDir
	if envDir := os.Getenv(models.EnvModelsDir); envDir != "" {
		defaultModelsDir = envDir
	}
	rootCmd.PersistentFlags().String("models-dir", defaultModelsDir,
		"directory containing ONNX models (can also be set via "+models.EnvModelsDir+")")

	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")
	// Assigned here: the hook reaches bindFlags, which walks rootCmd.
	rootCmd.PersistentPreRunE = loadConfigAndLogging
}

func loadConfigAndLogging(cmd *cobra.Command, _ []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	setupLogging(cmd, cfg)
	return nil
}

// GetConfig loads the configuration from defaults, the config file,
// INVOXTRACT_ environment variables and bound CLI flags, and validates it.
func GetConfig() (*config.Config, error) {
	cfg, err := GetConfigLoader().LoadWithFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}
	return cfg, nil
}

// GetConfigLoader returns the global configuration loader, binding the
// CLI flags to their configuration keys on first use.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		bindFlags(viper.GetViper(), rootCmd)
		configLoader = config.NewLoader()
	}
	return configLoader
}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"verbose":      "verbose",
	"log-level":    "log_level",
	"models-dir":   "models_dir",
	"format":       "output.format",
	"output":       "output.file",
	"metrics-file": "output.metrics_file",
	"trace":        "output.include_trace",
	"engines":      "engines.enabled",
	"detections":   "detector.detections_file",
	"patterns":     "patterns.file",
}

// bindFlags maps the CLI flags of root and its subcommands onto
// configuration keys. Explicitly set flags take precedence over
// environment variables and the config file.
func bindFlags(v *viper.Viper, root *cobra.Command) {
	bind := func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			slog.Warn("Failed to bind flag", "flag", f.Name, "error", err)
		}
	}
	var walk func(c *cobra.Command)
	walk = func(c *cobra.Command) {
		c.PersistentFlags().VisitAll(bind)
		c.LocalNonPersistentFlags().VisitAll(bind)
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(root)
}

// setupLogging installs a JSON slog handler on stderr; stdout carries
// command output.
func setupLogging(cmd *cobra.Command, cfg *config.Config) {
	var logLevel slog.Level
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			logLevel = slog.LevelDebug
		case "warn":
			logLevel = slog.LevelWarn
		case "error":
			logLevel = slog.LevelError
		default:
			logLevel = slog.LevelInfo
		}
	}

	logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
}
