// Command fashionrec serves content-based fashion image recommendations and
// builds the feature corpus they are ranked against.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/brittybidari/FashionRecSys/internal/logging"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// cli carries state shared by every subcommand once flags are parsed.
type cli struct {
	envFile   string
	logLevel  string
	logFormat string

	cfg    Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &cli{}

	root := &cobra.Command{
		Use:   "fashionrec",
		Short: "Fashion image recommendation service",
		Long: `fashionrec recommends visually similar catalog images for an uploaded photo.

Configuration is read from FASHIONREC_* environment variables, optionally
loaded from a .env file. Flags override the environment.

Example usage:
  fashionrec serve                                   # Start the HTTP API
  fashionrec build-corpus --out features.parquet     # Embed the catalog
  fashionrec query shirt.jpg --top-n 3               # One-off recommendation`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "dotenv file to load (default ./.env when present)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: json or console")

	root.AddCommand(newServeCmd(a), newBuildCmd(a), newQueryCmd(a))
	return root
}

func (a *cli) init() error {
	cfg, err := LoadConfig(a.envFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.logFormat != "" {
		cfg.LogFormat = a.logFormat
	}
	if err := ValidateConfig(&cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Format: cfg.LogFormat,
		Level:  cfg.LogLevel,
		Output: os.Stderr,
	})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger.With().Str("version", version).Logger()
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
