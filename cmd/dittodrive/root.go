package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/config"
	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/marmos91/dittodrive/pkg/server"
)

// skipConfig marks commands that run without loading a configuration.
const skipConfig = "skip-config"

var (
	flagConfig   string
	flagLogLevel string
	flagJSON     bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "dittodrive",
	Short: "DittoDrive - trash, purge and thumbnail lifecycle engine",
	Long: `DittoDrive manages the lifecycle of files stored in a versioned object
store: uploads, trash and restore, retention-based purge, media
deduplication, thumbnail generation and consistency repair.

Get started:
  dittodrive config init           Write a default configuration
  dittodrive serve                 Run the purge scheduler and thumbnail worker
  dittodrive trash list acme docs  List a space's trash`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, ok := cmd.Annotations[skipConfig]; ok {
			return nil
		}

		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if flagLogLevel != "" {
			cfg.Logging.Level = strings.ToUpper(flagLogLevel)
		}
		return logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file (default: $XDG_CONFIG_HOME/dittodrive/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override logging.level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output as JSON")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// openRuntime opens the configured backends. Callers must Close it.
func openRuntime(ctx context.Context) (*server.Runtime, error) {
	rt, err := server.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening stores: %w", err)
	}
	return rt, nil
}

// parseSpace builds a space from CLI arguments.
func parseSpace(tenant, space string) (metadata.Space, error) {
	s := metadata.Space{TenantID: tenant, SpaceID: space}
	if err := s.Validate(); err != nil {
		return metadata.Space{}, err
	}
	return s, nil
}

// parseSpaceRef parses "<tenant>/<space>".
func parseSpaceRef(ref string) (metadata.Space, error) {
	tenant, space, ok := strings.Cut(ref, "/")
	if !ok {
		return metadata.Space{}, fmt.Errorf("space %q must be <tenant>/<space>", ref)
	}
	return parseSpace(tenant, space)
}
