package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/asad/accstore/internal/config"
	"github.com/asad/accstore/internal/core"
	"github.com/asad/accstore/internal/logging"
)

var (
	// Version is set at build time via ldflags.
	// Example: go build -ldflags "-X github.com/asad/accstore/internal/cli.Version=1.0.0"
	Version = "dev"
)

// session carries what the commands of one invocation share.
type session struct {
	configPath string
	app        *core.App
}

// open loads the configuration and builds the App. Commands call it from RunE
// so that `version` and `--help` never touch storage.
func (s *session) open(ctx context.Context) (*core.App, error) {
	if s.app != nil {
		return s.app, nil
	}

	cfg, err := config.Load(s.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if cfg.File() != "" {
		logger.Debug("loaded config file", logging.String("path", cfg.File()))
	}

	app, err := core.NewApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s.app = app
	return app, nil
}

func (s *session) close() error {
	if s.app == nil {
		return nil
	}
	err := s.app.Close()
	s.app = nil
	return err
}

// run adapts fn into a RunE that opens the App first and always closes it.
func (s *session) run(fn func(cmd *cobra.Command, args []string, app *core.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		app, err := s.open(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, s.close())
		}()
		return fn(cmd, args, app)
	}
}

// NewRootCmd builds the accstore command tree.
func NewRootCmd() *cobra.Command {
	s := &session{}

	rootCmd := &cobra.Command{
		Use:   "accstore",
		Short: "Local account store",
		Long: `accstore keeps an ordered list of accounts (login, password, type and labels)
in local storage on this machine.

State is stored as one JSON document under a storage key, in a file,
a SQLite database, or memory, depending on STORAGE_BACKEND.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&s.configPath, "config", "", "path to a YAML config file (default $ACCSTORE_CONFIG)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Long:  `Print the version number of accstore.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "accstore version %s\n", Version)
		},
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newAccountCmd(s))
	return rootCmd
}

// Execute is the entry point for the CLI. It should be called from main.go.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
