package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"classcast/internal/app"
	"classcast/internal/config"
)

// configEnvVar names the config file when --config is not given
const configEnvVar = "CLASSCAST_CONFIG_FILE"

// FUNCTIONAL DISCOVERY: Main entry point with signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "classcast",
		Short:         "Live classroom transcript broadcast and translation",
		Long:          "Serves live classroom sessions: teachers publish transcript segments, students receive them in order with per-language translations.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (json, yaml or toml); defaults to $"+configEnvVar)
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newMigrateCmd(opts))

	return rootCmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and push channel server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations to the configured store and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, rollbarLogger, err := app.NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			if rollbarLogger != nil {
				defer rollbarLogger.Flush()
			}

			ctx, cancel := context.WithTimeout(contextOrBackground(cmd.Context()), cfg.Database.Timeout)
			defer cancel()
			store, err := app.OpenStore(ctx, cfg.Database, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", cfg.Database.Driver)
			return store.Close()
		},
	}
}

// loadConfig resolves configuration with precedence: file > environment > defaults
func loadConfig(opts *rootOptions) (*config.Config, error) {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return nil, err
	}
	path := opts.configPath
	if path == "" {
		path = os.Getenv(configEnvVar)
	}
	cfg := config.LoadConfigWithPrecedence(path)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
// Signal handling ensures graceful shutdown in production environments
func runServe(parent context.Context, opts *rootOptions) error {
	// STEP 1: Load configuration with precedence (file > env > defaults)
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	// STEP 2: Create application with configuration
	application, err := app.NewApplication(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to create application")
	}

	// STEP 3: Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(contextOrBackground(parent))
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	// STEP 4: Start application
	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return errors.Wrap(err, "application error")
	}

	// STEP 5: Wait for shutdown signal or cancellation
	select {
	case sig := <-signalCh:
		log.Printf("Received signal %v, shutting down gracefully", sig)
	case <-ctx.Done():
	}

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := application.Stop(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown error")
	}
	return nil
}
