// Package cmd defines the CLI commands for the tieredcrawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tiered-crawler/internal/api"
	"github.com/JakeFAU/tiered-crawler/internal/app"
	"github.com/JakeFAU/tiered-crawler/internal/config"
	"github.com/JakeFAU/tiered-crawler/internal/logging"
	"github.com/JakeFAU/tiered-crawler/internal/worker"
)

// App is the service surface the commands use. Tests inject a fake.
type App interface {
	Close()
	Logger() *zap.Logger
	Fetcher() api.Fetcher
	Pool() *worker.Pool
	Server() *api.Server
}

// appFactory builds the App once config and logger are ready.
type appFactory func(cfg config.Config, logger *zap.Logger) (App, error)

func defaultFactory(cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build app: %w", err)
	}
	return a, nil
}

type appKeyType struct{}

type runtimeState struct {
	app App
	cfg config.Config
}

func newRootCmd(factory appFactory) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "tieredcrawler",
		Short: "Fetch pages through a structured API, plain HTTP, or a headless browser.",
		Long: `tieredcrawler fetches a URL with the cheapest strategy that yields content:
a wiki's structured parse API when the domain has a route, plain HTTP with
readability extraction otherwise, and headless browser rendering as the last
resort. Every result is normalized to the same markdown dialect.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			instance, err := factory(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKeyType{}, &runtimeState{app: instance, cfg: cfg}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if state, err := resolveState(cmd.Context()); err == nil {
				state.app.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); CRAWLER_* env vars override it")

	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func resolveState(ctx context.Context) (*runtimeState, error) {
	if ctx == nil {
		return nil, errors.New("application context not initialized")
	}
	state, ok := ctx.Value(appKeyType{}).(*runtimeState)
	if !ok || state == nil || state.app == nil {
		return nil, errors.New("application not initialized")
	}
	return state, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(defaultFactory).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
