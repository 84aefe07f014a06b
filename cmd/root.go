// Package cmd defines the supacrawl CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/supacrawl/internal/config"
	"github.com/JakeFAU/supacrawl/internal/logging"
)

// app is the per-invocation state built once in PersistentPreRunE.
type app struct {
	cfg    config.Config
	logger *zap.Logger
}

type appKey struct{}

type configLoader func(path string) (config.Config, error)

func newRootCmd(loadConfig configLoader) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "supacrawl",
		Short: "Crawl pages, summarize them with an LLM and query the results.",
		Long: `supacrawl fetches web pages, stores an LLM-written title and summary per URL,
answers natural-language questions about the stored pages and produces
scheduled reports.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey{}, &app{cfg: cfg, logger: logger})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, err := appFrom(cmd.Context()); err == nil {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML or any format viper reads)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func appFrom(ctx context.Context) (*app, error) {
	rt, ok := ctx.Value(appKey{}).(*app)
	if !ok || rt == nil {
		return nil, errors.New("configuration not initialized")
	}
	return rt, nil
}

// Execute runs the root command with a context canceled on SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signalContext()
	defer stop()
	if err := newRootCmd(config.Load).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
