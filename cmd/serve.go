package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/supacrawl/internal/api"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with a long-lived crawl worker pool",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := appFrom(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger := rt.logger

	var c cleanup
	defer c.run()

	st, err := openStores(ctx, rt.cfg.DB)
	if err != nil {
		return err
	}
	c.add(st.pages.Close)

	gen, err := newGenerator(ctx, rt.cfg, false, logger)
	if err != nil {
		return err
	}
	p, err := newPipeline(ctx, rt.cfg, st.pages, gen, logger, &c)
	if err != nil {
		return err
	}
	r, err := newRouter(rt.cfg, st.pages, gen, logger)
	if err != nil {
		return err
	}

	server := api.NewServer(api.Deps{
		Jobs:      p.jobs,
		Submitter: p.dispatcher,
		Query:     r,
		Store:     st.pages,
	}, rt.cfg, logger)

	port := rt.cfg.Server.Port
	if envPort := os.Getenv("PORT"); envPort != "" {
		if parsed, perr := strconv.Atoi(envPort); perr == nil {
			port = parsed
		}
	}
	httpServer := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		p.dispatcher.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	p.queue.Close()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		logger.Warn("workers did not stop before shutdown timeout")
	}
	return nil
}
