package tablerest

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/edgeflare/tablerest/pkg/catalog"
	"github.com/edgeflare/tablerest/pkg/metrics"
	"github.com/edgeflare/tablerest/pkg/rest"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Discovers the database schema once and serves every table at /{table},
with /help/{table} describing its columns and / listing all tables`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("listen", "l", "", "REST server listen address")
	f.String("base-url", "", "path prefix for API endpoints")
	f.Int("max-limit", 0, "maximum page size")
	f.Int("max-offset", 0, "maximum offset")
	f.Duration("statement-timeout", 0, "per-query timeout")
	f.String("metrics-addr", "", "metrics and health listen address")

	for key, flag := range map[string]string{
		"rest.listenAddr":       "listen",
		"rest.baseURL":          "base-url",
		"rest.maxLimit":         "max-limit",
		"rest.maxOffset":        "max-offset",
		"rest.statementTimeout": "statement-timeout",
		"metrics.addr":          "metrics-addr",
	} {
		v.BindPFlag(key, f.Lookup(flag))
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg.REST, logger)
	if err != nil {
		return err
	}
	defer b.close()

	cat := catalog.Load(ctx, b.discoverer, b.defaultSchema, logger)

	loader, err := newCache(ctx, cfg.REST.Cache, logger)
	if err != nil {
		return err
	}
	policy, err := newPolicy(ctx, cfg.REST.RateLimit)
	if err != nil {
		return err
	}

	server := rest.NewServer(cat, b.executor, rest.Options{
		Query:            cfg.REST.QueryOptions(),
		StatementTimeout: cfg.REST.StatementTimeout,
		BaseURL:          cfg.REST.BaseURL,
		MaxConnections:   cfg.REST.MaxConnections,
		Cache:            loader,
		RateLimit:        policy,
		Logger:           logger,
	})

	var wg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{
			Addr:   cfg.Metrics.Addr,
			Health: b.ping,
			Logger: logger,
		})
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe(cfg.REST.ListenAddr)
	}()

	select {
	case err := <-serveErr:
		stop()
		server.Close()
		wg.Wait()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = server.Shutdown(shutdownCtx)
	if serveErr := <-serveErr; !errors.Is(serveErr, http.ErrServerClosed) {
		err = errors.Join(err, serveErr)
	}
	wg.Wait()

	if err != nil {
		logger.Error("shutdown", zap.Error(err))
		return err
	}
	logger.Info("server gracefully stopped")
	return nil
}
