package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/swcache/internal/config"
	"github.com/Sternrassler/swcache/internal/telemetry"
	"github.com/Sternrassler/swcache/pkg/controller"
	"github.com/Sternrassler/swcache/pkg/logging"
	"github.com/Sternrassler/swcache/pkg/metrics"
	"github.com/Sternrassler/swcache/pkg/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

var (
	servePort     string
	serveUpstream string
	serveOrigin   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the caching proxy",
	Long: `Install and activate a controller for the configured policy, then
proxy every request through it.

Endpoints:
  /health   liveness
  /ready    storage connectivity
  /metrics  Prometheus metrics
  /*        the proxied site`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "Listen port (or set SWCACHE_PORT)")
	serveCmd.Flags().StringVar(&serveUpstream, "upstream", "", "Site to fetch from (or set SWCACHE_UPSTREAM)")
	serveCmd.Flags().StringVar(&serveOrigin, "origin", "", "Public URL of the site (or set SWCACHE_ORIGIN)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.NewLogger("swproxy")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn().Err(err).Msg("Tracing shutdown failed")
		}
	}()

	storage, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage()

	reg, err := register(ctx, cfg, storage, logger)
	if err != nil {
		return err
	}
	defer reg.Close()

	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return fmt.Errorf("parse origin: %w", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(newMux(storage, reg, origin, logger), "swproxy"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", srv.Addr).
			Str("origin", cfg.Origin).
			Str("upstream", cfg.Upstream).
			Msg("Starting swproxy")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}

// register builds the controller for the configured policy and makes it
// active. A failed install is logged and requests pass straight through.
func register(ctx context.Context, cfg config.Config, storage store.Storage, logger zerolog.Logger) (*controller.Registration, error) {
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}

	upstream, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream: %w", err)
	}
	network := controller.UpstreamTransport(upstream, otelhttp.NewTransport(http.DefaultTransport))

	ccfg := controller.DefaultConfig(storage, cfg.Origin)
	policy.Apply(&ccfg)
	ccfg.Network = network
	ccfg.WriteTimeout = cfg.WriteTimeout

	c, err := controller.New(ccfg)
	if err != nil {
		return nil, fmt.Errorf("create controller: %w", err)
	}

	reg := controller.NewRegistration(network)
	if err := reg.Register(ctx, c); err != nil {
		logger.Error().Err(err).Str("version", c.Version()).Msg("Controller not active, passing requests through")
	}
	return reg, nil
}

func newMux(storage store.Storage, rt http.RoundTripper, origin *url.URL, logger zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.Handle("GET /ready", readyHandler(storage))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("/", controller.NewHandler(rt, origin, logger))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func readyHandler(storage store.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p, ok := storage.(store.Pinger); ok {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			if err := p.Ping(ctx); err != nil {
				http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}
