// Command rolebridge serves the NationStates to Discord role-connection
// linking pages.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/nsconnect/rolebridge/config"
	"github.com/nsconnect/rolebridge/discord"
	"github.com/nsconnect/rolebridge/link"
	"github.com/nsconnect/rolebridge/linkstore"
	"github.com/nsconnect/rolebridge/metrics"
	"github.com/nsconnect/rolebridge/middleware"
	"github.com/nsconnect/rolebridge/nationstates"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("rolebridge stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout}
	ns := nationstates.NewClient(cfg.NationStatesUserAgent, cfg.NationStatesSecret,
		nationstates.WithHTTPClient(httpClient),
		nationstates.WithLogger(logger),
	)
	dc := discord.NewClient(discord.Config{
		ClientID:     cfg.DiscordClientID,
		ClientSecret: cfg.DiscordClientSecret,
		RedirectURL:  cfg.DiscordRedirectURI,
		BotToken:     cfg.DiscordToken,
	}, discord.WithHTTPClient(httpClient))

	if cfg.RegisterMetadata {
		if err := dc.RegisterMetadata(ctx, link.MetadataSchema); err != nil {
			return fmt.Errorf("register role connection metadata: %w", err)
		}
		logger.InfoContext(ctx, "registered role connection metadata", "records", len(link.MetadataSchema))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	handler, err := newHandler(cfg, logger, reg, ns, dc)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	logger.InfoContext(ctx, "server started", "addr", ln.Addr().String())
	return serve(ctx, srv, ln, logger)
}

// newHandler mounts the linking pages and /metrics.
func newHandler(cfg config.Config, logger *slog.Logger, reg *prometheus.Registry, ns link.Verifier, dc link.Platform) (http.Handler, error) {
	codec, err := middleware.NewSecureCookieCodecFromSecrets(cfg.CookieSecrets()...)
	if err != nil {
		return nil, fmt.Errorf("cookie secret: %w", err)
	}

	m := metrics.New(reg)
	store := linkstore.New[link.PendingVerification]()
	m.TrackPending(store.Len)

	var headerOpts []middleware.SecurityHeadersOption
	if !cfg.CookieSecure {
		headerOpts = append(headerOpts, middleware.WithoutHSTS())
	}
	lh, err := link.NewHandler(ns, dc, codec,
		link.WithStore(store),
		link.WithLogger(logger),
		link.WithMetrics(m),
		link.WithProcessors(middleware.NewSecurityHeadersProcessor(headerOpts...)),
		link.WithCookieOptions(middleware.WithSecure(cfg.CookieSecure)),
	)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/", lh)
	return mux, nil
}

// serve runs srv on ln until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server gracefully")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
