// usufruitd serves the community lending library HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eflynch/usufruit/internal/api"
	"github.com/eflynch/usufruit/internal/version"
	"github.com/eflynch/usufruit/pkg/audit"
	"github.com/eflynch/usufruit/pkg/authz"
	"github.com/eflynch/usufruit/pkg/core"
	"github.com/eflynch/usufruit/pkg/embed"
	"github.com/eflynch/usufruit/pkg/search"
	"github.com/eflynch/usufruit/pkg/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := LoadConfig(os.Args[1:], os.Getenv, os.Stderr)
	switch {
	case errors.Is(err, errShowVersion):
		fmt.Println(version.String())
		return
	case errors.Is(err, flag.ErrHelp):
		return
	case err != nil:
		fmt.Fprintf(os.Stderr, "usufruitd: %v\n", err)
		os.Exit(2)
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger, nil); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// app holds the wired components of a running server.
type app struct {
	store   *store.Store
	queue   *embed.Queue
	server  *api.Server
	closers []io.Closer
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

// build wires store, authorizer, search, embedding queue, audit emitters
// and the API server from cfg.
func build(cfg Config, logger *slog.Logger) (*app, error) {
	db, err := store.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a := &app{store: db, closers: []io.Closer{db}}

	authorizer, err := authz.NewAuthorizer(authz.Config{Logger: logger.With("component", "authz")})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	engine, err := search.NewEngine(db, search.Config{
		Semantic:      cfg.Semantic,
		Embedder:      newEmbedder(cfg),
		Threshold:     cfg.Threshold,
		CacheTTL:      cfg.CacheTTL,
		CacheBound:    cfg.CacheBound,
		BackfillBatch: cfg.BackfillBatch,
		MinEmbedded:   cfg.MinEmbedded,
		EmbedTimeout:  cfg.EmbedderTimeout,
		Logger:        logger.With("component", "search"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.queue = embed.NewQueue(engine, embed.QueueConfig{
		Workers:     cfg.QueueWorkers,
		Capacity:    cfg.QueueCapacity,
		MaxAttempts: cfg.QueueMaxAttempts,
		Logger:      logger.With("component", "embed-queue"),
	})

	emitters := []audit.EventEmitter{audit.NewStoreEmitter(db)}
	if cfg.Syslog {
		sl, err := audit.NewSyslogEmitter(audit.SyslogConfig{SocketPath: cfg.SyslogSocket})
		if err != nil {
			logger.Warn("syslog unavailable, audit events go to the database only", "socket", cfg.SyslogSocket, "error", err)
		} else {
			emitters = append(emitters, sl)
			a.closers = append(a.closers, sl)
		}
	}
	emitter := audit.NewMultiEmitter(logger.With("component", "audit"), emitters...)

	svc, err := core.New(core.Config{
		Store:      db,
		Authorizer: authorizer,
		Search:     engine,
		Queue:      a.queue,
		Emitter:    emitter,
		Logger:     logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.server = api.NewServer(svc, api.ServerConfig{
		Queue:   a.queue,
		Emitter: emitter,
		Logger:  logger.With("component", "api"),
	})
	return a, nil
}

func newEmbedder(cfg Config) embed.Embedder {
	if cfg.Embedder == "http" {
		return embed.NewHTTPEmbedder(embed.HTTPConfig{
			BaseURL:    cfg.EmbedderURL,
			Model:      cfg.EmbedderModel,
			APIKey:     cfg.EmbedderKey,
			Dimensions: cfg.EmbedderDims,
			Timeout:    cfg.EmbedderTimeout,
		})
	}
	return embed.NewHashEmbedder(cfg.EmbedderDims)
}

// run serves until ctx is cancelled, then drains in-flight requests. When
// ready is non-nil it receives the bound address once listening.
func run(ctx context.Context, cfg Config, logger *slog.Logger, ready chan<- string) error {
	logger.Info("usufruitd starting", "version", version.Version, "db", cfg.DB,
		"semantic", cfg.Semantic, "embedder", cfg.Embedder)

	a, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
	}

	httpServer := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.queue.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if ready != nil {
			ready <- ln.Addr().String()
		}
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
