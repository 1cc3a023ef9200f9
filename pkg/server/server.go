// Package server exposes the entity store over two surfaces on one listener:
// a REST API under /api and an MCP tool endpoint under /mcp. Both are thin
// adapters over the facade client; all semantics live below.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/kaizen-ai/kaizen/pkg/client"
	"github.com/kaizen-ai/kaizen/pkg/config"
	tracesync "github.com/kaizen-ai/kaizen/pkg/sync"
	"github.com/kaizen-ai/kaizen/pkg/tips"
)

const shutdownTimeout = 10 * time.Second

// Server runs the HTTP and MCP surfaces.
type Server struct {
	cfg    *config.Config
	client *client.Client
	worker *tracesync.Worker
}

// New wires a server over an initialized client.
func New(cfg *config.Config, c *client.Client) *Server {
	generator := tips.NewGenerator(c.Gateway(), &cfg.LLM)
	return &Server{
		cfg:    cfg,
		client: c,
		worker: tracesync.NewWorker(cfg, c, generator),
	}
}

// Run serves until the context is canceled or SIGINT/SIGTERM arrives, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.client.EnsureNamespace(ctx, s.cfg.NamespaceID); err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/api", s.apiRouter())
	r.Mount("/mcp", mcpserver.NewStreamableHTTPServer(s.mcpServer()))

	httpServer := &http.Server{
		Addr:    s.cfg.HTTPAddr,
		Handler: r,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", s.cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
