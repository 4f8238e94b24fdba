// Package hub serves the agentfloor HTTP API: relay poll and respond, the
// streaming chat endpoint, health and metrics.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentfloor/agentfloor/internal/chat"
	"github.com/agentfloor/agentfloor/internal/dispatch"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// shutdownTimeout bounds graceful shutdown once the context is cancelled.
const shutdownTimeout = 10 * time.Second

// StartOpts holds configuration for the hub server.
type StartOpts struct {
	Dispatch *dispatch.Service
	Chat     *chat.Orchestrator
	Port     int
	Logger   zerolog.Logger
	Out      io.Writer
}

// Start launches the hub HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Dispatch == nil {
		return fmt.Errorf("hub: dispatch service is required")
	}
	if opts.Chat == nil {
		return fmt.Errorf("hub: chat orchestrator is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           NewRouter(RouterOpts{Dispatch: opts.Dispatch, Chat: opts.Chat, Logger: opts.Logger}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Hub listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("hub: %w", err)
	}
	return nil
}

// RouterOpts holds the services the router dispatches to.
type RouterOpts struct {
	Dispatch *dispatch.Service
	Chat     *chat.Orchestrator
	Logger   zerolog.Logger
}

// NewRouter builds the gin engine with middleware and routes.
func NewRouter(opts RouterOpts) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(opts.Logger))
	router.Use(requestMetrics())
	registerRoutes(router, opts)
	return router
}
