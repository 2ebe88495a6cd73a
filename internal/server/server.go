// Package server provides HTTP server lifecycle management for Everkeep:
// middleware, the widget event hub, and graceful startup and shutdown.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/everkeep/everkeep/internal/config"
)

// Start wraps the route tree with rate limiting and security headers, binds
// the configured address, and serves until ctx is cancelled. It returns the
// actual listen address (useful with port 0 in tests) and a channel that
// closes once shutdown has finished.
func Start(ctx context.Context, cfg *config.Config, handler http.Handler) (string, <-chan struct{}, error) {
	rl := NewRateLimiter(cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst)
	wrapped := RateLimitMiddleware(handler, rl)
	wrapped = securityHeadersMiddleware(wrapped)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      wrapped,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("server: listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("ERROR: server: %v", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("ERROR: server: shutdown: %v", err)
		}
	}()

	return actualAddr, done, nil
}
