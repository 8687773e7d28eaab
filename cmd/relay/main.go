/*
Package main is the entry point for the chatsync relay server.

It loads configuration, initializes the global logging system, sets up the HTTP
server with the channel token API and the websocket topics, and shuts everything
down gracefully on SIGINT or SIGTERM.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatsync/internal/app/relay"
	"chatsync/internal/configs"
	"chatsync/internal/handler"
	"chatsync/internal/pkg/logx"
)

func main() {
	cfg, err := configs.LoadRelayConfig(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.Environment == configs.EnvDevelopment)
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Int("max_members", cfg.MaxMembers).
		Dur("inactivity_timeout", cfg.InactivityTimeout).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := relay.NewManager(relay.Options{
		MaxMembers:        cfg.MaxMembers,
		InactivityTimeout: cfg.InactivityTimeout,
		JWTSecret:         cfg.JWTSecret,
	})

	router := handler.Router(&handler.AppDeps{
		Manager: manager,
		Config:  cfg,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("chatsync relay starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	// Hijacked websocket connections are not tracked by the server; the
	// manager closes them.
	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	manager.Shutdown()

	logx.Info("Server gracefully stopped.")
}
