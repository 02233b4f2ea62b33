package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lms-portal/core"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the course portal",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "listen port (overrides PORT)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Port = servePort
	}

	logger, logCloser, err := core.SetupLogging(cfg, "portal.log")
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logCloser.Close()
	defer logger.Sync() //nolint:errcheck
	setGinMode(cfg)

	routes, err := core.LoadRouteTable(cfg.RoutesFile)
	if err != nil {
		return err
	}
	backend := core.NewAPIClient(cfg, logger)

	var (
		store   sessions.Store
		counter core.SessionCounter
	)
	switch cfg.SessionBackend {
	case "cookie":
		store = sessions.NewCookieStore([]byte(cfg.SessionKey))
	case "redis":
		client, err := core.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		rs := core.NewRedisStore(client, []byte(cfg.SessionKey))
		store, counter = rs, rs
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q (want cookie or redis)", cfg.SessionBackend)
	}

	mgr := core.NewSessionManager(cfg, store, backend, logger)
	router, err := core.NewRouter(cfg, mgr, backend, routes, counter, logger)
	if err != nil {
		return err
	}

	logger.Info("starting portal",
		zap.String("addr", ":"+cfg.Port),
		zap.String("backend", cfg.BackendURL),
		zap.String("sessions", cfg.SessionBackend),
	)
	return serveHTTP(cmd.Context(), ":"+cfg.Port, router, logger)
}

func setGinMode(cfg core.Config) {
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
		return
	}
	gin.SetMode(gin.ReleaseMode)
}

// serveHTTP runs h until ctx is cancelled, then drains in-flight requests.
func serveHTTP(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.String("addr", addr))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
