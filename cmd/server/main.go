package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"family-shopping/backend/internal/auth"
	"family-shopping/backend/internal/config"
	"family-shopping/backend/internal/database"
	"family-shopping/backend/internal/families"
	"family-shopping/backend/internal/handlers"
	"family-shopping/backend/internal/logger"
	"family-shopping/backend/internal/metrics"
	"family-shopping/backend/internal/realtime"
	"family-shopping/backend/internal/shopping"
	"family-shopping/backend/internal/websocket"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	// Amounts go over the wire as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.WithError(err).Warn("failed to close store")
		}
	}()
	log.WithField("driver", cfg.Store.Driver).Info("store connected")

	var m *metrics.Metrics
	extra := map[string]http.Handler{}
	if cfg.Metrics.Enabled {
		m = metrics.New()
		extra["GET "+cfg.Metrics.Path] = promhttp.Handler()
	}

	var google auth.GoogleVerifier
	if cfg.Auth.GoogleClientID != "" {
		google = auth.NewGoogleVerifier(cfg.Auth.GoogleClientID)
	}

	shop := shopping.NewService(store, log, m)
	fam := families.NewService(store, google, log)
	hub := websocket.NewHub(realtime.NewProjector(store, log, m), log, m)
	if cfg.Server.AllowedOrigin != "" {
		hub.AllowOrigin(cfg.Server.AllowedOrigin)
	}
	go hub.Run(ctx)

	server := handlers.NewServer(store, shop, fam, auth.NewTokens(cfg.Auth.JWTSecret.Value(), cfg.Auth.TokenTTL), hub, log)
	server.SecureCookies = cfg.Server.AllowedOrigin != ""

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server.Routes(cfg.Server.AllowedOrigin, extra),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config) (database.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMongo:
		return database.NewMongo(ctx, cfg.Mongo.URI.Value(), cfg.Mongo.Database)
	case config.DriverFirestore:
		return database.NewFirestore(ctx, cfg.Firestore.ProjectID, cfg.Firestore.CredentialsFile)
	case config.DriverMemory:
		return database.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
