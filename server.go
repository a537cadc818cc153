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

	"github.com/julienschmidt/httprouter"

	"mapbingo/server/internal/broadcast"
	"mapbingo/server/internal/config"
	"mapbingo/server/internal/httpapi"
	"mapbingo/server/internal/identity"
	"mapbingo/server/internal/logging"
	"mapbingo/server/internal/maps"
	"mapbingo/server/internal/match"
	"mapbingo/server/internal/registry"
	"mapbingo/server/internal/room"
	"mapbingo/server/internal/store"
	"mapbingo/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

// run wires the collaborators together and serves until the context or an
// interrupt ends the process.
func run(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	logging.ReplaceGlobals(logger)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	validator, err := identity.NewValidator(cfg.IdentitySecret, cfg.IdentityIssuer)
	if err != nil {
		return fmt.Errorf("MAPBINGO_IDENTITY_SECRET: %w", err)
	}

	rooms := registry.NewDirectory[room.Room]()
	matches := registry.NewDirectory[match.LiveMatch]()
	listing := broadcast.NewChannel(logger)

	var mapSource maps.Source
	if cfg.MapSourceURL != "" {
		mapSource = maps.NewHTTPSource(cfg.MapSourceURL, cfg.MapFetchTimeout, logger)
	} else {
		logger.Warn("no map source configured, matches cannot be started")
	}

	var recorder ws.Recorder
	if cfg.DatabaseURL != "" {
		pg, err := store.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		recorder = pg
	} else {
		logger.Warn("no database configured, match history is disabled")
	}

	var archiver ws.Archiver
	if cfg.ArchiveDir != "" {
		archive, err := store.NewArchive(cfg.ArchiveDir, nil)
		if err != nil {
			return err
		}
		archiver = archive
	}

	gateway := ws.NewGateway(ws.Options{
		Config:    cfg,
		Logger:    logger,
		Validator: validator,
		Rooms:     rooms,
		Matches:   matches,
		Listing:   listing,
		MapSource: mapSource,
		Recorder:  recorder,
		Archiver:  archiver,
	})

	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:     logger,
		Rooms:      rooms,
		Matches:    matches,
		AdminToken: cfg.AdminToken,
		Clients:    gateway.ClientCount,
		Limiter:    httpapi.NewSlidingWindowLimiter(time.Minute, 10, nil),
	})

	router := httprouter.New()
	handlers.Register(router)
	router.GET("/ws", gateway.Handler())

	server := &http.Server{
		Addr:              cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
			errCh <- server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
			return
		}
		errCh <- server.ListenAndServe()
	}()
	logger.Info("server listening",
		logging.String("addr", cfg.Address),
		logging.Bool("tls", cfg.TLSCertPath != ""))

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
