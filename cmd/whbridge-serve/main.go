// whbridge-serve exposes the warehouse <-> CSV transfer engine over HTTP.
//
// Usage:
//
//	whbridge-serve [--dev] [--config path] [--addr :8080]
//
// Flags:
//
//	--dev      In-process miniredis for the result log (no external deps)
//	--config   Path to whbridge.yaml (empty: defaults)
//	--addr     Override server.addr from config
//	--connect  Open a session with the configured warehouse profile at startup
//
// Environment:
//
//	WHBRIDGE_WAREHOUSE_PASSWORD, WHBRIDGE_WAREHOUSE_TOKEN, WHBRIDGE_ADDR
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ruslano69/whbridge/internal/api"
	"github.com/ruslano69/whbridge/internal/app"
	"github.com/ruslano69/whbridge/internal/config"
)

func main() {
	dev := flag.Bool("dev", false, "dev mode: in-process miniredis result log")
	configPath := flag.String("config", "", "path to config file")
	addrOverride := flag.String("addr", "", "listen address override (e.g. :8080)")
	connect := flag.Bool("connect", false, "connect to the configured warehouse at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("config load failed")
	}
	if *addrOverride != "" {
		cfg.Server.Addr = *addrOverride
	}
	log.Logger = cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Setup(ctx, cfg, log.Logger, *dev)
	if err != nil {
		log.Fatal().Err(err).Msg("setup failed")
	}

	if *connect {
		if _, err := a.Engine.Connect(ctx, cfg.Warehouse); err != nil {
			// the UI can still connect later
			log.Error().Err(err).Str("host", cfg.Warehouse.Host).Msg("startup connect failed")
		}
	}

	opts := api.Options{
		Engine:    a.Engine,
		Store:     a.Store,
		UploadDir: cfg.Server.UploadDir,
		MaxUpload: cfg.Server.MaxUpload,
		Logger:    log.Logger,
	}
	if a.ResultLog != nil {
		opts.Lookup = a.ResultLog
	}
	server, err := api.New(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("api setup failed")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Bool("dev", *dev).
			Str("config", *configPath).
			Msg("whbridge started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error")
	}
	if err := a.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("engine shutdown error")
	}
	if err := server.Close(); err != nil {
		log.Warn().Err(err).Msg("upload cleanup failed")
	}
	log.Info().Msg("stopped")
}
