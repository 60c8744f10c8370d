// Package app wires the engine and its optional publishers from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/ruslano69/whbridge/internal/config"
	"github.com/ruslano69/whbridge/pkg/artifact"
	"github.com/ruslano69/whbridge/pkg/engine"
	"github.com/ruslano69/whbridge/pkg/events"
	"github.com/ruslano69/whbridge/pkg/resultlog"
)

// App holds the live engine and every handle that must be closed with it.
type App struct {
	Engine    *engine.Engine
	Store     artifact.Store
	ResultLog *resultlog.RedisPublisher // nil when disabled

	notifier *events.Notifier
	mini     *miniredis.Miniredis // dev mode only
	log      zerolog.Logger
}

// Setup builds the engine from cfg.
//   - dev=true: the result log runs against an in-process miniredis.
//   - dev=false: the result log uses resultlog.address when enabled.
func Setup(ctx context.Context, cfg *config.Config, log zerolog.Logger, dev bool) (*App, error) {
	a := &App{log: log}

	var store artifact.Store = artifact.LocalStore{}
	if cfg.S3.Enabled {
		s3, err := artifact.NewS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("app: s3 store: %w", err)
		}
		store = s3
	}
	a.Store = store

	e, err := engine.New(cfg.EngineOptions(log, store))
	if err != nil {
		return nil, fmt.Errorf("app: engine: %w", err)
	}
	a.Engine = e

	rl := cfg.ResultLog
	if dev {
		a.mini, err = miniredis.Run()
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("app: miniredis: %w", err)
		}
		rl.Enabled, rl.Address, rl.Password = true, a.mini.Addr(), ""
		log.Info().Str("redis", a.mini.Addr()).Msg("dev: in-process miniredis started")
	}
	if rl.Enabled {
		a.ResultLog = resultlog.NewRedisPublisher(rl, log.With().Str("component", "resultlog").Logger())
		if err := a.ResultLog.Ping(ctx); err != nil {
			// transfers still run; publication failures are logged per event
			log.Warn().Err(err).Str("redis", rl.Address).Msg("result log unreachable")
		}
		e.AddObserver(a.ResultLog)
	}

	pub, err := events.New(cfg.Events)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("app: events: %w", err)
	}
	if pub != nil {
		a.notifier = events.NewNotifier(pub, log.With().Str("component", "events").Str("broker", cfg.Events.Type).Logger())
		e.AddObserver(a.notifier)
	}
	return a, nil
}

// Close stops transfers, then closes the publishers.
func (a *App) Close(ctx context.Context) error {
	var errsList []error
	if a.Engine != nil {
		errsList = append(errsList, a.Engine.Close(ctx))
	}
	if a.notifier != nil {
		errsList = append(errsList, a.notifier.Close())
	}
	if a.ResultLog != nil {
		errsList = append(errsList, a.ResultLog.Close())
	}
	if a.mini != nil {
		a.mini.Close()
	}
	return errors.Join(errsList...)
}
