/*
Package bootstrap wires a ledger engine from configuration.

STARTUP SEQUENCE:
  1. Open the store (sqlite or mysql), retrying with exponential backoff
     until database.connect_timeout
  2. Connect Redis when enabled and use it for series locks; otherwise
     an in-process lock
  3. Create the Kafka producer when enabled; otherwise events go to the log
  4. Build the engine with the configured timezone, grace and recalc mode

Both cmd/server and cmd/ledgerctl start through New, so the CLI and the
server always run the same engine against the same store.
*/
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/warp/finance-ledger/config"
	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/lock"
	"github.com/warp/finance-ledger/logging"
	"github.com/warp/finance-ledger/notify"
	"github.com/warp/finance-ledger/store/gormstore"
	"github.com/warp/finance-ledger/store/sqlite"
)

// Store is what the server and CLI need from a backend.
type Store interface {
	ledger.AdminStore
	Ping(ctx context.Context) error
	Close() error
}

// App holds the wired dependencies.
type App struct {
	Config *config.Config
	Log    zerolog.Logger
	Store  Store
	Engine *ledger.Engine

	closers []io.Closer
}

// New opens every backend named in cfg and builds the engine.
// On error, whatever was opened is closed again.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	app := &App{Config: cfg, Log: log}
	if err := app.wire(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) wire(ctx context.Context) error {
	engineCfg, err := a.Config.Engine.Ledger()
	if err != nil {
		return err
	}

	store, err := openStore(ctx, a.Config, a.Log)
	if err != nil {
		return err
	}
	a.Store = store
	a.closers = append(a.closers, store)

	engine := ledger.NewEngine(store, logging.Component(a.Log, "engine"))
	engine.Config = engineCfg

	if engine.Locker, err = a.locker(ctx); err != nil {
		return err
	}
	if engine.Publisher, err = a.publisher(ctx); err != nil {
		return err
	}

	a.Engine = engine
	return nil
}

// Close releases every backend in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Store, error) {
	var store Store
	open := func() error {
		var err error
		switch cfg.Database.Driver {
		case "mysql":
			store, err = gormstore.OpenMySQL(cfg.Database.DSN, gormstore.Options{
				MaxOpenConns: cfg.Database.MaxOpenConns,
				MaxIdleConns: cfg.Database.MaxIdleConns,
			}, log)
		case "sqlite":
			store, err = sqlite.New(cfg.Database.Path)
		default:
			return backoff.Permanent(fmt.Errorf("unknown database driver %q", cfg.Database.Driver))
		}
		return err
	}

	err := retry(ctx, cfg.Database.ConnectTimeout, log, "database", open)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	log.Info().Str("driver", cfg.Database.Driver).Msg("store ready")
	return store, nil
}

func (a *App) locker(ctx context.Context) (ledger.Locker, error) {
	rc := a.Config.Redis
	if !rc.Enabled {
		return lock.NewLocal(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	a.closers = append(a.closers, client)

	err := retry(ctx, a.Config.Database.ConnectTimeout, a.Log, "redis", func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", rc.Addr, err)
	}
	a.Log.Info().Str("addr", rc.Addr).Msg("redis lock ready")

	return lock.NewRedisLocker(client, lock.RedisOptions{
		TTL:     rc.LockTTL,
		MaxWait: rc.LockWait,
		Prefix:  "finance-ledger:",
	}), nil
}

func (a *App) publisher(ctx context.Context) (ledger.Publisher, error) {
	kc := a.Config.Kafka
	if !kc.Enabled {
		return notify.LogPublisher{Log: logging.Component(a.Log, "events")}, nil
	}

	var pub *notify.KafkaPublisher
	err := retry(ctx, a.Config.Database.ConnectTimeout, a.Log, "kafka", func() error {
		producer, err := notify.NewKafkaProducer(kc.Brokers, kc.ClientID)
		if err != nil {
			return err
		}
		pub = notify.NewKafkaPublisher(producer, kc.Topic)
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pub)
	a.Log.Info().Strs("brokers", kc.Brokers).Str("topic", kc.Topic).Msg("kafka publisher ready")
	return pub, nil
}

// retry runs op with exponential backoff until it succeeds, returns a
// permanent error, or maxElapsed passes.
func retry(ctx context.Context, maxElapsed time.Duration, log zerolog.Logger, what string, op func() error) error {
	if maxElapsed <= 0 {
		return op()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = maxElapsed

	return backoff.RetryNotify(op, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("target", what).Dur("retry_in", wait).Msg("connection failed")
	})
}
