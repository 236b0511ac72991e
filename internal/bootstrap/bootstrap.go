// Package bootstrap assembles the service from configuration: storage
// backends, the rate guard, the mail sender and the HTTP router.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/zamapoll/backend/config"
	"github.com/zamapoll/backend/internal/mailer"
	"github.com/zamapoll/backend/internal/polls"
	"github.com/zamapoll/backend/internal/ratelimit"
	"github.com/zamapoll/backend/internal/token"
	"github.com/zamapoll/backend/internal/voting"
	"github.com/zamapoll/backend/pkg/database"
	"github.com/zamapoll/backend/pkg/redis"
)

// Backends are the opened storage handles for the configured driver.
type Backends struct {
	Polls   polls.Repository
	Counter ratelimit.Counter
	Ping    func(ctx context.Context) error

	closers []func()
}

// Close releases every handle in reverse order of opening.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// OpenBackends connects to the configured database and applies migrations.
func OpenBackends(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Backends, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.URL, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return postgresBackends(pool), nil
	case config.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return sqliteBackends(db), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func postgresBackends(pool *pgxpool.Pool) *Backends {
	return &Backends{
		Polls:   polls.NewPostgresRepository(pool),
		Counter: ratelimit.NewPostgresCounter(pool),
		Ping:    pool.Ping,
		closers: []func(){pool.Close},
	}
}

func sqliteBackends(db *sql.DB) *Backends {
	return &Backends{
		Polls:   polls.NewSQLiteRepository(db),
		Counter: ratelimit.NewSQLiteCounter(db),
		Ping:    db.PingContext,
		closers: []func(){func() { _ = db.Close() }},
	}
}

// App is the assembled service.
type App struct {
	Config   *config.Config
	Backends *Backends
	Store    *polls.Store
	Guard    ratelimit.Guard
	// TableGuard is set when rate limits live in the database and need pruning.
	TableGuard *ratelimit.TableGuard
	Workflow   *voting.Workflow
}

// Close releases the app's connections.
func (a *App) Close() {
	a.Backends.Close()
}

// New wires the application from cfg.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	backends, err := OpenBackends(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	app, err := assemble(ctx, cfg, backends, logger)
	if err != nil {
		backends.Close()
		return nil, err
	}
	return app, nil
}

func assemble(ctx context.Context, cfg *config.Config, backends *Backends, logger *zap.Logger) (*App, error) {
	store := polls.NewStore(backends.Polls, polls.Settings{
		Lifetime: cfg.Poll.Lifetime,
		MaxVotes: cfg.Poll.MaxVotes,
	}, logger.Named("polls"))

	app := &App{Config: cfg, Backends: backends, Store: store}
	if err := app.buildGuard(ctx, logger); err != nil {
		return nil, err
	}

	codec, err := token.NewCodec(cfg.App.SecretKey)
	if err != nil {
		return nil, err
	}
	sender, err := mailer.New(cfg.Email, logger.Named("mailer"))
	if err != nil {
		return nil, err
	}

	app.Workflow = voting.NewWorkflow(store, codec, sender, app.Guard, voting.Settings{
		AppName:  cfg.App.Name,
		BaseURL:  cfg.App.BaseURL,
		TokenTTL: cfg.App.ConfirmTokenTTL,
	}, logger.Named("voting"))
	return app, nil
}

func (a *App) buildGuard(ctx context.Context, logger *zap.Logger) error {
	policy := ratelimit.Policy{MaxAttempts: a.Config.RateLimit.MaxAttempts, Window: a.Config.RateLimit.Window}

	if a.Config.RateLimit.Backend == config.RateLimitRedis {
		rdb, err := redis.NewClient(ctx, a.Config.Redis.Addr, a.Config.Redis.Password, a.Config.Redis.DB, logger)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.Backends.closers = append(a.Backends.closers, func() { _ = rdb.Close() })
		a.Guard = ratelimit.NewRedisGuard(rdb.Client, policy)
		return nil
	}

	a.TableGuard = ratelimit.NewTableGuard(a.Backends.Counter, policy, time.Now)
	a.Guard = a.TableGuard
	return nil
}
