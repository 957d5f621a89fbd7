package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/developer-mesh/docs-expert/internal/config"
	"github.com/developer-mesh/docs-expert/internal/models"
	"github.com/developer-mesh/docs-expert/pkg/observability"
)

// Open builds the Store selected by cfg.Driver. The postgres driver connects
// with bounded exponential backoff.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger observability.Logger) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres", "":
		db, err := Connect(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return NewPgStore(db, cfg, logger), nil
	default:
		return nil, models.InitializationError("open", fmt.Errorf("unknown store driver %q", cfg.Driver))
	}
}

// Connect opens and pings a lib/pq pool, retrying the ping up to
// cfg.ConnectRetries times
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger observability.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, models.InitializationError("connect", fmt.Errorf("failed to open database: %w", err))
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	retries := cfg.ConnectRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("Database not reachable, retrying", map[string]interface{}{
			"attempt": attempt,
			"wait":    wait.String(),
			"error":   err.Error(),
		})
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		_ = db.Close()
		return nil, models.InitializationError("connect", fmt.Errorf("failed to connect to database after %d attempts: %w", attempt, err))
	}

	logger.Info("Connected to database", map[string]interface{}{
		"attempts":  attempt,
		"max_conns": cfg.MaxConns,
	})
	return db, nil
}
