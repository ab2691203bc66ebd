package tokens

import (
	"context"
	"fmt"

	"github.com/brizzai/fluo/internal/config"
	"github.com/brizzai/fluo/internal/logger"
	"github.com/go-redis/redis/v8"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// unconfigured is used when the selected backend lacks required settings.
// Every call fails with config.ErrMissing so routes can answer with a
// configuration error instead of the server refusing to start.
type unconfigured struct {
	reason string
}

func (u unconfigured) err() error {
	return fmt.Errorf("%w: %s", config.ErrMissing, u.reason)
}

func (u unconfigured) Write(context.Context, string, Input) (*Record, error) { return nil, u.err() }
func (u unconfigured) Read(context.Context, string) (*Record, error)         { return nil, u.err() }
func (u unconfigured) Delete(context.Context, string) error                  { return u.err() }

// New builds the backend selected by cfg.Backend. The returned close
// function releases its connections and is never nil.
func New(ctx context.Context, cfg config.TokensConfig) (Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), noop, nil

	case "dynamodb", "":
		if cfg.Table == "" {
			return unconfigured{reason: "tokens.table"}, noop, nil
		}
		client, err := NewDynamoClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return NewDynamoStore(client, cfg.Table), noop, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, unavailable("redis ping", err)
		}
		return NewRedisStore(client, cfg.RedisPrefix), client.Close, nil

	case "postgres", "sqlite":
		if cfg.DSN == "" {
			return unconfigured{reason: "tokens.dsn"}, noop, nil
		}
		store, err := OpenSQLStore(ctx, Dialect(cfg.Backend), cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}

	return nil, nil, fmt.Errorf("unsupported token backend %q", cfg.Backend)
}

// ProvideStore builds the configured Store and closes it when the app stops.
func ProvideStore(lc fx.Lifecycle, cfg *config.Config) (Store, error) {
	store, closeFn, err := New(context.Background(), cfg.Tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token store: %w", err)
	}

	if u, ok := store.(unconfigured); ok {
		logger.Warn("Token store is not configured, token routes will fail",
			zap.String("backend", cfg.Tokens.Backend),
			zap.String("missing", u.reason),
		)
	} else {
		logger.Info("Token store ready", zap.String("backend", cfg.Tokens.Backend))
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return closeFn()
		},
	})
	return store, nil
}

// Module provides the token store
var Module = fx.Module("tokens",
	fx.Provide(ProvideStore),
)
