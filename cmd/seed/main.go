package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"phonepos/backend/internal/cache"
	"phonepos/backend/internal/config"
	"phonepos/backend/internal/directory"
	"phonepos/backend/internal/docstore"
	"phonepos/backend/internal/docstore/memory"
	mongostore "phonepos/backend/internal/docstore/mongo"
	pgstore "phonepos/backend/internal/docstore/postgres"
	"phonepos/backend/internal/domain"
	"phonepos/backend/internal/logger"
	"phonepos/backend/internal/seed"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.Config{Env: cfg.AppEnv, Level: cfg.LogLevel, Out: os.Stderr})
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("store unavailable")
	}
	closers := []func() error{store.Close}

	entityCache := cache.EntityCache(cache.NoopEntityCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisEntityCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using noop cache")
		} else {
			entityCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info().Msg("cache: redis")
		}
	}

	switch err := seed.Demo(ctx, store, time.Now().UTC()); {
	case errors.Is(err, seed.ErrAlreadySeeded):
		log.Info().Msg("store already seeded, leaving data untouched")
	case err != nil:
		log.Fatal().Err(err).Msg("seed failed")
	}

	dir := directory.New(store, entityCache, cfg.EntityCacheTTL(), log)
	dir.Invalidate(ctx, domain.RoleCustomer, domain.RoleSupplier, domain.RoleMiddleman)
	for _, role := range []domain.Role{domain.RoleCustomer, domain.RoleSupplier, domain.RoleMiddleman} {
		entities, err := dir.List(ctx, role)
		if err != nil {
			log.Fatal().Err(err).Str("role", string(role)).Msg("list entities")
		}
		log.Info().Str("role", string(role)).Int("count", len(entities)).Msg("entities ready")
	}
	log.Info().Str("backend", cfg.StoreBackend).Int("phones", len(seed.DemoPhones)).Msg("seed complete")

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}
}

func openStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (docstore.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMongo:
		log.Info().Str("database", cfg.MongoDatabase).Msg("store: mongo")
		return mongostore.New(ctx, cfg.MongoURI, cfg.MongoDatabase,
			mongostore.WithLogger(log),
			mongostore.WithPollInterval(cfg.ListenPollInterval()),
		)
	case config.BackendPostgres:
		pg, err := pgstore.New(ctx, cfg.DatabaseURL,
			pgstore.WithLogger(log),
			pgstore.WithMaxAttempts(cfg.TxMaxAttempts),
			pgstore.WithPollInterval(cfg.ListenPollInterval()),
		)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		log.Info().Msg("store: postgres")
		return pg, nil
	default:
		log.Info().Msg("store: in-memory")
		return memory.New(memory.WithMaxAttempts(cfg.TxMaxAttempts)), nil
	}
}

func validateConfig(cfg config.Config) error {
	switch cfg.StoreBackend {
	case config.BackendMemory:
	case config.BackendMongo:
		if cfg.MongoURI == "" {
			return fmt.Errorf("MONGO_URI must be set when STORE_BACKEND=mongo")
		}
		if cfg.MongoDatabase == "" {
			return fmt.Errorf("MONGO_DATABASE must be set when STORE_BACKEND=mongo")
		}
	case config.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, mongo, postgres (got %q)", cfg.StoreBackend)
	}
	if cfg.OrderNumberPrefix == "" {
		return fmt.Errorf("ORDER_NUMBER_PREFIX must not be empty")
	}
	return nil
}
