package main

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hray3182/DoseLine/internal/backend"
	"github.com/hray3182/DoseLine/internal/config"
	"github.com/hray3182/DoseLine/internal/database"
	"github.com/hray3182/DoseLine/internal/dialogue"
	"github.com/hray3182/DoseLine/internal/lifecycle"
	"github.com/hray3182/DoseLine/internal/logging"
	"github.com/hray3182/DoseLine/internal/messages"
	"github.com/hray3182/DoseLine/internal/reminders"
	"github.com/hray3182/DoseLine/internal/session"
	"github.com/hray3182/DoseLine/internal/therapy"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	db    *database.DB
	redis *redis.Client
	store session.Store

	backend *backend.Client
	msg     *messages.Catalog
	syncer  *therapy.Syncer
	manager *lifecycle.Manager
	engine  *dialogue.Engine
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.DevMode)
	if err := cfg.Validate(); err != nil {
		return nil, logger, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logger, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	msg, err := messages.Italian(rand.Intn)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	a.msg = msg

	loc := cfg.Location()
	a.backend = backend.New(cfg.BackendBaseURL, cfg.HTTPTimeout)
	svc := reminders.New(cfg.ReminderAPIURL, cfg.ReminderAPIToken, cfg.HTTPTimeout)

	a.syncer = therapy.NewSyncer(a.backend, loc, logger)
	a.manager = lifecycle.NewManager(svc, a.backend, lifecycle.Options{
		Location:           loc,
		Locale:             cfg.Locale,
		ConfirmationOffset: cfg.ConfirmationOffset,
		Texts:              msg,
	}, logger)
	a.engine = dialogue.NewEngine(a.store, a.backend, a.syncer, a.manager, msg, dialogue.Options{
		Location: loc,
	}, logger)
	return a, nil
}

// openStore connects the configured session store, running migrations for
// the postgres one.
func (a *app) openStore(ctx context.Context) error {
	var opts []session.StoreOption
	opts = append(opts, session.WithTTL(a.cfg.SessionTTL))

	switch a.cfg.SessionStore {
	case session.StoreTypeRedis:
		ropts, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(ropts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.logger.Info().Msg("connected to redis")
		opts = append(opts, session.WithRedisClient(a.redis))
	case session.StoreTypePostgres:
		db, err := database.New(ctx, a.cfg.DatabaseURI)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.db = db
		a.logger.Info().Msg("connected to database")
		if _, err := db.Migrate(ctx, a.logger); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		opts = append(opts, session.WithDatabase(db))
	}

	store, err := session.NewStore(a.cfg.SessionStore, opts...)
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}
	a.store = store
	a.logger.Info().Str("store", string(a.cfg.SessionStore)).Msg("session store ready")
	return nil
}

func (a *app) Close() {
	switch {
	case a.store != nil:
		// The redis store owns its client.
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close session store")
		}
	case a.redis != nil:
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
