// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/ladder/internal/auth"
	"github.com/jason-s-yu/ladder/internal/cache"
	"github.com/jason-s-yu/ladder/internal/config"
	"github.com/jason-s-yu/ladder/internal/database"
	"github.com/jason-s-yu/ladder/internal/discord"
	"github.com/jason-s-yu/ladder/internal/engine"
	"github.com/jason-s-yu/ladder/internal/handlers"
	"github.com/jason-s-yu/ladder/internal/match"
	"github.com/jason-s-yu/ladder/internal/metrics"
	"github.com/jason-s-yu/ladder/internal/notify"
	"github.com/jason-s-yu/ladder/internal/queue"
	"github.com/jason-s-yu/ladder/internal/rating"
	"github.com/jason-s-yu/ladder/internal/store"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	if cfg.TokenPrivateKeyPath != "" {
		err = auth.InitFromPath(cfg.TokenPrivateKeyPath, cfg.TokenPublicKeyPath)
	} else {
		logger.Warn("no token keys configured, generating ephemeral keys")
		err = auth.Init()
	}
	if err != nil {
		logger.WithError(err).Fatal("failed to initialise token keys")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docs, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to open store")
	}
	defer docs.Close()

	qm, err := queue.NewManager(cfg.Queues, logger)
	if err != nil {
		logger.WithError(err).Fatal("invalid queue configuration")
	}

	var events engine.EventPublisher
	if cfg.EventsEnabled {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.WithError(err).Fatal("event queue unavailable")
		}
		defer rdb.Close()
		events = cache.NewPublisher(rdb, cfg.EventQueue)
	}

	catalog := notify.NewCatalog()
	hub := handlers.NewHub(catalog, logger)
	fanout := notify.Fanout{notify.LogNotifier{Logger: logger, Catalog: catalog}, hub}

	m := metrics.New()
	eng := engine.New(engine.Config{
		Repo:     store.NewRepository(docs, cfg.HistoryLimit),
		Queues:   qm,
		Rooms:    match.NewRoomGenerator(nil, 0),
		Notifier: &fanout,
		Events:   events,
		Metrics:  m,
		Logger:   logger,
		Options: engine.Options{
			Calculator:       rating.NewCalculator(rating.DefaultK, cfg.RatingScale),
			LadderK:          cfg.LadderK,
			InitialRating:    cfg.InitialRating,
			MinMatchDuration: cfg.MinMatchDuration,
			StartTimeout:     cfg.StartTimeout,
			ResultTimeout:    cfg.ResultTimeout,
			Admins:           cfg.AdminIDs,
		},
	})

	if cfg.DiscordToken != "" {
		bot, session, err := discord.Connect(cfg.DiscordToken, eng, catalog, cfg.DiscordChannels, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to discord")
		}
		defer session.Close()
		fanout = append(fanout, bot)
	}

	if err := eng.Recover(ctx); err != nil {
		logger.WithError(err).Fatal("failed to recover match state")
	}

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: handlers.NewRouter(&handlers.API{
			Engine:  eng,
			Hub:     hub,
			Metrics: m.Handler(),
			Logger:  logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("graceful shutdown failed")
		}
	}()

	logger.Infof("Running on %s", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("server exited")
	}
}

// openStore opens the configured document backend.
func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (store.Documents, error) {
	switch cfg.StoreBackend {
	case "redis":
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return store.NewRedis(rdb, ""), nil
	case "postgres":
		pool, err := database.Connect(ctx, database.DSNFromEnv(), 30*time.Second, logger)
		if err != nil {
			return nil, err
		}
		if err := database.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return store.NewPostgres(pool), nil
	case "sqlite":
		return store.OpenSQLite(cfg.SQLitePath)
	default:
		return store.NewMemory(), nil
	}
}
