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

	"reel-tracker/domain/model"
	"reel-tracker/domain/repository"
	"reel-tracker/infrastructure/cache"
	"reel-tracker/infrastructure/clients/instagram"
	"reel-tracker/infrastructure/configuration"
	"reel-tracker/infrastructure/logger"
	"reel-tracker/infrastructure/persistence"
	"reel-tracker/infrastructure/pubsub"
	"reel-tracker/infrastructure/realtime"
	"reel-tracker/infrastructure/servicebus"
	httpHandler "reel-tracker/interfaces/http"
	"reel-tracker/server"
	"reel-tracker/usecase"

	"golang.org/x/sync/errgroup"
)

var httpServer *http.Server

func recoverPanic() {
	if err := recover(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Application panic recovered")
	}
}

func main() {
	defer recoverPanic()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	g, ctx := errgroup.WithContext(ctx)

	// Load env from files (non-destructive; OS env still has precedence)
	if loaded := configuration.LoadEnvFromFile("config.env", ".env"); len(loaded) > 0 {
		logger.GetLogger().WithField("files", loaded).Info("Loaded environment files")
	}

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := mintToken(os.Stdout, configuration.C.App.SecretKey, os.Args[2:]); err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while minting token")
			cancel()
			os.Exit(1)
		}
		return
	}

	app := configuration.C.App
	tracker := configuration.C.Tracker

	persister, err := InitiatePersister(configuration.C.Storage.Vendor)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Persistence initialization failed - continuing in memory only")
		persister = nil
	}

	store := persistence.NewReelStore(tracker.HistoryLimit)
	if persister != nil {
		store = store.WithPersister(persister)
		n, err := store.Hydrate(ctx)
		if err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while hydrating reel store")
		}
		logger.GetLogger().WithField("reels", n).Info("Reel store hydrated")
	}

	var gate repository.IBackoffGate = cache.NewMemoryBackoffGate()
	if configuration.C.RedisClient.Host != "" {
		redisClient, err := cache.NewCache(
			ctx,
			fmt.Sprintf("%s:%s", configuration.C.RedisClient.Host, configuration.C.RedisClient.Port),
			configuration.C.RedisClient.Username,
			configuration.C.RedisClient.Password,
		)
		if err != nil {
			logger.GetLogger().WithField("error", err).Warn("Redis not available - using in-process backoff gate")
		} else {
			gate = cache.NewRedisBackoffGate(redisClient)
			logger.GetLogger().Info("Redis client initialized successfully.")
		}
	}

	var archive repository.ISessionArchive
	mongo := configuration.C.Database.Mongo
	if mongo.Host != "" {
		mongoDb, err := persistence.NewMongoDb(mongo.Host, mongo.Port, mongo.User, mongo.Password, mongo.Name)
		if err != nil {
			logger.GetLogger().WithField("error", err).Warn("MongoDB not available - continuing without session archive")
		} else if err := mongoDb.Ping(ctx, nil); err != nil {
			logger.GetLogger().WithField("error", err).Warn("MongoDB ping failed - continuing without session archive")
		} else {
			archive = persistence.NewSessionArchiveMongo(mongoDb, mongo.Name)
			logger.GetLogger().Info("MongoDB connected successfully")
		}
	}

	var publishers []repository.IReelEventPublisher
	if projectID := configuration.C.Pubsub.ProjectID; projectID != "" {
		pubSubClient, err := pubsub.NewPubSub(ctx, projectID)
		if err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while instantiate PubSub")
		} else {
			publishers = append(publishers, pubsub.NewReelEventPublisher(pubSubClient, configuration.C.Pubsub.Topic))
		}
	}
	if namespace := configuration.C.ServiceBus.Namespace; namespace != "" {
		azServiceBusClient, err := servicebus.NewServiceBus(ctx, namespace)
		if err != nil {
			logger.GetLogger().WithField("error", err).Warn("Azure Service Bus not available - continuing without Service Bus events")
		} else {
			publishers = append(publishers, servicebus.NewReelEventPublisher(azServiceBusClient, configuration.C.ServiceBus.Queue))
		}
	}

	fetcher := instagram.NewClient(instagram.Config{
		BaseURL: configuration.C.Instagram.BaseURL,
		APIKey:  configuration.C.Instagram.APIKey,
		APIHost: configuration.C.Instagram.APIHost,
		Timeout: configuration.C.Instagram.Timeout,
	})

	reelHub := realtime.NewReelHub()
	broadcastReel := func(reel *model.Reel) { reelHub.BroadcastReel(reel) }

	reelUsecase := usecase.NewReelUsecase(store, fetcher).WithBroadcaster(broadcastReel)
	statsUsecase := usecase.NewStatsUsecase(store, configuration.C.Payout.RatePerThousandViews)
	sessionUsecase := usecase.NewRefreshSessionUsecase(store, fetcher, persistence.NewRefreshSessionRepository(0), usecase.SessionConfig{
		BatchSize:        tracker.BatchSize,
		BatchDelay:       tracker.BatchDelay,
		RateLimitBackoff: tracker.RateLimitBackoff,
	}).
		WithBackoffGate(gate).
		WithPublishers(publishers...).
		WithBroadcaster(broadcastReel, func(s *model.RefreshSession) { reelHub.BroadcastSession(s) })
	if archive != nil {
		sessionUsecase = sessionUsecase.WithArchive(archive)
	}

	scheduler := usecase.NewRefreshScheduler(store, fetcher, usecase.SchedulerConfig{
		Interval:         tracker.RefreshInterval,
		SampleSize:       tracker.SampleSize,
		SampleDelay:      tracker.SampleDelay,
		RateLimitBackoff: tracker.RateLimitBackoff,
	}).
		WithBackoffGate(gate).
		WithBroadcaster(broadcastReel)
	if tracker.Enabled() {
		scheduler.Start(ctx)
		logger.GetLogger().WithField("interval", tracker.RefreshInterval.String()).Info("Refresh scheduler started")
	} else {
		logger.GetLogger().Info("Refresh scheduler disabled")
	}

	router := server.InitiateRouter(
		app.SecretKey,
		httpHandler.NewHealthHandler(),
		httpHandler.NewReelHandler(reelUsecase, statsUsecase, sessionUsecase),
		reelHub,
	)

	port := app.Port
	logger.GetLogger().WithFields(map[string]interface{}{"port": port, "tls": app.TLSEnabled}).Info("Starting application")
	g.Go(func() error {
		httpServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		if app.TLSEnabled {
			cert := app.TLSCertFile
			key := app.TLSKeyFile
			if cert == "" || key == "" {
				logger.GetLogger().Error("TLS enabled but cert or key path empty; falling back to HTTP")
				if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			} else {
				logger.GetLogger().WithFields(map[string]interface{}{"cert": cert, "key": key}).Info("Serving HTTPS")
				if err := httpServer.ListenAndServeTLS(cert, key); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			}
		} else {
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		}
		return nil
	})

	select {
	case <-interrupt:
		logger.GetLogger().Info("Application shutdown requested")
	case <-ctx.Done():
	}

	// A pass that is already running finishes before Stop returns.
	scheduler.Stop()
	sessionUsecase.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}
	cancel()

	if err := g.Wait(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Server returned an error")
		os.Exit(2)
	}
}

// InitiatePersister opens the write-through backend for vendor; "memory" (or empty) keeps reels in process only.
func InitiatePersister(vendor string) (repository.IReelPersister, error) {
	switch vendor {
	case "", "memory":
		return nil, nil
	case "postgres", "psql":
		db, err := persistence.NewPostgreSQLDB()
		if err != nil {
			return nil, err
		}
		if err := persistence.EnsureReelSchema(db); err != nil {
			return nil, fmt.Errorf("ensure reel schema: %w", err)
		}
		return persistence.NewReelRepository(db), nil
	case "mssql":
		db, err := persistence.NewMSSQLDB()
		if err != nil {
			return nil, err
		}
		if err := persistence.EnsureReelSchemaMSSQL(db); err != nil {
			return nil, fmt.Errorf("ensure reel schema: %w", err)
		}
		return persistence.NewReelRepositoryMSSQL(db), nil
	case "mysql":
		db, err := persistence.NewMySQLGormDB()
		if err != nil {
			return nil, err
		}
		repo := persistence.NewReelRepositoryGorm(db)
		if err := repo.Migrate(); err != nil {
			return nil, fmt.Errorf("migrate reel tables: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown storage vendor %q", vendor)
	}
}
