package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/helpdesk-service/internal/api/http"
	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/clock"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/idempotency"
	"github.com/spec-kit/helpdesk-service/internal/keylock"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/persistence"
	"github.com/spec-kit/helpdesk-service/internal/queue"
	"github.com/spec-kit/helpdesk-service/internal/realtime"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/whatsapp"
	"github.com/spec-kit/helpdesk-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()
	clk := clock.Real()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	var stores repository.Stores
	if pg.Enabled() {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		stores = repository.NewPostgresStores(pg.PoolHandle())
	} else {
		logger.Warn("POSTGRES_DSN not set; using in-memory stores")
		stores = repository.NewMemoryStores(clk)
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	var claims idempotency.Store
	if redis.Reachable {
		claims = idempotency.NewRedisStore(redis.Client)
	} else {
		claims = idempotency.NewMemoryStore(clk)
	}

	guard := keylock.New(keylock.Options{
		Retention: cfg.Resolution.LockRetention(),
		Clock:     clk,
		Logger:    logger.Named("keylock"),
	})
	go guard.Run(ctx, cfg.Resolution.LockSweepInterval())

	dispatcher := events.NewInMemoryDispatcher(logger)
	hub := realtime.NewHub(logger.Named("realtime"), metrics)
	hub.Register(dispatcher)

	notificationService := service.NewNotificationService(dispatcher, logger.Named("notify"), cfg.Notification, nil)
	worker.StartNotificationWorker(ctx, notificationService)

	resolver := service.NewResolver(service.ResolverDependencies{
		Tickets:      stores.Tickets,
		History:      stores.History,
		Guard:        guard,
		Publisher:    dispatcher,
		Clock:        clk,
		ReopenWindow: cfg.Resolution.ReopenWindow(),
		Logger:       logger.Named("resolver"),
		Metrics:      metrics,
	})
	contactService := service.NewContactService(stores.Contacts)
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  stores.Tickets,
		MessageRepo: stores.Messages,
		ContactRepo: stores.Contacts,
		UserRepo:    stores.Users,
		HistoryRepo: stores.History,
		Guard:       guard,
		Publisher:   dispatcher,
		Logger:      logger.Named("tickets"),
	})

	var (
		sender    whatsapp.Sender = whatsapp.DisabledSender{}
		transport handlers.TransportStatus
		waClient  *whatsapp.Client
	)
	if cfg.WhatsApp.Enabled {
		waClient, err = whatsapp.NewClient(ctx, cfg.WhatsApp, logger.Named("whatsapp"))
		if err != nil {
			logger.Fatal("failed to init whatsapp", zap.Error(err))
		}
		sender = waClient
		transport = waClient
	}

	messageService := service.NewMessageService(service.MessageDependencies{
		Contacts:  contactService,
		Resolver:  resolver,
		Tickets:   stores.Tickets,
		Messages:  stores.Messages,
		Sender:    sender,
		Claims:    claims,
		ClaimTTL:  cfg.Idempotency.TTL(),
		Publisher: dispatcher,
		Logger:    logger.Named("messages"),
	})

	if waClient != nil {
		waClient.SetHandler(messageService)
		if err := waClient.Start(ctx); err != nil {
			logger.Fatal("failed to start whatsapp", zap.Error(err))
		}
		defer waClient.Stop()
	}

	var scheduler *worker.Scheduler
	if cfg.Queue.Enabled {
		queueClient := queue.NewAsynqClient(cfg.Redis)
		defer queueClient.Close() //nolint:errcheck
		scheduler = worker.NewScheduler(queueClient)

		queueServer := queue.NewAsynqServer(cfg.Redis, cfg.Queue, logger.Named("queue"))
		worker.RegisterScheduledSends(queueServer, messageService, logger.Named("scheduled"))
		go func() {
			if err := queueServer.Run(ctx); err != nil {
				logger.Error("queue server stopped", zap.Error(err))
			}
		}()
	}

	authService := service.NewAuthService(cfg.Auth, stores.Users, logger.Named("auth"))
	if err := authService.BootstrapAdmin(ctx, cfg.Auth.BootstrapAdminEmail, cfg.Auth.BootstrapAdminPass); err != nil {
		logger.Fatal("failed to bootstrap admin", zap.Error(err))
	}
	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), stores.Users)

	// A typed nil would be pinged; disabled backends must be untyped nil.
	deps := map[string]handlers.Pinger{"postgres": nil, "redis": nil}
	if pg.Enabled() {
		deps["postgres"] = pg
	}
	if redis.Reachable || cfg.Queue.Enabled {
		deps["redis"] = redis
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:   handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, deps, transport),
		Metrics:  handlers.NewMetricsHandler(metrics),
		Auth:     handlers.NewAuthHandler(authService),
		Tickets:  handlers.NewTicketsHandler(ticketService, contactService),
		Messages: handlers.NewMessagesHandler(messageService, ticketService, scheduler),
		Contacts: handlers.NewContactsHandler(contactService),
		Socket: handlers.NewSocketHandler(hub, authMiddleware, realtime.ConnectionOptions{
			SendBuffer: cfg.Realtime.SendBuffer,
			PingPeriod: cfg.Realtime.PingPeriod(),
		}, logger.Named("socket")),
		AuthMiddleware: authMiddleware,
		MediaDir:       cfg.WhatsApp.MediaDir,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)
	cancel()

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
