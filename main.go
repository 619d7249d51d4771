package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-sync/internal/auth"
	"chat-sync/internal/config"
	"chat-sync/internal/db"
	"chat-sync/internal/directory"
	grpcserver "chat-sync/internal/grpc"
	"chat-sync/internal/handlers"
	"chat-sync/internal/identity"
	"chat-sync/internal/logging"
	"chat-sync/internal/messages"
	"chat-sync/internal/middleware"
	"chat-sync/internal/observability"
	"chat-sync/internal/presence"
	"chat-sync/internal/rabbitmq"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/tracing"
	"chat-sync/internal/tree"
	"chat-sync/internal/unread"
	"chat-sync/internal/ws"
)

func main() {
	cfg := config.Load()
	logger := logging.NewLogger(cfg.Telemetry.ServiceName, cfg.Server.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer closeStore()
	go func() {
		if err := store.Run(ctx); err != nil {
			logger.Error("change bus stopped", "error", err)
		}
	}()
	if err := observability.RegisterSubscriptionGauge(store.Subscribers); err != nil {
		logger.Warn("subscription gauge not registered", "error", err)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logger.Info("event publisher ready", "mode", rabbitmq.PublisherMode(publisher), "reason", rabbitmq.PublisherNoopReason(publisher))
	audit := telemetry.NewAuditEmitter(publisher, cfg.AMQP.AuditRoutingKey, cfg.Telemetry.ServiceName, cfg.Server.Env, logger)

	users := identity.NewStore(store, logger)
	tracker := presence.NewTracker(users, logger, presence.WithRecords(users))
	syncOpts := []messages.Option{messages.WithReadGate(tracker)}
	if cfg.Chat.EnforceSenderDelete {
		syncOpts = append(syncOpts, messages.WithSenderOnlyDelete())
	}
	synchronizer := messages.NewSynchronizer(store, logger, syncOpts...)
	sessions := messages.NewSessions(synchronizer, tracker, logger)
	peers := directory.New(users, unread.NewAggregator(store, logger), logger)
	tokens := auth.NewManager(cfg.JWT.Secret, cfg.JWT.TTL)

	hub := ws.NewHub(logger)
	chatHandler := handlers.NewChatHandler(synchronizer, users, audit, logger)
	peersHandler := handlers.NewPeersHandler(peers)
	presenceHandler := handlers.NewPresenceHandler(tracker)
	loginHandler := handlers.NewLoginHandler(users, tokens, logger)
	chatWS := ws.NewChatWebSocketHandler(hub, sessions, tokens, logger)
	homeWS := ws.NewHomeWebSocketHandler(hub, tracker, peers, tokens, logger)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(handlers.RequestID())
	router.Use(gin.Recovery())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", handlers.Healthz(store))
	router.POST("/login", loginHandler.Login)

	authed := router.Group("/", middleware.AuthMiddleware(tokens))
	authed.GET("/peers", peersHandler.ListPeers)
	authed.POST("/chats/start", chatHandler.StartChat)
	authed.GET("/chats/:chat_id/messages", chatHandler.GetChatMessages)
	authed.POST("/chats/:chat_id/messages", chatHandler.PostChatMessage)
	authed.PATCH("/chats/:chat_id/messages/:message_id", chatHandler.EditChatMessage)
	authed.DELETE("/chats/:chat_id/messages/:message_id", chatHandler.DeleteChatMessage)
	authed.POST("/chats/:chat_id/read", chatHandler.MarkRead)
	authed.PUT("/presence", presenceHandler.EnterScreen)
	authed.DELETE("/presence", presenceHandler.LeaveScreen)
	handlers.RegisterDebugRoutes(authed, audit, cfg.Server.DebugRoutes)

	router.GET("/ws/chats/:chat_id", chatWS.Handle)
	router.GET("/ws/home", homeWS.Handle)

	healthServer := grpcserver.NewHealthServer(":"+cfg.Server.GRPCPort, store, 10*time.Second, logger)
	go func() {
		if err := healthServer.Run(ctx); err != nil {
			logger.Error("gRPC server error", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "store", cfg.Store.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
}

// openStore builds the tree store for the configured backend, attaching the
// Redis change bus when REDIS_URL is set.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*tree.Tree, func(), error) {
	var backend tree.Backend
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Store.Backend {
	case "postgres":
		database, err := db.Connect(ctx, cfg.Store.DSN, logger)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { database.Close() })
		backend = tree.NewSQL(database)
	case "memory", "":
		backend = tree.NewMemory()
	default:
		return nil, nil, errors.New("unknown store backend " + cfg.Store.Backend)
	}

	opts := []tree.Option{tree.WithLogger(logger)}
	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		rdb := redis.NewClient(redisOpts)
		closers = append(closers, func() { rdb.Close() })
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.PingTimeout)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		opts = append(opts, tree.WithBus(tree.NewRedisBus(rdb, cfg.Redis.Channel, logger)))
		logger.Info("change bus enabled", "channel", cfg.Redis.Channel)
	}

	return tree.New(backend, opts...), closeAll, nil
}
