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

	"loventia/infrastructure/db"
	"loventia/infrastructure/metrics"
	"loventia/infrastructure/ws"
	"loventia/internal/config"
	httpHandler "loventia/internal/delivery/http"
	"loventia/internal/delivery/websocket"
	"loventia/internal/repository"
	"loventia/internal/usecase"
	"loventia/pkg/jwt"
	"loventia/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Lifetime of identity tokens minted by this process. The server only
// verifies tokens; the value matters for tooling sharing JWT_SECRET.
const accessTokenTTL = 15 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

type stores struct {
	messages repository.MessageRepository
	markers  repository.ReadMarkerRepository
	close    func(context.Context) error
}

func openStores(ctx context.Context, cfg config.Config, log zerolog.Logger) (stores, error) {
	switch cfg.StoreBackend {
	case config.BackendMongo:
		mongoDb, err := db.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, log)
		if err != nil {
			return stores{}, err
		}
		if err := repository.EnsureIndexes(ctx, *mongoDb.DB); err != nil {
			_ = mongoDb.Close(ctx)
			return stores{}, fmt.Errorf("mongo indexes: %w", err)
		}
		return stores{
			messages: repository.NewMessageRepository(*mongoDb.DB),
			markers:  repository.NewReadMarkerRepository(*mongoDb.DB),
			close:    mongoDb.Close,
		}, nil

	case config.BackendBadger:
		badgerDb, err := db.OpenBadger(cfg.BadgerPath, log)
		if err != nil {
			return stores{}, fmt.Errorf("badger: %w", err)
		}
		log.Info().Str("path", cfg.BadgerPath).Msg("opened Badger store")
		store := repository.NewBadgerStore(badgerDb)
		return stores{
			messages: store,
			markers:  store,
			close:    func(context.Context) error { return badgerDb.Close() },
		}, nil

	default:
		log.Warn().Msg("using in-memory store, messages are lost on restart")
		store := repository.NewMemoryStore()
		return stores{
			messages: store,
			markers:  store,
			close:    func(context.Context) error { return nil },
		}, nil
	}
}

func newHub(ctx context.Context, cfg config.Config, log zerolog.Logger, m *metrics.Metrics) (ws.IHub, func() error, error) {
	if cfg.RedisAddr == "" {
		log.Info().Msg("using in-memory hub (single server)")
		return ws.NewHub(log, m), func() error { return nil }, nil
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	log.Info().Str("redis_addr", cfg.RedisAddr).Str("server_id", cfg.ServerID).Msg("using Redis hub")
	return ws.NewRedisHub(redisClient, cfg.ServerID, log, m), redisClient.Close, nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.IsDevelopment(), cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.close(context.Background()); err != nil {
			log.Error().Err(err).Msg("closing store")
		}
	}()

	m := metrics.New(prometheus.DefaultRegisterer)

	hub, closeHub, err := newHub(ctx, cfg, log, m)
	if err != nil {
		return err
	}
	defer closeHub() //nolint:errcheck

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	jwtManager := jwt.NewJWTManager(cfg.JWTSecret, accessTokenTTL)

	// Initialize use cases
	authUc := usecase.NewAuthUsecase(jwtManager)
	messageUc := usecase.NewMessageUsecase(store.messages, store.markers, cfg.MaxMessageLength, log)
	conversationUc := usecase.NewConversationUsecase(store.messages)
	deliveryUc := usecase.NewDeliveryUsecase(messageUc, hub, m, log)

	// Initialize handlers
	websocketH := websocket.NewWebsocketHandler(hub, authUc, deliveryUc, websocket.Options{
		AllowedOrigins:    cfg.Origins(),
		SendRatePerSecond: cfg.SendRatePerSecond,
		SendBurst:         cfg.SendBurst,
	}, log)
	httpH := httpHandler.NewHttpHandler(messageUc, conversationUc, deliveryUc, log)
	authMiddleware := httpHandler.NewAuthMiddleware(authUc)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(httpHandler.RequestLogger(log))
	router.Use(httpHandler.CORS(cfg.Origins()))
	router.Use(m.Middleware)

	httpHandler.MapHttpRoutes(router, httpH, websocketH, authMiddleware, promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Str("store", cfg.StoreBackend).Msg("HTTP server is running")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	stopHub()
	return nil
}
