package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"chatrelay/internal/auth"
	"chatrelay/internal/channels"
	"chatrelay/internal/config"
	"chatrelay/internal/database"
	"chatrelay/internal/delivery"
	"chatrelay/internal/handlers"
	"chatrelay/internal/history"
	"chatrelay/internal/ledger"
	"chatrelay/internal/presence"
	"chatrelay/internal/services"
	"chatrelay/internal/typing"
	"chatrelay/internal/websocket"
	"chatrelay/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration: %v", err)
	}
	logger.Init(cfg.LogLevel)

	ctx := context.Background()

	// Initialize stores
	db, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open stores: %v", err)
	}
	defer closeStores()

	// Initialize the live layer
	hub := websocket.NewHub()
	go hub.Run()

	var (
		registryOpts []presence.Option
		directory    *presence.RedisDirectory
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		dir := presence.NewRedisDirectory(rdb)
		// Nobody is connected to a fresh process.
		if err := dir.Clear(ctx); err != nil {
			logger.Warn("Presence directory unavailable, continuing without it: %v", err)
		} else {
			directory = dir
			registryOpts = append(registryOpts, presence.WithDirectory(dir))
			logger.Info("Presence directory enabled at %s", cfg.Redis.Addr)
		}
	}

	registry := presence.NewRegistry(db, hub, registryOpts...)
	membership := channels.NewMembership()
	unread := ledger.New(db)

	// Initialize services
	authService := auth.NewService(cfg)
	roomService := services.NewRoomService(db, unread)
	engine := delivery.NewEngine(db, db, unread, membership, registry)
	typingSignal := typing.NewSignal(membership, registry)
	pager := history.NewPager(db, cfg.Chat.HistoryPageSize, cfg.Chat.HistoryMaxPageSize)
	gateway := websocket.NewGateway(registry, membership, engine, typingSignal, roomService)

	// Initialize handlers
	authHandlers := handlers.NewAuthHandlers(authService)
	roomHandlers := handlers.NewRoomHandlers(roomService, pager, engine, gateway)
	wsHandlers := handlers.NewWebSocketHandlers(authService, hub, gateway, registry, cfg.Chat.ClientSendBuffer)
	if directory != nil {
		wsHandlers.UseDirectory(directory)
	}

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      handlers.NewRouter(authHandlers, roomHandlers, wsHandlers, db),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("🚀 Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("📡 WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)
	printAPIEndpoints()

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown: %v", err)
	}
	hub.Shutdown()
}

// openStores builds the configured store. Messages may live in Mongo while
// rooms, presence and the ledger stay relational.
func openStores(ctx context.Context, cfg *config.Config) (database.Database, func(), error) {
	var (
		db     database.Database
		closer = func() {}
	)

	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("Using the in-memory store; data is lost on exit")
		db = database.NewMemoryDB()
	default:
		pg, err := database.NewPostgresDB(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		db = pg
		closer = func() { pg.Close() }
	}

	if cfg.Database.MessageStore != "mongo" {
		return db, closer, nil
	}

	mdb, err := database.NewMongoDB(ctx, cfg.Mongo.URL, cfg.Mongo.Database)
	if err != nil {
		closer()
		return nil, nil, err
	}
	messages := database.NewMongoMessageStore(mdb)
	if err := messages.EnsureIndexes(ctx); err != nil {
		logger.Warn("Could not create message indexes: %v", err)
	}
	logger.Info("Messages stored in MongoDB database %s", cfg.Mongo.Database)

	relational := closer
	closer = func() {
		if err := mdb.Client().Disconnect(context.Background()); err != nil {
			logger.Error("Mongo disconnect: %v", err)
		}
		relational()
	}
	return &database.SplitStore{Database: db, Messages: messages}, closer, nil
}

func printAPIEndpoints() {
	logger.Info("🔗 API endpoints:")
	logger.Info("   GET  /health")
	logger.Info("   GET  /ws?token=")
	logger.Info("   GET  /conversations")
	logger.Info("   POST /conversations")
	logger.Info("   GET  /groups")
	logger.Info("   POST /groups")
	logger.Info("   PUT  /groups/{groupID}")
	logger.Info("   POST /groups/{groupID}/members")
	logger.Info("   DELETE /groups/{groupID}/members/{userID}")
	logger.Info("   GET  /rooms/{roomID}/messages?page=&limit=")
	logger.Info("   POST /rooms/{roomID}/messages")
	logger.Info("   PUT  /rooms/{roomID}/read")
	logger.Info("   GET  /users/online")
}
