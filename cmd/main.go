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

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/weiawesome/wes-io-live/roomchat/internal/cache"
	"github.com/weiawesome/wes-io-live/roomchat/internal/config"
	"github.com/weiawesome/wes-io-live/roomchat/internal/domain"
	chatgrpc "github.com/weiawesome/wes-io-live/roomchat/internal/grpc"
	"github.com/weiawesome/wes-io-live/roomchat/internal/handler"
	"github.com/weiawesome/wes-io-live/roomchat/internal/hub"
	"github.com/weiawesome/wes-io-live/roomchat/internal/kafka"
	"github.com/weiawesome/wes-io-live/roomchat/internal/repository"
	"github.com/weiawesome/wes-io-live/roomchat/internal/service"
	"github.com/weiawesome/wes-io-live/roomchat/internal/session"
	"github.com/weiawesome/wes-io-live/roomchat/pkg/database"
	"github.com/weiawesome/wes-io-live/roomchat/pkg/jwt"
	"github.com/weiawesome/wes-io-live/roomchat/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "healthcheck":
			os.Exit(healthcheck(cfg))
		case "adduser":
			os.Exit(addUser(cfg, os.Args[2:]))
		}
	}

	log.Init(log.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "roomchat"})
	l := log.L()
	l.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting room chat service")

	// Initialize database
	db, err := database.New(cfg.Database.ToDatabaseConfig())
	if err != nil {
		l.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close(db)
	if err := database.AutoMigrate(db, domain.Models()...); err != nil {
		l.Fatal().Err(err).Msg("failed to migrate database")
	}
	l.Info().Str("driver", cfg.Database.Driver).Msg("database ready")

	var store repository.Store = repository.NewGormStore(db)

	// Initialize Redis cache
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(cfg.Redis)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to initialize redis cache")
		}
		defer redisCache.Close()
		store = cache.NewCachedStore(store, redisCache, cfg.Redis.CacheTTL)
		l.Info().Str("address", cfg.Redis.Address).Msg("redis cache enabled")
	}

	// Initialize Kafka producer
	var producer kafka.EventProducer = kafka.NoopProducer{}
	if cfg.Kafka.Enabled {
		cp, err := kafka.NewConfluentProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to initialize kafka producer")
		}
		producer = cp
		l.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka producer enabled")
	}
	defer producer.Close()

	tokens, err := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		l.Fatal().Err(err).Msg("auth.jwt_secret must be set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Hub
	chatHub := hub.NewHub(cfg.Chat.DefaultRoom, cfg.Chat.QueueSize)
	go chatHub.Run(ctx)

	chatSvc := service.NewChatService(store, producer, cfg.Chat.StorageTimeout)

	// Start gRPC server
	grpcAddr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
	grpcServer, err := chatgrpc.StartGRPCServer(grpcAddr, chatHub.Done(), l)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to start grpc server")
	}

	// Setup HTTP server
	wsHandler := handler.NewWSHandler(ctx, chatHub, chatSvc, tokens, session.Config{
		DefaultRoom:       cfg.Chat.DefaultRoom,
		HeartbeatInterval: cfg.WebSocket.HeartbeatInterval,
		ClientTimeout:     cfg.WebSocket.ClientTimeout,
		WriteWait:         cfg.WebSocket.WriteWait,
		MaxMessageSize:    cfg.WebSocket.MaxMessageSize,
		SendBuffer:        cfg.WebSocket.SendBuffer,
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), log.GinMiddleware(l, "/health", "/count"))
	wsHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		l.Info().Str("address", server.Addr).Msg("room chat service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info().Msg("shutting down room chat service")

	// Stop accepting before ending sessions and the hub.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("server forced to shutdown")
	}
	cancel()
	<-chatHub.Done()
	grpcServer.GracefulStop()

	l.Info().Msg("room chat service stopped")
}

// healthcheck probes the local gRPC health service and returns the process
// exit code.
func healthcheck(cfg *config.Config) int {
	conn, err := grpc.NewClient(
		fmt.Sprintf("127.0.0.1:%d", cfg.GRPC.Port),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck: %v\n", err)
		return 1
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	status, err := chatgrpc.Check(ctx, conn)
	if err != nil || status != healthpb.HealthCheckResponse_SERVING {
		fmt.Fprintf(os.Stderr, "healthcheck: status=%s err=%v\n", status, err)
		return 1
	}
	return 0
}

// addUser provisions an account: adduser <name> <password> [admin].
func addUser(cfg *config.Config, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: adduser <name> <password> [admin]")
		return 2
	}
	permission := domain.PermissionMember
	if len(args) > 2 && args[2] == "admin" {
		permission = domain.PermissionAdmin
	}

	db, err := database.New(cfg.Database.ToDatabaseConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "adduser: %v\n", err)
		return 1
	}
	defer database.Close(db)
	if err := database.AutoMigrate(db, domain.Models()...); err != nil {
		fmt.Fprintf(os.Stderr, "adduser: %v\n", err)
		return 1
	}

	user, err := repository.NewGormStore(db).CreateUser(context.Background(), args[0], args[1], permission)
	if err != nil {
		fmt.Fprintf(os.Stderr, "adduser: %v\n", err)
		return 1
	}
	fmt.Println(user.ID)
	return 0
}
