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
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/club-chat/chat-service/internal/cache"
	"github.com/weiawesome/club-chat/chat-service/internal/config"
	"github.com/weiawesome/club-chat/chat-service/internal/domain"
	chatgrpc "github.com/weiawesome/club-chat/chat-service/internal/grpc"
	"github.com/weiawesome/club-chat/chat-service/internal/handler"
	"github.com/weiawesome/club-chat/chat-service/internal/hub"
	"github.com/weiawesome/club-chat/chat-service/internal/realtime"
	"github.com/weiawesome/club-chat/chat-service/internal/repository"
	"github.com/weiawesome/club-chat/chat-service/internal/service"
	pkgconfig "github.com/weiawesome/club-chat/pkg/config"
	"github.com/weiawesome/club-chat/pkg/database"
	"github.com/weiawesome/club-chat/pkg/idgen"
	"github.com/weiawesome/club-chat/pkg/jwt"
	"github.com/weiawesome/club-chat/pkg/log"
	"github.com/weiawesome/club-chat/pkg/middleware"
	"github.com/weiawesome/club-chat/pkg/pubsub"
)

func main() {
	// Load configuration
	cfg, err := config.Load(pkgconfig.PathFromArgs(os.Args))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(log.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "chat-service"})
	l := log.L()

	// Connect to database using GORM
	db, err := database.New(&database.Config{
		Driver:          cfg.Database.Driver,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		FilePath:        cfg.Database.FilePath,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogLevel:        cfg.Database.LogLevel,
	})
	if err != nil {
		l.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close(db)

	if err := database.AutoMigrate(db, &domain.ConversationModel{}, &domain.MessageModel{}); err != nil {
		l.Fatal().Err(err).Msg("failed to auto-migrate")
	}
	l.Info().Str("driver", cfg.Database.Driver).Msg("database ready")

	// Redis backs the unread cache and, by default, the event bus.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		l.Fatal().Err(err).Str("address", cfg.Redis.Address).Msg("failed to connect to redis")
	}

	var bus pubsub.PubSub
	if cfg.PubSub.Driver == "kafka" {
		bus, err = pubsub.NewPubSub(cfg.PubSubSettings())
		if err != nil {
			l.Fatal().Err(err).Msg("failed to initialize kafka event bus")
		}
		defer redisClient.Close()
	} else {
		bus = pubsub.NewRedisPubSubWithClient(redisClient)
	}
	defer bus.Close()
	l.Info().Str("driver", cfg.PubSub.Driver).Msg("event bus ready")

	conversationIDs, err := idgen.New(cfg.IDs.Conversation)
	if err != nil {
		l.Fatal().Err(err).Msg("invalid conversation id generator")
	}
	messageIDs, err := idgen.New(cfg.IDs.Message)
	if err != nil {
		l.Fatal().Err(err).Msg("invalid message id generator")
	}

	tokens, err := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Validity)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to initialize token validation")
	}

	chatSvc := service.NewChatService(
		repository.NewGormConversationRepository(db),
		repository.NewGormMessageRepository(db),
		cache.NewRedisUnreadCache(redisClient, cfg.Cache.Prefix, cfg.Cache.UnreadTTL),
		bus,
		conversationIDs,
		messageIDs,
		service.Options{
			MaxContentLength: cfg.Chat.MaxContentLength,
			DefaultPageSize:  cfg.Chat.DefaultPageSize,
			MaxPageSize:      cfg.Chat.MaxPageSize,
			DefaultArea:      cfg.Chat.DefaultArea,
			Areas:            cfg.Chat.Areas,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wsHub := hub.NewHub(cfg.WebSocket)
	relay := realtime.NewRelay(bus, wsHub)

	sqlDB, err := db.DB()
	if err != nil {
		l.Fatal().Err(err).Msg("failed to access database pool")
	}
	monitor := chatgrpc.NewHealthMonitor(map[string]chatgrpc.Probe{
		"database": sqlDB.PingContext,
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	})

	grpcAddr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
	grpcServer, err := chatgrpc.StartGRPCServer(grpcAddr, monitor, l)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to start grpc server")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), log.GinMiddleware(l))

	authMiddleware := middleware.NewAuthMiddleware(tokens)
	handler.NewHTTPHandler(chatSvc, authMiddleware).RegisterRoutes(r)
	handler.NewWSHandler(wsHub, chatSvc, tokens, cfg.WebSocket).RegisterRoutes(r)

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		relay.Run(gctx)
		return nil
	})
	g.Go(func() error {
		monitor.Run(gctx, 10*time.Second)
		return nil
	})
	g.Go(func() error {
		l.Info().Str("address", server.Addr).Msg("chat service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		l.Info().Msg("shutting down chat service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()

		err := server.Shutdown(shutdownCtx)
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		return err
	})

	if err := g.Wait(); err != nil {
		l.Error().Err(err).Msg("chat service stopped with error")
		return
	}
	l.Info().Msg("chat service stopped")
}
