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

	"github.com/weiawesome/club-chat/chat-archive-service/internal/cassandra"
	"github.com/weiawesome/club-chat/chat-archive-service/internal/config"
	"github.com/weiawesome/club-chat/chat-archive-service/internal/consumer"
	pkgconfig "github.com/weiawesome/club-chat/pkg/config"
	"github.com/weiawesome/club-chat/pkg/log"
)

func main() {
	cfg, err := config.Load(pkgconfig.PathFromArgs(os.Args))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(log.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "chat-archive-service"})
	l := log.L()

	cassandraClient, err := cassandra.NewClient(cfg.Cassandra)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to connect to cassandra")
	}
	defer cassandraClient.Close()
	l.Info().Str("keyspace", cfg.Cassandra.Keyspace).Strs("hosts", cfg.Cassandra.Hosts).Msg("connected to cassandra")

	repo := cassandra.NewMessageRepository(cassandraClient)
	if cfg.Cassandra.CreateSchema {
		if err := repo.EnsureSchema(context.Background()); err != nil {
			l.Fatal().Err(err).Msg("failed to create archive schema")
		}
	}

	cons, err := consumer.NewConsumer(cfg.Kafka, repo)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to create kafka consumer")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := cassandraClient.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "cassandra unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		l.Info().Str("address", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal().Err(err).Msg("health server error")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())

	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- cons.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		l.Info().Msg("received shutdown signal")
		cancel()
		select {
		case <-consumerDone:
		case <-time.After(10 * time.Second):
			l.Warn().Msg("consumer shutdown timed out")
		}
	case err := <-consumerDone:
		if err != nil {
			l.Error().Err(err).Msg("consumer exited")
		}
		cancel()
	}

	cons.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	l.Info().Msg("chat archive service stopped")
}
