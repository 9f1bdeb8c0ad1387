package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"modelgate/internal/config"
	"modelgate/internal/gateway"
	"modelgate/internal/memory"
	"modelgate/internal/provider"
	"modelgate/internal/quota"
	"modelgate/internal/ratelimit"
	"modelgate/internal/relay"
	"modelgate/internal/router"
	"modelgate/internal/storage"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	var backend storage.Backend
	redisBackend, err := storage.NewRedisBackend(context.Background(), storage.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.WithError(err).Warn("redis unavailable, using in-memory storage")
		backend = storage.NewMemoryBackend()
	} else {
		backend = redisBackend
	}
	defer backend.Close()

	registry := provider.NewRegistry(
		provider.NewDeepSeek(cfg.DeepSeekAPIKey, "", cfg.UpstreamTimeout),
		provider.NewGLM(cfg.GLMAPIKey, "", cfg.UpstreamTimeout),
		provider.NewQwen(cfg.QwenAPIKey, "", cfg.UpstreamTimeout),
	)

	descriptors := router.DefaultDescriptors(cfg.DeepSeekAPIKey, cfg.GLMAPIKey, cfg.QwenAPIKey)
	modelRouter := router.New(descriptors, &router.StorageSink{Backend: backend}, log)

	pool := relay.NewPool(cfg.AccountingWorkers, cfg.AccountingQueue, log)
	defer pool.Close()

	ctx, cancelCleanup := context.WithCancel(context.Background())
	defer cancelCleanup()
	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst)
	limiter.StartCleanup(ctx, 5*time.Minute, time.Hour)

	srv := gateway.NewServer(gateway.Options{
		Router:    modelRouter,
		Registry:  registry,
		Relay:     relay.New(log),
		Gate:      quota.New(backend, log),
		Store:     memory.NewStore(backend, log),
		Pool:      pool,
		Limiter:   limiter,
		JWTSecret: cfg.JWTSecret,
		Log:       log,
	})

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: srv.Routes(),
	}

	go func() {
		log.WithField("addr", cfg.Addr()).Info("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown did not finish cleanly")
	}
}
