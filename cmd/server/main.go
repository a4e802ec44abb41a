package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"collab-coordinator/internal/auth"
	"collab-coordinator/internal/config"
	"collab-coordinator/internal/httpapi"
	"collab-coordinator/internal/hub"
	"collab-coordinator/internal/room"
	"collab-coordinator/internal/store"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// An unreachable store is fatal: the coordinator cannot run without it.
	st, err := store.NewRedis(ctx, &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, cfg.KeyPrefix)
	if err != nil {
		logger.Fatal("state store unavailable", zap.Error(err))
	}
	defer func() { _ = st.Close() }()

	validator, err := auth.New(cfg.JWTSecret)
	if err != nil {
		logger.Fatal("auth misconfigured", zap.Error(err))
	}

	h := hub.NewHub(ctx)
	coord := room.New(st, h, logger, cfg.StaleThreshold)

	handler := httpapi.SetupRoutes(httpapi.Deps{
		Hub:            h,
		Coordinator:    coord,
		Store:          st,
		Validator:      validator,
		Log:            logger,
		StaleThreshold: cfg.StaleThreshold,
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: handler}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("shut down cleanly")
}
