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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/osu-cs493-sp23/tarpaulin/pkg/ratelimit"
	"github.com/osu-cs493-sp23/tarpaulin/pkg/submission/api"
	"github.com/osu-cs493-sp23/tarpaulin/pkg/submission/config"
)

type envConfig struct {
	Port        string `env:"PORT" env-default:"8000"`
	Environment string `env:"ENVIRONMENT" env-default:"development"`
	JWTSecret   string `env:"JWT_SECRET" env-default:"SuperSecret"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	var env envConfig
	if err := cleanenv.ReadEnv(&env); err != nil {
		logger.Error("failed to read environment", "err", err)
		os.Exit(1)
	}

	cfg, err := config.Load(
		config.WithPort(env.Port),
		config.WithEnvironment(env.Environment),
		config.WithEnv(""),
	)
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := cfg.BuildService()
	if err != nil {
		logger.Error("failed to build submission service", "err", err)
		os.Exit(1)
	}

	limiter, err := cfg.BuildLimiter(ctx, logger)
	if err != nil {
		logger.Error("failed to build rate limiter", "err", err)
		os.Exit(1)
	}

	var stats ratelimit.StatsRecorder
	if rdb := cfg.NewRedisClient(); rdb != nil {
		stats = ratelimit.NewRedisStatsStore(rdb)
	}

	tokenAuth := jwtauth.New("HS256", []byte(env.JWTSecret), nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Verify bearer tokens when present so the limiter can key
	// authenticated callers by email; requests without a valid token fall
	// back to the peer address key. The limiter runs ahead of routing.
	r.Use(jwtauth.Verifier(tokenAuth))
	r.Use(ratelimit.Middleware(ratelimit.MiddlewareOptions{
		Limiter: limiter,
		Stats:   stats,
		Logger:  logger,
	}))

	submissionsHandler := api.NewSubmissionsHandler(svc, api.WithHandlerLogger(logger))
	r.Mount("/", submissionsHandler.Routes())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.PlainText(w, r, "OK")
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "err", err)
		os.Exit(1)
	}

	logger.Info("server exiting")
}
