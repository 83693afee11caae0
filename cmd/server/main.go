package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"signlane/internal/bulk"
	"signlane/internal/engine"
	"signlane/internal/scheduler"
	"signlane/internal/store"
	"signlane/pkg/authn"
	"signlane/pkg/db"
	"signlane/pkg/logger"
	"signlane/pkg/webhooks"
)

func main() {
	environment := envDefault("ENVIRONMENT", "development")
	log, err := logger.New(environment)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st engine.Store
	var auth authn.Authenticator
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pool, err := db.Connect(ctx, dsn)
		if err != nil {
			log.Fatal("database connect failed", zap.Error(err))
		}
		defer pool.Close()
		st = store.NewPostgres(pool)
		auth = &authn.DB{Pool: pool}
		log.Info("using postgres store")
	} else {
		st = store.NewMemory()
		auth = &authn.Static{Token: os.Getenv("ADMIN_TOKEN")}
		log.Warn("DATABASE_URL unset, using in-memory store")
	}

	secret := os.Getenv("WEBHOOK_SECRET")
	if secret == "" {
		if environment == "production" {
			log.Fatal("WEBHOOK_SECRET is required in production")
		}
		secret = "dev-webhook-secret"
		log.Warn("WEBHOOK_SECRET unset, using dev secret")
	}
	verifier, err := webhooks.NewVerifier(secret)
	if err != nil {
		log.Fatal("webhook verifier init failed", zap.Error(err))
	}

	policy, err := scheduler.LoadPolicy(os.Getenv("POLICY_FILE"))
	if err != nil {
		log.Fatal("policy load failed", zap.Error(err))
	}

	eng := engine.New(st, engine.LogPublisher{Log: log.Named("events")}, log.Named("engine"))
	sched := scheduler.New(eng, policy, log.Named("scheduler"))
	coordinator := bulk.New(eng, log.Named("bulk"))

	interval := 5 * time.Minute
	if raw := os.Getenv("SWEEP_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			log.Fatal("invalid SWEEP_INTERVAL", zap.String("value", raw))
		}
		interval = d
	}
	go sched.Run(ctx, interval)

	a := &api{
		engine:   eng,
		bulk:     coordinator,
		sched:    sched,
		auth:     auth,
		verifier: verifier,
		log:      log.Named("http"),
	}

	srv := &http.Server{
		Addr:              ":" + envDefault("SERVICE_PORT", "8084"),
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("listening", zap.String("addr", srv.Addr), zap.Duration("sweep_interval", interval))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server failed", zap.Error(err))
	}
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
