package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/litxtech/mytrabzon-match/internal/abuse"
	"github.com/litxtech/mytrabzon-match/internal/api"
	"github.com/litxtech/mytrabzon-match/internal/config"
	"github.com/litxtech/mytrabzon-match/internal/coordinator"
	"github.com/litxtech/mytrabzon-match/internal/limits"
	"github.com/litxtech/mytrabzon-match/internal/matching"
	"github.com/litxtech/mytrabzon-match/internal/messaging"
	"github.com/litxtech/mytrabzon-match/internal/queue"
	"github.com/litxtech/mytrabzon-match/internal/ratelimit"
	"github.com/litxtech/mytrabzon-match/internal/report"
	"github.com/litxtech/mytrabzon-match/internal/rtctoken"
	"github.com/litxtech/mytrabzon-match/internal/service"
	"github.com/litxtech/mytrabzon-match/internal/session"
	"github.com/litxtech/mytrabzon-match/internal/storage"
)

func main() {
	log.Println("Starting matchserver...")

	cfg := config.Load()

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// --- PostgreSQL ---
	db, err := storage.Open(cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	if err := storage.Migrate(db, "migrations"); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	// --- NATS (optional) ---
	var events messaging.Publisher = messaging.NopPublisher{}
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		pub, err := messaging.NewNATSPublisher(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		events = pub
	} else {
		log.Println("[main] NATS_URL not set, event publishing disabled")
	}

	// --- Stores and components ---
	queueStore := queue.NewRedisStore(rdb)
	sessionStore := session.NewRedisStore(rdb)
	limitStore := limits.NewPostgresStore(db)
	reportStore := report.NewPostgresStore(db)

	guard := abuse.NewGuard(limitStore, reportStore, abuse.Config{
		DailyLimit:      cfg.DailyLimit,
		LimitEnforced:   cfg.LimitEnforced,
		ReportThreshold: cfg.ReportThreshold,
		RestrictionTTL:  cfg.RestrictionTTL,
	})

	// The relationship service is consumed over its own API in the full
	// deployment; standalone matchserver runs without block lists.
	matcher := matching.NewMatcher(queueStore, sessionStore, matching.NoBlocks{}, guard)
	coord := coordinator.New(sessionStore)
	issuer := rtctoken.NewIssuer(cfg.RTCAppID, cfg.RTCCertificate, cfg.TokenTTL, sessionStore)
	if !issuer.Enabled() {
		log.Println("[main] RTC credentials not configured, token issuer in degraded mode")
	}
	limiter := ratelimit.NewLimiter(rdb)

	svc := service.New(queueStore, sessionStore, matcher, coord, guard, issuer, limiter, events)

	// --- HTTP ---
	router := api.NewRouter(api.NewHandler(svc))
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("matchserver listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}

	events.Close()
	db.Close()
	rdb.Close()
}
