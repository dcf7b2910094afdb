package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stakelotto/lotto-engine/internal/eligibility"
	"github.com/stakelotto/lotto-engine/internal/ledger"
	"github.com/stakelotto/lotto-engine/internal/metrics"
	"github.com/stakelotto/lotto-engine/internal/payout"
	"github.com/stakelotto/lotto-engine/internal/round"
	"github.com/stakelotto/lotto-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Engine parameters ---
	ticketPrice := envInt64("TICKET_PRICE", 100)
	feeBps := envInt64("FEE_BPS", 500)
	oddsNum := envUint64("ODDS_NUMERATOR", 10)
	oddsDen := envUint64("ODDS_DENOMINATOR", 100)
	maxRollover := int(envInt64("MAX_ROLLOVER", 3))

	drawAuthority := os.Getenv("DRAW_AUTHORITY")
	if drawAuthority == "" {
		slog.Error("DRAW_AUTHORITY is required")
		os.Exit(1)
	}
	treasuryIdentity := os.Getenv("TREASURY_IDENTITY")
	if treasuryIdentity == "" {
		slog.Error("TREASURY_IDENTITY is required")
		os.Exit(1)
	}
	equityIdentity := os.Getenv("EQUITY_IDENTITY")

	var excluded []string
	if raw := os.Getenv("EXCLUDED_IDENTITIES"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				excluded = append(excluded, id)
			}
		}
	}

	limiter := eligibility.NewOddsLimiter(oddsNum, oddsDen)

	led, err := ledger.New(st, ticketPrice, feeBps, limiter)
	if err != nil {
		slog.Error("invalid ledger configuration", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := led.Bootstrap(ctx)
	cancel()
	if err != nil {
		slog.Error("bootstrap failed", "err", err)
		os.Exit(1)
	}
	metrics.CurrentRound.Set(float64(pool.RoundID))
	metrics.PoolBalance.Set(float64(pool.Balance))
	slog.Info("current round ready", "round", pool.RoundID, "state", pool.State)

	split := payout.FeeSplit{
		TreasuryIdentity: treasuryIdentity,
	}
	if equityIdentity != "" {
		// Equity holders take a fixed slice of every fee.
		split.Equity = payout.Share{
			Identity:    equityIdentity,
			Numerator:   envUint64("EQUITY_NUMERATOR", 10),
			Denominator: envUint64("EQUITY_DENOMINATOR", 100),
		}
	}

	// --- WebSocket hub ---
	wsHub := round.NewWSHub()
	go wsHub.Run()

	// --- Round service ---
	roundSvc := round.NewService(led, round.Config{
		DrawAuthority: drawAuthority,
		Split:         split,
		Exclusions:    eligibility.NewExclusionList(excluded),
		MaxRollover:   maxRollover,
	}, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"lotto-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for live round updates.
		r.Get("/ws", wsHub.HandleWS)

		// Staking.
		r.Post("/deposit", roundSvc.Deposit)

		// Round lifecycle.
		r.Post("/rounds/close", roundSvc.CloseRound)
		r.Post("/rounds/draw", roundSvc.RequestDraw)
		r.Post("/rounds/settle", roundSvc.Settle)

		// Inspection.
		r.Get("/rounds/current", roundSvc.GetCurrentRound)
		r.Get("/rounds/{roundID}", roundSvc.GetRound)
		r.Get("/rounds/{roundID}/participants", roundSvc.GetParticipants)
		r.Get("/draws", roundSvc.ListDraws)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("lotto-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	slog.Info("shutting down lotto-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("lotto-engine stopped")
}

func envInt64(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		slog.Error("invalid integer env var", "key", key, "value", raw)
		os.Exit(1)
	}
	return v
}

func envUint64(key string, fallback uint64) uint64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		slog.Error("invalid integer env var", "key", key, "value", raw)
		os.Exit(1)
	}
	return v
}
