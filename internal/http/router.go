// Package httpapi wires the HTTP transport (Gin) to the tip bot services,
// middleware, and the webhook handler. It centralizes cross-cutting
// concerns: tracing, correlation IDs, logging, panic recovery, metrics,
// CORS, compression, and rate limiting.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics (+ /metrics endpoint)
//  7. Rate limiter (per relay IP)
//  8. CORS and gzip
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/nollarcash/tipbot-backend/internal/config"
	"github.com/nollarcash/tipbot-backend/internal/domain"
	"github.com/nollarcash/tipbot-backend/internal/http/handlers"
	"github.com/nollarcash/tipbot-backend/internal/http/middleware"
	"github.com/nollarcash/tipbot-backend/internal/node"
	"github.com/nollarcash/tipbot-backend/internal/repo"
	"github.com/nollarcash/tipbot-backend/internal/services"
)

// userRepoShim adapts the repo free functions to the services.UserRepo
// interface. This keeps services decoupled from the concrete repo package
// while reusing the existing functions.
type userRepoShim struct{}

func (userRepoShim) GetUser(ctx context.Context, db *gorm.DB, userID int64) (*domain.User, error) {
	return repo.GetUser(ctx, db, userID)
}

func (userRepoShim) CreateUser(ctx context.Context, db *gorm.DB, userID int64, userName, account string, registered bool) (*domain.User, error) {
	return repo.CreateUser(ctx, db, userID, userName, account, registered)
}

func (userRepoShim) SetRegistered(ctx context.Context, db *gorm.DB, userID int64) error {
	return repo.SetRegistered(ctx, db, userID)
}

// memberRepoShim adapts the membership repo functions to services.MemberRepo.
type memberRepoShim struct{}

func (memberRepoShim) GetMemberByName(ctx context.Context, db *gorm.DB, chatID int64, memberName string) (*domain.ChatMember, error) {
	return repo.GetMemberByName(ctx, db, chatID, memberName)
}

func (memberRepoShim) UpsertMember(ctx context.Context, db *gorm.DB, chatID int64, chatName string, memberID int64, memberName string) error {
	return repo.UpsertMember(ctx, db, chatID, chatName, memberID, memberName)
}

func (memberRepoShim) RemoveMember(ctx context.Context, db *gorm.DB, chatID, memberID int64) error {
	return repo.RemoveMember(ctx, db, chatID, memberID)
}

// tipRepoShim adapts the tip repo functions to services.TipRepo.
type tipRepoShim struct{}

func (tipRepoShim) CreateTip(ctx context.Context, db *gorm.DB, tip *domain.Tip) (*domain.Tip, error) {
	return repo.CreateTip(ctx, db, tip)
}

// RegisterRoutes attaches all middleware and endpoints to the Gin engine,
// builds the service graph over the injected collaborators, and returns the
// started dispatcher so the caller can drain it on shutdown.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, ledger node.Ledger, notifier services.Notifier, cfg config.Config) *services.Dispatcher {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (256 KiB; webhook payloads are small)
	r.Use(limitBody(256 << 10))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per relay IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	r.Use(rl.Handler())

	// 8) CORS posture and compression
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db/ledger/notifier
	accounts := &services.AccountService{DB: db, Users: userRepoShim{}, Ledger: ledger, Notifier: notifier}
	balances := &services.BalanceService{DB: db, Users: userRepoShim{}, Ledger: ledger, Notifier: notifier}
	tips := &services.TipService{
		DB:       db,
		Users:    userRepoShim{},
		Members:  memberRepoShim{},
		Tips:     tipRepoShim{},
		Ledger:   ledger,
		Notifier: notifier,
		Accounts: accounts,
		Balances: balances,
		MinTip:   cfg.MinTip,
	}
	withdraws := &services.WithdrawService{DB: db, Users: userRepoShim{}, Ledger: ledger, Notifier: notifier, Balances: balances}

	dispatcher := &services.Dispatcher{
		Accounts:  accounts,
		Balances:  balances,
		TipEngine: tips,
		Withdraws: withdraws,
		Notifier:  notifier,
		BotID:     cfg.BotID,
		Log:       log.With().Str("component", "dispatcher").Logger(),
	}
	dispatcher.Start(cfg.Workers, cfg.QueueSize)

	// Webhook ingress
	wh := handlers.NewWebhook(db, memberRepoShim{}, dispatcher)
	r.POST("/webhook/telegram", wh.Handle)

	return dispatcher
}

// limitBody caps the request body size for all endpoints using
// http.MaxBytesReader; oversized payloads error on read downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
