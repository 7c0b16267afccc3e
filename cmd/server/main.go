// Package main runs the payment-gated poll HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Slothbar/slothvote/config"
	"github.com/Slothbar/slothvote/internal/admission"
	"github.com/Slothbar/slothvote/internal/audit"
	"github.com/Slothbar/slothvote/internal/auth"
	"github.com/Slothbar/slothvote/internal/holdings"
	"github.com/Slothbar/slothvote/internal/ledger"
	"github.com/Slothbar/slothvote/internal/middleware"
	"github.com/Slothbar/slothvote/internal/models"
	"github.com/Slothbar/slothvote/internal/polls"
	"github.com/Slothbar/slothvote/internal/realtime"
	"github.com/Slothbar/slothvote/internal/wallets"
	"github.com/Slothbar/slothvote/pkg/database"
	"github.com/Slothbar/slothvote/pkg/queue"
	"github.com/Slothbar/slothvote/pkg/redis"
	"github.com/Slothbar/slothvote/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	stopBroadcast, err := hub.Start()
	if err != nil {
		logger.Fatal("subscribe broadcast channel", zap.Error(err))
	}
	defer stopBroadcast()

	// Ledger
	ledgerClient := ledger.NewClient(cfg.Ledger, nil, logger)
	verifier := ledger.NewVerifier(ledgerClient, cfg.Ledger.PageSize, logger)

	// Admission
	jobQueue := queue.NewQueue(rdb.Client, cfg.Worker.MaxRetries, logger)
	symbol := "HBAR"
	if cfg.Payment.TokenID != "" {
		symbol = "of token " + cfg.Payment.TokenID
	}
	gate := admission.NewGate(admission.Dependencies{
		Wallets:    wallets.NewRegistry(),
		Polls:      polls.NewLifecycle(),
		Verifier:   verifier,
		Watermarks: ledgerClient,
		Messenger:  hub,
		Recorder:   jobQueue,
		Requirement: models.PaymentRequirement{
			Recipient: cfg.Payment.ReceivingAccount,
			MinAmount: cfg.Payment.MinAmount,
			TokenID:   cfg.Payment.TokenID,
		},
		Units:         admission.Units{Decimals: cfg.Payment.AmountDecimals(), Symbol: symbol},
		LedgerTimeout: cfg.Ledger.RequestTimeout * time.Duration(cfg.Ledger.MaxRetries+1),
		Logger:        logger,
	})
	parseAmount := func(s string) (int64, error) {
		return config.ParseAmount(s, cfg.Payment.AmountDecimals())
	}

	authHandler := auth.NewHandler(cfg.Auth, jwtService, logger)
	walletHandler := wallets.NewHandler(gate, logger)
	admissionHandler := admission.NewHandler(gate, logger)
	pollHandler := polls.NewHandler(gate, hub, parseAmount, logger)
	auditHandler := audit.NewHandler(audit.NewRepository(pool), logger)
	holdingsHandler := holdings.NewHandler(ledgerClient, cfg.Payment.TokenID, cfg.Payment.TokenDecimals, logger)

	jwtValidate := func(token string) (userID, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID, claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public; participants are minted by the messaging gateway)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/participants", authHandler.IssueParticipantToken)
	}

	router.GET("/holdings/:wallet", holdingsHandler.Check)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Wallets
		api.POST("/wallets", walletHandler.Register)
		api.GET("/wallets/me", walletHandler.Me)

		// Admission
		api.POST("/admission/verify", admissionHandler.Verify)

		// Poll
		api.GET("/poll", pollHandler.Get)
		api.POST("/poll/vote", admissionHandler.Vote)
		api.POST("/poll", middleware.RequireRole(string(models.RoleAdmin)), pollHandler.Create)
		api.POST("/poll/reset", middleware.RequireRole(string(models.RoleAdmin)), pollHandler.Reset)
		api.GET("/poll/results", middleware.RequireRole(string(models.RoleAdmin)), pollHandler.Results)

		// Audit
		api.GET("/audit/cycles", middleware.RequireRole(string(models.RoleAdmin)), auditHandler.Archives)
		api.GET("/audit/cycles/:id/admissions", middleware.RequireRole(string(models.RoleAdmin)), auditHandler.Admissions)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, gate, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening",
			zap.String("port", cfg.Server.Port),
			zap.String("receiving_account", cfg.Payment.ReceivingAccount),
			zap.String("mirror_node", cfg.Ledger.BaseURL),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
