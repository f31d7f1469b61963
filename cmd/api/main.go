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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wager-core/internal/config"
	"wager-core/internal/fairness"
	"wager-core/internal/handlers"
	"wager-core/internal/ledger"
	"wager-core/internal/lock"
	"wager-core/internal/middleware"
	"wager-core/internal/services"
	"wager-core/internal/settlement"
	"wager-core/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	defer storage.Close(db)

	redisClient, err := services.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPass, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	stores, closeStores, err := services.LockStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	coordinator, err := lock.NewCoordinator(stores,
		lock.WithRetry(lock.RetryPolicy{
			Count:  cfg.LockRetryCount,
			Delay:  cfg.LockRetryDelay,
			Jitter: cfg.LockRetryJitter,
		}),
		lock.WithDriftFactor(cfg.LockDriftFactor),
		lock.WithLogger(logger),
		lock.WithRegisterer(prometheus.DefaultRegisterer),
	)
	if err != nil {
		return err
	}
	logger.Info("lock coordinator ready", "stores", len(stores), "quorum", coordinator.Quorum())

	ceiling, err := cfg.Ceiling()
	if err != nil {
		return err
	}
	minClaim, err := cfg.MinimumClaim()
	if err != nil {
		return err
	}

	activeGames := services.NewActiveGameRegistry(redisClient)
	sessions := services.NewSessionStore(redisClient)
	bus := services.NewEventBus(redisClient, logger)

	outcomes := fairness.NewEngine(fairness.NewStore(db),
		fairness.WithActiveGames(activeGames),
		fairness.WithLogger(logger),
		fairness.WithRegisterer(prometheus.DefaultRegisterer),
	)
	book := ledger.NewEngine(db, coordinator,
		ledger.WithCeiling(ceiling),
		ledger.WithAssets(cfg.Assets...),
		ledger.WithMinimumClaim(minClaim),
		ledger.WithLockTTL(cfg.LockTTL),
		ledger.WithNotifier(bus),
		ledger.WithLogger(logger),
		ledger.WithRegisterer(prometheus.DefaultRegisterer),
	)
	defer book.Close()

	jwtService, err := services.NewJWTService(cfg.JWTSecret, services.DefaultTokenTTL)
	if err != nil {
		return err
	}

	hub := handlers.NewHub(logger)
	go hub.Run(ctx)
	go func() {
		if err := bus.Subscribe(ctx, nil, hub.PublishBalance); err != nil {
			logger.Error("balance event subscription ended", "error", err)
		}
	}()

	fairnessHandler := handlers.NewFairnessHandler(outcomes, logger)
	walletHandler := handlers.NewWalletHandler(book, logger)
	diceHandler := handlers.NewDiceHandler(settlement.NewService(outcomes, book, coordinator, logger), activeGames, logger)
	wsHandler := handlers.NewWebSocketHandler(hub, book, logger)
	userHandler := handlers.NewUserHandler(book, outcomes, sessions, activeGames, logger)
	rateLimit := middleware.RateLimitMiddleware(services.NewRateLimiter(redisClient), middleware.DefaultRateRules, logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	public := router.Group("/fairness")
	public.Use(rateLimit)
	{
		public.POST("/verify", fairnessHandler.Verify)
		public.GET("/seeds/:hash", fairnessHandler.GetRevealedSeed)
		public.GET("/seeds/:hash/outcomes", fairnessHandler.ReplayOutcome)
	}

	protected := router.Group("/api")
	protected.Use(middleware.AuthMiddleware(jwtService, sessions), rateLimit)
	{
		protected.GET("/me", userHandler.GetCurrentUser)
		protected.POST("/logout", userHandler.Logout)

		protected.GET("/ws", wsHandler.HandleWebSocket)

		seeds := protected.Group("/fairness")
		{
			seeds.GET("/seed", fairnessHandler.GetCommitment)
			seeds.POST("/rotate", fairnessHandler.RotateSeed)
			seeds.GET("/revealed", fairnessHandler.GetRevealedSeeds)
		}

		wallets := protected.Group("/wallets")
		{
			wallets.GET("", walletHandler.ListWallets)
			wallets.GET("/:asset", walletHandler.GetBalance)
			wallets.GET("/:asset/history", walletHandler.GetHistory)
		}

		games := protected.Group("/games")
		{
			games.POST("/dice/play", diceHandler.Play)
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
