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
	"go.uber.org/zap"

	intDatabase "callsession-backend/internal/database"
	callHandler "callsession-backend/internal/handler/http/call"
	wsHandler "callsession-backend/internal/handler/ws"
	"callsession-backend/internal/middleware"
	"callsession-backend/internal/repository/cockroach"
	redisRepo "callsession-backend/internal/repository/redis"
	callService "callsession-backend/internal/service/call"
	"callsession-backend/pkg/config"
	"callsession-backend/pkg/constants"
	pkgDatabase "callsession-backend/pkg/database"
	"callsession-backend/pkg/jwt"
	"callsession-backend/pkg/logger"
	"callsession-backend/pkg/metrics"
	"callsession-backend/pkg/rtctoken"
)

func main() {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      cfg.Log.Output,
		FilePath:    cfg.Log.FilePath,
		ServiceName: cfg.Server.ServiceName,
	}); err != nil {
		logger.InitDefault(cfg.Server.ServiceName)
	}
	defer logger.Sync()

	if cfg.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// 2. Metrics
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)

	// 3. Connect to CockroachDB and prepare the call schema
	db, err := pkgDatabase.ConnectWithRetry(ctx, cfg.Database, constants.DatabaseConnectRetries)
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	defer db.Close()

	if err := cockroach.Migrate(ctx, db.Pool); err != nil {
		logger.Fatal("Failed to prepare call schema", zap.Error(err))
	}

	// 4. Redis with degraded mode support. The service keeps running without it.
	redisDB := intDatabase.NewRedisDB(cfg.Redis)
	defer redisDB.Close()

	if err := redisDB.HealthCheck(ctx); err != nil {
		logger.Warn("Redis unavailable at startup, running degraded", zap.Error(err))
	} else {
		logger.Info("Connected to Redis")
	}
	redisDB.StartHealthCheck(ctx, constants.RedisHealthCheckInterval)

	// 5. Repositories
	sessionRepo := cockroach.NewSessionRepository(db.Pool, appMetrics)
	participantRepo := cockroach.NewParticipantRepository(db.Pool, appMetrics)
	roomRepo := cockroach.NewRoomRepository(db.Pool, appMetrics)
	membershipCache := redisRepo.NewMembershipCache(redisDB, roomRepo, cfg.Membership.CacheTTL)
	eventRepo := redisRepo.NewEventRepository(redisDB)

	// 6. Credential issuer. A bad configuration is reported on every call
	// rather than at boot so health checks still answer.
	issuer := rtctoken.NewIssuer(cfg.RTC.AppID, cfg.RTC.AppCertificate)
	if err := issuer.Validate(); err != nil {
		logger.Error("RTC credentials are not configured; calls will be refused", zap.Error(err))
	}

	// 7. Call service
	callSvc := callService.NewService(
		sessionRepo,
		participantRepo,
		membershipCache,
		issuer,
		eventRepo,
		appMetrics,
		callService.Config{
			CredentialTTL:          cfg.RTC.CredentialTTL,
			DefaultMaxParticipants: cfg.RTC.DefaultMaxParticipants,
		},
	)

	// 8. Handlers
	callHdlr := callHandler.NewHandler(callSvc)
	eventsHub := wsHandler.NewCallEventsHub(
		eventRepo,
		callService.NewMembershipGuard(membershipCache),
		appMetrics,
		cfg.Server.AllowedOrigins,
	)

	// 9. Router
	router := gin.New()
	if err := router.SetTrustedProxies(nil); err != nil {
		logger.Warn("Failed to reset trusted proxies", zap.Error(err))
	}

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())

	router.GET("/health", middleware.HealthCheck(cfg.Server.ServiceName, map[string]middleware.HealthChecker{
		"database": func(c *gin.Context) error {
			return db.Ping(c.Request.Context())
		},
		"redis": func(c *gin.Context) error {
			if redisDB.IsDegraded() {
				return intDatabase.ErrDegraded
			}
			return nil
		},
	}))
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Audience, 15*time.Minute)
	auth := middleware.AuthMiddleware(jwtManager, middleware.NewRedisRevocationChecker(redisDB))
	limiter := middleware.NewRateLimiter(redisDB, constants.RateLimitRequests, constants.RateLimitWindow)
	timeout := middleware.Timeout(cfg.Server.RequestTimeout)

	calls := router.Group("/v1/calls", auth, limiter.Middleware(), timeout)
	rooms := router.Group("/v1/rooms/:room_id/calls", auth)
	callHdlr.RegisterRoutes(calls, rooms.Group("", limiter.Middleware(), timeout))

	// Long-lived stream: no request timeout
	rooms.GET("/events", eventsHub.ServeWS)

	// 10. Start server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Call service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("env", cfg.Server.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 11. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
