// Package main runs the DAC consent HTTP API with graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/consentdac/backend/config"
	"github.com/consentdac/backend/internal/auth"
	"github.com/consentdac/backend/internal/dars"
	"github.com/consentdac/backend/internal/datasets"
	"github.com/consentdac/backend/internal/elections"
	"github.com/consentdac/backend/internal/emaillogs"
	"github.com/consentdac/backend/internal/middleware"
	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/internal/notifier"
	"github.com/consentdac/backend/internal/roles"
	"github.com/consentdac/backend/internal/store"
	"github.com/consentdac/backend/internal/users"
	"github.com/consentdac/backend/internal/votes"
	"github.com/consentdac/backend/pkg/database"
	"github.com/consentdac/backend/pkg/metrics"
	"github.com/consentdac/backend/pkg/queue"
	"github.com/consentdac/backend/pkg/redis"
	"github.com/consentdac/backend/pkg/response"
	"github.com/consentdac/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Enabled() {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			Bucket:               cfg.AWS.DARBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.ExpireHours)
	if err := users.RegisterValidators(); err != nil {
		logger.Fatal("register validators", zap.Error(err))
	}

	// Repositories on the pool
	userRepo := users.NewRepository(pool)
	electionRepo := elections.NewRepository(pool)
	voteRepo := votes.NewRepository(pool)
	datasetRepo := datasets.NewRepository(pool)
	emailLogsRepo := emaillogs.NewRepository(pool)
	var archive dars.Archiver
	var presign dars.Presigner
	if s3Client != nil {
		archive, presign = s3Client, s3Client
	}
	darRepo := dars.NewRepository(pool, archive, logger)

	// Role transitions and their notifications
	jobQueue := queue.NewQueue(rdb.Client, logger)
	mailer := notifier.New(emailLogsRepo, jobQueue, cfg.Email.ServerURL, logger)
	unitOfWork := store.New(pool)
	roleService := roles.NewService(unitOfWork, darRepo, mailer, roles.Options{
		DACQuorum:       cfg.Voting.DACQuorum,
		DataOwnerQuorum: cfg.Voting.DataOwnerQuorum,
		MinAdmins:       cfg.Voting.MinAdmins,
	}, m, logger)
	electionService := elections.NewService(unitOfWork.Provision, mailer, logger)

	authHandler := auth.NewHandler(userRepo, jwtService, logger)
	userHandler := users.NewHandler(userRepo, roleService, logger)
	electionHandler := elections.NewHandler(electionRepo, electionService, voteRepo, logger)
	voteHandler := votes.NewHandler(voteRepo, electionRepo, userRepo, mailer, logger)
	datasetHandler := datasets.NewHandler(datasetRepo, userRepo, logger)
	darHandler := dars.NewHandler(darRepo, electionRepo, userRepo, mailer, presign, logger)
	emailLogsHandler := emaillogs.NewHandler(emailLogsRepo)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins()))
	router.Use(middleware.Logger(logger, m))

	router.GET("/health", func(c *gin.Context) {
		if err := pool.Ping(c.Request.Context()); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	admin := middleware.RequireRole(models.RoleAdmin)
	committee := middleware.RequireRole(models.RoleAdmin, models.RoleChairperson)

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/me", authHandler.Me)
		api.POST("/auth/refresh", authHandler.Refresh)

		// DAC users and role transitions
		api.POST("/dacuser", admin, userHandler.Create)
		api.GET("/dacuser", admin, userHandler.List)
		api.GET("/dacuser/:email", userHandler.GetByEmail)
		api.PUT("/dacuser/:id", admin, userHandler.Update)
		api.PUT("/dacuser/:id/roles/:role", admin, userHandler.AssignRole)
		api.POST("/dacuser/validateDelegation", admin, userHandler.ValidateDelegation)

		// Elections and votes
		api.POST("/elections", admin, electionHandler.Create)
		api.GET("/elections", electionHandler.List)
		api.GET("/elections/:id", electionHandler.Get)
		api.GET("/elections/:id/votes", electionHandler.Votes)
		api.PUT("/elections/:id/close", committee, electionHandler.Close)
		api.PUT("/votes/:id", voteHandler.Cast)
		api.POST("/votes/:id/reminder", committee, voteHandler.Remind)

		// Datasets
		api.GET("/datasets/:id/owners", datasetHandler.Owners)
		api.POST("/datasets/:id/owners", admin, datasetHandler.AddOwner)

		// Data access requests
		api.POST("/dar", middleware.RequireRole(models.RoleResearcher), darHandler.Create)
		api.GET("/dar/:id", darHandler.Get)
		api.PUT("/dar/cancel/:id", darHandler.Cancel)
		api.POST("/dar/:id/attachments/upload-url", darHandler.UploadURL)

		api.GET("/emails", admin, emailLogsHandler.List)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
