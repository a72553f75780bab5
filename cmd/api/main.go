package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lesson-scheduler-api/internal/handler"
	"github.com/noah-isme/lesson-scheduler-api/internal/ledger"
	"github.com/noah-isme/lesson-scheduler-api/internal/middleware"
	"github.com/noah-isme/lesson-scheduler-api/internal/models"
	"github.com/noah-isme/lesson-scheduler-api/internal/repository"
	"github.com/noah-isme/lesson-scheduler-api/internal/service"
	"github.com/noah-isme/lesson-scheduler-api/pkg/cache"
	"github.com/noah-isme/lesson-scheduler-api/pkg/config"
	"github.com/noah-isme/lesson-scheduler-api/pkg/database"
	"github.com/noah-isme/lesson-scheduler-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lesson-scheduler-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lesson-scheduler-api/pkg/middleware/requestid"
	"github.com/noah-isme/lesson-scheduler-api/pkg/mq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Directory lookups degrade to uncached reads without Redis.
		logr.Warn("redis unavailable, continuing without cache", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	var publisher *mq.Publisher
	if cfg.AMQP.URL != "" {
		publisher, err = mq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			logr.Warn("amqp unavailable, events will be logged only", zap.Error(err))
			publisher = nil
		} else {
			defer publisher.Close()
		}
	}

	validate := validator.New()
	resourceLedger := ledger.New()

	bookingRepo := repository.NewBookingRepository(db)
	cancellationRepo := repository.NewCancellationRepository(db)
	makeupRepo := repository.NewMakeupRepository(db)
	directoryRepo := repository.NewDirectoryRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metrics := service.NewMetricsService()
	var dispatcherPublisher service.EventPublisher
	if publisher != nil {
		dispatcherPublisher = publisher
	}
	notifier := service.NewNotifierService(dispatcherPublisher, cfg.Notifier, logr)
	directory := service.NewDirectoryService(directoryRepo, cacheRepo, cfg.Directory.CacheTTL, logr)
	expander := service.NewRecurrenceExpander(cfg.Scheduling.SeriesHorizonDays, cfg.Scheduling.SeriesMaxOccurrences)

	bookings := service.NewBookingService(bookingRepo, directory, resourceLedger, expander, notifier, metrics, validate, logr)
	makeups := service.NewMakeupService(makeupRepo, bookings, notifier, metrics, cfg.Scheduling.MakeupWindow, logr)
	bookings.SetMakeupCompleter(makeups)
	cancellations := service.NewCancellationService(cancellationRepo, bookings, makeups, notifier, metrics, cfg.Scheduling.CancellationLeadTime, validate, logr)

	bootstrapCtx, cancelBootstrap := context.WithTimeout(context.Background(), 30*time.Second)
	if err := bookings.Bootstrap(bootstrapCtx); err != nil {
		cancelBootstrap()
		logr.Fatal("failed to rebuild resource ledger", zap.Error(err))
	}
	cancelBootstrap()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	notifier.Start(ctx)
	defer notifier.Stop()

	verifier := middleware.NewTokenVerifier(cfg.JWT)
	bookingHandler := handler.NewBookingHandler(bookings)
	cancellationHandler := handler.NewCancellationHandler(cancellations)
	makeupHandler := handler.NewMakeupHandler(makeups)
	maintenanceHandler := handler.NewMaintenanceHandler(makeups, bookings)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group(cfg.APIPrefix)
	v1.Use(middleware.JWT(verifier))
	{
		lessons := v1.Group("/lessons")
		{
			lessons.GET("", bookingHandler.List)
			lessons.GET("/:id", bookingHandler.Get)
			lessons.POST("", middleware.RequireRoles(models.RoleAdmin, models.RoleTutor), bookingHandler.Create)
			lessons.POST("/series", middleware.RequireRoles(models.RoleAdmin, models.RoleTutor), bookingHandler.CreateSeries)
			lessons.PATCH("/:id/move", middleware.RequireRoles(models.RoleAdmin, models.RoleTutor), bookingHandler.Move)
			lessons.PATCH("/:id/resize", middleware.RequireRoles(models.RoleAdmin, models.RoleTutor), bookingHandler.Resize)
			lessons.POST("/:id/students", middleware.RequireRoles(models.RoleAdmin, models.RoleTutor), bookingHandler.AddStudent)
			lessons.DELETE("/:id/students/:studentId", middleware.RequireRoles(models.RoleAdmin, models.RoleTutor), bookingHandler.RemoveStudent)
			lessons.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), bookingHandler.Cancel)
		}

		cancellationsGroup := v1.Group("/cancellations")
		{
			cancellationsGroup.GET("", cancellationHandler.List)
			cancellationsGroup.GET("/:id", cancellationHandler.Get)
			cancellationsGroup.POST("", middleware.RequireRoles(models.RoleStudent), cancellationHandler.Request)
			cancellationsGroup.POST("/:id/approve", middleware.RequireRoles(models.RoleAdmin), cancellationHandler.Approve)
			cancellationsGroup.POST("/:id/reject", middleware.RequireRoles(models.RoleAdmin), cancellationHandler.Reject)
		}

		makeupsGroup := v1.Group("/makeups")
		{
			makeupsGroup.GET("", makeupHandler.List)
			makeupsGroup.GET("/:id", makeupHandler.Get)
			makeupsGroup.POST("/:id/schedule", middleware.RequireRoles(models.RoleAdmin, models.RoleTutor), makeupHandler.Schedule)
			makeupsGroup.POST("/:id/extend", middleware.RequireRoles(models.RoleAdmin), makeupHandler.Extend)
		}

		maintenance := v1.Group("/maintenance", middleware.RequireRoles(models.RoleAdmin))
		{
			maintenance.POST("/makeups/sweep", maintenanceHandler.SweepMakeups)
			maintenance.POST("/lessons/advance", maintenanceHandler.AdvanceLessons)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}
