package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/ultima-training/ultima-api/api/swagger"
	"github.com/ultima-training/ultima-api/internal/handler"
	"github.com/ultima-training/ultima-api/internal/middleware"
	"github.com/ultima-training/ultima-api/internal/models"
	"github.com/ultima-training/ultima-api/internal/repository"
	"github.com/ultima-training/ultima-api/internal/service"
	"github.com/ultima-training/ultima-api/pkg/cache"
	"github.com/ultima-training/ultima-api/pkg/config"
	"github.com/ultima-training/ultima-api/pkg/database"
	"github.com/ultima-training/ultima-api/pkg/logger"
	"github.com/ultima-training/ultima-api/pkg/mailer"
	corsmiddleware "github.com/ultima-training/ultima-api/pkg/middleware/cors"
	reqidmiddleware "github.com/ultima-training/ultima-api/pkg/middleware/requestid"
	"github.com/ultima-training/ultima-api/pkg/storage"
)

// @title Ultima Training API
// @version 1.0.0
// @description Course catalog, enrollment, payments and certificates for the Ultima training platform
// @BasePath /api/v1
// @schemes http https

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	metricsService := service.NewMetricsService()

	var cacheService *service.CacheService
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, catalog cache disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheService = service.NewCacheService(cacheRepo, metricsService, cfg.Catalog.CacheTTL, logr, cfg.Catalog.CacheEnabled)
	}

	store, err := storage.NewLocalStorage(cfg.Certificates.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare certificate storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Certificates.SignedURLSecret, cfg.Certificates.SignedURLTTL)
	mail := mailer.New(cfg.SMTP)
	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	feedbackRepo := repository.NewFeedbackRepository(db)
	certificateRepo := repository.NewCertificateRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "ultima-api",
	})
	userService := service.NewUserService(userRepo, validate, logr)
	pricingService := service.NewPricingService(courseRepo, logr)
	courseService := service.NewCourseService(courseRepo, feedbackRepo, cacheService, validate, logr)
	certificateService := service.NewCertificateService(certificateRepo, enrollmentRepo, userRepo, outboxRepo, store, signer, cfg.Certificates, logr)
	paymentService := service.NewPaymentService(paymentRepo, enrollmentRepo, []service.Gateway{
		service.NewPayPalGateway(cfg.Payments, logr),
		service.NewStripeGateway(cfg.Payments, logr),
		service.NewBankTransferGateway(cfg.Payments),
	}, validate, logr)
	enrollmentService := service.NewEnrollmentService(enrollmentRepo, courseRepo, userRepo, pricingService, paymentService, validate, logr)
	feedbackService := service.NewFeedbackService(feedbackRepo, enrollmentRepo, courseRepo, certificateService, outboxRepo, validate, logr)
	notificationService := service.NewNotificationService(outboxRepo, mail, cfg.Notifications, logr)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	certificateService.Start(workerCtx)
	notificationService.Start(workerCtx)
	go completionSweep(workerCtx, enrollmentService, cfg.Lifecycle.CompletionSweepInterval, logr)

	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	courseHandler := handler.NewCourseHandler(courseService)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentService)
	paymentHandler := handler.NewPaymentHandler(paymentService, logr)
	feedbackHandler := handler.NewFeedbackHandler(feedbackService)
	certificateHandler := handler.NewCertificateHandler(certificateService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/signup", authHandler.Signup)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/forgot-password", authHandler.ForgotPassword)
		auth.POST("/reset-password", authHandler.ResetPassword)
		auth.POST("/logout", middleware.JWT(authService), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authService), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authService), authHandler.Me)
	}

	users := api.Group("/users", middleware.JWT(authService))
	{
		users.GET("", middleware.RequireRoles(models.RoleAdmin), userHandler.List)
		users.GET("/:id", middleware.RBAC("ADMIN", "SELF"), userHandler.Get)
		users.POST("", middleware.RequireRoles(models.RoleAdmin), userHandler.Create)
		users.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Update)
		users.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Delete)
	}

	courses := api.Group("/courses")
	{
		courses.GET("", courseHandler.List)
		courses.GET("/:id", courseHandler.Get)
		staff := courses.Group("", middleware.JWT(authService), middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor), middleware.Audit(userRepo, models.AuditActionCourseModify, "courses"))
		staff.POST("", courseHandler.Create)
		staff.PUT("/:id", courseHandler.Update)
		staff.POST("/:id/sessions", courseHandler.AddSession)
	}

	enrollments := api.Group("/enrollments", middleware.JWT(authService))
	{
		enrollments.GET("", enrollmentHandler.List)
		enrollments.POST("", enrollmentHandler.Register)
		enrollments.GET("/tracking/:number", enrollmentHandler.GetByTracking)
		enrollments.GET("/:id", enrollmentHandler.Get)
		enrollments.PUT("/:id/cancel", enrollmentHandler.Cancel)
		review := enrollments.Group("", middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor), middleware.Audit(userRepo, models.AuditActionEnrollmentReview, "enrollments"))
		review.PUT("/:id/approve", enrollmentHandler.Approve)
		review.PUT("/:id/reject", enrollmentHandler.Reject)
	}

	payments := api.Group("/payments")
	{
		payments.POST("/webhooks/paypal", paymentHandler.PayPalWebhook)
		authed := payments.Group("", middleware.JWT(authService))
		authed.GET("", paymentHandler.List)
		authed.POST("", paymentHandler.Create)
		authed.PUT("/:id/confirm", paymentHandler.Confirm)
		authed.POST("/:id/refund", paymentHandler.RequestRefund)
		admin := authed.Group("", middleware.RequireRoles(models.RoleAdmin), middleware.Audit(userRepo, models.AuditActionPaymentSettle, "payments"))
		admin.PUT("/:id/approve", paymentHandler.ApproveBankTransfer)
		admin.PUT("/refunds/:id", paymentHandler.ResolveRefund)
	}

	feedback := api.Group("/feedback")
	{
		feedback.GET("", middleware.OptionalJWT(authService), feedbackHandler.List)
		feedback.POST("", middleware.JWT(authService), feedbackHandler.Submit)
		review := feedback.Group("", middleware.JWT(authService), middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor))
		review.PUT("/:id/approve", feedbackHandler.Approve)
		review.PUT("/:id/request-changes", feedbackHandler.RequestChanges)
	}

	certificates := api.Group("/certificates")
	{
		certificates.GET("/download", certificateHandler.Download)
		certificates.GET("/verify/:number", certificateHandler.Verify)
		authed := certificates.Group("", middleware.JWT(authService))
		authed.GET("/:enrollmentId", certificateHandler.Get)
		authed.GET("/:enrollmentId/download", certificateHandler.DownloadToken)
	}

	api.GET("/metrics/snapshot", middleware.JWT(authService), middleware.RequireRoles(models.RoleAdmin), metricsHandler.Snapshot)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Info("server starting", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server shutdown failed", zap.Error(err))
	}

	stopWorkers()
	certificateService.Stop()
	notificationService.Stop()
	logr.Info("shutdown complete")
}

// completionSweep periodically moves enrollments of ended sessions to
// completed so students can leave feedback.
func completionSweep(ctx context.Context, enrollments *service.EnrollmentService, interval time.Duration, logr *zap.Logger) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := enrollments.CompleteEndedSessions(ctx, 100)
			if err != nil {
				logr.Error("completion sweep failed", zap.Error(err))
				continue
			}
			if count > 0 {
				logr.Info("completion sweep finished", zap.Int("completed", count))
			}
		}
	}
}
