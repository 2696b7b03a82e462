package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/transport-admin-api/api/swagger"
	"github.com/noah-isme/transport-admin-api/internal/gps"
	"github.com/noah-isme/transport-admin-api/internal/handler"
	"github.com/noah-isme/transport-admin-api/internal/realtime"
	"github.com/noah-isme/transport-admin-api/internal/repository"
	"github.com/noah-isme/transport-admin-api/internal/router"
	"github.com/noah-isme/transport-admin-api/internal/service"
	"github.com/noah-isme/transport-admin-api/pkg/cache"
	"github.com/noah-isme/transport-admin-api/pkg/config"
	"github.com/noah-isme/transport-admin-api/pkg/database"
	"github.com/noah-isme/transport-admin-api/pkg/jobs"
	"github.com/noah-isme/transport-admin-api/pkg/logger"
	"github.com/noah-isme/transport-admin-api/pkg/storage"
)

// @title Transport Admin API
// @version 1.0.0
// @description Grievance lifecycle, GPS ingestion and audit endpoints for the transport admin dashboard
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const exportSweepInterval = time.Hour

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db := connectDatabase(ctx, cfg, logr)
	if db != nil {
		defer db.Close()
	}
	redisClient := connectRedis(ctx, cfg, logr)
	if redisClient != nil {
		defer redisClient.Close()
	}
	natsConn := connectNATS(cfg, logr)
	if natsConn != nil {
		defer natsConn.Drain() //nolint:errcheck
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, cfg.Redis.Namespace, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Dashboard.CacheTTL, logr, cfg.Dashboard.Enabled)

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	grievanceRepo := repository.NewGrievanceRepository(db)
	gpsRepo := repository.NewGPSRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	auditSvc := service.NewAuditService(auditRepo, logr, cfg.Audit.RetentionDays)
	authSvc := service.NewAuthService(userRepo, auditSvc, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "transport-admin-api",
	})

	grievanceSvc := service.NewGrievanceService(
		grievanceRepo, studentRepo, userRepo, auditSvc, eventPublisher(natsConn, cfg, logr),
		cacheSvc, metricsSvc, validate, logr,
		service.GrievanceConfig{
			DefaultSLAHours: cfg.Grievances.DefaultSLAHours,
			SLAHours:        cfg.Grievances.SLAHours,
			AutoAssign:      cfg.Grievances.AutoAssign,
		},
	)
	dashboardSvc := service.NewDashboardService(service.DashboardServiceParams{
		Store:     grievanceRepo,
		Grievance: grievanceSvc,
		Users:     userRepo,
		Cache:     cacheSvc,
		Validator: validate,
		Logger:    logr,
		Config:    service.DashboardServiceConfig{CacheTTL: cfg.Dashboard.CacheTTL},
	})

	exportSvc := buildExportService(cfg, grievanceSvc, auditSvc, logr)

	httpClient := &http.Client{Timeout: cfg.GPS.HTTPTimeout}
	vendor := gps.NewVendorSource(gps.VendorConfig{
		BaseURL:    cfg.GPS.VendorBaseURL,
		Username:   cfg.GPS.VendorUsername,
		Password:   cfg.GPS.VendorPassword,
		AuthFormat: cfg.GPS.VendorAuthFormat,
		LoginPaths: cfg.GPS.VendorLoginPaths,
		ListPath:   cfg.GPS.VendorListPath,
		Timeout:    cfg.GPS.HTTPTimeout,
	}, httpClient)
	sms := gps.NewSMSSource(gps.SMSConfig{
		GatewayURL: cfg.GPS.SMSGatewayURL,
		APIKey:     cfg.GPS.SMSAPIKey,
		ReplyWait:  cfg.GPS.SMSReplyWait,
		Timeout:    cfg.GPS.HTTPTimeout,
	}, httpClient)

	gpsParams := service.GPSServiceParams{
		Store:     gpsRepo,
		Vendor:    vendor,
		SMS:       sms,
		Cache:     cacheSvc,
		Metrics:   metricsSvc,
		Audit:     auditSvc,
		Validator: validate,
		Logger:    logr,
		Config: service.GPSServiceConfig{
			SyncWorkers:  cfg.GPS.SyncWorkers,
			LiveCacheTTL: cfg.GPS.LiveCacheTTL,
		},
	}
	var hub *realtime.Hub
	if cfg.Realtime.Enabled {
		hub = realtime.NewHub(logr, metricsSvc.SetRealtimeClients)
		go hub.Run(ctx)
		gpsParams.Hub = hub
	}
	gpsSvc := service.NewGPSService(gpsParams)

	pollQueue := jobs.NewQueue("gps-sms-poll", gpsSvc.HandleSMSPollJob, jobs.QueueConfig{
		Workers:    cfg.GPS.PollWorkers,
		MaxRetries: 2,
		RetryDelay: 5 * time.Second,
		JobTimeout: gps.PollBudget(cfg.GPS.SMSReplyWait, cfg.GPS.HTTPTimeout),
		Logger:     logr,
		OnExhaust: func(job jobs.Job, err error) {
			logr.Warn("sms poll abandoned", zap.String("job_id", job.ID), zap.Int("attempts", job.Attempt), zap.Error(err))
		},
	})
	pollQueue.Start(ctx)
	defer pollQueue.Stop()
	gpsSvc.AttachQueue(pollQueue)

	handlers := router.Handlers{
		Auth:      handler.NewAuthHandler(authSvc),
		Grievance: handler.NewGrievanceHandler(grievanceSvc),
		Dashboard: handler.NewDashboardHandler(dashboardSvc),
		Tracking:  handler.NewTrackingHandler(grievanceSvc),
		Export:    handler.NewExportHandler(exportSvc),
		GPS:       newGPSHandler(gpsSvc, hub),
		Audit:     handler.NewAuditHandler(auditSvc),
		Users:     handler.NewUserHandler(service.NewUserService(userRepo, grievanceRepo, cacheSvc, cfg.Dashboard.CacheTTL, logr)),
		Metrics:   handler.NewMetricsHandler(metricsSvc, readinessChecks(db, redisClient)),
	}

	engine := router.New(handlers, router.Options{
		APIPrefix:         cfg.APIPrefix,
		AllowedOrigins:    cfg.CORS.AllowedOrigins,
		EnableDocs:        cfg.Env != config.EnvProduction,
		DatabaseAvailable: db != nil,
		Tokens:            authSvc,
		Audit:             auditSvc,
		Metrics:           metricsSvc,
		Logger:            logr,
	})

	go sweepExports(ctx, exportSvc, logr)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "database", db != nil, "realtime", hub != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

// connectDatabase returns nil when credentials are missing or the server is unreachable; the API
// then answers data routes with a configuration error.
func connectDatabase(ctx context.Context, cfg *config.Config, logr *zap.Logger) *sqlx.DB {
	if !cfg.Database.Configured() {
		logr.Warn("database credentials missing, starting without persistence")
		return nil
	}
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Error("database unavailable, starting without persistence", zap.Error(err))
		return nil
	}
	return db
}

func connectRedis(ctx context.Context, cfg *config.Config, logr *zap.Logger) *redis.Client {
	client, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		return nil
	}
	return client
}

func connectNATS(cfg *config.Config, logr *zap.Logger) *nats.Conn {
	if cfg.NATS.URL == "" {
		return nil
	}
	conn, err := nats.Connect(cfg.NATS.URL,
		nats.Name("transport-admin-api"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logr.Warn("nats disconnected", zap.Error(err))
		}),
	)
	if err != nil {
		logr.Warn("nats unavailable, grievance events disabled", zap.Error(err))
		return nil
	}
	return conn
}

func eventPublisher(conn *nats.Conn, cfg *config.Config, logr *zap.Logger) *service.NATSEventPublisher {
	return service.NewNATSEventPublisher(conn, cfg.NATS.SubjectPrefix, logr)
}

func buildExportService(cfg *config.Config, grievances *service.GrievanceService, audit *service.AuditService, logr *zap.Logger) *service.ExportService {
	signer := storage.NewDownloadSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	files, err := storage.NewExportStore(cfg.Exports.StorageDir)
	if err != nil {
		logr.Warn("export storage unavailable", zap.String("dir", cfg.Exports.StorageDir), zap.Error(err))
		return service.NewExportService(grievances, nil, signer, audit, service.ExportConfig{APIPrefix: cfg.APIPrefix}, logr)
	}
	return service.NewExportService(grievances, files, signer, audit, service.ExportConfig{APIPrefix: cfg.APIPrefix}, logr)
}

func newGPSHandler(svc *service.GPSService, hub *realtime.Hub) *handler.GPSHandler {
	if hub == nil {
		return handler.NewGPSHandler(svc, nil)
	}
	return handler.NewGPSHandler(svc, hub)
}

func readinessChecks(db *sqlx.DB, redisClient *redis.Client) map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{}
	if db != nil {
		checks["database"] = db.PingContext
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	return checks
}

func sweepExports(ctx context.Context, exports *service.ExportService, logr *zap.Logger) {
	ticker := time.NewTicker(exportSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := exports.Cleanup(0)
			if err != nil {
				logr.Warn("export sweep failed", zap.Error(err))
				continue
			}
			if len(removed) > 0 {
				logr.Info("expired exports removed", zap.Int("count", len(removed)))
			}
		}
	}
}
