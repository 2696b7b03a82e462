package router

import (
	"strings"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/transport-admin-api/internal/handler"
	"github.com/noah-isme/transport-admin-api/internal/middleware"
	"github.com/noah-isme/transport-admin-api/internal/models"
	"github.com/noah-isme/transport-admin-api/internal/service"
	"github.com/noah-isme/transport-admin-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/transport-admin-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/transport-admin-api/pkg/middleware/requestid"
)

// Handlers groups every HTTP handler mounted by the router.
type Handlers struct {
	Auth      *handler.AuthHandler
	Grievance *handler.GrievanceHandler
	Dashboard *handler.DashboardHandler
	Tracking  *handler.TrackingHandler
	Export    *handler.ExportHandler
	GPS       *handler.GPSHandler
	Audit     *handler.AuditHandler
	Users     *handler.UserHandler
	Metrics   *handler.MetricsHandler
}

// Options carries the cross-cutting dependencies of the route table.
type Options struct {
	APIPrefix         string
	AllowedOrigins    []string
	EnableDocs        bool
	DatabaseAvailable bool
	Tokens            middleware.TokenValidator
	Audit             middleware.AuditRecorder
	Metrics           *service.MetricsService
	Logger            *zap.Logger
}

// New builds the gin engine with every route mounted.
func New(h Handlers, opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.APIPrefix == "" {
		opts.APIPrefix = "/api/v1"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(opts.Logger))
	r.Use(corsmiddleware.New(opts.AllowedOrigins))
	if opts.Metrics != nil {
		r.Use(middleware.Metrics(opts.Metrics))
	}
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)
	if opts.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// signed token is the credential and the file lives on disk
	r.GET(strings.TrimRight(opts.APIPrefix, "/")+"/exports/:token", h.Export.Download)

	api := r.Group(opts.APIPrefix)
	api.Use(middleware.RequireDatabase(opts.DatabaseAvailable))

	auth := api.Group("/auth")
	auth.POST("/login", h.Auth.Login)
	auth.POST("/refresh", h.Auth.Refresh)

	authed := auth.Group("")
	authed.Use(middleware.JWT(opts.Tokens))
	authed.POST("/logout", h.Auth.Logout)
	authed.GET("/me", h.Auth.Me)
	authed.POST("/change-password", h.Auth.ChangePassword)

	admin := api.Group("/admin")
	admin.Use(middleware.JWT(opts.Tokens), middleware.RequireAdmin())

	grievances := admin.Group("/grievances")
	grievances.GET("", h.Grievance.List)
	grievances.POST("", h.Grievance.Create)
	grievances.GET("/analytics", h.Dashboard.Analytics)
	grievances.GET("/assignee-dashboard", h.Dashboard.AssigneeDashboard)
	grievances.PUT("/assignee-dashboard", h.Dashboard.AssigneeAction)
	grievances.POST("/export", h.Export.Generate)
	grievances.GET("/:id", h.Grievance.Get)
	grievances.PUT("/:id", h.Grievance.Update)
	grievances.DELETE("/:id", h.Grievance.Delete)
	grievances.GET("/:id/assignments", h.Grievance.Assignments)
	grievances.GET("/:id/communications", h.Grievance.Communications)
	grievances.POST("/:id/communications",
		middleware.Audit(opts.Audit, models.AuditActionCreate, "grievance_communication"),
		h.Grievance.AddCommunication)

	gpsGroup := admin.Group("/gps")
	gpsGroup.POST("/mercyda-sync", h.GPS.VendorSync)
	gpsGroup.GET("/devices", h.GPS.Devices)
	gpsGroup.GET("/devices/:id", h.GPS.Device)
	gpsGroup.PUT("/devices/:id/location", h.GPS.RecordLocation)
	gpsGroup.POST("/devices/:id/sms-poll",
		middleware.Audit(opts.Audit, models.AuditActionUpdate, "gps_device"),
		h.GPS.SMSPoll)
	gpsGroup.GET("/live", h.GPS.Live)
	gpsGroup.GET("/live/ws", h.GPS.LiveStream)

	admin.GET("/users/assignees", h.Users.Assignees)

	auditLogs := admin.Group("/audit-logs")
	auditLogs.GET("", h.Audit.List)
	auditLogs.DELETE("", middleware.RequireRoles(models.RoleSuperAdmin), h.Audit.Cleanup)

	student := api.Group("/student")
	student.Use(middleware.JWT(opts.Tokens), middleware.RequireStudent())
	student.GET("/grievances/tracking", h.Tracking.Track)
	student.POST("/grievances/tracking",
		middleware.Audit(opts.Audit, models.AuditActionCreate, "grievance_communication"),
		h.Tracking.Submit)

	return r
}
