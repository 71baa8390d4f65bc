package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/fulingwei1/non-standard-automation-pms-sub028/internal/config"
	"github.com/fulingwei1/non-standard-automation-pms-sub028/internal/db"
	"github.com/fulingwei1/non-standard-automation-pms-sub028/internal/http/handlers"
	"github.com/fulingwei1/non-standard-automation-pms-sub028/internal/http/middleware"
	"github.com/fulingwei1/non-standard-automation-pms-sub028/internal/service"

	_ "github.com/fulingwei1/non-standard-automation-pms-sub028/docs"
)

func Router(cfg config.Config, store *db.Store, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	breaks := &service.BreakAnalysisService{Store: store, Logger: logger, MaxRecords: cfg.MaxBreakRecords}
	accountability := &service.AccountabilityService{Breaks: breaks, Store: store, Logger: logger}
	sla := &service.SLAService{Store: store, Logger: logger}

	h := &handlers.Handler{
		Store:          store,
		Breaks:         breaks,
		Accountability: accountability,
		SLA:            sla,
		Validator:      validator.New(),
		Logger:         logger,
		AdminKey:       cfg.AdminKey,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/analytics/pipeline-breaks", h.PipelineBreaks)
		api.GET("/analytics/pipeline-breaks/reasons", h.BreakReasons)
		api.GET("/analytics/pipeline-breaks/patterns", h.BreakPatterns)
		api.GET("/analytics/pipeline-breaks/warnings", h.BreakWarnings)
		api.GET("/analytics/accountability/by-stage", h.AccountabilityByStage)
		api.GET("/analytics/accountability/by-person", h.AccountabilityByPerson)
		api.GET("/analytics/accountability/by-department", h.AccountabilityByDepartment)
		api.GET("/analytics/accountability/cost-impact", h.AccountabilityCostImpact)
		api.GET("/sla/policies", h.SLAPolicies)
		api.GET("/sla/monitors/:ticket_id", h.SLAMonitorByTicket)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/sla/sync", h.SLASyncAll)
		admin.POST("/sla/sync/:ticket_id", h.SLASyncTicket)
		admin.GET("/sla/warnings", h.SLAWarnings)
		admin.POST("/sla/monitors/:ticket_id/warnings/:axis/sent", h.SLAMarkWarningSent)
		admin.GET("/sla/runs/latest", h.SLARunsLatest)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
