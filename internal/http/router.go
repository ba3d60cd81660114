package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/docqa-backend/internal/http/handlers"
	httpMW "github.com/yungbote/docqa-backend/internal/http/middleware"
	"github.com/yungbote/docqa-backend/internal/observability"
	"github.com/yungbote/docqa-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log     *logger.Logger
	Metrics *observability.Metrics

	UploadHandler *httpH.UploadHandler
	QueryHandler  *httpH.QueryHandler
	HealthHandler *httpH.HealthHandler

	// StaticDir exposes the upload tree (originals, page renders, table and
	// picture crops) under /uploads when set.
	StaticDir string

	TracingEnabled bool
	ServiceName    string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = 32 << 20

	r.Use(gin.Recovery())
	if cfg.TracingEnabled {
		name := cfg.ServiceName
		if name == "" {
			name = "docqa-backend"
		}
		r.Use(otelgin.Middleware(name))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/health", cfg.HealthHandler.HealthCheck)
	}

	// Ingestion
	if cfg.UploadHandler != nil {
		r.POST("/upload", cfg.UploadHandler.Upload)
	}

	// Query
	if cfg.QueryHandler != nil {
		r.POST("/query", cfg.QueryHandler.Query)
		r.GET("/query/:question", cfg.QueryHandler.QueryByPath)
	}

	// Metrics exposition
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	if cfg.StaticDir != "" {
		r.Static("/uploads", cfg.StaticDir)
	}

	return r
}
