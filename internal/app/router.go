package app

import (
	"github.com/gin-gonic/gin"

	docqahttp "github.com/yungbote/docqa-backend/internal/http"
	"github.com/yungbote/docqa-backend/internal/observability"
	"github.com/yungbote/docqa-backend/internal/platform/logger"
)

func wireRouter(cfg Config, log *logger.Logger, metrics *observability.Metrics, handlers Handlers) *docqahttp.Server {
	gin.SetMode(cfg.GinMode)
	return docqahttp.NewServer(":"+cfg.Port, docqahttp.RouterConfig{
		Log:     log,
		Metrics: metrics,

		UploadHandler: handlers.Upload,
		QueryHandler:  handlers.Query,
		HealthHandler: handlers.Health,

		StaticDir:      cfg.StorageDir,
		TracingEnabled: observability.TracingEnabled(),
		ServiceName:    "docqa-backend",
	})
}
