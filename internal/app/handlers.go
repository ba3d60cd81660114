package app

import (
	"github.com/yungbote/docqa-backend/internal/http/handlers"
	"github.com/yungbote/docqa-backend/internal/observability"
	"github.com/yungbote/docqa-backend/internal/platform/logger"
	"github.com/yungbote/docqa-backend/internal/vector"
)

type Handlers struct {
	Upload *handlers.UploadHandler
	Query  *handlers.QueryHandler
	Health *handlers.HealthHandler
}

func wireHandlers(
	log *logger.Logger,
	services Services,
	store vector.Store,
	clients Clients,
	cfg Config,
	metrics *observability.Metrics,
) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Upload: handlers.NewUploadHandler(log, services.Ingestion, metrics),
		Query:  handlers.NewQueryHandler(log, services.Rag, metrics),
		Health: handlers.NewHealthHandler(store, handlers.HealthInfo{
			EmbURL:      clients.Embedder.BaseURL(),
			LLMURL:      clients.Generator.BaseURL(),
			StorageDir:  cfg.StorageDir,
			FastMode:    cfg.Ingest.FastMode,
			RenderPages: cfg.Ingest.RenderPages,
			TableIndex:  cfg.Ingest.TableIndex,
		}),
	}
}
