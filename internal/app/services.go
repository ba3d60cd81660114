package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/docqa-backend/internal/ingestion"
	"github.com/yungbote/docqa-backend/internal/ingestion/chunker"
	"github.com/yungbote/docqa-backend/internal/platform/logger"
	"github.com/yungbote/docqa-backend/internal/rag"
	"github.com/yungbote/docqa-backend/internal/storage"
	"github.com/yungbote/docqa-backend/internal/vector"
)

type Services struct {
	Ingestion ingestion.Service
	Rag       rag.Service
}

func wireServices(
	db *gorm.DB,
	store vector.Store,
	files storage.Store,
	clients Clients,
	reposet Repos,
	cfg Config,
	log *logger.Logger,
) (Services, error) {
	log.Info("Wiring services...")

	chunk, err := chunker.New()
	if err != nil {
		return Services{}, fmt.Errorf("init chunker: %w", err)
	}

	ingestSvc := ingestion.New(
		db,
		store,
		files,
		clients.Bridge,
		chunk,
		clients.Embedder,
		clients.Renderer,
		reposet.Asset,
		reposet.TableBody,
		cfg.Ingest,
		log,
	)

	prompts := rag.LoadPrompts(cfg.PromptsFile, log)
	var cache rag.QueryEmbedCache
	if clients.EmbedCache != nil {
		cache = clients.EmbedCache
	}
	ragSvc := rag.New(
		store,
		clients.Embedder,
		clients.Generator,
		cache,
		prompts,
		cfg.Rag,
		log,
	)

	return Services{
		Ingestion: ingestSvc,
		Rag:       ragSvc,
	}, nil
}
