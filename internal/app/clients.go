package app

import (
	"fmt"
	"strings"

	"github.com/yungbote/docqa-backend/internal/clients/redis"
	"github.com/yungbote/docqa-backend/internal/platform/embedding"
	"github.com/yungbote/docqa-backend/internal/platform/generation"
	"github.com/yungbote/docqa-backend/internal/platform/logger"
	"github.com/yungbote/docqa-backend/internal/platform/parser"
	"github.com/yungbote/docqa-backend/internal/platform/pdfrender"
)

type Clients struct {
	Embedder   embedding.Client
	Generator  generation.Client
	Bridge     parser.Bridge
	Renderer   pdfrender.Renderer
	EmbedCache redis.EmbedCache
}

func wireClients(cfg Config, log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	embedder, err := embedding.NewFromEnv(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init embedding client: %w", err)
	}
	generator, err := generation.NewFromEnv(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init generation client: %w", err)
	}
	bridge, err := parser.NewFromEnv(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init parser bridge: %w", err)
	}
	renderer, err := pdfrender.NewFromEnv(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init pdf renderer: %w", err)
	}

	// Redis is optional: no address means no query-embedding cache.
	var cache redis.EmbedCache
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		c, err := redis.NewEmbedCache(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis embed cache: %w", err)
		}
		cache = c
	}

	return Clients{
		Embedder:   embedder,
		Generator:  generator,
		Bridge:     bridge,
		Renderer:   renderer,
		EmbedCache: cache,
	}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.EmbedCache != nil {
		_ = c.EmbedCache.Close()
	}
}
