package app

import (
	"github.com/yungbote/docqa-backend/internal/ingestion"
	"github.com/yungbote/docqa-backend/internal/platform/envutil"
	"github.com/yungbote/docqa-backend/internal/platform/logger"
	"github.com/yungbote/docqa-backend/internal/rag"
)

// Config carries the app-level settings. The platform clients (embedding,
// generation, parser bridge, renderer, database, redis) read their own
// EMB_* / LLM_* / PARSER_* / DB_* / REDIS_* variables in their NewFromEnv
// constructors.
type Config struct {
	Port    string
	GinMode string

	StorageDir string

	Ingest ingestion.Config
	Rag    rag.Config

	PromptsFile string
	RedisAddr   string
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		Port:    envutil.GetEnv("PORT", "8080", log),
		GinMode: envutil.GetEnv("GIN_MODE", "release", log),

		StorageDir: envutil.GetEnv("STORAGE_DIR", "uploads", log),

		Ingest: ingestion.Config{
			ChunkMaxTokens:     envutil.GetEnvAsInt("CHUNK_SIZE_TOKENS", 800, log),
			ChunkOverlapTokens: envutil.GetEnvAsInt("CHUNK_OVERLAP_TOKENS", 120, log),
			MaxChunksEmb:       envutil.GetEnvAsInt("MAX_CHUNKS_EMB", 0, log),
			FastMode:           envutil.GetEnvAsBool("FAST_MODE", false, log),
			RenderPages:        envutil.GetEnvAsBool("RENDER_PAGES", false, log),
			TableIndex:         envutil.GetEnvAsBool("ENABLE_TABLE_INDEX", true, log),
			MaxTableRowsEmb:    envutil.GetEnvAsInt("MAX_TABLE_ROWS_EMB", 50, log),
			MaxCaptionPages:    envutil.GetEnvAsInt("MAX_CAPTION_PAGES", 20, log),
			HWPConverter:       envutil.GetEnv("HWP2TXT_EXE", "", log),
			InsertConcurrency:  envutil.GetEnvAsInt("INGEST_CONCURRENCY", 8, log),
		},

		Rag: rag.Config{
			RetrieveMin:     envutil.GetEnvAsFloat("RETRIEVE_MIN", 0.35, log),
			UseAsCtxMin:     envutil.GetEnvAsFloat("USE_AS_CTX_MIN", 0.60, log),
			MinTop3Avg:      envutil.GetEnvAsFloat("MIN_TOP3_AVG", 0.55, log),
			TextK:           envutil.GetEnvAsInt("TEXT_K", 5, log),
			TableK:          envutil.GetEnvAsInt("TABLE_K", 10, log),
			ImageK:          envutil.GetEnvAsInt("IMAGE_K", 4, log),
			MaxCtxChars:     envutil.GetEnvAsInt("MAX_CTX_CHARS", 4000, log),
			HistoryMaxTurns: envutil.GetEnvAsInt("HISTORY_MAX_TURNS", 50, log),
			IntentTimeoutMS: envutil.GetEnvAsInt("INTENT_TIMEOUT_MS", 5000, log),
		},

		PromptsFile: envutil.GetEnv("PROMPTS_FILE", "", log),
		RedisAddr:   envutil.GetEnv("REDIS_ADDR", "", log),
	}
}
