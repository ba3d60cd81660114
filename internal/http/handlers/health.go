package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/docqa-backend/internal/http/response"
	"github.com/yungbote/docqa-backend/internal/vector"
)

// HealthInfo is the static slice of configuration the health endpoint
// reports back to operators.
type HealthInfo struct {
	EmbURL     string
	LLMURL     string
	StorageDir string

	FastMode    bool
	RenderPages bool
	TableIndex  bool
}

type HealthHandler struct {
	store vector.Store
	info  HealthInfo
}

func NewHealthHandler(store vector.Store, info HealthInfo) *HealthHandler {
	return &HealthHandler{store: store, info: info}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	loaded := false
	size := 0
	if h.store != nil {
		loaded = h.store.Loaded()
		size = h.store.Size()
	}
	response.RespondOK(c, gin.H{
		"ok":      true,
		"emb_url": h.info.EmbURL,
		"llm_url": h.info.LLMURL,
		"storage": h.info.StorageDir,
		"flags": gin.H{
			"fast_mode":    h.info.FastMode,
			"render_pages": h.info.RenderPages,
			"table_index":  h.info.TableIndex,
		},
		"index": gin.H{
			"loaded": loaded,
			"size":   size,
		},
	})
}
