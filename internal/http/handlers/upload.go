package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/docqa-backend/internal/http/response"
	"github.com/yungbote/docqa-backend/internal/ingestion"
	"github.com/yungbote/docqa-backend/internal/observability"
	"github.com/yungbote/docqa-backend/internal/platform/logger"
)

// maxUploadBytes caps one uploaded document at 100 MB.
const maxUploadBytes = 100 << 20

type UploadHandler struct {
	log     *logger.Logger
	ingest  ingestion.Service
	metrics *observability.Metrics
}

func NewUploadHandler(log *logger.Logger, ingest ingestion.Service, metrics *observability.Metrics) *UploadHandler {
	return &UploadHandler{
		log:     log.With("handler", "UploadHandler"),
		ingest:  ingest,
		metrics: metrics,
	}
}

// Upload accepts one multipart document under the "file" field, runs the
// ingestion pipeline, and reports what it produced.
func (h *UploadHandler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	if fh.Size > maxUploadBytes {
		response.RespondError(c, http.StatusRequestEntityTooLarge, "file_too_large",
			fmt.Errorf("file %q is %d bytes; limit is %d", fh.Filename, fh.Size, maxUploadBytes))
		return
	}

	f, err := fh.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_multipart_form", err)
		return
	}
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	_ = f.Close()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_multipart_form", err)
		return
	}
	if len(data) > maxUploadBytes {
		response.RespondError(c, http.StatusRequestEntityTooLarge, "file_too_large",
			fmt.Errorf("file %q exceeds %d bytes", fh.Filename, maxUploadBytes))
		return
	}

	mime := fh.Header.Get("Content-Type")
	kind := string(ingestion.ClassifyKind(fh.Filename, mime, head(data, 8)))

	start := time.Now()
	receipt, err := h.ingest.Ingest(c.Request.Context(), data, fh.Filename, mime)
	if err != nil {
		h.metrics.ObserveIngest(kind, "error", time.Since(start))
		h.log.Error("ingest failed", "filename", fh.Filename, "kind", kind, "error", err)
		var ie *ingestion.IngestError
		if errors.As(err, &ie) {
			response.RespondError(c, http.StatusInternalServerError, "ingest_failed", ie)
			return
		}
		response.RespondAPIError(c, err)
		return
	}

	h.metrics.ObserveIngest(kind, "ok", time.Since(start))
	h.metrics.AddFragments("prose", receipt.Stored)
	h.metrics.AddFragments("image_caption", receipt.ImageCaptionChunks)
	h.log.Info("ingest complete",
		"filename", fh.Filename,
		"kind", kind,
		"chunks", receipt.Chunks,
		"stored", receipt.Stored,
		"tables", receipt.Tables,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	response.RespondOK(c, gin.H{
		"ok":                   true,
		"chunks":               receipt.Chunks,
		"stored":               receipt.Stored,
		"tables":               receipt.Tables,
		"pages":                receipt.Pages,
		"image_caption_chunks": receipt.ImageCaptionChunks,
	})
}

func head(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}
