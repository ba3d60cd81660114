package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/docqa-backend/internal/http/response"
	"github.com/yungbote/docqa-backend/internal/observability"
	"github.com/yungbote/docqa-backend/internal/platform/generation"
	"github.com/yungbote/docqa-backend/internal/platform/logger"
	"github.com/yungbote/docqa-backend/internal/rag"
)

// maxQuestionChars caps one question at 8,000 characters.
const maxQuestionChars = 8000

type QueryHandler struct {
	log     *logger.Logger
	rag     rag.Service
	metrics *observability.Metrics
}

func NewQueryHandler(log *logger.Logger, ragSvc rag.Service, metrics *observability.Metrics) *QueryHandler {
	return &QueryHandler{
		log:     log.With("handler", "QueryHandler"),
		rag:     ragSvc,
		metrics: metrics,
	}
}

type queryRequest struct {
	Question     string               `json:"question"`
	MatchCount   int                  `json:"match_count"`
	History      []generation.Message `json:"history"`
	MaxNewTokens int                  `json:"max_new_tokens"`
	Temperature  float64              `json:"temperature"`
	TopP         float64              `json:"top_p"`
}

// Query answers a JSON question body.
func (h *QueryHandler) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	h.answer(c, req)
}

// QueryByPath answers a path-encoded question with no history and default
// generation parameters.
func (h *QueryHandler) QueryByPath(c *gin.Context) {
	question := c.Param("question")
	if decoded, err := url.PathUnescape(question); err == nil {
		question = decoded
	}
	h.answer(c, queryRequest{Question: question})
}

func (h *QueryHandler) answer(c *gin.Context, req queryRequest) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		response.RespondError(c, http.StatusBadRequest, "question_required", fmt.Errorf("question is required"))
		return
	}
	if n := utf8.RuneCountInString(question); n > maxQuestionChars {
		response.RespondError(c, http.StatusRequestEntityTooLarge, "question_too_long",
			fmt.Errorf("question is %d chars; limit is %d", n, maxQuestionChars))
		return
	}

	start := time.Now()
	res, err := h.rag.Answer(c.Request.Context(), question, req.History, rag.Params{
		MatchCount:   req.MatchCount,
		MaxNewTokens: req.MaxNewTokens,
		Temperature:  req.Temperature,
		TopP:         req.TopP,
	})
	if err != nil {
		h.metrics.ObserveAnswer("unknown", "error", time.Since(start))
		h.log.Error("answer failed", "error", err)
		response.RespondAPIError(c, err)
		return
	}

	h.metrics.ObserveAnswer(res.RagMode, "ok", time.Since(start))
	response.RespondOK(c, gin.H{
		"ok":       true,
		"mode":     "json",
		"answer":   res.Answer,
		"sources":  res.Sources,
		"rag_mode": res.RagMode,
	})
}
