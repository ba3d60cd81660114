package rag

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/yungbote/docqa-backend/internal/pkg/textutil"
	"github.com/yungbote/docqa-backend/internal/platform/apierr"
	"github.com/yungbote/docqa-backend/internal/platform/embedding"
	"github.com/yungbote/docqa-backend/internal/platform/generation"
	"github.com/yungbote/docqa-backend/internal/platform/logger"
	"github.com/yungbote/docqa-backend/internal/types"
	"github.com/yungbote/docqa-backend/internal/vector"
)

const (
	RagModeSmalltalk = "smalltalk"
	RagModePlain     = "rag-plain"
	RagModeTable     = "rag-table"
	RagModeGeneral   = "general"

	// fragmentTrimChars bounds a single context fragment; longer content
	// keeps its head and tail with the middle collapsed.
	fragmentTrimChars = 1600

	defaultMaxTokens   = 600
	defaultTemperature = 0.2
	defaultTopP        = 0.9
)

// Source cites one fragment that entered the context window.
type Source struct {
	Filename string  `json:"filename"`
	Page     *int    `json:"page,omitempty"`
	Type     string  `json:"type"`
	Score    float64 `json:"score"`
}

type Result struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
	RagMode string   `json:"rag_mode"`
}

// Params are the per-request generation overrides; zero means default.
// MatchCount overrides the prose slice's K.
type Params struct {
	MatchCount   int
	MaxNewTokens int
	Temperature  float64
	TopP         float64
}

type Config struct {
	RetrieveMin float64
	UseAsCtxMin float64
	MinTop3Avg  float64

	TextK  int
	TableK int
	ImageK int

	MaxCtxChars     int
	HistoryMaxTurns int

	// IntentTimeoutMS bounds the plain-vs-table classifier call.
	IntentTimeoutMS int
}

// QueryEmbedCache is an optional read-through cache for query-mode
// embeddings. Implementations must treat errors as misses.
type QueryEmbedCache interface {
	Get(ctx context.Context, model string, mode string, text string) ([]float32, bool)
	Put(ctx context.Context, model string, mode string, text string, vec []float32)
}

// Service answers questions over the ingested corpus.
type Service interface {
	Answer(ctx context.Context, question string, history []generation.Message, params Params) (*Result, error)
}

type service struct {
	store     vector.Store
	embedder  embedding.Client
	generator generation.Client
	cache     QueryEmbedCache
	prompts   Prompts
	cfg       Config
	log       *logger.Logger
}

// New wires the routing core. cache may be nil; every other dependency
// is required.
func New(
	store vector.Store,
	embedder embedding.Client,
	generator generation.Client,
	cache QueryEmbedCache,
	prompts Prompts,
	cfg Config,
	baseLog *logger.Logger,
) Service {
	if cfg.RetrieveMin <= 0 {
		cfg.RetrieveMin = 0.35
	}
	if cfg.UseAsCtxMin <= 0 {
		cfg.UseAsCtxMin = 0.60
	}
	if cfg.MinTop3Avg <= 0 {
		cfg.MinTop3Avg = 0.55
	}
	if cfg.TextK <= 0 {
		cfg.TextK = 5
	}
	if cfg.TableK <= 0 {
		cfg.TableK = 10
	}
	if cfg.ImageK <= 0 {
		cfg.ImageK = 4
	}
	if cfg.MaxCtxChars <= 0 {
		cfg.MaxCtxChars = 4000
	}
	if cfg.HistoryMaxTurns <= 0 {
		cfg.HistoryMaxTurns = 50
	}
	if cfg.IntentTimeoutMS <= 0 {
		cfg.IntentTimeoutMS = defaultIntentTimeoutMS
	}
	return &service{
		store:     store,
		embedder:  embedder,
		generator: generator,
		cache:     cache,
		prompts:   prompts,
		cfg:       cfg,
		log:       baseLog.With("service", "RagService"),
	}
}

// Answer routes the question through one of four regimes: smalltalk
// (regex shortcut), document-grounded plain or table (confidence gate
// passed), or general knowledge (gate failed).
func (s *service) Answer(ctx context.Context, question string, history []generation.Message, params Params) (*Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apierr.BadRequest("empty_question", fmt.Errorf("question is required"))
	}
	genParams := s.genParams(params)

	if IsSmalltalk(question) {
		answer, err := s.generate(ctx, s.prompts.Smalltalk, history, question, genParams)
		if err != nil {
			return nil, err
		}
		s.log.Info("Answer served", "rag_mode", RagModeSmalltalk)
		return &Result{Answer: answer, Sources: []Source{}, RagMode: RagModeSmalltalk}, nil
	}

	q, err := s.embedQuery(ctx, question)
	if err != nil {
		return nil, err
	}

	matches, err := s.retrieve(ctx, q, params.MatchCount)
	if err != nil {
		return nil, err
	}
	maxSim, top3Avg := confidence(matches)

	if maxSim < s.cfg.UseAsCtxMin && top3Avg < s.cfg.MinTop3Avg {
		answer, err := s.generate(ctx, s.prompts.General, history, question, genParams)
		if err != nil {
			return nil, err
		}
		s.log.Info("Answer served", "rag_mode", RagModeGeneral,
			"matches", len(matches), "max_sim", maxSim, "top3_avg", top3Avg)
		return &Result{Answer: answer, Sources: []Source{}, RagMode: RagModeGeneral}, nil
	}

	mode := RagModePlain
	system := s.prompts.DocPlain
	if s.classifyIntent(ctx, question) == intentTable {
		mode = RagModeTable
		system = s.prompts.DocTable
	}

	contextBlock, sources := buildContext(matches, s.cfg.MaxCtxChars)
	user := question
	if contextBlock != "" {
		user = contextBlock + "\n\n질문: " + question
	}

	answer, err := s.generate(ctx, system, history, user, genParams)
	if err != nil {
		return nil, err
	}
	if isRefusal(answer) {
		sources = []Source{}
	}
	s.log.Info("Answer served", "rag_mode", mode,
		"matches", len(matches), "max_sim", maxSim, "top3_avg", top3Avg, "sources", len(sources))
	return &Result{Answer: answer, Sources: sources, RagMode: mode}, nil
}

// embedQuery embeds the question in query mode, consulting the optional
// cache first. A cached vector with a stale dimension is ignored.
func (s *service) embedQuery(ctx context.Context, question string) ([]float32, error) {
	const mode = string(embedding.ModeQuery)
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, s.embedder.Model(), mode, question); ok && len(v) == s.store.Dim() {
			return v, nil
		}
	}
	vec, err := s.embedder.EmbedOne(ctx, embedding.ModeQuery, question)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Put(ctx, s.embedder.Model(), mode, question, vec)
	}
	return vec, nil
}

// retrieve runs the three typed slices against the same query vector
// and unions them preserving per-slice order: prose, tables, images.
// matchCount > 0 overrides the prose K.
func (s *service) retrieve(ctx context.Context, q []float32, matchCount int) ([]vector.Match, error) {
	textK := s.cfg.TextK
	if matchCount > 0 {
		textK = matchCount
	}
	slices := []struct {
		types []string
		k     int
	}{
		{types.ProseFragmentTypes(), textK},
		{[]string{types.FragmentTypeTableRow}, s.cfg.TableK},
		{[]string{types.FragmentTypeImageCaption}, s.cfg.ImageK},
	}

	var union []vector.Match
	for _, sl := range slices {
		ms, err := s.store.TopK(ctx, q, vector.SearchOptions{
			K:         sl.k,
			Threshold: s.cfg.RetrieveMin,
			Types:     sl.types,
		})
		if err != nil {
			return nil, err
		}
		union = append(union, ms...)
	}
	return union, nil
}

// confidence summarizes the union: the best similarity and the mean of
// the three best. top3Avg stays 0 with fewer than three matches.
func confidence(matches []vector.Match) (maxSim float64, top3Avg float64) {
	if len(matches) == 0 {
		return 0, 0
	}
	sims := make([]float64, len(matches))
	for i, m := range matches {
		sims[i] = m.Score
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(sims)))
	maxSim = sims[0]
	if len(sims) >= 3 {
		top3Avg = (sims[0] + sims[1] + sims[2]) / 3
	}
	return maxSim, top3Avg
}

// buildContext renders matches into <document> blocks in retrieval
// order, trimming each fragment and stopping before the total exceeds
// maxChars. Sources mirror exactly the fragments that made it in.
func buildContext(matches []vector.Match, maxChars int) (string, []Source) {
	var b strings.Builder
	sources := make([]Source, 0, len(matches))
	total := 0
	for _, m := range matches {
		content := textutil.TrimMiddle(strings.TrimSpace(m.Content), fragmentTrimChars)
		if content == "" {
			continue
		}
		filename := metaString(m.Metadata, "filepath")
		typ := metaString(m.Metadata, "type")
		page := metaInt(m.Metadata, "page")
		pageStr := ""
		if page != nil {
			pageStr = strconv.Itoa(*page)
		}
		block := fmt.Sprintf("<document source=%q page=%q type=%q>\n%s\n</document>", filename, pageStr, typ, content)

		n := utf8.RuneCountInString(block)
		if total+n > maxChars && total > 0 {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(block)
		total += n
		sources = append(sources, Source{Filename: filename, Page: page, Type: typ, Score: m.Score})
	}
	return b.String(), sources
}

// generate sends [system, capped history..., user] and accumulates the
// streamed completion.
func (s *service) generate(ctx context.Context, system string, history []generation.Message, user string, params generation.Params) (string, error) {
	msgs := make([]generation.Message, 0, len(history)+2)
	msgs = append(msgs, generation.Message{Role: "system", Content: system})
	msgs = append(msgs, capHistory(history, s.cfg.HistoryMaxTurns)...)
	msgs = append(msgs, generation.Message{Role: "user", Content: user})

	answer, err := s.generator.Stream(ctx, msgs, params, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

// capHistory keeps the most recent turns and drops anything that is not
// a user or assistant message; the system prompt is ours to set.
func capHistory(history []generation.Message, max int) []generation.Message {
	kept := make([]generation.Message, 0, len(history))
	for _, m := range history {
		if m.Role == "user" || m.Role == "assistant" {
			kept = append(kept, m)
		}
	}
	if len(kept) > max {
		kept = kept[len(kept)-max:]
	}
	return kept
}

func (s *service) genParams(p Params) generation.Params {
	gp := generation.Params{
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
		TopP:        defaultTopP,
	}
	if p.MaxNewTokens > 0 {
		gp.MaxTokens = p.MaxNewTokens
	}
	if p.Temperature > 0 {
		gp.Temperature = p.Temperature
	}
	if p.TopP > 0 {
		gp.TopP = p.TopP
	}
	return gp
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

// metaInt tolerates the numeric types JSON decoding produces.
func metaInt(meta map[string]any, key string) *int {
	if meta == nil {
		return nil
	}
	switch v := meta[key].(type) {
	case int:
		return &v
	case int64:
		n := int(v)
		return &n
	case float64:
		n := int(v)
		return &n
	}
	return nil
}
