package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/docqa-backend/internal/data/repos/testutil"
	"github.com/yungbote/docqa-backend/internal/platform/apierr"
	"github.com/yungbote/docqa-backend/internal/platform/embedding"
	"github.com/yungbote/docqa-backend/internal/platform/generation"
	"github.com/yungbote/docqa-backend/internal/types"
	"github.com/yungbote/docqa-backend/internal/vector"
)

type fakeEmbedder struct {
	dim   int
	calls int
	fail  error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ embedding.Mode, inputs []string) ([][]float32, error) {
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		v := make([]float32, f.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedOne(ctx context.Context, mode embedding.Mode, input string) ([]float32, error) {
	out, err := f.Embed(ctx, mode, []string{input})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (f *fakeEmbedder) Dim() int        { return f.dim }
func (f *fakeEmbedder) Model() string   { return "fake-embed" }
func (f *fakeEmbedder) BaseURL() string { return "http://fake" }

type fakeGenerator struct {
	completeOut string
	completeErr error
	streamOut   string
	streamErr   error

	completeCalls int
	streamCalls   int
	streamMsgs    []generation.Message
	streamParams  generation.Params
}

func (f *fakeGenerator) Complete(_ context.Context, _ []generation.Message, _ generation.Params) (string, error) {
	f.completeCalls++
	if f.completeErr != nil {
		return "", f.completeErr
	}
	if f.completeOut == "" {
		return "plain", nil
	}
	return f.completeOut, nil
}

func (f *fakeGenerator) Stream(_ context.Context, messages []generation.Message, params generation.Params, onDelta func(string)) (string, error) {
	f.streamCalls++
	f.streamMsgs = messages
	f.streamParams = params
	if f.streamErr != nil {
		return "", f.streamErr
	}
	if onDelta != nil {
		onDelta(f.streamOut)
	}
	return f.streamOut, nil
}

func (f *fakeGenerator) Model() string   { return "fake-llm" }
func (f *fakeGenerator) BaseURL() string { return "http://fake" }

type fakeIndex struct {
	dim    int
	byType map[string][]vector.Match
	calls  []vector.SearchOptions
}

func (f *fakeIndex) Load(context.Context) error { return nil }
func (f *fakeIndex) Insert(context.Context, vector.Fragment) (string, error) {
	return "", errors.New("read-only fake")
}
func (f *fakeIndex) InsertBatch(context.Context, []vector.Fragment) ([]string, error) {
	return nil, errors.New("read-only fake")
}
func (f *fakeIndex) Dim() int     { return f.dim }
func (f *fakeIndex) Size() int    { return 0 }
func (f *fakeIndex) Loaded() bool { return true }

func (f *fakeIndex) TopK(_ context.Context, _ []float32, opts vector.SearchOptions) ([]vector.Match, error) {
	f.calls = append(f.calls, opts)
	var out []vector.Match
	for _, t := range opts.Types {
		for _, m := range f.byType[t] {
			if m.Score >= opts.Threshold {
				out = append(out, m)
			}
		}
	}
	if len(out) > opts.K {
		out = out[:opts.K]
	}
	return out, nil
}

func match(filename string, typ string, score float64, content string) vector.Match {
	return vector.Match{
		ID:      uuid.NewString(),
		Score:   score,
		Content: content,
		Metadata: map[string]any{
			"filepath": filename,
			"type":     typ,
			"page":     float64(3),
		},
	}
}

type ragEnv struct {
	svc   Service
	index *fakeIndex
	emb   *fakeEmbedder
	gen   *fakeGenerator
}

func newRagEnv(t *testing.T, byType map[string][]vector.Match) *ragEnv {
	t.Helper()
	index := &fakeIndex{dim: 4, byType: byType}
	emb := &fakeEmbedder{dim: 4}
	gen := &fakeGenerator{streamOut: "규정상 연차는 15일입니다."}
	svc := New(index, emb, gen, nil, DefaultPrompts(), Config{}, testutil.Logger(t))
	return &ragEnv{svc: svc, index: index, emb: emb, gen: gen}
}

func TestAnswerSmalltalkBypassesRetrieval(t *testing.T) {
	env := newRagEnv(t, map[string][]vector.Match{
		types.FragmentTypePDF: {match("a.pdf", "pdf", 0.99, "아주 관련 높은 문서")},
	})
	env.gen.streamOut = "안녕하세요! 무엇을 도와드릴까요?"

	res, err := env.svc.Answer(context.Background(), "안녕", nil, Params{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.RagMode != RagModeSmalltalk {
		t.Fatalf("rag_mode = %q", res.RagMode)
	}
	if len(res.Sources) != 0 {
		t.Fatalf("sources = %v", res.Sources)
	}
	if env.emb.calls != 0 || len(env.index.calls) != 0 {
		t.Fatalf("retrieval ran for smalltalk: emb=%d topk=%d", env.emb.calls, len(env.index.calls))
	}
	if env.gen.streamMsgs[0].Content != DefaultPrompts().Smalltalk {
		t.Fatalf("system prompt = %q", env.gen.streamMsgs[0].Content)
	}
}

func TestAnswerDocumentModePlain(t *testing.T) {
	env := newRagEnv(t, map[string][]vector.Match{
		types.FragmentTypePDF: {match("연차규정.pdf", "pdf", 0.82, "연차는 15일이다.")},
	})

	res, err := env.svc.Answer(context.Background(), "연차는 며칠이야?", nil, Params{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.RagMode != RagModePlain {
		t.Fatalf("rag_mode = %q", res.RagMode)
	}
	if len(res.Sources) != 1 || res.Sources[0].Filename != "연차규정.pdf" || res.Sources[0].Score != 0.82 {
		t.Fatalf("sources = %+v", res.Sources)
	}
	if res.Sources[0].Page == nil || *res.Sources[0].Page != 3 {
		t.Fatalf("source page = %v", res.Sources[0].Page)
	}

	user := env.gen.streamMsgs[len(env.gen.streamMsgs)-1]
	if user.Role != "user" || !strings.Contains(user.Content, `<document source="연차규정.pdf"`) {
		t.Fatalf("user message = %+v", user)
	}
	if !strings.Contains(user.Content, "연차는 며칠이야?") {
		t.Fatalf("question missing from user message: %q", user.Content)
	}
	if env.gen.streamParams.MaxTokens != 600 || env.gen.streamParams.Temperature != 0.2 || env.gen.streamParams.TopP != 0.9 {
		t.Fatalf("params = %+v", env.gen.streamParams)
	}
	// All three slices ran against the index.
	if len(env.index.calls) != 3 {
		t.Fatalf("topk calls = %d", len(env.index.calls))
	}
}

func TestAnswerTableIntentKeywordShortCircuit(t *testing.T) {
	env := newRagEnv(t, map[string][]vector.Match{
		types.FragmentTypeTableRow: {match("실적.pdf", "table_row", 0.75, "Table: 실적 | 항목=매출; 금액=100")},
	})

	res, err := env.svc.Answer(context.Background(), "분기별 매출을 표로 정리해줘", nil, Params{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.RagMode != RagModeTable {
		t.Fatalf("rag_mode = %q", res.RagMode)
	}
	if env.gen.completeCalls != 0 {
		t.Fatalf("keyword short-circuit still called the classifier: %d", env.gen.completeCalls)
	}
	if env.gen.streamMsgs[0].Content != DefaultPrompts().DocTable {
		t.Fatalf("system prompt = %q", env.gen.streamMsgs[0].Content)
	}
}

func TestAnswerLLMIntentClassifier(t *testing.T) {
	env := newRagEnv(t, map[string][]vector.Match{
		types.FragmentTypePDF: {match("a.pdf", "pdf", 0.9, "본문")},
	})
	env.gen.completeOut = "table"

	res, err := env.svc.Answer(context.Background(), "항목별 상세 내역 알려줘", nil, Params{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if env.gen.completeCalls != 1 {
		t.Fatalf("classifier calls = %d", env.gen.completeCalls)
	}
	if res.RagMode != RagModeTable {
		t.Fatalf("rag_mode = %q", res.RagMode)
	}
}

func TestAnswerIntentClassifierErrorFallsBackToPlain(t *testing.T) {
	env := newRagEnv(t, map[string][]vector.Match{
		types.FragmentTypePDF: {match("a.pdf", "pdf", 0.9, "본문")},
	})
	env.gen.completeErr = errors.New("deadline exceeded")

	res, err := env.svc.Answer(context.Background(), "상세 내역 알려줘", nil, Params{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.RagMode != RagModePlain {
		t.Fatalf("rag_mode = %q", res.RagMode)
	}
}

func TestAnswerGeneralModeWhenConfidenceLow(t *testing.T) {
	env := newRagEnv(t, map[string][]vector.Match{
		types.FragmentTypePDF: {match("a.pdf", "pdf", 0.45, "약하게 관련된 본문")},
	})

	res, err := env.svc.Answer(context.Background(), "양자역학이 뭐야?", nil, Params{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.RagMode != RagModeGeneral {
		t.Fatalf("rag_mode = %q", res.RagMode)
	}
	if len(res.Sources) != 0 {
		t.Fatalf("sources = %v", res.Sources)
	}
	if env.gen.streamMsgs[0].Content != DefaultPrompts().General {
		t.Fatalf("system prompt = %q", env.gen.streamMsgs[0].Content)
	}
	user := env.gen.streamMsgs[len(env.gen.streamMsgs)-1]
	if strings.Contains(user.Content, "<document") {
		t.Fatalf("general mode leaked context: %q", user.Content)
	}
}

func TestAnswerTop3AvgAloneOpensDocumentMode(t *testing.T) {
	// Each sim is below USE_AS_CTX_MIN; the three together clear MIN_TOP3_AVG.
	env := newRagEnv(t, map[string][]vector.Match{
		types.FragmentTypePDF: {
			match("a.pdf", "pdf", 0.56, "하나"),
			match("b.pdf", "pdf", 0.56, "둘"),
			match("c.pdf", "pdf", 0.56, "셋"),
		},
	})

	res, err := env.svc.Answer(context.Background(), "정책 알려줘", nil, Params{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.RagMode != RagModePlain {
		t.Fatalf("rag_mode = %q", res.RagMode)
	}
}

func TestAnswerRefusalEmptiesSources(t *testing.T) {
	env := newRagEnv(t, map[string][]vector.Match{
		types.FragmentTypePDF: {match("a.pdf", "pdf", 0.9, "본문")},
	})
	env.gen.streamOut = "모릅니다."

	res, err := env.svc.Answer(context.Background(), "본문 내용 알려줘", nil, Params{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.RagMode != RagModePlain {
		t.Fatalf("rag_mode = %q", res.RagMode)
	}
	if len(res.Sources) != 0 {
		t.Fatalf("refusal kept sources: %+v", res.Sources)
	}
}

func TestAnswerMatchCountOverridesProseK(t *testing.T) {
	env := newRagEnv(t, map[string][]vector.Match{
		types.FragmentTypePDF: {match("a.pdf", "pdf", 0.9, "본문")},
	})

	_, err := env.svc.Answer(context.Background(), "본문 알려줘", nil, Params{MatchCount: 7})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(env.index.calls) != 3 {
		t.Fatalf("topk calls = %d", len(env.index.calls))
	}
	if env.index.calls[0].K != 7 {
		t.Fatalf("prose K = %d, want 7", env.index.calls[0].K)
	}
	if env.index.calls[1].K != 10 || env.index.calls[2].K != 4 {
		t.Fatalf("slice Ks = %d, %d", env.index.calls[1].K, env.index.calls[2].K)
	}
	if env.index.calls[0].Threshold != 0.35 {
		t.Fatalf("threshold = %v", env.index.calls[0].Threshold)
	}
}

func TestAnswerGenerationParamOverrides(t *testing.T) {
	env := newRagEnv(t, map[string][]vector.Match{
		types.FragmentTypePDF: {match("a.pdf", "pdf", 0.9, "본문")},
	})

	_, err := env.svc.Answer(context.Background(), "본문 알려줘", nil, Params{
		MaxNewTokens: 128,
		Temperature:  0.7,
		TopP:         0.5,
	})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	p := env.gen.streamParams
	if p.MaxTokens != 128 || p.Temperature != 0.7 || p.TopP != 0.5 {
		t.Fatalf("params = %+v", p)
	}
}

func TestAnswerHistoryCapped(t *testing.T) {
	env := newRagEnv(t, map[string][]vector.Match{
		types.FragmentTypePDF: {match("a.pdf", "pdf", 0.9, "본문")},
	})

	history := make([]generation.Message, 0, 60)
	for i := 0; i < 60; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		history = append(history, generation.Message{Role: role, Content: "턴"})
	}
	history = append(history, generation.Message{Role: "system", Content: "주입 시도"})

	_, err := env.svc.Answer(context.Background(), "본문 알려줘", history, Params{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	// system + 50 capped turns + user
	if got := len(env.gen.streamMsgs); got != 52 {
		t.Fatalf("messages = %d, want 52", got)
	}
	for _, m := range env.gen.streamMsgs[1:51] {
		if m.Role != "user" && m.Role != "assistant" {
			t.Fatalf("history leaked role %q", m.Role)
		}
	}
}

func TestAnswerEmptyQuestionRejected(t *testing.T) {
	env := newRagEnv(t, nil)
	_, err := env.svc.Answer(context.Background(), "   ", nil, Params{})
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Status != 400 {
		t.Fatalf("err = %v", err)
	}
}

type fakeCache struct {
	vec  []float32
	gets int
	puts int
}

func (c *fakeCache) Get(_ context.Context, _ string, _ string, _ string) ([]float32, bool) {
	c.gets++
	if c.vec == nil {
		return nil, false
	}
	return c.vec, true
}

func (c *fakeCache) Put(_ context.Context, _ string, _ string, _ string, vec []float32) {
	c.puts++
	c.vec = vec
}

func TestAnswerUsesQueryEmbedCache(t *testing.T) {
	index := &fakeIndex{dim: 4, byType: map[string][]vector.Match{
		types.FragmentTypePDF: {match("a.pdf", "pdf", 0.9, "본문")},
	}}
	emb := &fakeEmbedder{dim: 4}
	gen := &fakeGenerator{streamOut: "답변"}
	cache := &fakeCache{}
	svc := New(index, emb, gen, cache, DefaultPrompts(), Config{}, testutil.Logger(t))

	if _, err := svc.Answer(context.Background(), "본문 알려줘", nil, Params{}); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if emb.calls != 1 || cache.puts != 1 {
		t.Fatalf("first query: emb=%d puts=%d", emb.calls, cache.puts)
	}

	if _, err := svc.Answer(context.Background(), "본문 알려줘", nil, Params{}); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if emb.calls != 1 {
		t.Fatalf("cache hit still embedded: %d calls", emb.calls)
	}
}

func TestConfidence(t *testing.T) {
	ms := []vector.Match{
		{Score: 0.5}, {Score: 0.9}, {Score: 0.7}, {Score: 0.1},
	}
	maxSim, top3 := confidence(ms)
	if maxSim != 0.9 {
		t.Fatalf("maxSim = %v", maxSim)
	}
	want := (0.9 + 0.7 + 0.5) / 3
	if diff := top3 - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("top3Avg = %v, want %v", top3, want)
	}

	maxSim, top3 = confidence([]vector.Match{{Score: 0.8}, {Score: 0.6}})
	if maxSim != 0.8 || top3 != 0 {
		t.Fatalf("short union: max=%v top3=%v", maxSim, top3)
	}

	maxSim, top3 = confidence(nil)
	if maxSim != 0 || top3 != 0 {
		t.Fatalf("empty union: max=%v top3=%v", maxSim, top3)
	}
}

func TestBuildContextTrimsAndCaps(t *testing.T) {
	matches := []vector.Match{
		match("긴문서.pdf", "pdf", 0.9, strings.Repeat("가", 2000)),
		match("두번째.pdf", "pdf", 0.8, strings.Repeat("나", 2000)),
		match("세번째.pdf", "pdf", 0.7, strings.Repeat("다", 2000)),
	}

	block, sources := buildContext(matches, 4000)
	if !strings.Contains(block, "...\n") {
		t.Fatalf("long fragment not trimmed")
	}
	// Two trimmed blocks (~1660 each) fit; the third would cross 4000.
	if len(sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(sources))
	}
	if strings.Contains(block, "세번째.pdf") {
		t.Fatalf("third block should be cut: %q", block[:100])
	}
	if sources[0].Filename != "긴문서.pdf" || sources[1].Filename != "두번째.pdf" {
		t.Fatalf("sources = %+v", sources)
	}
}

func TestBuildContextSkipsEmptyContent(t *testing.T) {
	matches := []vector.Match{
		match("빈문서.pdf", "pdf", 0.9, "   "),
		match("실문서.pdf", "pdf", 0.8, "내용"),
	}
	block, sources := buildContext(matches, 4000)
	if len(sources) != 1 || sources[0].Filename != "실문서.pdf" {
		t.Fatalf("sources = %+v", sources)
	}
	if strings.Contains(block, "빈문서") {
		t.Fatalf("empty fragment rendered: %q", block)
	}
}
