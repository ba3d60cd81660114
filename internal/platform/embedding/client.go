package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/docqa-backend/internal/pkg/httpx"
	"github.com/yungbote/docqa-backend/internal/platform/envutil"
	"github.com/yungbote/docqa-backend/internal/platform/logger"
)

// Mode selects the instruction prefix prepended to each input. Asymmetric
// embedding models score passages and queries differently, so the two sides
// of a retrieval must not share a prefix.
type Mode string

const (
	ModePassage Mode = "passage"
	ModeQuery   Mode = "query"
)

// Client embeds text against an OpenAI-compatible /v1/embeddings endpoint.
// Returned vectors are raw backend output; callers normalize before use.
type Client interface {
	Embed(ctx context.Context, mode Mode, inputs []string) ([][]float32, error)
	EmbedOne(ctx context.Context, mode Mode, input string) ([]float32, error)
	Dim() int
	Model() string
	BaseURL() string
}

type Config struct {
	BaseURL string
	Model   string
	Dim     int

	PassagePrefix string
	QueryPrefix   string

	Timeout    time.Duration
	MaxRetries int

	HTTPClient *http.Client
}

type client struct {
	log *logger.Logger

	baseURL string
	model   string
	dim     int

	passagePrefix string
	queryPrefix   string

	maxRetries  int
	backoffBase time.Duration
	httpClient  *http.Client
}

func New(cfg Config, log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, errors.New("logger required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("embedding base url required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("embedding model required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &client{
		log:           log.With("service", "EmbeddingClient"),
		baseURL:       baseURL,
		model:         model,
		dim:           cfg.Dim,
		passagePrefix: cfg.PassagePrefix,
		queryPrefix:   cfg.QueryPrefix,
		maxRetries:    maxRetries,
		backoffBase:   1 * time.Second,
		httpClient:    hc,
	}, nil
}

// NewFromEnv builds a client from EMB_* variables. Prefixes keep their
// whitespace: "passage: " is a different prefix than "passage:".
func NewFromEnv(log *logger.Logger) (Client, error) {
	timeoutMS := envutil.GetEnvAsInt("EMB_TIMEOUT_MS", 30000, log)
	return New(Config{
		BaseURL:       envutil.GetEnv("EMB_URL", "http://localhost:9000", log),
		Model:         envutil.GetEnv("EMB_MODEL", "bge-m3", log),
		Dim:           envutil.GetEnvAsInt("EMB_DIM", 1024, log),
		PassagePrefix: envutil.GetEnv("EMB_PASSAGE_PREFIX", "", log),
		QueryPrefix:   envutil.GetEnv("EMB_QUERY_PREFIX", "", log),
		Timeout:       time.Duration(timeoutMS) * time.Millisecond,
		MaxRetries:    envutil.GetEnvAsInt("EMB_MAX_RETRIES", 2, log),
	}, log)
}

func (c *client) Dim() int        { return c.dim }
func (c *client) Model() string   { return c.model }
func (c *client) BaseURL() string { return c.baseURL }

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *client) Embed(ctx context.Context, mode Mode, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	prefix := c.passagePrefix
	if mode == ModeQuery {
		prefix = c.queryPrefix
	}

	clean := make([]string, len(inputs))
	for i := range inputs {
		s := strings.TrimSpace(inputs[i])
		if s == "" {
			s = " "
		}
		clean[i] = prefix + s
	}

	req := embeddingsRequest{
		Model: c.model,
		Input: clean,
	}

	var resp embeddingsResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/embeddings", req, &resp); err != nil {
		return nil, err
	}

	out := make([][]float32, len(clean))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = toFloat32(d.Embedding)
		}
	}

	// Some backends omit indices; fall back to response order when the
	// counts line up.
	if hasMissingEmbeddings(out) && len(resp.Data) == len(clean) {
		for i := range clean {
			if out[i] != nil {
				continue
			}
			out[i] = toFloat32(resp.Data[i].Embedding)
		}
	}

	if hasMissingEmbeddings(out) {
		return nil, &ShapeError{What: "vectors", Want: len(clean), Got: len(resp.Data)}
	}
	if c.dim > 0 {
		for i := range out {
			if len(out[i]) != c.dim {
				return nil, &ShapeError{What: "dims", Want: c.dim, Got: len(out[i])}
			}
		}
	}
	return out, nil
}

func (c *client) EmbedOne(ctx context.Context, mode Mode, input string) ([]float32, error) {
	vecs, err := c.Embed(ctx, mode, []string{input})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, &ShapeError{What: "vectors", Want: 1, Got: len(vecs)}
	}
	return vecs[0], nil
}

func (c *client) doOnce(ctx context.Context, method, path string, body []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &BackendError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return resp, raw, nil
}

func (c *client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	backoff := c.backoffBase
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, buf.Bytes())
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("embedding decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}

		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)
		c.log.Warn("Embedding request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepFor):
		}
		backoff *= 2
	}

	return errors.New("unreachable retry loop")
}

func toFloat32(in []float64) []float32 {
	vec := make([]float32, len(in))
	for i, f := range in {
		vec[i] = float32(f)
	}
	return vec
}

func hasMissingEmbeddings(v [][]float32) bool {
	for i := range v {
		if len(v[i]) == 0 {
			return true
		}
	}
	return false
}
