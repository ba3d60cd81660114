package generation

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

	"github.com/yungbote/docqa-backend/internal/platform/envutil"
	"github.com/yungbote/docqa-backend/internal/platform/logger"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params tune a single completion. MaxTokens and TopP are omitted from the
// wire request when zero; Temperature is always sent because zero means
// greedy decoding, not unset.
type Params struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// Client talks to an OpenAI-compatible /v1/chat/completions endpoint.
type Client interface {
	Complete(ctx context.Context, messages []Message, params Params) (string, error)
	Stream(ctx context.Context, messages []Message, params Params, onDelta func(delta string)) (string, error)
	Model() string
	BaseURL() string
}

type Config struct {
	BaseURL string
	Model   string

	Timeout time.Duration

	HTTPClient *http.Client
}

type client struct {
	log *logger.Logger

	baseURL string
	model   string

	timeout    time.Duration
	httpClient *http.Client
}

func New(cfg Config, log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, errors.New("logger required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("generation base url required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("generation model required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	hc := cfg.HTTPClient
	if hc == nil {
		// No client-level timeout: streams outlive any fixed budget. The
		// per-call context carries the deadline instead.
		hc = &http.Client{}
	}

	return &client{
		log:        log.With("service", "GenerationClient"),
		baseURL:    baseURL,
		model:      model,
		timeout:    timeout,
		httpClient: hc,
	}, nil
}

func NewFromEnv(log *logger.Logger) (Client, error) {
	timeoutMS := envutil.GetEnvAsInt("LLM_TIMEOUT_MS", 120000, log)
	return New(Config{
		BaseURL: envutil.GetEnv("LLM_URL", "http://localhost:9001", log),
		Model:   envutil.GetEnv("LLM_MODEL", "qwen2.5-7b-instruct", log),
		Timeout: time.Duration(timeoutMS) * time.Millisecond,
	}, log)
}

func (c *client) Model() string   { return c.model }
func (c *client) BaseURL() string { return c.baseURL }

// WithTimeout derives a deadline context. The tag names the call site in the
// cancellation cause so a timeout surfaces as more than a bare
// "context deadline exceeded".
func WithTimeout(ctx context.Context, ms int, tag string) (context.Context, context.CancelFunc) {
	if ms <= 0 {
		return ctx, func() {}
	}
	cause := fmt.Errorf("%s timed out after %dms", tag, ms)
	return context.WithTimeoutCause(ctx, time.Duration(ms)*time.Millisecond, cause)
}

type chatCompletionsRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content,omitempty"`
		} `json:"message,omitempty"`
		Text string `json:"text,omitempty"`
	} `json:"choices,omitempty"`
}

type chatCompletionStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content,omitempty"`
		} `json:"delta,omitempty"`
		Text string `json:"text,omitempty"`
	} `json:"choices,omitempty"`
	Error any `json:"error,omitempty"`
}

func (c *client) Complete(ctx context.Context, messages []Message, params Params) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("messages required")
	}

	ctx2, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := chatCompletionsRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx2, http.MethodPost, c.baseURL+"/v1/chat/completions", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
	if readErr != nil {
		return "", readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &GenerationError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out chatCompletionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("generation decode error: %w; raw=%s", err, string(raw))
	}
	if len(out.Choices) == 0 {
		return "", errors.New("generation response has no choices")
	}
	text := out.Choices[0].Message.Content
	if text == "" {
		text = out.Choices[0].Text
	}
	return text, nil
}

func (c *client) Stream(ctx context.Context, messages []Message, params Params, onDelta func(delta string)) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("messages required")
	}

	body := chatCompletionsRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		Stream:      true,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return "", &GenerationError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var full strings.Builder
	err = streamSSE(resp.Body, func(event string, data string) error {
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			return nil
		}
		if strings.TrimSpace(event) == "ping" {
			return nil
		}

		var chunk chatCompletionStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Keepalives and vendor extensions are not deltas.
			return nil
		}
		if chunk.Error != nil {
			return fmt.Errorf("stream error: %v", chunk.Error)
		}
		if len(chunk.Choices) == 0 {
			return nil
		}
		d := chunk.Choices[0].Delta.Content
		if d == "" {
			d = chunk.Choices[0].Text
		}
		if d == "" {
			return nil
		}
		full.WriteString(d)
		if onDelta != nil {
			onDelta(d)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return full.String(), nil
}
