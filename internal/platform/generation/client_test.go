package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/docqa-backend/internal/platform/logger"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	logg, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return logg
}

func newTestClient(t *testing.T, rt roundTripperFunc) Client {
	t.Helper()
	c, err := New(Config{
		BaseURL:    "http://upstream",
		Model:      "qwen2.5-7b-instruct",
		Timeout:    2 * time.Second,
		HTTPClient: &http.Client{Transport: rt},
	}, testLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestComplete(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}

		var in chatCompletionsRequest
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			t.Fatalf("decode req: %v", err)
		}
		if in.Model != "qwen2.5-7b-instruct" {
			t.Fatalf("model=%q", in.Model)
		}
		if in.Stream {
			t.Fatalf("stream set on completion request")
		}
		if in.MaxTokens != 10 || in.Temperature != 0 {
			t.Fatalf("params: max_tokens=%d temperature=%v", in.MaxTokens, in.Temperature)
		}

		out := chatCompletionResponse{}
		out.Choices = append(out.Choices, struct {
			Message struct {
				Content string `json:"content,omitempty"`
			} `json:"message,omitempty"`
			Text string `json:"text,omitempty"`
		}{})
		out.Choices[0].Message.Content = "table"

		b, _ := json.Marshal(out)
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(bytes.NewReader(b)),
		}, nil
	})

	got, err := c.Complete(context.Background(), []Message{
		{Role: "system", Content: "classify"},
		{Role: "user", Content: "표로 보여줘"},
	}, Params{MaxTokens: 10, Temperature: 0})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "table" {
		t.Fatalf("got=%q", got)
	}
}

func TestCompleteUpstreamError(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusBadGateway,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("upstream crashed")),
		}, nil
	})

	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, Params{})
	var ge *GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("want *GenerationError, got %T: %v", err, err)
	}
	if ge.Status != http.StatusBadGateway || !strings.Contains(ge.Body, "upstream crashed") {
		t.Fatalf("status=%d body=%q", ge.Status, ge.Body)
	}
}

func TestStreamConcatenatesDeltas(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if !strings.Contains(req.Header.Get("Accept"), "text/event-stream") {
			t.Fatalf("accept=%q", req.Header.Get("Accept"))
		}
		var in chatCompletionsRequest
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			t.Fatalf("decode req: %v", err)
		}
		if !in.Stream {
			t.Fatalf("stream flag missing")
		}

		sse := strings.Join([]string{
			": keepalive comment",
			`data: {"choices":[{"delta":{"content":"안녕"}}]}`,
			"",
			"event: ping",
			`data: {}`,
			"",
			`data: {"choices":[{"delta":{"content":"하세요"}}]}`,
			"",
			"data: [DONE]",
			"",
			"",
		}, "\n")
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
			Body:       io.NopCloser(strings.NewReader(sse)),
		}, nil
	})

	var deltas strings.Builder
	full, err := c.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}}, Params{Temperature: 0.2, TopP: 0.9, MaxTokens: 600}, func(d string) {
		deltas.WriteString(d)
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if full != "안녕하세요" {
		t.Fatalf("full=%q", full)
	}
	if deltas.String() != full {
		t.Fatalf("deltas=%q", deltas.String())
	}
}

func TestStreamErrorChunk(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		sse := strings.Join([]string{
			`data: {"error":{"message":"model overloaded"}}`,
			"",
			"",
		}, "\n")
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
			Body:       io.NopCloser(strings.NewReader(sse)),
		}, nil
	})

	_, err := c.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}}, Params{}, nil)
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("err=%v", err)
	}
}

func TestWithTimeout(t *testing.T) {
	ctx, cancel := WithTimeout(context.Background(), 5, "intent")
	defer cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("deadline never fired")
	}
	cause := context.Cause(ctx)
	if cause == nil || !strings.Contains(cause.Error(), "intent") {
		t.Fatalf("cause=%v", cause)
	}

	// Zero budget means no deadline.
	ctx2, cancel2 := WithTimeout(context.Background(), 0, "none")
	defer cancel2()
	if _, ok := ctx2.Deadline(); ok {
		t.Fatalf("unexpected deadline")
	}
}
