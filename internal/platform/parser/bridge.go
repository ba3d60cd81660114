package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/yungbote/docqa-backend/internal/platform/envutil"
	"github.com/yungbote/docqa-backend/internal/platform/logger"
)

// Table is one table the sidecar found. Field presence varies by extraction
// engine: unstructured emits html/text_as_html, pdfplumber emits
// preview_rows with counts, and full extraction emits header/rows.
type Table struct {
	Page        *int       `json:"page,omitempty"`
	Caption     string     `json:"caption,omitempty"`
	HTML        string     `json:"html,omitempty"`
	TextAsHTML  string     `json:"text_as_html,omitempty"`
	Header      []string   `json:"header,omitempty"`
	Rows        [][]string `json:"rows,omitempty"`
	PreviewRows [][]string `json:"preview_rows,omitempty"`
	NRows       int        `json:"n_rows,omitempty"`
	NCols       int        `json:"n_cols,omitempty"`
	ImagePath   string     `json:"image_path,omitempty"`
	Source      string     `json:"source,omitempty"`
}

type Picture struct {
	Page      *int   `json:"page,omitempty"`
	Caption   string `json:"caption,omitempty"`
	ImagePath string `json:"image_path,omitempty"`
}

// Document is the sidecar's whole stdout payload.
type Document struct {
	Text     string    `json:"text"`
	Tables   []Table   `json:"tables,omitempty"`
	Pictures []Picture `json:"pictures,omitempty"`
	Engine   string    `json:"engine,omitempty"`
}

// ParseError wraps a sidecar failure with whatever it wrote to stderr.
type ParseError struct {
	Stderr string
	Err    error
}

func (e *ParseError) Error() string {
	if strings.TrimSpace(e.Stderr) != "" {
		return fmt.Sprintf("parse document: %v; stderr: %s", e.Err, strings.TrimSpace(e.Stderr))
	}
	return fmt.Sprintf("parse document: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Bridge hands a document to the Python extraction sidecar and decodes its
// JSON verdict. The sidecar owns every format-specific dependency; the
// process boundary keeps its crashes out of this one.
type Bridge interface {
	Parse(ctx context.Context, inputPath string, outDir string) (*Document, error)
}

type Config struct {
	Python string
	Script string

	Timeout time.Duration

	// MaxStdout bounds captured sidecar output. Past it, output is dropped
	// rather than failing the write side of the pipe.
	MaxStdout int64
}

type bridge struct {
	log *logger.Logger

	python string
	script string

	timeout   time.Duration
	maxStdout int64
}

const defaultMaxStdout = 32 << 20

func New(cfg Config, log *logger.Logger) (Bridge, error) {
	if log == nil {
		return nil, errors.New("logger required")
	}
	python := strings.TrimSpace(cfg.Python)
	if python == "" {
		python = "python3"
	}
	script := strings.TrimSpace(cfg.Script)
	if script == "" {
		return nil, errors.New("parser script required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 600 * time.Second
	}
	maxStdout := cfg.MaxStdout
	if maxStdout <= 0 {
		maxStdout = defaultMaxStdout
	}

	return &bridge{
		log:       log.With("service", "ParserBridge"),
		python:    python,
		script:    script,
		timeout:   timeout,
		maxStdout: maxStdout,
	}, nil
}

func NewFromEnv(log *logger.Logger) (Bridge, error) {
	timeoutMS := envutil.GetEnvAsInt("PARSE_TIMEOUT_MS", 600000, log)
	return New(Config{
		Python:  envutil.GetEnv("PARSER_PYTHON", "python3", log),
		Script:  envutil.GetEnv("PARSER_SCRIPT", "scripts/parse_document.py", log),
		Timeout: time.Duration(timeoutMS) * time.Millisecond,
	}, log)
}

func (b *bridge) Parse(ctx context.Context, inputPath string, outDir string) (*Document, error) {
	ctx2, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx2, b.python, b.script, inputPath, outDir)
	cmd.Env = append(os.Environ(), "PYTHONUTF8=1", "LANG=ko_KR.UTF-8")

	stdout := &limitedBufferWriter{max: b.maxStdout, buf: &bytes.Buffer{}}
	stderr := &limitedBufferWriter{max: 64 << 10, buf: &bytes.Buffer{}}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		if ctx2.Err() != nil {
			err = fmt.Errorf("%w (after %s)", ctx2.Err(), time.Since(start).Round(time.Millisecond))
		}
		return nil, &ParseError{Stderr: stderr.buf.String(), Err: err}
	}

	raw := bytes.TrimSpace(stdout.buf.Bytes())
	if len(raw) == 0 {
		return nil, &ParseError{Stderr: stderr.buf.String(), Err: errors.New("sidecar wrote no output")}
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &ParseError{Stderr: stderr.buf.String(), Err: fmt.Errorf("decode sidecar output: %w; head=%s", err, head(raw, 200))}
	}

	b.log.Info("Parsed document",
		"input", inputPath,
		"engine", doc.Engine,
		"text_len", len(doc.Text),
		"tables", len(doc.Tables),
		"pictures", len(doc.Pictures),
		"took", time.Since(start).Round(time.Millisecond).String(),
	)
	return &doc, nil
}

func head(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

type limitedBufferWriter struct {
	max int64
	n   int64
	buf *bytes.Buffer
}

func (w *limitedBufferWriter) Write(p []byte) (int, error) {
	if w.buf == nil || w.max <= 0 {
		return len(p), nil
	}
	remain := w.max - w.n
	if remain > 0 {
		if int64(len(p)) <= remain {
			_, _ = w.buf.Write(p)
			w.n += int64(len(p))
		} else {
			_, _ = w.buf.Write(p[:remain])
			w.n += remain
		}
	}
	// Claim full writes so the child never sees a broken pipe.
	return len(p), nil
}
