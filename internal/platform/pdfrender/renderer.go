package pdfrender

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/docqa-backend/internal/platform/envutil"
	"github.com/yungbote/docqa-backend/internal/platform/logger"
)

// Renderer rasterizes PDF pages through an external pdftoppm-style binary:
// {exe} -r {dpi} -jpeg {pdf} {outPrefix}. Rendering is a best-effort
// enrichment; an unconfigured exe simply disables it.
type Renderer interface {
	Enabled() bool
	RenderPages(ctx context.Context, pdfPath string, outDir string) ([]string, error)
}

type Config struct {
	Exe     string
	DPI     int
	Timeout time.Duration
}

type renderer struct {
	log *logger.Logger

	exe     string
	dpi     int
	timeout time.Duration
}

func New(cfg Config, log *logger.Logger) (Renderer, error) {
	if log == nil {
		return nil, errors.New("logger required")
	}
	dpi := cfg.DPI
	if dpi <= 0 {
		dpi = 144
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &renderer{
		log:     log.With("service", "PDFRenderer"),
		exe:     strings.TrimSpace(cfg.Exe),
		dpi:     dpi,
		timeout: timeout,
	}, nil
}

func NewFromEnv(log *logger.Logger) (Renderer, error) {
	return New(Config{
		Exe: envutil.GetEnv("PDF_RENDER_EXE", "", log),
		DPI: envutil.GetEnvAsInt("PDF_RENDER_DPI", 144, log),
	}, log)
}

func (r *renderer) Enabled() bool { return r.exe != "" }

func (r *renderer) RenderPages(ctx context.Context, pdfPath string, outDir string) ([]string, error) {
	if !r.Enabled() {
		return nil, errors.New("pdf renderer not configured")
	}
	if pdfPath == "" {
		return nil, errors.New("pdfPath required")
	}
	if outDir == "" {
		return nil, errors.New("outDir required")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir outDir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	prefix := filepath.Join(outDir, "page")
	args := []string{"-r", strconv.Itoa(r.dpi), "-jpeg", pdfPath, prefix}

	cmd := exec.CommandContext(ctx, r.exe, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("page render failed: %w; out=%s", err, string(out))
	}

	paths, err := globSorted(outDir, `^page-\d+\.(png|jpe?g)$`)
	if err != nil || len(paths) == 0 {
		paths2, _ := globSorted(outDir, `.*\.(png|jpe?g)$`)
		if len(paths2) == 0 {
			return nil, fmt.Errorf("renderer produced no images; out=%s", string(out))
		}
		return paths2, nil
	}

	r.log.Info("Rendered pages", "pdf", pdfPath, "pages", len(paths), "dpi", r.dpi)
	return paths, nil
}

func globSorted(dir string, pattern string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if re.MatchString(strings.ToLower(e.Name())) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
