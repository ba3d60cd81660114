package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/yungbote/docqa-backend/internal/pkg/textutil"
	"github.com/yungbote/docqa-backend/internal/platform/logger"
)

// SavedFile locates one stored original.
type SavedFile struct {
	AbsPath string
	RelPath string
	SHA256  string
}

// Store owns the uploads tree. Originals land under
// {base}/YYYY/MM/DD/{sha8}_{unixms}_{safename}{ext}; derivatives (rendered
// pages, table crops, pictures) under {base}/YYYY/MM/DD/{sha}/{kind}/.
// Every path is written once and never mutated.
type Store interface {
	SaveOriginal(data []byte, originalName string) (*SavedFile, error)
	DerivativeDir(sha string, kind string) (string, error)
	MoveIntoTree(srcPath string, sha string, kind string) (string, error)
	AbsPath(rel string) string
	URLFor(rel string) string
	BaseDir() string
}

type localStore struct {
	base string
	log  *logger.Logger

	now func() time.Time
}

func NewLocal(baseDir string, log *logger.Logger) (Store, error) {
	if log == nil {
		return nil, errors.New("logger required")
	}
	base := strings.TrimSpace(baseDir)
	if base == "" {
		base = "uploads"
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &localStore{
		base: abs,
		log:  log.With("service", "LocalStore"),
		now:  time.Now,
	}, nil
}

func (s *localStore) BaseDir() string { return s.base }

func (s *localStore) AbsPath(rel string) string {
	return filepath.Join(s.base, filepath.FromSlash(rel))
}

func (s *localStore) URLFor(rel string) string {
	return "/uploads/" + filepath.ToSlash(rel)
}

func (s *localStore) dateDir() string {
	t := s.now()
	return filepath.Join(t.Format("2006"), t.Format("01"), t.Format("02"))
}

func (s *localStore) SaveOriginal(data []byte, originalName string) (*SavedFile, error) {
	if len(data) == 0 {
		return nil, errors.New("empty file")
	}

	sum := sha256.Sum256(data)
	sha := hex.EncodeToString(sum[:])

	ext := strings.ToLower(filepath.Ext(originalName))
	base := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	safe := textutil.SafeFilename(base)

	rel := filepath.Join(s.dateDir(), fmt.Sprintf("%s_%d_%s%s", sha[:8], s.now().UnixMilli(), safe, ext))
	abs := filepath.Join(s.base, rel)

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir uploads: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return nil, fmt.Errorf("write original: %w", err)
	}

	s.log.Info("Stored original", "rel", filepath.ToSlash(rel), "bytes", len(data), "sha256", sha[:8])
	return &SavedFile{AbsPath: abs, RelPath: filepath.ToSlash(rel), SHA256: sha}, nil
}

func (s *localStore) DerivativeDir(sha string, kind string) (string, error) {
	if sha == "" || kind == "" {
		return "", errors.New("sha and kind required")
	}
	dir := filepath.Join(s.base, s.dateDir(), sha, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", kind, err)
	}
	return dir, nil
}

// MoveIntoTree relocates a derivative produced elsewhere (parser scratch
// space, renderer output) into the uploads tree and returns its rel path.
// Rename first; copy when the source sits on another filesystem.
func (s *localStore) MoveIntoTree(srcPath string, sha string, kind string) (string, error) {
	if srcPath == "" {
		return "", errors.New("source path required")
	}
	dir, err := s.DerivativeDir(sha, kind)
	if err != nil {
		return "", err
	}

	name := textutil.SafeFilename(filepath.Base(srcPath))
	dst := filepath.Join(dir, name)

	if err := os.Rename(srcPath, dst); err != nil {
		if copyErr := copyFile(srcPath, dst); copyErr != nil {
			return "", fmt.Errorf("move %s: %v; copy fallback: %w", srcPath, err, copyErr)
		}
		_ = os.Remove(srcPath)
	}

	rel, err := filepath.Rel(s.base, dst)
	if err != nil {
		return "", fmt.Errorf("relativize %s: %w", dst, err)
	}
	return filepath.ToSlash(rel), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// ImageDimensions reads just the header of an image file. WebP decodes via
// the x/image registration; png/jpeg/gif via the stdlib ones.
func ImageDimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
