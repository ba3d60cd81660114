package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/yungbote/docqa-backend/internal/platform/logger"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	logg, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	s, err := NewLocal(filepath.Join(t.TempDir(), "uploads"), logg)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return s
}

func TestSaveOriginalLayout(t *testing.T) {
	s := newTestStore(t)

	data := []byte("RAG는 검색 증강 생성 기법이다.")
	saved, err := s.SaveOriginal(data, "내 문서 (final).txt")
	if err != nil {
		t.Fatalf("SaveOriginal: %v", err)
	}

	sum := sha256.Sum256(data)
	wantSHA := hex.EncodeToString(sum[:])
	if saved.SHA256 != wantSHA {
		t.Fatalf("sha=%s want %s", saved.SHA256, wantSHA)
	}

	// uploads/YYYY/MM/DD/{sha8}_{unixms}_{safe}{ext}
	re := regexp.MustCompile(`^\d{4}/\d{2}/\d{2}/` + wantSHA[:8] + `_\d+_내문서final\.txt$`)
	if !re.MatchString(saved.RelPath) {
		t.Fatalf("rel path %q does not match layout", saved.RelPath)
	}

	got, err := os.ReadFile(saved.AbsPath)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("content mismatch")
	}
}

func TestSaveOriginalRejectsEmpty(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.SaveOriginal(nil, "a.txt"); err == nil {
		t.Fatalf("empty file accepted")
	}
}

func TestMoveIntoTree(t *testing.T) {
	s := newTestStore(t)

	src := filepath.Join(t.TempDir(), "table-001.jpg")
	if err := os.WriteFile(src, []byte("jpegdata"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	rel, err := s.MoveIntoTree(src, "deadbeef", "tables")
	if err != nil {
		t.Fatalf("MoveIntoTree: %v", err)
	}
	if !strings.Contains(rel, "deadbeef/tables/table-001.jpg") {
		t.Fatalf("rel=%q", rel)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("source still present")
	}
	if _, err := os.Stat(s.AbsPath(rel)); err != nil {
		t.Fatalf("destination missing: %v", err)
	}
	if got := s.URLFor(rel); !strings.HasPrefix(got, "/uploads/") {
		t.Fatalf("url=%q", got)
	}
}

func TestImageDimensions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 12, 7))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	w, h, err := ImageDimensions(path)
	if err != nil {
		t.Fatalf("ImageDimensions: %v", err)
	}
	if w != 12 || h != 7 {
		t.Fatalf("dims=%dx%d", w, h)
	}
}
