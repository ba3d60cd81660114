package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/docqa-backend/internal/data/repos"
	"github.com/yungbote/docqa-backend/internal/platform/logger"
	"github.com/yungbote/docqa-backend/internal/types"
)

const (
	DefaultK         = 8
	DefaultThreshold = 0.7

	normEpsilon = 1e-12
)

// Fragment is the write-side input: raw (not yet normalized) embedding plus
// the metadata that should travel with the stored row.
type Fragment struct {
	Content    string
	Type       string
	SHA256     string
	Page       *int
	ChunkIndex *int
	AssetID    *string
	RowIndex   *int
	Meta       map[string]any
	Embedding  []float32
}

type SearchOptions struct {
	K         int
	Threshold float64
	Types     []string
	SHA256    string
}

type Match struct {
	ID       string
	Score    float64
	Content  string
	Metadata map[string]any
}

// Store keeps fragments durable in the database and mirrors id/metadata/
// embedding triples in a process-resident slice scanned linearly at query
// time. A fragment is visible in search results only after its row committed.
type Store interface {
	Load(ctx context.Context) error
	Insert(ctx context.Context, frag Fragment) (string, error)
	InsertBatch(ctx context.Context, frags []Fragment) ([]string, error)
	TopK(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error)
	Dim() int
	Size() int
	Loaded() bool
}

type entry struct {
	id   string
	typ  string
	sha  string
	meta map[string]any
	emb  []float32
}

type store struct {
	db        *gorm.DB
	fragments repos.FragmentRepo
	log       *logger.Logger
	dim       int

	mu      sync.RWMutex
	entries []entry
	loaded  bool
}

func NewStore(gdb *gorm.DB, fragments repos.FragmentRepo, dim int, baseLog *logger.Logger) Store {
	return &store{
		db:        gdb,
		fragments: fragments,
		dim:       dim,
		log:       baseLog.With("service", "VectorStore"),
	}
}

// Normalize scales v to unit length. Norms at or below epsilon are treated as
// 1 so degenerate vectors pass through instead of dividing by zero.
func Normalize(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, ErrEmptyVector
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	n := math.Sqrt(sum)
	if n <= normEpsilon {
		n = 1
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out, nil
}

func (s *store) Dim() int { return s.dim }

func (s *store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Load replays all fragments from the database in insertion order. Idempotent;
// concurrent callers serialize on the write lock and the second one no-ops.
func (s *store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}

	rows, err := s.fragments.ListForIndex(ctx, nil)
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}

	entries := make([]entry, 0, len(rows))
	for _, r := range rows {
		emb, err := types.DecodeVector(r.Embedding)
		if err != nil {
			s.log.Warn("skipping fragment with undecodable embedding", "fragment_id", r.ID, "error", err)
			continue
		}
		if len(emb) != s.dim {
			s.log.Warn("skipping fragment with unexpected dimension", "fragment_id", r.ID, "dim", len(emb), "want", s.dim)
			continue
		}
		entries = append(entries, entry{
			id:   r.ID,
			typ:  r.Type,
			sha:  r.SHA256,
			meta: types.DecodeMeta(r.Metadata),
			emb:  emb,
		})
	}

	s.entries = entries
	s.loaded = true
	s.log.Info("vector index loaded", "fragments", len(entries))
	return nil
}

func (s *store) Insert(ctx context.Context, frag Fragment) (string, error) {
	ids, err := s.InsertBatch(ctx, []Fragment{frag})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// InsertBatch validates and normalizes every fragment up front, persists all
// rows in one transaction, and only then appends to the index. Any failure
// leaves both the database and the index as they were.
func (s *store) InsertBatch(ctx context.Context, frags []Fragment) ([]string, error) {
	if len(frags) == 0 {
		return []string{}, nil
	}

	rows := make([]*types.Fragment, 0, len(frags))
	pending := make([]entry, 0, len(frags))
	for i := range frags {
		f := &frags[i]
		if len(f.Embedding) != s.dim {
			return nil, &InsertError{Reason: fmt.Sprintf("embedding dimension %d, want %d", len(f.Embedding), s.dim)}
		}
		emb, err := Normalize(f.Embedding)
		if err != nil {
			return nil, &InsertError{Reason: "normalize embedding", Err: err}
		}

		meta := mergedMeta(f)
		metaJSON, err := types.EncodeMeta(meta)
		if err != nil {
			return nil, &InsertError{Reason: "encode metadata", Err: err}
		}
		embJSON, err := types.EncodeVector(emb)
		if err != nil {
			return nil, &InsertError{Reason: "encode embedding", Err: err}
		}

		row := &types.Fragment{
			ID:         uuid.New().String(),
			Content:    f.Content,
			Type:       f.Type,
			SHA256:     f.SHA256,
			Page:       f.Page,
			ChunkIndex: f.ChunkIndex,
			AssetID:    f.AssetID,
			RowIndex:   f.RowIndex,
			Metadata:   metaJSON,
			Embedding:  embJSON,
		}
		rows = append(rows, row)
		pending = append(pending, entry{id: row.ID, typ: f.Type, sha: f.SHA256, meta: meta, emb: emb})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.fragments.Create(ctx, tx, rows)
		return err
	})
	if err != nil {
		return nil, &InsertError{Reason: "persist fragments", Err: err}
	}

	s.mu.Lock()
	if s.loaded {
		s.entries = append(s.entries, pending...)
	}
	s.mu.Unlock()

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids, nil
}

func (s *store) TopK(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if opts.K <= 0 {
		opts.K = DefaultK
	}
	if opts.Threshold == 0 {
		opts.Threshold = DefaultThreshold
	}

	if !s.Loaded() {
		if err := s.Load(ctx); err != nil {
			return nil, err
		}
	}

	if len(query) != s.dim {
		return nil, fmt.Errorf("query vector dimension %d, want %d", len(query), s.dim)
	}
	q, err := Normalize(query)
	if err != nil {
		return nil, err
	}

	var typeSet map[string]bool
	if len(opts.Types) > 0 {
		typeSet = make(map[string]bool, len(opts.Types))
		for _, t := range opts.Types {
			typeSet[t] = true
		}
	}

	type scoredEntry struct {
		id    string
		meta  map[string]any
		score float64
	}

	s.mu.RLock()
	n := len(s.entries)
	scored := make([]scoredEntry, 0, 64)
	for i := 0; i < n; i++ {
		e := &s.entries[i]
		if typeSet != nil && !typeSet[e.typ] {
			continue
		}
		if opts.SHA256 != "" && e.sha != opts.SHA256 {
			continue
		}
		sim := dot(q, e.emb)
		if sim < opts.Threshold {
			continue
		}
		scored = append(scored, scoredEntry{id: e.id, meta: e.meta, score: sim})
	}
	s.mu.RUnlock()

	// Stable keeps insertion order between equal scores.
	sort.SliceStable(scored, func(a, b int) bool { return scored[a].score > scored[b].score })
	if len(scored) > opts.K {
		scored = scored[:opts.K]
	}
	if len(scored) == 0 {
		return []Match{}, nil
	}

	ids := make([]string, len(scored))
	for i := range scored {
		ids[i] = scored[i].id
	}
	fetched, err := s.fragments.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch fragment contents: %w", err)
	}
	contentByID := make(map[string]string, len(fetched))
	for _, r := range fetched {
		contentByID[r.ID] = r.Content
	}

	out := make([]Match, 0, len(scored))
	for _, sc := range scored {
		out = append(out, Match{
			ID:       sc.id,
			Score:    sc.score,
			Content:  contentByID[sc.id],
			Metadata: sc.meta,
		})
	}
	return out, nil
}

// mergedMeta is the single metadata view stored in the JSON column and kept
// in the index: projected fields plus the caller's open tail.
func mergedMeta(f *Fragment) map[string]any {
	meta := make(map[string]any, len(f.Meta)+6)
	for k, v := range f.Meta {
		meta[k] = v
	}
	meta["type"] = f.Type
	if f.SHA256 != "" {
		meta["sha256"] = f.SHA256
	}
	if f.Page != nil {
		meta["page"] = *f.Page
	}
	if f.ChunkIndex != nil {
		meta["chunk_index"] = *f.ChunkIndex
	}
	if f.AssetID != nil {
		meta["asset_id"] = *f.AssetID
	}
	if f.RowIndex != nil {
		meta["row_index"] = *f.RowIndex
	}
	return meta
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
