package vector

import (
	"context"
	"errors"
	"math"
	"testing"

	"gorm.io/gorm"

	"github.com/yungbote/docqa-backend/internal/data/repos"
	"github.com/yungbote/docqa-backend/internal/data/repos/testutil"
	"github.com/yungbote/docqa-backend/internal/types"
)

func newTestStore(t *testing.T, dim int) (Store, *gorm.DB) {
	t.Helper()
	gdb := testutil.DB(t)
	logg := testutil.Logger(t)
	fragments := repos.NewFragmentRepo(gdb, logg)
	return NewStore(gdb, fragments, dim, logg), gdb
}

func TestNormalize(t *testing.T) {
	out, err := Normalize([]float32{3, 4})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if math.Abs(float64(out[0])-0.6) > 1e-6 || math.Abs(float64(out[1])-0.8) > 1e-6 {
		t.Fatalf("normalized=%v", out)
	}

	if _, err := Normalize(nil); !errors.Is(err, ErrEmptyVector) {
		t.Fatalf("empty vector: want ErrEmptyVector, got %v", err)
	}

	// Zero norm is treated as 1, not a division by zero.
	zero, err := Normalize([]float32{0, 0, 0})
	if err != nil {
		t.Fatalf("Normalize zero: %v", err)
	}
	for _, x := range zero {
		if x != 0 {
			t.Fatalf("zero vector changed: %v", zero)
		}
	}
}

func TestInsertNormalizesEmbedding(t *testing.T) {
	store, gdb := newTestStore(t, 2)
	ctx := context.Background()

	id, err := store.Insert(ctx, Fragment{
		Content:   "hello",
		Type:      types.FragmentTypeText,
		SHA256:    "abc",
		Embedding: []float32{3, 4},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	var row types.Fragment
	if err := gdb.Where("id = ?", id).First(&row).Error; err != nil {
		t.Fatalf("fetch row: %v", err)
	}
	emb, err := types.DecodeVector(row.Embedding)
	if err != nil {
		t.Fatalf("decode embedding: %v", err)
	}

	var norm float64
	for _, x := range emb {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if math.Abs(norm-1) > 1e-5 {
		t.Fatalf("stored norm=%v want 1", norm)
	}
	if math.Abs(float64(emb[0])-0.6) > 1e-5 || math.Abs(float64(emb[1])-0.8) > 1e-5 {
		t.Fatalf("stored embedding=%v", emb)
	}
}

func TestInsertRejectsWrongDimension(t *testing.T) {
	store, _ := newTestStore(t, 1024)
	ctx := context.Background()

	if err := store.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	raw := make([]float32, 1023)
	for i := range raw {
		raw[i] = 0.1
	}
	_, err := store.Insert(ctx, Fragment{Content: "x", Type: types.FragmentTypeText, Embedding: raw})
	if err == nil {
		t.Fatalf("expected dimension error")
	}
	var ie *InsertError
	if !errors.As(err, &ie) {
		t.Fatalf("want *InsertError, got %T: %v", err, err)
	}
	if store.Size() != 0 {
		t.Fatalf("index size=%d after rejected insert", store.Size())
	}
}

func TestFailedInsertLeavesIndexUnchanged(t *testing.T) {
	store, gdb := newTestStore(t, 2)
	ctx := context.Background()

	if err := store.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := store.Insert(ctx, Fragment{Content: "ok", Type: types.FragmentTypeText, Embedding: []float32{1, 0}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if store.Size() != 1 {
		t.Fatalf("size=%d want 1", store.Size())
	}

	// Simulate a storage failure under the transaction.
	if err := gdb.Migrator().DropTable(&types.Fragment{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	_, err := store.Insert(ctx, Fragment{Content: "broken", Type: types.FragmentTypeText, Embedding: []float32{0, 1}})
	if err == nil {
		t.Fatalf("expected insert failure")
	}
	var ie *InsertError
	if !errors.As(err, &ie) {
		t.Fatalf("want *InsertError, got %T: %v", err, err)
	}
	if store.Size() != 1 {
		t.Fatalf("index changed on failed insert: size=%d", store.Size())
	}
}

func TestTopKOrdersByScoreWithStableTies(t *testing.T) {
	store, _ := newTestStore(t, 2)
	ctx := context.Background()

	first, err := store.Insert(ctx, Fragment{Content: "first", Type: types.FragmentTypeText, Embedding: []float32{1, 0}})
	if err != nil {
		t.Fatalf("Insert first: %v", err)
	}
	mid, err := store.Insert(ctx, Fragment{Content: "mid", Type: types.FragmentTypeText, Embedding: []float32{0.8, 0.6}})
	if err != nil {
		t.Fatalf("Insert mid: %v", err)
	}
	second, err := store.Insert(ctx, Fragment{Content: "second", Type: types.FragmentTypeText, Embedding: []float32{1, 0}})
	if err != nil {
		t.Fatalf("Insert second: %v", err)
	}

	got, err := store.TopK(ctx, []float32{1, 0}, SearchOptions{K: 10, Threshold: 0.5})
	if err != nil {
		t.Fatalf("TopK: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len=%d want 3", len(got))
	}
	if got[0].ID != first || got[1].ID != second || got[2].ID != mid {
		t.Fatalf("order=[%s %s %s] want [%s %s %s]", got[0].ID, got[1].ID, got[2].ID, first, second, mid)
	}
	if got[0].Score < got[1].Score || got[1].Score < got[2].Score {
		t.Fatalf("scores not descending: %v %v %v", got[0].Score, got[1].Score, got[2].Score)
	}
	if got[0].Content != "first" {
		t.Fatalf("content=%q want %q", got[0].Content, "first")
	}
}

func TestTopKFilters(t *testing.T) {
	store, _ := newTestStore(t, 2)
	ctx := context.Background()

	put := func(typ, sha string) string {
		t.Helper()
		id, err := store.Insert(ctx, Fragment{Content: typ + "/" + sha, Type: typ, SHA256: sha, Embedding: []float32{1, 0}})
		if err != nil {
			t.Fatalf("Insert(%s,%s): %v", typ, sha, err)
		}
		return id
	}

	pdfA := put(types.FragmentTypePDF, "shaA")
	rowA := put(types.FragmentTypeTableRow, "shaA")
	pdfB := put(types.FragmentTypePDF, "shaB")

	got, err := store.TopK(ctx, []float32{1, 0}, SearchOptions{K: 10, Threshold: 0.5, Types: []string{types.FragmentTypePDF}})
	if err != nil {
		t.Fatalf("TopK types: %v", err)
	}
	if len(got) != 2 || got[0].ID != pdfA || got[1].ID != pdfB {
		t.Fatalf("type filter returned %d results", len(got))
	}

	got, err = store.TopK(ctx, []float32{1, 0}, SearchOptions{K: 10, Threshold: 0.5, SHA256: "shaA"})
	if err != nil {
		t.Fatalf("TopK sha: %v", err)
	}
	if len(got) != 2 || got[0].ID != pdfA || got[1].ID != rowA {
		t.Fatalf("sha filter returned %d results", len(got))
	}
}

func TestTopKThresholdBoundary(t *testing.T) {
	store, _ := newTestStore(t, 2)
	ctx := context.Background()

	above := float32(0.7001)
	below := float32(0.6999)
	keep, err := store.Insert(ctx, Fragment{
		Content:   "keep",
		Type:      types.FragmentTypeText,
		Embedding: []float32{above, float32(math.Sqrt(1 - float64(above)*float64(above)))},
	})
	if err != nil {
		t.Fatalf("Insert keep: %v", err)
	}
	if _, err := store.Insert(ctx, Fragment{
		Content:   "drop",
		Type:      types.FragmentTypeText,
		Embedding: []float32{below, float32(math.Sqrt(1 - float64(below)*float64(below)))},
	}); err != nil {
		t.Fatalf("Insert drop: %v", err)
	}

	got, err := store.TopK(ctx, []float32{1, 0}, SearchOptions{K: 10, Threshold: 0.7})
	if err != nil {
		t.Fatalf("TopK: %v", err)
	}
	if len(got) != 1 || got[0].ID != keep {
		t.Fatalf("boundary: got %d results", len(got))
	}
}

func TestTopKLazyLoadsFromDatabase(t *testing.T) {
	store, gdb := newTestStore(t, 2)
	ctx := context.Background()

	if _, err := store.Insert(ctx, Fragment{
		Content:   "persisted",
		Type:      types.FragmentTypeText,
		Meta:      map[string]any{"filepath": "a.txt"},
		Embedding: []float32{1, 0},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// A second store over the same database sees the fragment via lazy load.
	logg := testutil.Logger(t)
	fresh := NewStore(gdb, repos.NewFragmentRepo(gdb, logg), 2, logg)
	if fresh.Loaded() {
		t.Fatalf("fresh store claims loaded")
	}

	got, err := fresh.TopK(ctx, []float32{1, 0}, SearchOptions{K: 1, Threshold: 0.5})
	if err != nil {
		t.Fatalf("TopK: %v", err)
	}
	if len(got) != 1 || got[0].Content != "persisted" {
		t.Fatalf("lazy load missed the fragment: %+v", got)
	}
	if got[0].Metadata["filepath"] != "a.txt" {
		t.Fatalf("metadata=%v", got[0].Metadata)
	}
	if !fresh.Loaded() || fresh.Size() != 1 {
		t.Fatalf("loaded=%v size=%d", fresh.Loaded(), fresh.Size())
	}
}

func TestLoadIdempotent(t *testing.T) {
	store, _ := newTestStore(t, 2)
	ctx := context.Background()

	if _, err := store.Insert(ctx, Fragment{Content: "x", Type: types.FragmentTypeText, Embedding: []float32{1, 0}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := store.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := store.Load(ctx); err != nil {
		t.Fatalf("Load again: %v", err)
	}
	if store.Size() != 1 {
		t.Fatalf("size=%d after double load", store.Size())
	}
}

func TestInsertBatchAtomicVisibility(t *testing.T) {
	store, _ := newTestStore(t, 2)
	ctx := context.Background()

	ids, err := store.InsertBatch(ctx, []Fragment{
		{Content: "r0", Type: types.FragmentTypeTableRow, Embedding: []float32{1, 0}},
		{Content: "r1", Type: types.FragmentTypeTableRow, Embedding: []float32{1, 0}},
		{Content: "r2", Type: types.FragmentTypeTableRow, Embedding: []float32{1, 0}},
	})
	if err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("ids=%d want 3", len(ids))
	}

	got, err := store.TopK(ctx, []float32{1, 0}, SearchOptions{K: 10, Threshold: 0.5})
	if err != nil {
		t.Fatalf("TopK: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("visible=%d want 3", len(got))
	}
	for i, m := range got {
		if m.ID != ids[i] {
			t.Fatalf("result %d: id=%s want %s", i, m.ID, ids[i])
		}
	}

	// One bad fragment rejects the whole batch.
	_, err = store.InsertBatch(ctx, []Fragment{
		{Content: "good", Type: types.FragmentTypeTableRow, Embedding: []float32{1, 0}},
		{Content: "bad", Type: types.FragmentTypeTableRow, Embedding: []float32{1, 0, 0}},
	})
	if err == nil {
		t.Fatalf("expected batch rejection")
	}
	if store.Size() != 3 {
		t.Fatalf("size=%d want 3 after rejected batch", store.Size())
	}
}
