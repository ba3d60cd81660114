package app

import (
	"context"
	"errors"
	"testing"

	"github.com/yungbote/docqa-backend/internal/observability"
	"github.com/yungbote/docqa-backend/internal/vector"
)

func TestInstrumentVectorStorePassThrough(t *testing.T) {
	inner := &fakeInstrumentedInner{size: 3}
	vs := instrumentVectorStore(inner, observability.NewMetrics())
	if vs == nil {
		t.Fatalf("instrumentVectorStore: expected non-nil wrapper")
	}

	if err := vs.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := vs.Insert(context.Background(), vector.Fragment{Content: "a", Embedding: []float32{1, 0}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := vs.InsertBatch(context.Background(), []vector.Fragment{{Content: "b", Embedding: []float32{0, 1}}}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	if _, err := vs.TopK(context.Background(), []float32{1, 0}, vector.SearchOptions{K: 2}); err != nil {
		t.Fatalf("TopK: %v", err)
	}

	if inner.loadCalls != 1 || inner.insertCalls != 1 || inner.batchCalls != 1 || inner.topKCalls != 1 {
		t.Fatalf(
			"unexpected call counts: load=%d insert=%d insert_batch=%d top_k=%d",
			inner.loadCalls,
			inner.insertCalls,
			inner.batchCalls,
			inner.topKCalls,
		)
	}
	if vs.Size() != 3 || vs.Dim() != 2 || !vs.Loaded() {
		t.Fatalf("accessor passthrough: size=%d dim=%d loaded=%v", vs.Size(), vs.Dim(), vs.Loaded())
	}
}

func TestInstrumentVectorStoreErrorPassThrough(t *testing.T) {
	want := errors.New("insert failed")
	inner := &fakeInstrumentedInner{insertErr: want}
	vs := instrumentVectorStore(inner, observability.NewMetrics())

	if _, err := vs.Insert(context.Background(), vector.Fragment{Content: "a"}); !errors.Is(err, want) {
		t.Fatalf("Insert: expected wrapped error %v, got=%v", want, err)
	}
}

func TestInstrumentVectorStoreNilMetrics(t *testing.T) {
	inner := &fakeInstrumentedInner{}
	if got := instrumentVectorStore(inner, nil); got != vector.Store(inner) {
		t.Fatalf("nil metrics: expected inner store unwrapped")
	}
}

type fakeInstrumentedInner struct {
	loadCalls   int
	insertCalls int
	batchCalls  int
	topKCalls   int

	size      int
	insertErr error
}

func (f *fakeInstrumentedInner) Load(_ context.Context) error {
	f.loadCalls++
	return nil
}

func (f *fakeInstrumentedInner) Insert(_ context.Context, _ vector.Fragment) (string, error) {
	f.insertCalls++
	return "f1", f.insertErr
}

func (f *fakeInstrumentedInner) InsertBatch(_ context.Context, frags []vector.Fragment) ([]string, error) {
	f.batchCalls++
	out := make([]string, len(frags))
	return out, nil
}

func (f *fakeInstrumentedInner) TopK(_ context.Context, _ []float32, _ vector.SearchOptions) ([]vector.Match, error) {
	f.topKCalls++
	return []vector.Match{{ID: "f1", Score: 0.9}}, nil
}

func (f *fakeInstrumentedInner) Dim() int     { return 2 }
func (f *fakeInstrumentedInner) Size() int    { return f.size }
func (f *fakeInstrumentedInner) Loaded() bool { return true }
