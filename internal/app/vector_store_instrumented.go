package app

import (
	"context"
	"time"

	"github.com/yungbote/docqa-backend/internal/observability"
	"github.com/yungbote/docqa-backend/internal/vector"
)

type instrumentedVectorStore struct {
	inner   vector.Store
	metrics *observability.Metrics
}

// instrumentVectorStore wraps the store with operation counters, latency
// histograms, and an index-size gauge. A nil metrics handle returns the
// store unwrapped.
func instrumentVectorStore(inner vector.Store, m *observability.Metrics) vector.Store {
	if inner == nil || m == nil {
		return inner
	}
	return &instrumentedVectorStore{inner: inner, metrics: m}
}

func (s *instrumentedVectorStore) Load(ctx context.Context) error {
	start := time.Now()
	err := s.inner.Load(ctx)
	s.observe("load", err, time.Since(start))
	s.metrics.SetIndexSize(s.inner.Size())
	return err
}

func (s *instrumentedVectorStore) Insert(ctx context.Context, frag vector.Fragment) (string, error) {
	start := time.Now()
	id, err := s.inner.Insert(ctx, frag)
	s.observe("insert", err, time.Since(start))
	s.metrics.SetIndexSize(s.inner.Size())
	return id, err
}

func (s *instrumentedVectorStore) InsertBatch(ctx context.Context, frags []vector.Fragment) ([]string, error) {
	start := time.Now()
	ids, err := s.inner.InsertBatch(ctx, frags)
	s.observe("insert_batch", err, time.Since(start))
	s.metrics.SetIndexSize(s.inner.Size())
	return ids, err
}

func (s *instrumentedVectorStore) TopK(ctx context.Context, query []float32, opts vector.SearchOptions) ([]vector.Match, error) {
	start := time.Now()
	out, err := s.inner.TopK(ctx, query, opts)
	s.observe("top_k", err, time.Since(start))
	return out, err
}

func (s *instrumentedVectorStore) Dim() int     { return s.inner.Dim() }
func (s *instrumentedVectorStore) Size() int    { return s.inner.Size() }
func (s *instrumentedVectorStore) Loaded() bool { return s.inner.Loaded() }

func (s *instrumentedVectorStore) observe(operation string, err error, dur time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.ObserveVectorStore(operation, status, dur)
}
