package qdrant

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-apps/internal/apperr"
	"rag-apps/internal/config"
	"rag-apps/internal/helper"
	"rag-apps/internal/models"
	"rag-apps/internal/vectorstore"
	"rag-apps/internal/vectorstore/storetest"
)

type point struct {
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type collection struct {
	size     int
	distance string
	points   map[string]point
}

// fakeQdrant implements the handful of REST endpoints the client uses.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]*collection
	apiKeys     []string
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *httptest.Server) {
	f := &fakeQdrant{collections: map[string]*collection{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections", f.list)
	mux.HandleFunc("GET /collections/{name}", f.get)
	mux.HandleFunc("PUT /collections/{name}", f.create)
	mux.HandleFunc("DELETE /collections/{name}", f.drop)
	mux.HandleFunc("PUT /collections/{name}/points", f.upsert)
	mux.HandleFunc("POST /collections/{name}/points/search", f.search)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.apiKeys = append(f.apiKeys, r.Header.Get("api-key"))
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func reply(w http.ResponseWriter, status int, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
}

func (f *fakeQdrant) lookup(w http.ResponseWriter, r *http.Request) *collection {
	c, ok := f.collections[r.PathValue("name")]
	if !ok {
		reply(w, http.StatusNotFound, nil)
		return nil
	}
	return c
}

func (f *fakeQdrant) list(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cols := []map[string]string{}
	for name := range f.collections {
		cols = append(cols, map[string]string{"name": name})
	}
	reply(w, http.StatusOK, map[string]any{"collections": cols})
}

func (f *fakeQdrant) get(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.lookup(w, r)
	if c == nil {
		return
	}
	reply(w, http.StatusOK, map[string]any{
		"points_count": len(c.points),
		"config": map[string]any{"params": map[string]any{
			"vectors": map[string]any{"size": c.size, "distance": c.distance},
		}},
	})
}

func (f *fakeQdrant) create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Vectors struct {
			Size     int    `json:"size"`
			Distance string `json:"distance"`
		} `json:"vectors"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		reply(w, http.StatusBadRequest, nil)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[r.PathValue("name")] = &collection{size: body.Vectors.Size, distance: body.Vectors.Distance, points: map[string]point{}}
	reply(w, http.StatusOK, true)
}

func (f *fakeQdrant) drop(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookup(w, r) == nil {
		return
	}
	delete(f.collections, r.PathValue("name"))
	reply(w, http.StatusOK, true)
}

func (f *fakeQdrant) upsert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Points []struct {
			ID string `json:"id"`
			point
		} `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		reply(w, http.StatusBadRequest, nil)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.lookup(w, r)
	if c == nil {
		return
	}
	for _, p := range body.Points {
		if len(p.Vector) != c.size {
			reply(w, http.StatusBadRequest, nil)
			return
		}
		c.points[p.ID] = p.point
	}
	reply(w, http.StatusOK, map[string]string{"status": "completed"})
}

func score(distance string, a, b []float32) float32 {
	var dot, na, nb, sq float64
	for i := range a {
		dot += float64(a[i] * b[i])
		na += float64(a[i] * a[i])
		nb += float64(b[i] * b[i])
		d := float64(a[i] - b[i])
		sq += d * d
	}
	switch distance {
	case "Dot":
		return float32(dot)
	case "Euclid":
		return float32(math.Sqrt(sq))
	}
	return float32(dot / math.Sqrt(na*nb))
}

func (f *fakeQdrant) search(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Vector []float32 `json:"vector"`
		Limit  int       `json:"limit"`
		Filter struct {
			Must []struct {
				Key   string `json:"key"`
				Match struct {
					Value string `json:"value"`
				} `json:"match"`
			} `json:"must"`
		} `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		reply(w, http.StatusBadRequest, nil)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.lookup(w, r)
	if c == nil {
		return
	}
	type hit struct {
		Score   float32        `json:"score"`
		Payload map[string]any `json:"payload"`
	}
	hits := []hit{}
	for _, p := range c.points {
		meta, _ := p.Payload["metadata"].(map[string]any)
		ok := true
		for _, m := range body.Filter.Must {
			if meta[strings.TrimPrefix(m.Key, "metadata.")] != m.Match.Value {
				ok = false
			}
		}
		if ok {
			hits = append(hits, hit{Score: score(c.distance, body.Vector, p.Vector), Payload: p.Payload})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if c.distance == "Euclid" {
			return hits[i].Score < hits[j].Score
		}
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > body.Limit {
		hits = hits[:body.Limit]
	}
	reply(w, http.StatusOK, hits)
}

func fastPolicy() helper.RetryPolicy {
	return helper.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, AttemptTimeout: time.Second}
}

func factory(t *testing.T) vectorstore.Store {
	_, srv := newFakeQdrant(t)
	return NewStorage(config.QdrantConfig{URL: srv.URL, APIKey: "secret"}, fastPolicy())
}

func TestStoreCosine(t *testing.T) {
	storetest.Run(t, factory, models.MetricCosine)
}

func TestStoreEuclidean(t *testing.T) {
	storetest.Run(t, factory, models.MetricEuclidean)
}

func TestStoreDotProduct(t *testing.T) {
	storetest.Run(t, factory, models.MetricDotProduct)
}

func TestSendsAPIKey(t *testing.T) {
	f, srv := newFakeQdrant(t)
	s := NewStorage(config.QdrantConfig{URL: srv.URL + "/", APIKey: "secret"}, fastPolicy())
	require.NoError(t, s.EnsureIndex(context.Background(), "docs", 3, models.MetricCosine))

	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.apiKeys)
	for _, k := range f.apiKeys {
		assert.Equal(t, "secret", k)
	}
}

func TestServerErrorsAreRetriedThenUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewStorage(config.QdrantConfig{URL: srv.URL}, fastPolicy())
	_, err := s.ListIndexes(context.Background())
	assert.ErrorIs(t, err, apperr.ErrIndexUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewStorage(config.QdrantConfig{URL: srv.URL}, fastPolicy())
	_, err := s.ListIndexes(context.Background())
	assert.ErrorIs(t, err, apperr.ErrIndexUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPointIDsAreStable(t *testing.T) {
	f, srv := newFakeQdrant(t)
	s := NewStorage(config.QdrantConfig{URL: srv.URL}, fastPolicy())
	ctx := context.Background()
	require.NoError(t, s.EnsureIndex(ctx, "docs", 2, models.MetricCosine))
	rec := []models.IndexRecord{{ID: "report.pdf-page1-1", Content: "x", Embedding: []float32{1, 0}}}
	require.NoError(t, s.Upsert(ctx, "docs", rec))
	require.NoError(t, s.Upsert(ctx, "docs", rec))

	f.mu.Lock()
	defer f.mu.Unlock()
	pts := f.collections["docs"].points
	require.Len(t, pts, 1)
	_, ok := pts[helper.StableUUID("report.pdf-page1-1")]
	assert.True(t, ok)
}
