package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"rag-apps/internal/apperr"
	"rag-apps/internal/config"
	"rag-apps/internal/helper"
	"rag-apps/internal/models"
	"rag-apps/internal/vectorstore"
)

// Storage is a REST client to Qdrant. Each index is a collection; record
// ids are mapped to UUIDs and kept in the payload.
type Storage struct {
	url    string
	apiKey string
	client *http.Client
	policy helper.RetryPolicy

	mu   sync.RWMutex
	dims map[string]models.IndexInfo
}

var _ vectorstore.Store = (*Storage)(nil)

var errNotFound = errors.New("qdrant: not found")

var distanceNames = map[models.Metric]string{
	models.MetricCosine:     "Cosine",
	models.MetricEuclidean:  "Euclid",
	models.MetricDotProduct: "Dot",
}

func NewStorage(cfg config.QdrantConfig, policy helper.RetryPolicy) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:    strings.TrimRight(cfg.URL, "/"),
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout},
		policy: policy,
		dims:   make(map[string]models.IndexInfo),
	}
}

type collectionInfo struct {
	PointsCount int `json:"points_count"`
	Config      struct {
		Params struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		} `json:"params"`
	} `json:"config"`
}

func metricOf(distance string) models.Metric {
	for m, d := range distanceNames {
		if d == distance {
			return m
		}
	}
	return models.Metric(strings.ToLower(distance))
}

// describe fetches collection parameters; the dimension cache is refreshed.
func (s *Storage) describe(ctx context.Context, op, name string) (models.IndexInfo, error) {
	var resp struct {
		Result collectionInfo `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, "/collections/"+name, nil, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			s.forget(name)
			return models.IndexInfo{}, vectorstore.NotFound(op, name)
		}
		return models.IndexInfo{}, apperr.Wrap(apperr.KindIndexUnavailable, op, err)
	}
	info := models.IndexInfo{
		Name:      name,
		Dimension: resp.Result.Config.Params.Vectors.Size,
		Metric:    metricOf(resp.Result.Config.Params.Vectors.Distance),
		Count:     resp.Result.PointsCount,
	}
	s.mu.Lock()
	s.dims[name] = info
	s.mu.Unlock()
	return info, nil
}

func (s *Storage) cached(ctx context.Context, op, name string) (models.IndexInfo, error) {
	if err := vectorstore.ValidateName(op, name); err != nil {
		return models.IndexInfo{}, err
	}
	s.mu.RLock()
	info, ok := s.dims[name]
	s.mu.RUnlock()
	if ok {
		return info, nil
	}
	return s.describe(ctx, op, name)
}

func (s *Storage) forget(name string) {
	s.mu.Lock()
	delete(s.dims, name)
	s.mu.Unlock()
}

func (s *Storage) EnsureIndex(ctx context.Context, name string, dimension int, metric models.Metric) error {
	const op = "qdrant.EnsureIndex"
	if err := vectorstore.ValidateEnsure(op, name, dimension, metric); err != nil {
		return err
	}
	existing, err := s.describe(ctx, op, name)
	if err == nil {
		return vectorstore.CheckExisting(op, existing, dimension, metric)
	}
	if !errors.Is(err, apperr.ErrIndexNotFound) {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": distanceNames[metric],
		},
	}
	if err := s.do(ctx, http.MethodPut, "/collections/"+name, body, nil); err != nil {
		return apperr.Wrap(apperr.KindIndexUnavailable, op, err)
	}
	s.mu.Lock()
	s.dims[name] = models.IndexInfo{Name: name, Dimension: dimension, Metric: metric}
	s.mu.Unlock()
	log.Info().Str("index", name).Int("dimension", dimension).Str("metric", string(metric)).Msg("Created qdrant collection")
	return nil
}

func (s *Storage) Upsert(ctx context.Context, name string, records []models.IndexRecord) error {
	const op = "qdrant.Upsert"
	info, err := s.cached(ctx, op, name)
	if err != nil {
		return err
	}
	records, err = vectorstore.PrepareRecords(op, info.Dimension, records)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	points := make([]map[string]any, len(records))
	for i, r := range records {
		meta := r.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		points[i] = map[string]any{
			"id":     helper.StableUUID(r.ID),
			"vector": r.Embedding,
			"payload": map[string]any{
				"record_id": r.ID,
				"content":   r.Content,
				"metadata":  meta,
			},
		}
	}
	err = s.do(ctx, http.MethodPut, "/collections/"+name+"/points?wait=true", map[string]any{"points": points}, nil)
	if errors.Is(err, errNotFound) {
		s.forget(name)
		return vectorstore.NotFound(op, name)
	}
	return apperr.Wrap(apperr.KindIndexUnavailable, op, err)
}

type searchHit struct {
	Score   float32 `json:"score"`
	Payload struct {
		RecordID string            `json:"record_id"`
		Content  string            `json:"content"`
		Metadata map[string]string `json:"metadata"`
	} `json:"payload"`
}

func (s *Storage) Query(ctx context.Context, name string, vector []float32, k int, filter map[string]string) (models.RetrievalResult, error) {
	const op = "qdrant.Query"
	info, err := s.cached(ctx, op, name)
	if err != nil {
		return nil, err
	}
	if err := vectorstore.ValidateQuery(op, info.Dimension, vector, k); err != nil {
		return nil, err
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	if len(filter) > 0 {
		keys := make([]string, 0, len(filter))
		for key := range filter {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		must := make([]map[string]any, len(keys))
		for i, key := range keys {
			must[i] = map[string]any{"key": "metadata." + key, "match": map[string]any{"value": filter[key]}}
		}
		req["filter"] = map[string]any{"must": must}
	}
	var resp struct {
		Result []searchHit `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, "/collections/"+name+"/points/search", req, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			s.forget(name)
			return nil, vectorstore.NotFound(op, name)
		}
		return nil, apperr.Wrap(apperr.KindIndexUnavailable, op, err)
	}
	out := make(models.RetrievalResult, 0, len(resp.Result))
	for _, h := range resp.Result {
		score := h.Score
		// Euclid scores are distances; flip them so higher is closer.
		if info.Metric == models.MetricEuclidean {
			score = 1 / (1 + score)
		}
		out = append(out, models.Match{
			ID:       h.Payload.RecordID,
			Content:  h.Payload.Content,
			Metadata: h.Payload.Metadata,
			Score:    score,
		})
	}
	return vectorstore.SortMatches(out, k), nil
}

func (s *Storage) ListIndexes(ctx context.Context) ([]models.IndexInfo, error) {
	const op = "qdrant.ListIndexes"
	var resp struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, "/collections", nil, &resp); err != nil {
		return nil, apperr.Wrap(apperr.KindIndexUnavailable, op, err)
	}
	infos := make([]models.IndexInfo, 0, len(resp.Result.Collections))
	for _, c := range resp.Result.Collections {
		info, err := s.describe(ctx, op, c.Name)
		if err != nil {
			if errors.Is(err, apperr.ErrIndexNotFound) {
				continue
			}
			return nil, err
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s *Storage) DeleteIndex(ctx context.Context, name string) error {
	const op = "qdrant.DeleteIndex"
	if _, err := s.describe(ctx, op, name); err != nil {
		return err
	}
	if err := s.do(ctx, http.MethodDelete, "/collections/"+name, nil, nil); err != nil && !errors.Is(err, errNotFound) {
		return apperr.Wrap(apperr.KindIndexUnavailable, op, err)
	}
	s.forget(name)
	return nil
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// do sends one JSON request with bounded retries. 404 maps to errNotFound
// and other 4xx responses are not retried.
func (s *Storage) do(ctx context.Context, method, path string, body, out any) error {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return fmt.Errorf("qdrant: encode request: %w", err)
		}
	}
	_, err := helper.Retry(ctx, s.policy, "qdrant "+method+" "+path, func(ctx context.Context) (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, s.url+path, bytes.NewReader(data))
		if err != nil {
			return struct{}{}, helper.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if s.apiKey != "" {
			req.Header.Set("api-key", s.apiKey)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return struct{}{}, helper.Permanent(errNotFound)
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return struct{}{}, fmt.Errorf("qdrant %s %s failed: %s: %s", method, path, resp.Status, bytes.TrimSpace(msg))
		case resp.StatusCode >= 300:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return struct{}{}, helper.Permanent(fmt.Errorf("qdrant %s %s failed: %s: %s", method, path, resp.Status, bytes.TrimSpace(msg)))
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return struct{}{}, helper.Permanent(fmt.Errorf("qdrant: decode response: %w", err))
			}
		}
		return struct{}{}, nil
	})
	return err
}
