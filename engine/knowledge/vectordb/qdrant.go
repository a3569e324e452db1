package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/compozy/notebook/engine/core"
	"github.com/compozy/notebook/engine/knowledge"
	"github.com/compozy/notebook/pkg/logger"
)

const (
	qdrantDefaultTimeout = 15 * time.Second
	qdrantRecordIDKey    = "record_id"
	qdrantTextKey        = "text"
)

// qdrantIDNamespace maps non-UUID record IDs onto the UUIDs Qdrant requires.
var qdrantIDNamespace = uuid.MustParse("6f1f5c8e-3a7d-4d9e-9a62-0b7a3c1e5d24")

// qdrantStore talks to the Qdrant REST API.
type qdrantStore struct {
	client  *http.Client
	baseURL string
	apiKey  string
	metric  Metric
	retry   core.RetryPolicy
	// known caches collection dimensions that were confirmed to exist.
	known sync.Map
}

type qdrantSearchResult struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type qdrantCollectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

// qdrantError is a non-2xx response.
type qdrantError struct {
	StatusCode int
	Message    string
}

func (e *qdrantError) Error() string {
	return fmt.Sprintf("qdrant: %s (%d)", e.Message, e.StatusCode)
}

func (e *qdrantError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

func newQdrantStore(cfg *Config) (*qdrantStore, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, errors.New("qdrant: url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("qdrant: invalid url %q: %w", base, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = qdrantDefaultTimeout
	}
	retry := cfg.Retry
	retry.Timeout = 0
	return &qdrantStore{
		client:  &http.Client{Timeout: timeout},
		baseURL: base,
		apiKey:  cfg.APIKey,
		metric:  ParseMetric(cfg.Metric),
		retry:   retry,
	}, nil
}

func (q *qdrantStore) distance() string {
	switch q.metric {
	case MetricDot:
		return "Dot"
	case MetricEuclidean:
		return "Euclid"
	default:
		return "Cosine"
	}
}

func (q *qdrantStore) Upsert(ctx context.Context, collection string, records []Record) error {
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	dimension, err := validateRecords(collection, records, 0)
	if err != nil {
		return err
	}
	existing, err := q.ensureCollection(ctx, collection, dimension)
	if err != nil {
		return indexWriteError(collection, err)
	}
	if existing != dimension {
		return indexWriteError(
			collection,
			fmt.Errorf("record dimension %d does not match collection dimension %d", dimension, existing),
		)
	}
	points := make([]map[string]any, 0, len(records))
	for i := range records {
		rec := &records[i]
		payload := rec.Metadata
		if payload == nil {
			payload = make(map[string]any, 2)
		} else {
			payload = cloneForPayload(payload)
		}
		payload[qdrantTextKey] = rec.Text
		payload[qdrantRecordIDKey] = rec.ID
		points = append(points, map[string]any{
			"id":      qdrantPointID(rec.ID),
			"vector":  rec.Embedding,
			"payload": payload,
		})
	}
	body := map[string]any{"points": points}
	path := fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(collection))
	if err := q.doWithRetry(ctx, http.MethodPut, path, body, nil); err != nil {
		return indexWriteError(collection, err)
	}
	return nil
}

// ensureCollection returns the dimension of the collection, creating it
// with dimension when it does not exist yet.
func (q *qdrantStore) ensureCollection(ctx context.Context, collection string, dimension int) (int, error) {
	if cached, ok := q.known.Load(collection); ok {
		return cached.(int), nil
	}
	size, found, err := q.collectionDimension(ctx, collection)
	if err != nil {
		return 0, err
	}
	if !found {
		body := map[string]any{
			"vectors": map[string]any{
				"size":     dimension,
				"distance": q.distance(),
			},
		}
		err := q.doWithRetry(ctx, http.MethodPut, "/collections/"+url.PathEscape(collection), body, nil)
		var apiErr *qdrantError
		// A concurrent creator wins with 409; re-read its dimension.
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
			size, found, err = q.collectionDimension(ctx, collection)
			if err != nil {
				return 0, err
			}
			if !found {
				return 0, fmt.Errorf("qdrant: collection %q vanished after creation conflict", collection)
			}
		} else if err != nil {
			return 0, err
		} else {
			size = dimension
			logger.FromContext(ctx).Info("Created vector collection", "collection", collection, "dimension", dimension)
		}
	}
	q.known.Store(collection, size)
	return size, nil
}

func (q *qdrantStore) collectionDimension(ctx context.Context, collection string) (int, bool, error) {
	var info qdrantCollectionInfo
	err := q.doWithRetry(ctx, http.MethodGet, "/collections/"+url.PathEscape(collection), nil, &info)
	var apiErr *qdrantError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return info.Result.Config.Params.Vectors.Size, true, nil
}

func (q *qdrantStore) Search(
	ctx context.Context,
	collection string,
	query []float32,
	opts SearchOptions,
) ([]Match, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	if err := checkQueryDimension(collection, query, 0); err != nil {
		return nil, err
	}
	if cached, ok := q.known.Load(collection); ok {
		if err := checkQueryDimension(collection, query, cached.(int)); err != nil {
			return nil, err
		}
	}
	topK := normalizeTopK(opts.TopK)
	request := map[string]any{
		"vector":       query,
		"limit":        topK,
		"with_payload": true,
	}
	var response struct {
		Result []qdrantSearchResult `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(collection))
	err := q.doWithRetry(ctx, http.MethodPost, path, request, &response)
	var apiErr *qdrantError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusNotFound:
			q.known.Delete(collection)
			return nil, core.CollectionNotFoundError(collection)
		case http.StatusBadRequest:
			return nil, core.NewError(core.KindValidation, "vector search rejected by qdrant", err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("qdrant: search %q: %w", collection, err)
	}
	return q.mapResults(response.Result, opts.MinScore, topK), nil
}

func (q *qdrantStore) mapResults(results []qdrantSearchResult, minScore float64, topK int) []Match {
	matches := make([]Match, 0, len(results))
	for _, res := range results {
		score := res.Score
		// Qdrant reports Euclid as a distance; convert to a similarity.
		if q.metric == MetricEuclidean {
			score = distanceToScore(score)
		}
		if minScore > 0 && score < minScore {
			continue
		}
		payload := cloneForPayload(res.Payload)
		text, _ := payload[qdrantTextKey].(string)
		delete(payload, qdrantTextKey)
		id := fmt.Sprint(res.ID)
		if original, ok := payload[qdrantRecordIDKey].(string); ok && original != "" {
			id = original
		}
		delete(payload, qdrantRecordIDKey)
		matches = append(matches, Match{ID: id, Score: score, Text: text, Metadata: payload})
	}
	return sortMatches(matches, topK)
}

func (q *qdrantStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	points := make([]string, 0, len(ids))
	for _, id := range ids {
		points = append(points, qdrantPointID(id))
	}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", url.PathEscape(collection))
	err := q.doWithRetry(ctx, http.MethodPost, path, map[string]any{"points": points}, nil)
	var apiErr *qdrantError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("qdrant: delete from %q: %w", collection, err)
	}
	return nil
}

func (q *qdrantStore) Close(context.Context) error {
	q.client.CloseIdleConnections()
	return nil
}

func (q *qdrantStore) doWithRetry(ctx context.Context, method, path string, body any, out any) error {
	attempt := 0
	return q.retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			knowledge.RecordRemoteRetry(ctx, "vectordb")
		}
		return q.doRequest(ctx, method, path, body, out)
	})
}

func (q *qdrantStore) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("qdrant: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("qdrant: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant: request failed: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("qdrant: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Status any `json:"status"`
		}
		message := http.StatusText(resp.StatusCode)
		if json.Unmarshal(payload, &apiErr) == nil {
			switch status := apiErr.Status.(type) {
			case string:
				message = status
			case map[string]any:
				if text, ok := status["error"].(string); ok {
					message = text
				}
			}
		}
		return &qdrantError{StatusCode: resp.StatusCode, Message: message}
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("qdrant: decode response: %w", err)
		}
	}
	return nil
}

// qdrantPointID passes UUIDs through and maps any other ID to a stable UUIDv5.
func qdrantPointID(id string) string {
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed.String()
	}
	return uuid.NewSHA1(qdrantIDNamespace, []byte(id)).String()
}

func cloneForPayload(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src)+2)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
