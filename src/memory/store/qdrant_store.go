package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aria-labs/ai-companion/src/memory/embed"
	"github.com/aria-labs/ai-companion/src/memory/model"
)

const (
	qdrantCollection = "long_term_memory"

	// Minimum cosine similarity for a candidate to count as a duplicate.
	qdrantSimilarityThreshold = 0.9
)

// qdrantStatus supports both `status: "ok"` and `status: {"error":"..."}`.
type qdrantStatus struct {
	State string
	Error string
}

func (s *qdrantStatus) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

type qdrantEnvelope[T any] struct {
	Status qdrantStatus `json:"status"`
	Time   float64      `json:"time"`
	Result T            `json:"result"`
}

type qdrantPointResult struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

type qdrantCollectionsResult struct {
	Collections []struct {
		Name string `json:"name"`
	} `json:"collections"`
}

// QdrantStore is the direct-client backend: one client handle is constructed
// at startup and shared for the life of the process.
type QdrantStore struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client
	embedder   embed.Embedder
}

var _ MemoryStore = (*QdrantStore)(nil)

// NewQdrantStore creates a Qdrant-backed MemoryStore. The base URL is
// required; a missing value is a configuration error and fails here rather
// than on first use.
func NewQdrantStore(baseURL, apiKey string, embedder embed.Embedder) (*QdrantStore, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("qdrant: base URL is required")
	}
	if embedder == nil {
		return nil, errors.New("qdrant: embedder is required")
	}
	return &QdrantStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		collection: qdrantCollection,
		client:     &http.Client{Timeout: 15 * time.Second},
		embedder:   embedder,
	}, nil
}

// FindSimilar returns the best match with similarity >= 0.9, or nil.
func (qs *QdrantStore) FindSimilar(ctx context.Context, text string) (*model.Memory, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	results, err := qs.Search(ctx, text, 1)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 && results[0].Score >= qdrantSimilarityThreshold {
		return &results[0], nil
	}
	return nil, nil
}

// Store upserts a memory point. A near-duplicate's identity is reused so the
// write updates in place instead of inserting a second record.
func (qs *QdrantStore) Store(ctx context.Context, text string, metadata map[string]any) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if err := qs.ensureCollection(ctx); err != nil {
		return fmt.Errorf("qdrant ensure collection: %w", err)
	}

	similar, err := qs.FindSimilar(ctx, text)
	if err != nil {
		return err
	}

	id := ""
	if similar != nil {
		id = similar.ID()
	}
	if id == "" {
		id = model.StringFromAny(metadata["id"])
	}
	if id == "" {
		id = uuid.NewString()
	}

	embedding, err := qs.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("qdrant embed %q: %w", truncate(text, 50), err)
	}

	payload := map[string]any{
		"text":      text,
		"id":        id,
		"timestamp": model.NormalizeTimestamp(metadata["timestamp"]),
	}
	for k, v := range passthroughMetadata(metadata) {
		payload[k] = v
	}

	req := map[string]any{
		"points": []map[string]any{{
			"id":      id,
			"vector":  embedding,
			"payload": payload,
		}},
	}
	var resp qdrantEnvelope[json.RawMessage]
	if err := qs.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points", url.PathEscape(qs.collection)), req, &resp); err != nil {
		log.Printf("qdrant store %q: %v", truncate(text, 50), err)
		return fmt.Errorf("qdrant store: %w", err)
	}
	if !strings.EqualFold(resp.Status.State, "ok") && resp.Status.Error != "" {
		log.Printf("qdrant store %q: %s", truncate(text, 50), resp.Status.Error)
		return fmt.Errorf("qdrant store: %s", resp.Status.Error)
	}
	return nil
}

// Search embeds the query and runs a top-k nearest-neighbour search. Backend
// failures are logged and degrade to an empty result.
func (qs *QdrantStore) Search(ctx context.Context, query string, k int) ([]model.Memory, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyText
	}
	if k <= 0 {
		k = DefaultTopK
	}

	exists, err := qs.collectionExists(ctx)
	if err != nil {
		log.Printf("qdrant search %q: list collections: %v", truncate(query, 50), err)
		return nil, nil
	}
	if !exists {
		return nil, nil
	}

	embedding, err := qs.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("qdrant search %q: embed: %v", truncate(query, 50), err)
		return nil, nil
	}

	req := map[string]any{
		"vector":       embedding,
		"limit":        k,
		"with_payload": true,
	}
	var resp qdrantEnvelope[[]qdrantPointResult]
	if err := qs.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", url.PathEscape(qs.collection)), req, &resp); err != nil {
		log.Printf("qdrant search %q: %v", truncate(query, 50), err)
		return nil, nil
	}

	results := make([]model.Memory, 0, len(resp.Result))
	for _, point := range resp.Result {
		results = append(results, memoryFromQdrantPoint(point))
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// memoryFromQdrantPoint maps a hit back into a Memory: the payload's text
// field becomes the record text, the remaining payload becomes metadata and
// the hit's native score is already similarity-oriented.
func memoryFromQdrantPoint(point qdrantPointResult) model.Memory {
	metadata := make(map[string]any, len(point.Payload))
	for k, v := range point.Payload {
		if k == "text" {
			continue
		}
		metadata[k] = v
	}
	if model.StringFromAny(metadata["id"]) == "" {
		if id := qdrantIDString(point.ID); id != "" {
			metadata["id"] = id
		}
	}
	return model.Memory{
		Text:     model.StringFromAny(point.Payload["text"]),
		Metadata: metadata,
		Score:    point.Score,
	}
}

func qdrantIDString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func (qs *QdrantStore) collectionExists(ctx context.Context) (bool, error) {
	var resp qdrantEnvelope[qdrantCollectionsResult]
	if err := qs.do(ctx, http.MethodGet, "/collections", nil, &resp); err != nil {
		return false, err
	}
	for _, col := range resp.Result.Collections {
		if col.Name == qs.collection {
			return true, nil
		}
	}
	return false, nil
}

// ensureCollection creates the collection on first write. The vector size is
// fixed from one real embedding; the collection must keep that
// dimensionality for the lifetime of the embedder pairing.
func (qs *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := qs.collectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	sample, err := qs.embedder.Embed(ctx, "sample text")
	if err != nil {
		return fmt.Errorf("sample embedding: %w", err)
	}

	req := map[string]any{
		"vectors": map[string]any{
			"size":     len(sample),
			"distance": "Cosine",
		},
	}
	var resp qdrantEnvelope[json.RawMessage]
	err = qs.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", url.PathEscape(qs.collection)), req, &resp)
	if err != nil {
		// Concurrent creators race to the same name; an existing collection
		// is fine.
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return nil
		}
		return err
	}
	if !strings.EqualFold(resp.Status.State, "ok") && resp.Status.Error != "" {
		if strings.Contains(strings.ToLower(resp.Status.Error), "already exists") {
			return nil
		}
		return errors.New(resp.Status.Error)
	}
	return nil
}

func (qs *QdrantStore) do(ctx context.Context, method, path string, body any, out any) error {
	u := qs.baseURL + path

	var buf io.ReadWriter = bytes.NewBuffer(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if qs.apiKey != "" {
		req.Header.Set("api-key", qs.apiKey)
	}

	resp, err := qs.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("qdrant %s %s -> http %d: %s",
			method, u, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return err
		}
	}
	return nil
}
