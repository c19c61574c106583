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
	"sort"
	"strings"
	"time"

	"github.com/aria-labs/ai-companion/src/memory/model"
)

const (
	// Weaviate class names start with an uppercase letter.
	weaviateCollection = "Long_term_memory"

	// Maximum raw distance for a candidate to count as a duplicate. The
	// admission test is on distance (lower = more similar); the converted
	// similarity (1 - distance) is only used for the returned record.
	weaviateDistanceThreshold = 0.3

	weaviateVectorName = "text_vector"
)

// WeaviateStore is the managed-connection backend: every logical call
// acquires a fresh connection and releases it on all exit paths. The server
// drops idle connections, so a long-lived shared handle goes stale between
// webhook events; per-call setup latency is the accepted trade.
//
// Embeddings are computed server-side by the text2vec vectorizer configured
// on the collection, so this backend takes no client-side embedder.
type WeaviateStore struct {
	host string
	port int
}

var _ MemoryStore = (*WeaviateStore)(nil)

// NewWeaviateStore creates a Weaviate-backed MemoryStore. Host and port are
// required; missing values are configuration errors and fail here.
func NewWeaviateStore(host string, port int) (*WeaviateStore, error) {
	if strings.TrimSpace(host) == "" {
		return nil, errors.New("weaviate: host is required")
	}
	if port <= 0 {
		return nil, errors.New("weaviate: port is required")
	}
	return &WeaviateStore{host: host, port: port}, nil
}

// weaviateConn is a single-use connection to the Weaviate HTTP API.
type weaviateConn struct {
	base      string
	client    *http.Client
	transport *http.Transport
}

func (conn *weaviateConn) close() {
	conn.transport.CloseIdleConnections()
}

// withConn runs fn with a fresh connection and guarantees release afterwards,
// including when fn returns an error or panics.
func (ws *WeaviateStore) withConn(fn func(conn *weaviateConn) error) error {
	transport := &http.Transport{}
	conn := &weaviateConn{
		base:      fmt.Sprintf("http://%s:%d", ws.host, ws.port),
		client:    &http.Client{Timeout: 15 * time.Second, Transport: transport},
		transport: transport,
	}
	defer conn.close()
	return fn(conn)
}

type weaviateObject struct {
	Text       string
	Timestamp  string
	UUID       string
	ID         string
	Distance   float64
	Properties map[string]any
}

// FindSimilar returns the nearest record whose raw distance is at most 0.3,
// or nil. The distance ceiling is applied by the server via the nearText
// filter.
func (ws *WeaviateStore) FindSimilar(ctx context.Context, text string) (*model.Memory, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	var found *model.Memory
	err := ws.withConn(func(conn *weaviateConn) error {
		exists, err := conn.collectionExists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		objects, err := conn.nearText(ctx, text, 1, weaviateDistanceThreshold)
		if err != nil {
			return err
		}
		if len(objects) > 0 {
			mem := memoryFromWeaviateObject(objects[0])
			found = &mem
		}
		return nil
	})
	if err != nil {
		log.Printf("weaviate find similar %q: %v", truncate(text, 50), err)
		return nil, nil
	}
	return found, nil
}

// Store writes one memory through a batched upsert. Any failed object in the
// batch response fails the whole call; partial successes are never swallowed.
func (ws *WeaviateStore) Store(ctx context.Context, text string, metadata map[string]any) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}

	if err := ws.ensureCollection(ctx); err != nil {
		return fmt.Errorf("weaviate ensure collection: %w", err)
	}

	similar, err := ws.FindSimilar(ctx, text)
	if err != nil {
		return err
	}

	id := ""
	if similar != nil {
		id = similar.ID()
	}
	if id == "" {
		id = model.StringFromAny(metadata["uuid"])
	}
	if id == "" {
		id = model.StringFromAny(metadata["id"])
	}

	properties := map[string]any{
		"text":      text,
		"timestamp": model.NormalizeTimestamp(metadata["timestamp"]),
	}
	for k, v := range passthroughMetadata(metadata) {
		properties[k] = v
	}

	obj := map[string]any{
		"class":      weaviateCollection,
		"properties": properties,
	}
	if id != "" {
		obj["id"] = id
	}

	err = ws.withConn(func(conn *weaviateConn) error {
		var results []struct {
			Result struct {
				Status string `json:"status"`
				Errors *struct {
					Error []struct {
						Message string `json:"message"`
					} `json:"error"`
				} `json:"errors"`
			} `json:"result"`
		}
		if err := conn.do(ctx, http.MethodPost, "/v1/batch/objects", map[string]any{"objects": []any{obj}}, &results); err != nil {
			return err
		}
		for _, res := range results {
			if res.Result.Errors != nil && len(res.Result.Errors.Error) > 0 {
				return fmt.Errorf("failed object: %s", res.Result.Errors.Error[0].Message)
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("weaviate store %q: %v", truncate(text, 50), err)
		return fmt.Errorf("weaviate store: %w", err)
	}
	return nil
}

// Search returns up to k records nearest to the query, ordered by descending
// similarity. Backend failures are logged and degrade to an empty result.
func (ws *WeaviateStore) Search(ctx context.Context, query string, k int) ([]model.Memory, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyText
	}
	if k <= 0 {
		k = DefaultTopK
	}

	var results []model.Memory
	err := ws.withConn(func(conn *weaviateConn) error {
		exists, err := conn.collectionExists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		objects, err := conn.nearText(ctx, query, k, 0)
		if err != nil {
			return err
		}
		results = make([]model.Memory, 0, len(objects))
		for _, obj := range objects {
			results = append(results, memoryFromWeaviateObject(obj))
		}
		sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
		return nil
	})
	if err != nil {
		log.Printf("weaviate search %q: %v", truncate(query, 50), err)
		return nil, nil
	}
	return results, nil
}

// memoryFromWeaviateObject converts distance to similarity (1 - distance)
// and folds the object identity into metadata.
func memoryFromWeaviateObject(obj weaviateObject) model.Memory {
	metadata := make(map[string]any, len(obj.Properties)+2)
	for k, v := range obj.Properties {
		if k == "text" {
			continue
		}
		metadata[k] = v
	}
	if obj.Timestamp != "" {
		metadata["timestamp"] = obj.Timestamp
	}
	if obj.UUID != "" {
		metadata["uuid"] = obj.UUID
	}
	if obj.ID != "" {
		metadata["id"] = obj.ID
	}
	return model.Memory{
		Text:     obj.Text,
		Metadata: metadata,
		Score:    1 - obj.Distance,
	}
}

func (ws *WeaviateStore) ensureCollection(ctx context.Context) error {
	return ws.withConn(func(conn *weaviateConn) error {
		exists, err := conn.collectionExists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		class := map[string]any{
			"class": weaviateCollection,
			"vectorConfig": map[string]any{
				weaviateVectorName: map[string]any{
					"vectorizer": map[string]any{
						"text2vec-transformers": map[string]any{
							"sourceProperties": []string{"text"},
						},
					},
					"vectorIndexType": "hnsw",
					"vectorIndexConfig": map[string]any{
						"distance": "cosine",
					},
				},
			},
			"properties": []map[string]any{
				{"name": "text", "dataType": []string{"text"}},
				{"name": "timestamp", "dataType": []string{"date"}},
				{"name": "uuid", "dataType": []string{"uuid"}},
			},
		}
		if err := conn.do(ctx, http.MethodPost, "/v1/schema", class, nil); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "already exists") {
				return nil
			}
			return err
		}
		return nil
	})
}

func (conn *weaviateConn) collectionExists(ctx context.Context) (bool, error) {
	var schema struct {
		Classes []struct {
			Class string `json:"class"`
		} `json:"classes"`
	}
	if err := conn.do(ctx, http.MethodGet, "/v1/schema", nil, &schema); err != nil {
		return false, err
	}
	for _, c := range schema.Classes {
		if c.Class == weaviateCollection {
			return true, nil
		}
	}
	return false, nil
}

// nearText runs a GraphQL Get query. maxDistance <= 0 means no distance
// filter.
func (conn *weaviateConn) nearText(ctx context.Context, text string, limit int, maxDistance float64) ([]weaviateObject, error) {
	concept, err := json.Marshal(text)
	if err != nil {
		return nil, err
	}
	nearText := fmt.Sprintf("nearText: {concepts: [%s]}", concept)
	if maxDistance > 0 {
		nearText = fmt.Sprintf("nearText: {concepts: [%s], distance: %g}", concept, maxDistance)
	}
	query := fmt.Sprintf(`{
  Get {
    %s(limit: %d, %s) {
      text
      timestamp
      uuid
      _additional { id distance }
    }
  }
}`, weaviateCollection, limit, nearText)

	var resp struct {
		Data   map[string]map[string][]map[string]any `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := conn.do(ctx, http.MethodPost, "/v1/graphql", map[string]any{"query": query}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, errors.New(resp.Errors[0].Message)
	}

	raw := resp.Data["Get"][weaviateCollection]
	objects := make([]weaviateObject, 0, len(raw))
	for _, item := range raw {
		obj := weaviateObject{
			Text:       model.StringFromAny(item["text"]),
			Timestamp:  model.StringFromAny(item["timestamp"]),
			UUID:       model.StringFromAny(item["uuid"]),
			Properties: map[string]any{},
		}
		for k, v := range item {
			if k == "_additional" {
				continue
			}
			obj.Properties[k] = v
		}
		if additional, ok := item["_additional"].(map[string]any); ok {
			obj.ID = model.StringFromAny(additional["id"])
			obj.Distance = model.FloatFromAny(additional["distance"])
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

func (conn *weaviateConn) do(ctx context.Context, method, path string, body any, out any) error {
	var buf io.ReadWriter = bytes.NewBuffer(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, conn.base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := conn.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("weaviate %s %s -> http %d: %s",
			method, path, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return err
		}
	}
	return nil
}
