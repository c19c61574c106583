package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeWeaviate serves enough of the schema, GraphQL and batch endpoints to
// exercise the store. Hits are scripted: each seeded object carries the
// distance the fake reports for it, and nearText queries that include a
// distance filter only return objects within it.
type fakeWeaviate struct {
	mu       sync.Mutex
	class    bool
	objects  []fakeWeaviateHit
	batches  [][]map[string]any
	batchErr string
}

type fakeWeaviateHit struct {
	ID       string
	Distance float64
	Props    map[string]any
}

var (
	limitRe    = regexp.MustCompile(`limit: (\d+)`)
	distanceRe = regexp.MustCompile(`distance: ([0-9.]+)`)
)

func (f *fakeWeaviate) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/schema", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		classes := []map[string]any{}
		if f.class {
			classes = append(classes, map[string]any{"class": "Long_term_memory"})
		}
		writeJSON(w, map[string]any{"classes": classes})
	})
	mux.HandleFunc("POST /v1/schema", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.class = true
		writeJSON(w, map[string]any{"class": "Long_term_memory"})
	})
	mux.HandleFunc("POST /v1/graphql", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		limit := 10
		if m := limitRe.FindStringSubmatch(req.Query); m != nil {
			limit, _ = strconv.Atoi(m[1])
		}
		maxDistance := -1.0
		if m := distanceRe.FindStringSubmatch(req.Query); m != nil {
			maxDistance, _ = strconv.ParseFloat(m[1], 64)
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		hits := make([]fakeWeaviateHit, 0, len(f.objects))
		for _, obj := range f.objects {
			if maxDistance >= 0 && obj.Distance > maxDistance {
				continue
			}
			hits = append(hits, obj)
		}
		sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
		if len(hits) > limit {
			hits = hits[:limit]
		}

		items := make([]map[string]any, 0, len(hits))
		for _, hit := range hits {
			item := map[string]any{
				"_additional": map[string]any{"id": hit.ID, "distance": hit.Distance},
			}
			for k, v := range hit.Props {
				item[k] = v
			}
			items = append(items, item)
		}
		writeJSON(w, map[string]any{
			"data": map[string]any{"Get": map[string]any{"Long_term_memory": items}},
		})
	})
	mux.HandleFunc("POST /v1/batch/objects", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Objects []map[string]any `json:"objects"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.batches = append(f.batches, req.Objects)
		results := make([]map[string]any, 0, len(req.Objects))
		for range req.Objects {
			result := map[string]any{"status": "SUCCESS"}
			if f.batchErr != "" {
				result = map[string]any{
					"status": "FAILED",
					"errors": map[string]any{
						"error": []map[string]any{{"message": f.batchErr}},
					},
				}
			}
			results = append(results, map[string]any{"result": result})
		}
		writeJSON(w, results)
	})
	return mux
}

func newTestWeaviate(t *testing.T) (*WeaviateStore, *fakeWeaviate) {
	t.Helper()
	fake := &fakeWeaviate{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server URL: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())
	ws, err := NewWeaviateStore(u.Hostname(), port)
	if err != nil {
		t.Fatalf("NewWeaviateStore: %v", err)
	}
	return ws, fake
}

func TestNewWeaviateStoreValidates(t *testing.T) {
	if _, err := NewWeaviateStore("", 8080); err == nil {
		t.Fatal("expected error for empty host")
	}
	if _, err := NewWeaviateStore("localhost", 0); err == nil {
		t.Fatal("expected error for missing port")
	}
}

func TestWeaviateEmptyTextValidation(t *testing.T) {
	ws, _ := newTestWeaviate(t)
	ctx := context.Background()

	if _, err := ws.FindSimilar(ctx, ""); err != ErrEmptyText {
		t.Fatalf("FindSimilar err = %v, want ErrEmptyText", err)
	}
	if err := ws.Store(ctx, "   ", nil); err != ErrEmptyText {
		t.Fatalf("Store err = %v, want ErrEmptyText", err)
	}
	if _, err := ws.Search(ctx, "", 3); err != ErrEmptyText {
		t.Fatalf("Search err = %v, want ErrEmptyText", err)
	}
}

// TestWeaviateFindSimilarDistanceThreshold exercises the 0.3 distance
// boundary. The ceiling is enforced server-side by the nearText filter; the
// fake honors it the way the real server does.
func TestWeaviateFindSimilarDistanceThreshold(t *testing.T) {
	for _, tc := range []struct {
		distance float64
		want     bool
	}{
		{0.1, true},
		{0.3, true},
		{0.30001, false},
	} {
		ws, fake := newTestWeaviate(t)
		fake.class = true
		fake.objects = []fakeWeaviateHit{{
			ID:       "11111111-1111-1111-1111-111111111111",
			Distance: tc.distance,
			Props:    map[string]any{"text": "stored text", "timestamp": "2024-01-01T00:00:00Z"},
		}}

		similar, err := ws.FindSimilar(context.Background(), "probe")
		if err != nil {
			t.Fatalf("FindSimilar(distance=%v): %v", tc.distance, err)
		}
		if got := similar != nil; got != tc.want {
			t.Fatalf("FindSimilar(distance=%v) matched=%v, want %v", tc.distance, got, tc.want)
		}
		if tc.want {
			if similar.Score != 1-tc.distance {
				t.Fatalf("score = %v, want %v", similar.Score, 1-tc.distance)
			}
			if similar.ID() != "11111111-1111-1111-1111-111111111111" {
				t.Fatalf("match lost identity: %q", similar.ID())
			}
		}
	}
}

func TestWeaviateFindSimilarMissingCollection(t *testing.T) {
	ws, _ := newTestWeaviate(t)
	similar, err := ws.FindSimilar(context.Background(), "anything")
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if similar != nil {
		t.Fatalf("match from missing collection: %+v", similar)
	}
}

func TestWeaviateStoreNewMemory(t *testing.T) {
	ws, fake := newTestWeaviate(t)
	ctx := context.Background()

	err := ws.Store(ctx, "I love hiking in Yosemite", map[string]any{
		"timestamp": "2024-01-01T00:00:00Z",
		"uuid":      "22222222-2222-2222-2222-222222222222",
		"mood":      "happy",
	})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	if !fake.class {
		t.Fatal("collection was not created before the write")
	}
	if len(fake.batches) != 1 || len(fake.batches[0]) != 1 {
		t.Fatalf("batches = %v", fake.batches)
	}
	obj := fake.batches[0][0]
	if obj["class"] != "Long_term_memory" {
		t.Fatalf("class = %v", obj["class"])
	}
	if obj["id"] != "22222222-2222-2222-2222-222222222222" {
		t.Fatalf("id = %v", obj["id"])
	}

	props, _ := obj["properties"].(map[string]any)
	if props["text"] != "I love hiking in Yosemite" {
		t.Fatalf("text = %v", props["text"])
	}
	if props["mood"] != "happy" {
		t.Fatalf("mood metadata dropped: %v", props)
	}

	// The stored timestamp is rewritten into the local zone but must name
	// the same instant.
	ts, ok := props["timestamp"].(string)
	if !ok {
		t.Fatalf("timestamp = %v", props["timestamp"])
	}
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		t.Fatalf("stored timestamp %q is not RFC3339: %v", ts, err)
	}
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !parsed.UTC().Equal(want) {
		t.Fatalf("timestamp instant moved: %v", parsed.UTC())
	}
}

func TestWeaviateStoreReusesSimilarIdentity(t *testing.T) {
	ws, fake := newTestWeaviate(t)
	fake.class = true
	fake.objects = []fakeWeaviateHit{{
		ID:       "33333333-3333-3333-3333-333333333333",
		Distance: 0.1,
		Props:    map[string]any{"text": "I love hiking in Yosemite", "timestamp": "2024-01-01T00:00:00Z"},
	}}

	if err := ws.Store(context.Background(), "I really love hiking in Yosemite", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}

	if len(fake.batches) != 1 {
		t.Fatalf("batches = %v", fake.batches)
	}
	obj := fake.batches[0][0]
	if obj["id"] != "33333333-3333-3333-3333-333333333333" {
		t.Fatalf("near-duplicate did not reuse identity: id = %v", obj["id"])
	}
	props, _ := obj["properties"].(map[string]any)
	if props["text"] != "I really love hiking in Yosemite" {
		t.Fatalf("stored text = %v, want the newer phrasing", props["text"])
	}
}

func TestWeaviateStoreFailsOnBatchError(t *testing.T) {
	ws, fake := newTestWeaviate(t)
	fake.class = true
	fake.batchErr = "invalid date property"

	err := ws.Store(context.Background(), "a new fact", nil)
	if err == nil {
		t.Fatal("Store should fail when the batch reports a failed object")
	}
	if !strings.Contains(err.Error(), "invalid date property") {
		t.Fatalf("error does not carry the batch message: %v", err)
	}
}

func TestWeaviateSearchRanksBySimilarity(t *testing.T) {
	ws, fake := newTestWeaviate(t)
	fake.class = true
	fake.objects = []fakeWeaviateHit{
		{ID: "far", Distance: 0.8, Props: map[string]any{"text": "far memory"}},
		{ID: "near", Distance: 0.2, Props: map[string]any{"text": "near memory"}},
		{ID: "mid", Distance: 0.5, Props: map[string]any{"text": "mid memory"}},
	}

	results, err := ws.Search(context.Background(), "memory", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Text != "near memory" || results[1].Text != "mid memory" {
		t.Fatalf("order = %q, %q", results[0].Text, results[1].Text)
	}
	if results[0].Score != 0.8 {
		t.Fatalf("score = %v, want 1 - distance = 0.8", results[0].Score)
	}
	// Search applies no distance ceiling; far records still rank, they just
	// rank last.
	results, err = ws.Search(context.Background(), "memory", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want all 3", len(results))
	}
}

func TestWeaviateSearchDegradesOnBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	ws, err := NewWeaviateStore(u.Hostname(), port)
	if err != nil {
		t.Fatalf("NewWeaviateStore: %v", err)
	}

	results, err := ws.Search(context.Background(), "q", 3)
	if err != nil {
		t.Fatalf("Search should degrade, got error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("Search should degrade to empty, got %v", results)
	}
}
