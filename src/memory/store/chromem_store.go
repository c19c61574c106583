package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"github.com/google/uuid"

	"github.com/aria-labs/ai-companion/src/memory/embed"
	"github.com/aria-labs/ai-companion/src/memory/model"
)

const (
	chromemCollection = "long_term_memory"

	chromemSimilarityThreshold = 0.9
)

// ChromemStore keeps memories in an embedded, in-process vector index. It
// needs no running service, which makes it the default for local development
// and tests. Follows the direct-client dedup policy: a candidate counts as a
// duplicate at similarity >= 0.9.
type ChromemStore struct {
	db       *chromem.DB
	embedder embed.Embedder
}

var _ MemoryStore = (*ChromemStore)(nil)

// NewChromemStore creates an embedded MemoryStore backed by chromem-go.
func NewChromemStore(embedder embed.Embedder) (*ChromemStore, error) {
	if embedder == nil {
		return nil, errors.New("chromem: embedder is required")
	}
	return &ChromemStore{db: chromem.NewDB(), embedder: embedder}, nil
}

func (cs *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return cs.embedder.Embed(ctx, text)
	}
}

// collection returns the collection, or nil before the first write.
func (cs *ChromemStore) collection() *chromem.Collection {
	return cs.db.GetCollection(chromemCollection, cs.embeddingFunc())
}

// FindSimilar returns the best match with similarity >= 0.9, or nil.
func (cs *ChromemStore) FindSimilar(ctx context.Context, text string) (*model.Memory, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	results, err := cs.Search(ctx, text, 1)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 && results[0].Score >= chromemSimilarityThreshold {
		return &results[0], nil
	}
	return nil, nil
}

// Store upserts a memory document, reusing a near-duplicate's identity.
func (cs *ChromemStore) Store(ctx context.Context, text string, metadata map[string]any) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}

	col := cs.collection()
	if col == nil {
		created, err := cs.db.CreateCollection(chromemCollection, nil, cs.embeddingFunc())
		if err != nil {
			return fmt.Errorf("chromem create collection: %w", err)
		}
		col = created
	}

	similar, err := cs.FindSimilar(ctx, text)
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

	docMeta := map[string]string{
		"id":        id,
		"timestamp": model.NormalizeTimestamp(metadata["timestamp"]),
	}
	for k, v := range passthroughMetadata(metadata) {
		docMeta[k] = fmt.Sprint(v)
	}

	if err := col.AddDocument(ctx, chromem.Document{
		ID:       id,
		Metadata: docMeta,
		Content:  text,
	}); err != nil {
		log.Printf("chromem store %q: %v", truncate(text, 50), err)
		return fmt.Errorf("chromem store: %w", err)
	}
	return nil
}

// Search returns up to k records ordered by descending similarity. An absent
// collection yields an empty result.
func (cs *ChromemStore) Search(ctx context.Context, query string, k int) ([]model.Memory, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyText
	}
	if k <= 0 {
		k = DefaultTopK
	}

	col := cs.collection()
	if col == nil {
		return nil, nil
	}
	// chromem rejects nResults above the document count.
	if count := col.Count(); count < k {
		k = count
	}
	if k == 0 {
		return nil, nil
	}

	hits, err := col.Query(ctx, query, k, nil, nil)
	if err != nil {
		log.Printf("chromem search %q: %v", truncate(query, 50), err)
		return nil, nil
	}

	results := make([]model.Memory, 0, len(hits))
	for _, hit := range hits {
		metadata := make(map[string]any, len(hit.Metadata)+1)
		for k, v := range hit.Metadata {
			metadata[k] = v
		}
		if model.StringFromAny(metadata["id"]) == "" {
			metadata["id"] = hit.ID
		}
		results = append(results, model.Memory{
			Text:     hit.Content,
			Metadata: metadata,
			Score:    float64(hit.Similarity),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// Count reports the number of stored memories. Used by tests and the health
// endpoint.
func (cs *ChromemStore) Count() int {
	col := cs.collection()
	if col == nil {
		return 0
	}
	return col.Count()
}
