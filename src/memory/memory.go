// Package memory is the companion's long-term semantic memory: durable facts
// extracted from conversation, retrieved by similarity when composing a
// reply.
package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/aria-labs/ai-companion/src/config"
	"github.com/aria-labs/ai-companion/src/memory/embed"
	"github.com/aria-labs/ai-companion/src/memory/model"
	"github.com/aria-labs/ai-companion/src/memory/store"
)

// Re-exports so callers only import this package.
type (
	Memory      = model.Memory
	MemoryStore = store.MemoryStore
	Embedder    = embed.Embedder
)

var ErrEmptyText = store.ErrEmptyText

// NewStore builds the MemoryStore named by cfg.MemoryProvider.
func NewStore(ctx context.Context, cfg *config.Settings, embedder embed.Embedder) (MemoryStore, error) {
	switch strings.ToLower(cfg.MemoryProvider) {
	case "qdrant":
		return store.NewQdrantStore(cfg.QdrantURL, cfg.QdrantAPIKey, embedder)
	case "weaviate":
		return store.NewWeaviateStore(cfg.WeaviateHost, cfg.WeaviatePort)
	case "chromem", "":
		return store.NewChromemStore(embedder)
	case "mongo", "mongodb":
		return store.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, embedder)
	case "postgres", "pgvector":
		return store.NewPostgresStore(ctx, cfg.PostgresDSN, embedder)
	default:
		return nil, fmt.Errorf("unknown memory provider: %s", cfg.MemoryProvider)
	}
}

// Manager sits between the conversation loop and the store: it persists new
// facts and renders retrieved ones as a prompt block.
type Manager struct {
	store MemoryStore
	topK  int
}

func NewManager(store MemoryStore, topK int) *Manager {
	if topK <= 0 {
		topK = 3
	}
	return &Manager{store: store, topK: topK}
}

// Remember persists one fact about the user.
func (m *Manager) Remember(ctx context.Context, text string, metadata map[string]any) error {
	return m.store.Store(ctx, text, metadata)
}

// Recall returns the memories most relevant to the query.
func (m *Manager) Recall(ctx context.Context, query string) ([]Memory, error) {
	return m.store.Search(ctx, query, m.topK)
}

// MemoryBlock renders recalled memories as a block for the system prompt.
// Empty recall yields an empty string so the prompt stays clean.
func (m *Manager) MemoryBlock(ctx context.Context, query string) string {
	memories, err := m.Recall(ctx, query)
	if err != nil || len(memories) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Relevant things you remember about this person:\n")
	for _, mem := range memories {
		sb.WriteString("- ")
		sb.WriteString(mem.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}
