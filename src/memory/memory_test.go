package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/aria-labs/ai-companion/src/config"
	"github.com/aria-labs/ai-companion/src/memory/embed"
	"github.com/aria-labs/ai-companion/src/memory/model"
)

type recordingStore struct {
	stored   []string
	recalled []model.Memory
}

func (r *recordingStore) FindSimilar(context.Context, string) (*model.Memory, error) {
	return nil, nil
}

func (r *recordingStore) Store(_ context.Context, text string, _ map[string]any) error {
	r.stored = append(r.stored, text)
	return nil
}

func (r *recordingStore) Search(context.Context, string, int) ([]model.Memory, error) {
	return r.recalled, nil
}

func TestManagerRememberAndRecall(t *testing.T) {
	rs := &recordingStore{recalled: []model.Memory{
		{Text: "loves hiking", Score: 0.92},
		{Text: "has a cat named Miso", Score: 0.85},
	}}
	mgr := NewManager(rs, 3)
	ctx := context.Background()

	if err := mgr.Remember(ctx, "loves hiking", nil); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if len(rs.stored) != 1 {
		t.Fatalf("stored = %v", rs.stored)
	}

	memories, err := mgr.Recall(ctx, "outdoors")
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(memories) != 2 {
		t.Fatalf("recalled %d memories", len(memories))
	}

	block := mgr.MemoryBlock(ctx, "outdoors")
	if !strings.Contains(block, "- loves hiking") || !strings.Contains(block, "- has a cat named Miso") {
		t.Fatalf("block = %q", block)
	}
}

func TestManagerMemoryBlockEmpty(t *testing.T) {
	mgr := NewManager(&recordingStore{}, 3)
	if block := mgr.MemoryBlock(context.Background(), "anything"); block != "" {
		t.Fatalf("block = %q, want empty", block)
	}
}

func TestNewStoreSelectsProvider(t *testing.T) {
	ctx := context.Background()
	embedder := embed.DummyEmbedder{}

	s, err := NewStore(ctx, &config.Settings{MemoryProvider: "chromem"}, embedder)
	if err != nil {
		t.Fatalf("NewStore(chromem): %v", err)
	}
	if s == nil {
		t.Fatal("nil store")
	}

	if _, err := NewStore(ctx, &config.Settings{MemoryProvider: "carrier-pigeon"}, embedder); err == nil {
		t.Fatal("expected error for unknown provider")
	}

	// Misconfigured qdrant fails at construction, not first use.
	if _, err := NewStore(ctx, &config.Settings{MemoryProvider: "qdrant"}, embedder); err == nil {
		t.Fatal("expected error for missing qdrant URL")
	}
}
