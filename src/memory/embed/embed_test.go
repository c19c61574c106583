package embed

import (
	"context"
	"testing"
)

func TestDummyEmbeddingDeterministic(t *testing.T) {
	a := DummyEmbedding("I love hiking")
	b := DummyEmbedding("I love hiking")
	if len(a) != 768 {
		t.Fatalf("expected 768 dimensions, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at %d: %v != %v", i, a[i], b[i])
		}
	}
}

func TestDummyEmbedderNeverFails(t *testing.T) {
	vec, err := DummyEmbedder{}.Embed(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if len(vec) == 0 {
		t.Fatal("expected non-empty embedding")
	}
}

func TestAutoEmbedderFallsBackToDummy(t *testing.T) {
	t.Setenv("COMPANION_EMBED_PROVIDER", "")
	t.Setenv("OPENAI_API_KEY", "")
	e := AutoEmbedder()
	if _, ok := e.(DummyEmbedder); !ok {
		t.Fatalf("expected DummyEmbedder fallback, got %T", e)
	}
}
