package store

import (
	"context"
	"errors"

	"github.com/aria-labs/ai-companion/src/memory/model"
)

// DefaultTopK is the number of records Search returns when the caller does
// not ask for a specific k.
const DefaultTopK = 5

// ErrEmptyText is returned when a caller passes empty text to Store, Search
// or FindSimilar. The check runs before any network call.
var ErrEmptyText = errors.New("memory text is empty")

// MemoryStore is the contract for long-term memory backends.
//
// Write failures propagate to the caller wrapped with context. Read paths
// (FindSimilar, Search) degrade to "nothing found" on backend failures so a
// retrieval hiccup never blocks the caller's broader flow; the failure is
// still logged.
//
// Store is not transactional: the dedup probe and the subsequent upsert can
// interleave across concurrent calls for near-identical text, producing two
// records instead of one. Callers that serialize per conversation never hit
// this race.
type MemoryStore interface {
	// FindSimilar returns the single best match above the backend's
	// similarity threshold, or nil if the collection does not exist or no
	// candidate clears the threshold.
	FindSimilar(ctx context.Context, text string) (*model.Memory, error)

	// Store ensures the collection exists, reuses the identity of a
	// near-duplicate if one is found, embeds the text and upserts the
	// record.
	Store(ctx context.Context, text string, metadata map[string]any) error

	// Search returns up to k records nearest to the query, ordered by
	// descending similarity. An absent collection yields an empty result,
	// never an error.
	Search(ctx context.Context, query string, k int) ([]model.Memory, error)
}

// passthroughMetadata copies metadata minus the reserved identity and
// timestamp keys, which every backend handles specially.
func passthroughMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		switch k {
		case "id", "uuid", "timestamp":
			continue
		}
		out[k] = v
	}
	return out
}

// truncate shortens text for log lines.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
