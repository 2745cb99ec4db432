package databases

import (
	"context"

	"modelgate/internal/persistence"
)

// VectorResult represents a single nearest neighbor lookup result.
//
// Distance is always ascending: lower values are closer, regardless of which
// backend produced the result. Backends whose native metric runs the other
// way (cosine similarity) convert before returning.
type VectorResult struct {
	ID       string
	Distance float64
	Metadata map[string]string
}

// VectorStore defines the minimum interface for a pluggable vector store.
type VectorStore interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error)
}

// Manager holds the concrete database backends resolved from configuration.
type Manager struct {
	Vector VectorStore
	Chat   persistence.ChatStore
}

// Close releases any underlying connection pools. It's a no-op for memory backends.
func (m Manager) Close() {
	if c, ok := any(m.Vector).(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := any(m.Chat).(interface{ Close() }); ok {
		c.Close()
	}
}
