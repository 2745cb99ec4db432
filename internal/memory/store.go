// Package memory is the embed+upsert and k-NN recall facade over the
// pluggable vector store and embedder.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"modelgate/internal/persistence/databases"
	"modelgate/internal/rag/embedder"
)

// Record is a recalled document alongside its distance and metadata.
type Record struct {
	ID       string
	Document string
	Metadata map[string]string
	Distance float64
}

// documentMetadataKey is the metadata key the original text is stored under,
// since databases.VectorStore only persists embeddings and string metadata.
// Keeping it in metadata (rather than a side cache) means recall survives a
// process restart regardless of backend.
const documentMetadataKey = "document"

// Store is the memory facade: embed text, upsert it, and recall nearest
// neighbors by ascending distance as reported by the vector backend.
type Store struct {
	vector databases.VectorStore
	embed  embedder.Embedder
}

// NewStore wires a vector backend and an embedder into a memory facade.
func NewStore(vector databases.VectorStore, embed embedder.Embedder) *Store {
	return &Store{vector: vector, embed: embed}
}

// Memorize embeds text and upserts it. If docID is non-empty it is
// authoritative and overwrites any prior record with that id; otherwise a
// fresh id is generated. metadata is augmented with source and timestamp.
func (s *Store) Memorize(ctx context.Context, text, source string, metadata map[string]string, docID string) (string, error) {
	vecs, err := s.embed.EmbedBatch(ctx, []string{text})
	if err != nil {
		return "", fmt.Errorf("memorize: embed: %w", err)
	}
	if len(vecs) == 0 {
		return "", fmt.Errorf("memorize: embedder returned no vectors")
	}

	id := docID
	if id == "" {
		id = uuid.NewString()
	}

	meta := map[string]string{}
	for k, v := range metadata {
		meta[k] = v
	}
	meta["source"] = source
	meta["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	meta[documentMetadataKey] = text

	if err := s.vector.Upsert(ctx, id, vecs[0], meta); err != nil {
		return "", fmt.Errorf("memorize: upsert: %w", err)
	}
	return id, nil
}

// Recall returns documents whose distance to the query embedding is
// strictly less than threshold, ordered by ascending distance. The distance
// is the vector backend's: L2 for the in-memory backend and for
// pgvector/Qdrant with metric l2; other metrics are not converted to L2.
func (s *Store) Recall(ctx context.Context, query string, k int, threshold float64) ([]string, error) {
	records, err := s.RecallWithMetadata(ctx, query, k, &threshold, "")
	if err != nil {
		return nil, err
	}
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Document
	}
	return out, nil
}

// RecallWithMetadata is Recall plus metadata and distance, and an optional
// source filter. threshold, when non-nil, drops results with distance >=
// *threshold.
func (s *Store) RecallWithMetadata(ctx context.Context, query string, k int, threshold *float64, source string) ([]Record, error) {
	if k <= 0 {
		k = 3
	}
	vecs, err := s.embed.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("recall: embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("recall: embedder returned no vectors")
	}

	var filter map[string]string
	if source != "" {
		filter = map[string]string{"source": source}
	}

	results, err := s.vector.SimilaritySearch(ctx, vecs[0], k, filter)
	if err != nil {
		return nil, fmt.Errorf("recall: search: %w", err)
	}

	out := make([]Record, 0, len(results))
	for _, r := range results {
		if threshold != nil && r.Distance >= *threshold {
			continue
		}
		doc := r.Metadata[documentMetadataKey]
		meta := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			if k != documentMetadataKey {
				meta[k] = v
			}
		}
		out = append(out, Record{
			ID:       r.ID,
			Document: doc,
			Metadata: meta,
			Distance: r.Distance,
		})
	}
	return out, nil
}
