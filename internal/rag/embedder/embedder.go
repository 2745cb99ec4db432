// Package embedder turns free text into the vectors the memory store
// indexes. The HTTP client talks to any OpenAI-compatible /embeddings
// endpoint; the deterministic embedder backs tests and ephemeral mode.
package embedder

import (
	"context"
	"hash/fnv"
	"math"
)

// Embedder converts text to embedding vectors.
type Embedder interface {
	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Name identifies the embedding model.
	Name() string
	// Dimension is the vector width (0 when unknown).
	Dimension() int
	// Ping checks the backing service is reachable.
	Ping(ctx context.Context) error
}

// deterministicEmbedder hashes byte 3-grams into a fixed-width vector.
// Equal inputs always produce equal vectors, which is what recall tests
// need; it has no semantic power.
type deterministicEmbedder struct {
	dim       int
	normalize bool
	seed      uint64
}

// NewDeterministic constructs a test embedder of the given dimension.
// normalize L2-normalizes each vector; seed perturbs the hashing.
func NewDeterministic(dim int, normalize bool, seed uint64) Embedder {
	if dim <= 0 {
		dim = 64
	}
	return &deterministicEmbedder{dim: dim, normalize: normalize, seed: seed}
}

func (d *deterministicEmbedder) Name() string                    { return "deterministic" }
func (d *deterministicEmbedder) Dimension() int                  { return d.dim }
func (d *deterministicEmbedder) Ping(_ context.Context) error    { return nil }

func (d *deterministicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *deterministicEmbedder) embedOne(s string) []float32 {
	v := make([]float32, d.dim)
	b := []byte(s)
	switch {
	case len(b) == 0:
		return v
	case len(b) < 3:
		d.addGram(b, v)
	default:
		for i := 0; i <= len(b)-3; i++ {
			d.addGram(b[i:i+3], v)
		}
	}
	if d.normalize {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if sum > 0 {
			inv := float32(1.0 / math.Sqrt(sum))
			for i := range v {
				v[i] *= inv
			}
		}
	}
	return v
}

func (d *deterministicEmbedder) addGram(gram []byte, v []float32) {
	h := fnv.New64a()
	if d.seed != 0 {
		var tmp [8]byte
		for i := 0; i < 8; i++ {
			tmp[i] = byte(d.seed >> (8 * i))
		}
		_, _ = h.Write(tmp[:])
	}
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	v[idx] += float32(int32(hv>>32)) / float32(1<<31)
}
