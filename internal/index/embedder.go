package index

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder turns text into unit vectors of a fixed dimension. Similarity is
// inner product, which equals cosine on L2-normalized outputs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// DefaultDim is the output dimension of the built-in embedder.
const DefaultDim = 384

// HashingEmbedder is a deterministic local embedder: word and character
// trigram features hashed into a fixed-width vector, then L2-normalized.
// It needs no model files and produces identical vectors across runs and
// platforms, which keeps the on-disk index reproducible.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder returns an embedder of the given dimension
// (DefaultDim if dim <= 0).
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = DefaultDim
	}
	return &HashingEmbedder{dim: dim}
}

// Dim returns the output vector width.
func (e *HashingEmbedder) Dim() int { return e.dim }

// Embed embeds each text independently. It never fails; the error return
// satisfies the interface for model-backed implementations.
func (e *HashingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embedOne(t)
	}
	return out, nil
}

func (e *HashingEmbedder) embedOne(text string) []float32 {
	v := make([]float32, e.dim)
	for _, tok := range tokenize(text) {
		addFeature(v, tok)
		// Character trigrams give partial-word overlap ("roofing" ~ "roof").
		runes := []rune(tok)
		for j := 0; j+3 <= len(runes); j++ {
			addFeature(v, "#"+string(runes[j:j+3]))
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1 // degenerate text still needs a unit vector
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}

// addFeature buckets a feature by FNV-1a; one hash bit picks the sign so
// collisions cancel rather than pile up.
func addFeature(v []float32, feat string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feat))
	sum := h.Sum64()
	idx := int(sum % uint64(len(v)))
	if sum&(1<<63) != 0 {
		v[idx]--
	} else {
		v[idx]++
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
