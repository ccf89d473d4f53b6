package embed

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"unicode"

	"github.com/zeebo/blake3"
)

// Feature weights. Whole words dominate; trigrams let "microcontrollers"
// land near "microcontroller" without an exact token match.
const (
	wordWeight    = 1.0
	trigramWeight = 0.5
)

// HashEmbedder is a deterministic, model-free Embedder based on feature
// hashing. Each word and each character trigram of a word is hashed with
// BLAKE3 to a bucket and a sign; the bucket sums are L2-normalized.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns a HashEmbedder producing dims-length vectors.
// A non-positive dims selects DefaultDimensions.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Dimensions returns the vector length.
func (h *HashEmbedder) Dimensions() int {
	return h.dims
}

// Embed hashes text into a unit vector. It honours ctx cancellation but
// otherwise never fails on non-empty text.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := tokenize(text)
	if len(words) == 0 {
		return nil, ErrEmptyText
	}

	acc := make([]float64, h.dims)
	for _, w := range words {
		h.add(acc, "w:"+w, wordWeight)
		padded := []rune("<" + w + ">")
		for i := 0; i+3 <= len(padded); i++ {
			h.add(acc, "t:"+string(padded[i:i+3]), trigramWeight)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	out := make([]float32, h.dims)
	if norm == 0 {
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func (h *HashEmbedder) add(acc []float64, feature string, weight float64) {
	sum := blake3.Sum256([]byte(feature))
	bucket := binary.LittleEndian.Uint32(sum[:4]) % uint32(h.dims)
	if sum[4]&1 == 1 {
		weight = -weight
	}
	acc[bucket] += weight
}

// tokenize lowercases text and splits it on anything that is not a letter
// or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
