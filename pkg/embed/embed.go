package embed

import (
	"context"
	"errors"
	"strings"
)

// DefaultDimensions matches the all-MiniLM-L6-v2 sentence model.
const DefaultDimensions = 384

// ErrEmptyText is returned when there is nothing to embed.
var ErrEmptyText = errors.New("embed: empty text")

// Embedder maps text to a vector of Dimensions() floats.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// BookText builds the text embedded for a book: title, author and
// description joined by spaces and lowercased. Missing fields are skipped.
func BookText(title string, author, description *string) string {
	parts := []string{title}
	if author != nil {
		parts = append(parts, *author)
	}
	if description != nil {
		parts = append(parts, *description)
	}

	nonEmpty := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.ToLower(strings.Join(nonEmpty, " "))
}

// Zero returns an all-zero vector of the given length. Zero vectors have
// similarity 0 with everything.
func Zero(dims int) []float32 {
	return make([]float32, dims)
}
