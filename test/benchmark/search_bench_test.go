//go:build benchmark

package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/eflynch/usufruit/pkg/embed"
	"github.com/eflynch/usufruit/pkg/search"
)

// BenchmarkHashEmbed measures the local embedder on a typical book text.
func BenchmarkHashEmbed(b *testing.B) {
	e := embed.NewHashEmbedder(embed.DefaultDimensions)
	author, desc := "Ursula K. Le Guin", "An anarchist moon and its capitalist twin planet"
	text := embed.BookText("The Dispossessed", &author, &desc)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Embed(ctx, text); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkDecodeAndRank mirrors one semantic pass: decode every stored
// vector and score it against the query.
func BenchmarkDecodeAndRank(b *testing.B) {
	for _, n := range []int{100, 1000} {
		b.Run(fmt.Sprintf("books=%d", n), func(b *testing.B) {
			e := embed.NewHashEmbedder(embed.DefaultDimensions)
			ctx := context.Background()
			blobs := make([][]byte, n)
			for i := range blobs {
				v, err := e.Embed(ctx, fmt.Sprintf("book %d about topic %d", i, i%13))
				if err != nil {
					b.Fatal(err)
				}
				if blobs[i], err = embed.EncodeVector(v); err != nil {
					b.Fatal(err)
				}
			}
			query, err := e.Embed(ctx, "topic 7")
			if err != nil {
				b.Fatal(err)
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				for _, blob := range blobs {
					v, err := embed.DecodeVector(blob)
					if err != nil {
						b.Fatal(err)
					}
					if _, err := search.Cosine(query, v); err != nil {
						b.Fatal(err)
					}
				}
			}
		})
	}
}
