package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/eflynch/usufruit/pkg/embed"
	"github.com/eflynch/usufruit/pkg/store"
)

// Defaults for Config fields left zero.
const (
	DefaultThreshold     = 0.4
	DefaultCacheTTL      = 5 * time.Minute
	DefaultCacheBound    = 100
	DefaultBackfillBatch = 20
	DefaultMinEmbedded   = 5
	DefaultEmbedTimeout  = 5 * time.Second
	DefaultLimit         = 10
	MaxLimit             = 100
)

// Sources of a search hit.
const (
	SourceLexical  = "lexical"
	SourceSemantic = "semantic"
)

// BookStore is the slice of the store the engine needs.
type BookStore interface {
	GetBook(ctx context.Context, id string) (*store.Book, error)
	ListBooks(ctx context.Context, libraryID string, opts store.ListOptions) ([]*store.Book, int, error)
	FilterLexicalMatches(ctx context.Context, libraryID, query string, ids []string) (map[string]bool, error)
	ListEmbeddedBooks(ctx context.Context, libraryID string) ([]*store.Book, error)
	CountEmbeddedBooks(ctx context.Context, libraryID string) (int, error)
	ListBooksMissingEmbedding(ctx context.Context, libraryID string, limit int) ([]*store.Book, error)
	SetBookEmbedding(ctx context.Context, id string, embedding []byte) error
}

// Config configures an Engine.
type Config struct {
	// Semantic enables the embedding-based extension of lexical results.
	Semantic bool

	// Embedder computes query and book vectors. Required when Semantic is set.
	Embedder embed.Embedder

	Threshold     float64       // Minimum cosine similarity for a semantic hit
	CacheTTL      time.Duration // Lifetime of cached semantic matches
	CacheBound    int           // Size above which expired entries are purged
	BackfillBatch int           // Books embedded per lazy backfill
	MinEmbedded   int           // Backfill runs while fewer books are embedded
	EmbedTimeout  time.Duration // Per-call embedding timeout

	Logger *slog.Logger
}

// Hit is a book in a search result.
type Hit struct {
	Book   *store.Book
	Source string  // SourceLexical or SourceSemantic
	Score  float64 // Cosine similarity; zero for lexical hits
}

// Pagination describes a page of results.
type Pagination struct {
	CurrentPage     int  `json:"currentPage"`
	TotalPages      int  `json:"totalPages"`
	TotalCount      int  `json:"totalCount"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
}

// SemanticInfo reports how semantic search contributed to a result.
type SemanticInfo struct {
	Threshold  float64 `json:"threshold"`
	Candidates int     `json:"candidates"` // Books at or above Threshold
	Added      int     `json:"added"`      // Of those, books without a lexical match
}

// Result is one page of search results. Semantic is nil when only lexical
// matching contributed.
type Result struct {
	Hits       []Hit
	Pagination Pagination
	Semantic   *SemanticInfo
}

// Engine runs hybrid searches over a library's books and keeps book
// embeddings current. It implements embed.Indexer.
type Engine struct {
	store  BookStore
	cfg    Config
	cache  *resultCache
	group  singleflight.Group
	logger *slog.Logger
}

// NewEngine creates an Engine. Zero Config fields take the package defaults.
func NewEngine(s BookStore, cfg Config) (*Engine, error) {
	if cfg.Semantic && cfg.Embedder == nil {
		return nil, errors.New("search: semantic search requires an embedder")
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.CacheBound <= 0 {
		cfg.CacheBound = DefaultCacheBound
	}
	if cfg.BackfillBatch <= 0 {
		cfg.BackfillBatch = DefaultBackfillBatch
	}
	if cfg.MinEmbedded <= 0 {
		cfg.MinEmbedded = DefaultMinEmbedded
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = DefaultEmbedTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:  s,
		cfg:    cfg,
		cache:  newResultCache(cfg.CacheTTL, cfg.CacheBound),
		logger: logger,
	}, nil
}

// SemanticEnabled reports whether searches may add semantic matches.
func (e *Engine) SemanticEnabled() bool {
	return e.cfg.Semantic
}

// Threshold returns the similarity threshold in use.
func (e *Engine) Threshold() float64 {
	return e.cfg.Threshold
}

// NormalizePage clamps page and limit to valid values.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}

// NewPagination computes page metadata for total items.
func NewPagination(page, limit, total int) Pagination {
	totalPages := (total + limit - 1) / limit
	return Pagination{
		CurrentPage:     page,
		TotalPages:      totalPages,
		TotalCount:      total,
		HasNextPage:     page*limit < total,
		HasPreviousPage: page > 1,
	}
}

// Search returns one page of books in libraryID matching query. Lexical
// matches come first in title order; semantic matches that are not also
// lexical matches follow in descending similarity. Semantic search runs
// only when the lexical matches do not fill the requested page, and any
// failure in it degrades to lexical-only results. A full page reports the
// combined total when the query's semantic matches are already cached and
// the lexical total otherwise.
func (e *Engine) Search(ctx context.Context, libraryID, query string, page, limit int) (*Result, error) {
	page, limit = NormalizePage(page, limit)
	skip := (page - 1) * limit

	lexical, lexTotal, err := e.store.ListBooks(ctx, libraryID, store.ListOptions{
		Offset: skip,
		Limit:  limit,
		Search: query,
	})
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	result := &Result{
		Hits:       make([]Hit, 0, limit),
		Pagination: NewPagination(page, limit, lexTotal),
	}
	for _, b := range lexical {
		result.Hits = append(result.Hits, Hit{Book: b, Source: SourceLexical})
	}

	if !e.cfg.Semantic || normalizeQuery(query) == "" {
		return result, nil
	}

	var matches []Match
	if len(lexical) >= limit {
		// A full page computes nothing new, but cached matches still
		// count toward the combined total so it agrees with later pages.
		cached, ok := e.cache.get(cacheKey(libraryID, query, e.cfg.Threshold))
		if !ok {
			return result, nil
		}
		matches = cached
	} else {
		matches, err = e.semanticMatches(ctx, libraryID, query)
		if err != nil {
			e.logger.WarnContext(ctx, "semantic search failed, using lexical results",
				"library_id", libraryID, "error", err)
			return result, nil
		}
	}

	extras, err := e.excludeLexical(ctx, libraryID, query, matches)
	if err != nil {
		e.logger.WarnContext(ctx, "semantic merge failed, using lexical results",
			"library_id", libraryID, "error", err)
		return result, nil
	}

	// Extras occupy positions lexTotal.. of the combined ranking.
	start := skip - lexTotal
	if start < 0 {
		start = 0
	}
	need := limit - len(lexical)
	for i := start; i < len(extras) && need > 0; i++ {
		b, err := e.store.GetBook(ctx, extras[i].BookID)
		if errors.Is(err, store.ErrBookNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load semantic match: %w", err)
		}
		result.Hits = append(result.Hits, Hit{Book: b, Source: SourceSemantic, Score: extras[i].Score})
		need--
	}

	result.Pagination = NewPagination(page, limit, lexTotal+len(extras))
	result.Semantic = &SemanticInfo{
		Threshold:  e.cfg.Threshold,
		Candidates: len(matches),
		Added:      len(extras),
	}
	return result, nil
}

// excludeLexical drops matches that the lexical query already returns.
func (e *Engine) excludeLexical(ctx context.Context, libraryID, query string, matches []Match) ([]Match, error) {
	if len(matches) == 0 {
		return nil, nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.BookID
	}
	lexical, err := e.store.FilterLexicalMatches(ctx, libraryID, query, ids)
	if err != nil {
		return nil, err
	}

	extras := make([]Match, 0, len(matches))
	for _, m := range matches {
		if !lexical[m.BookID] {
			extras = append(extras, m)
		}
	}
	return extras, nil
}

// semanticMatches returns books scoring at or above the threshold, best
// first. Results are cached, and concurrent misses for one key share a
// single computation.
func (e *Engine) semanticMatches(ctx context.Context, libraryID, query string) ([]Match, error) {
	key := cacheKey(libraryID, query, e.cfg.Threshold)
	if matches, ok := e.cache.get(key); ok {
		return matches, nil
	}

	v, err, _ := e.group.Do(key, func() (any, error) {
		if matches, ok := e.cache.get(key); ok {
			return matches, nil
		}
		matches, cacheable, err := e.computeMatches(ctx, libraryID, query)
		if err != nil {
			return nil, err
		}
		if cacheable {
			e.cache.set(key, matches)
		}
		return matches, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Match), nil
}

func (e *Engine) computeMatches(ctx context.Context, libraryID, query string) ([]Match, bool, error) {
	e.backfill(ctx, libraryID)

	qvec, err := e.embed(ctx, normalizeQuery(query))
	if err != nil {
		// A zero query vector scores 0 against every book, so no semantic
		// hits are added. The result is not cached.
		e.logger.ErrorContext(ctx, "query embedding failed",
			"library_id", libraryID, "kind", "dependency", "error", err)
		return nil, false, nil
	}

	books, err := e.store.ListEmbeddedBooks(ctx, libraryID)
	if err != nil {
		return nil, false, err
	}

	var matches []Match
	for _, b := range books {
		vec, err := embed.DecodeVector(b.Embedding)
		if err != nil {
			e.logger.WarnContext(ctx, "skipping undecodable embedding", "book_id", b.ID, "error", err)
			continue
		}
		score, err := Cosine(qvec, vec)
		if err != nil {
			e.logger.WarnContext(ctx, "skipping embedding", "book_id", b.ID, "error", err)
			continue
		}
		if score >= e.cfg.Threshold {
			matches = append(matches, Match{BookID: b.ID, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].BookID < matches[j].BookID
	})
	return matches, true, nil
}

// backfill embeds a batch of books lacking vectors when the library has
// too few embedded books to search meaningfully. Failures are logged.
func (e *Engine) backfill(ctx context.Context, libraryID string) {
	n, err := e.store.CountEmbeddedBooks(ctx, libraryID)
	if err != nil || n >= e.cfg.MinEmbedded {
		return
	}
	missing, err := e.store.ListBooksMissingEmbedding(ctx, libraryID, e.cfg.BackfillBatch)
	if err != nil {
		e.logger.WarnContext(ctx, "backfill listing failed", "library_id", libraryID, "error", err)
		return
	}
	for _, b := range missing {
		if err := e.indexBook(ctx, b); err != nil {
			e.logger.WarnContext(ctx, "backfill embedding failed", "book_id", b.ID, "error", err)
		}
	}
	if len(missing) > 0 {
		e.logger.InfoContext(ctx, "backfilled embeddings", "library_id", libraryID, "books", len(missing))
	}
}

// IndexBook computes and stores the embedding for bookID, then drops the
// book's library from the result cache.
func (e *Engine) IndexBook(ctx context.Context, bookID string) error {
	if e.cfg.Embedder == nil {
		return nil
	}
	b, err := e.store.GetBook(ctx, bookID)
	if errors.Is(err, store.ErrBookNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := e.indexBook(ctx, b); err != nil {
		return err
	}
	e.Invalidate(b.LibraryID)
	return nil
}

func (e *Engine) indexBook(ctx context.Context, b *store.Book) error {
	vec, err := e.embed(ctx, embed.BookText(b.Title, b.Author, b.Description))
	if err != nil {
		return fmt.Errorf("embed book %s: %w", b.ID, err)
	}
	data, err := embed.EncodeVector(vec)
	if err != nil {
		return err
	}
	if err := e.store.SetBookEmbedding(ctx, b.ID, data); err != nil && !errors.Is(err, store.ErrBookNotFound) {
		return err
	}
	return nil
}

func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.EmbedTimeout)
	defer cancel()
	return e.cfg.Embedder.Embed(ctx, text)
}

// Invalidate drops cached results for a library. Call it after any book in
// the library is created, changed or deleted.
func (e *Engine) Invalidate(libraryID string) {
	e.cache.invalidateLibrary(libraryID)
}
