package embed

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Indexer computes and stores the embedding for one book.
type Indexer interface {
	IndexBook(ctx context.Context, bookID string) error
}

// QueueConfig configures a Queue.
type QueueConfig struct {
	Workers     int           // Concurrent indexers (default 2)
	Capacity    int           // Pending jobs before Enqueue drops (default 256)
	MaxAttempts int           // Tries per job (default 3)
	BaseBackoff time.Duration // Delay before the second try, doubled after (default 200ms)
	Logger      *slog.Logger
}

// QueueStats is a snapshot of queue counters.
type QueueStats struct {
	Enqueued int64 `json:"enqueued"`
	Indexed  int64 `json:"indexed"`
	Failed   int64 `json:"failed"`
	Dropped  int64 `json:"dropped"`
	Pending  int   `json:"pending"`
}

// Queue indexes books in the background. A job that exhausts its retries
// is counted and logged; the book keeps no embedding and is picked up again
// by the next lazy backfill.
type Queue struct {
	indexer     Indexer
	jobs        chan string
	workers     int
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger

	enqueued atomic.Int64
	indexed  atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64
}

// NewQueue creates a Queue feeding indexer. Call Run to start workers.
func NewQueue(indexer Indexer, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Queue{
		indexer:     indexer,
		jobs:        make(chan string, cfg.Capacity),
		workers:     cfg.Workers,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.BaseBackoff,
		logger:      cfg.Logger,
	}
}

// Enqueue schedules bookID for indexing without blocking. It returns false
// when the queue is full.
func (q *Queue) Enqueue(bookID string) bool {
	select {
	case q.jobs <- bookID:
		q.enqueued.Add(1)
		return true
	default:
		q.dropped.Add(1)
		q.logger.Warn("embedding queue full, dropping job", "book_id", bookID)
		return false
	}
}

// Run processes jobs until ctx is cancelled. It always returns nil after
// cancellation; jobs still pending are left for backfill.
func (q *Queue) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case id := <-q.jobs:
					q.process(ctx, id)
				}
			}
		})
	}
	return g.Wait()
}

func (q *Queue) process(ctx context.Context, bookID string) {
	delay := q.backoff
	var err error
	for attempt := 1; attempt <= q.maxAttempts; attempt++ {
		if err = q.indexer.IndexBook(ctx, bookID); err == nil {
			q.indexed.Add(1)
			return
		}
		if attempt == q.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			q.failed.Add(1)
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
	q.failed.Add(1)
	q.logger.Error("embedding failed", "book_id", bookID, "attempts", q.maxAttempts, "error", err)
}

// Stats returns current counters.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Enqueued: q.enqueued.Load(),
		Indexed:  q.indexed.Load(),
		Failed:   q.failed.Load(),
		Dropped:  q.dropped.Load(),
		Pending:  len(q.jobs),
	}
}
