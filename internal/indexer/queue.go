package indexer

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

// queue holds pending paths. A path is pending at most once; re-enqueueing
// it while pending is a no-op because ingestion always reads the latest
// content. A path being processed is not handed to a second worker.
type queue struct {
	mu       sync.Mutex
	order    []string
	pending  map[string]struct{}
	inflight map[string]struct{}
	idle     *sync.Cond
	wake     chan struct{}
}

func newQueue() *queue {
	q := &queue{
		pending:  make(map[string]struct{}),
		inflight: make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

func (q *queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) push(p string) {
	q.mu.Lock()
	if _, ok := q.pending[p]; !ok {
		q.pending[p] = struct{}{}
		q.order = append(q.order, p)
	}
	q.mu.Unlock()
	q.signal()
}

// pop takes the oldest pending path that is not in flight.
func (q *queue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for idx, p := range q.order {
		if _, busy := q.inflight[p]; busy {
			continue
		}
		q.order = slices.Delete(q.order, idx, idx+1)
		delete(q.pending, p)
		q.inflight[p] = struct{}{}
		if len(q.order) > 0 {
			q.signal()
		}
		return p, true
	}
	return "", false
}

// acquire marks p in flight outside the worker loop, waiting for a worker
// that holds it. A pending entry for p stays queued and is picked up once
// the caller releases it with done.
func (q *queue) acquire(p string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if _, busy := q.inflight[p]; !busy {
			break
		}
		q.idle.Wait()
	}
	q.inflight[p] = struct{}{}
}

func (q *queue) done(p string) {
	q.mu.Lock()
	delete(q.inflight, p)
	more := len(q.order) > 0
	q.idle.Broadcast()
	q.mu.Unlock()
	if more {
		q.signal()
	}
}

// len counts pending and in-flight paths.
func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order) + len(q.inflight)
}

// Enqueue schedules p for ingestion and never blocks. Paths the indexer
// does not track are ignored.
func (i *Indexer) Enqueue(p string) {
	if i.KindOf(p) == "" {
		return
	}
	i.queue.push(p)
}

// Pending reports how many paths are queued or being ingested.
func (i *Indexer) Pending() int { return i.queue.len() }

// Run processes the queue with the configured number of workers until ctx
// is cancelled. Ingestion errors are logged and reported through OnChange
// hooks; they never stop the workers.
func (i *Indexer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < i.cfg.Workers; w++ {
		g.Go(func() error {
			for {
				p, ok := i.queue.pop()
				if !ok {
					select {
					case <-ctx.Done():
						return nil
					case <-i.queue.wake:
						continue
					}
				}
				if err := i.IngestFile(ctx, p); err != nil {
					i.logger.Debug("indexer: queued ingest failed", slog.String("path", p), slog.String("error", err.Error()))
				}
				i.queue.done(p)
			}
		})
	}
	i.logger.Info("indexer: queue running", slog.Int("workers", i.cfg.Workers))
	return g.Wait()
}
