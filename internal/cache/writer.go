package cache

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/obs"
)

const (
	defaultWriteLimit = 65536
	finalFlushTimeout = 5 * time.Second
)

// writer batches records for the backing. flush holds writeMu across the
// swap and the write so batches reach the backing in enqueue order.
type writer struct {
	db      Database
	metrics *obs.Metrics
	limit   int
	signal  chan struct{}

	mu      sync.Mutex
	pending []Record

	writeMu sync.Mutex
}

func newWriter(db Database, limit int) *writer {
	if limit <= 0 {
		limit = defaultWriteLimit
	}
	return &writer{db: db, limit: limit, signal: make(chan struct{}, 1)}
}

func (w *writer) enqueue(rec Record) {
	w.mu.Lock()
	if len(w.pending) >= w.limit {
		w.mu.Unlock()
		w.metrics.Inc(obs.CounterCacheWriteDrop)
		logs.Warnf("cache: write queue full, drop %s %s", rec.Kind, rec.Key)
		return
	}
	w.pending = append(w.pending, rec)
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *writer) flush(ctx context.Context) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := w.db.Write(ctx, batch); err != nil {
		w.mu.Lock()
		w.pending = append(batch, w.pending...)
		w.mu.Unlock()
		return errors.Wrapf(err, "write %d records", len(batch))
	}
	return nil
}

func (w *writer) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			err := w.flush(fctx)
			cancel()
			return err
		case <-w.signal:
			if err := w.flush(ctx); err != nil {
				logs.Errorf("cache: write behind, err: %+v", err)
			}
		}
	}
}
