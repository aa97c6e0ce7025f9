package am

import (
	"context"
	"sync"

	"am-go/internal/model"
)

// WorkshopBatchLimit is the most ids the workshop service accepts per request.
const WorkshopBatchLimit = 100

// WorkshopClient fetches item metadata from the workshop service.
// FetchDetails blocks until the request completes.
type WorkshopClient interface {
	FetchDetails(ctx context.Context, ids []int64) ([]*model.WorkshopItem, error)
}

// resolver deduplicates workshop ids discovered during a scan and fetches
// their metadata in batches on its own goroutine, so a slow request never
// stalls the reconciliation consumer. Fetched items are handed back to the
// consumer by wait; the resolver never writes to the catalog.
type resolver struct {
	client WorkshopClient
	logger Logger

	known   map[int64]struct{} // stored or already queued this scan
	pending []int64

	batches chan []int64
	done    chan struct{}

	mu      sync.Mutex
	fetched []*model.WorkshopItem
}

// newResolver starts the fetch goroutine. known holds ids that already have
// stored metadata; they are never fetched again. A nil client disables
// fetching and every queued id is dropped.
func newResolver(ctx context.Context, client WorkshopClient, known []int64, logger Logger) *resolver {
	r := &resolver{
		client:  client,
		logger:  logger,
		known:   make(map[int64]struct{}, len(known)),
		batches: make(chan []int64, 4),
		done:    make(chan struct{}),
	}
	for _, id := range known {
		r.known[id] = struct{}{}
	}
	go r.loop(ctx)
	return r
}

// queue adds an id if it is neither stored nor already queued, dispatching a
// full batch as soon as one is available.
func (r *resolver) queue(id int64) {
	if _, ok := r.known[id]; ok {
		return
	}
	r.known[id] = struct{}{}
	r.pending = append(r.pending, id)

	if len(r.pending) >= WorkshopBatchLimit {
		r.dispatch(r.pending[:WorkshopBatchLimit])
		r.pending = r.pending[WorkshopBatchLimit:]
	}
}

// flush dispatches everything still pending in chunks of at most WorkshopBatchLimit.
func (r *resolver) flush() {
	for len(r.pending) > 0 {
		n := min(len(r.pending), WorkshopBatchLimit)
		r.dispatch(r.pending[:n])
		r.pending = r.pending[n:]
	}
	r.pending = nil
}

func (r *resolver) dispatch(ids []int64) {
	batch := make([]int64, len(ids))
	copy(batch, ids)
	r.batches <- batch
}

// wait stops accepting batches, waits for in-flight requests and returns
// every item fetched. It must be called exactly once.
func (r *resolver) wait() []*model.WorkshopItem {
	close(r.batches)
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetched
}

func (r *resolver) loop(ctx context.Context) {
	defer close(r.done)

	for batch := range r.batches {
		if r.client == nil {
			continue
		}
		if ctx.Err() != nil {
			r.logger.Debug("skipping workshop batch, scan cancelled", "count", len(batch))
			continue
		}

		items, err := r.client.FetchDetails(ctx, batch)
		if err != nil && ctx.Err() != nil {
			r.logger.Debug("workshop batch cancelled", "count", len(batch))
			continue
		}
		if err != nil {
			// Dropped ids stay absent from the catalog and are retried next scan.
			r.logger.Warn("workshop batch failed", "count", len(batch), "error", err)
			continue
		}
		r.mu.Lock()
		r.fetched = append(r.fetched, items...)
		r.mu.Unlock()

		r.logger.Debug("workshop batch resolved", "requested", len(batch), "received", len(items))
	}
}
