package testutil

import (
	"context"
	"fmt"
	"sync"

	"am-go/internal/am"
	"am-go/internal/model"
)

// FakeWorkshopClient answers every requested id with a generated item and
// records the size of each batch.
type FakeWorkshopClient struct {
	mu      sync.Mutex
	batches [][]int64
	unknown map[int64]bool
	err     error

	blocked   chan struct{}
	enterOnce sync.Once
	cancelled int
}

func NewFakeWorkshopClient() *FakeWorkshopClient {
	return &FakeWorkshopClient{unknown: make(map[int64]bool)}
}

// Unknown makes the service omit id from responses.
func (c *FakeWorkshopClient) Unknown(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unknown[id] = true
}

// FailWith makes every call return err.
func (c *FakeWorkshopClient) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// BlockUntilCancelled makes every call wait for its context to end. The
// returned channel is closed when the first call starts waiting.
func (c *FakeWorkshopClient) BlockUntilCancelled() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocked = make(chan struct{})
	return c.blocked
}

// Cancelled returns how many blocked calls returned because their context ended.
func (c *FakeWorkshopClient) Cancelled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// Batches returns a copy of the id batches requested so far.
func (c *FakeWorkshopClient) Batches() [][]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]int64, len(c.batches))
	for i, b := range c.batches {
		out[i] = append([]int64(nil), b...)
	}
	return out
}

// BatchSizes returns the length of each requested batch.
func (c *FakeWorkshopClient) BatchSizes() []int {
	var sizes []int
	for _, b := range c.Batches() {
		sizes = append(sizes, len(b))
	}
	return sizes
}

func (c *FakeWorkshopClient) FetchDetails(ctx context.Context, ids []int64) ([]*model.WorkshopItem, error) {
	c.mu.Lock()
	c.batches = append(c.batches, append([]int64(nil), ids...))
	blocked := c.blocked
	c.mu.Unlock()

	if blocked != nil {
		c.enterOnce.Do(func() { close(blocked) })
		<-ctx.Done()
		c.mu.Lock()
		c.cancelled++
		c.mu.Unlock()
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(ids) > am.WorkshopBatchLimit {
		return nil, fmt.Errorf("batch of %d exceeds limit", len(ids))
	}
	if c.err != nil {
		return nil, c.err
	}

	var items []*model.WorkshopItem
	for _, id := range ids {
		if c.unknown[id] {
			continue
		}
		items = append(items, &model.WorkshopItem{
			PublishedFileID: id,
			Title:           fmt.Sprintf("Workshop item %d", id),
			FileSize:        id,
		})
	}
	return items, nil
}

var _ am.WorkshopClient = (*FakeWorkshopClient)(nil)
