package am

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"am-go/internal/model"
)

// DefaultResultBuffer is the capacity of the channel between workers and the
// reconciliation consumer. A full channel blocks workers.
const DefaultResultBuffer = 60

// workQueue is the shared list of paths the workers drain.
// The lock is only held long enough to pop one item.
type workQueue struct {
	mu    sync.Mutex
	paths []string
}

func newWorkQueue(paths []string) *workQueue {
	q := make([]string, len(paths))
	copy(q, paths)
	return &workQueue{paths: q}
}

// pop removes and returns the next path. ok is false once the queue is empty.
func (q *workQueue) pop() (path string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.paths) == 0 {
		return "", false
	}
	path = q.paths[0]
	q.paths = q.paths[1:]
	return path, true
}

// clear drops every queued path so workers exit after their current item.
// Returns how many paths were dropped.
func (q *workQueue) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.paths)
	q.paths = nil
	return n
}

func (q *workQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.paths)
}

// fileResult is a worker's output for one path. Exactly one of Err or
// (Info, Hash) is set.
type fileResult struct {
	Path string
	Info *PackageInfo
	Hash model.ContentHash
	Stat fs.FileInfo
	Err  error
}

// workerPool parses and hashes files in parallel. Workers never touch the
// catalog; their only output is the results channel.
type workerPool struct {
	parser  PackageParser
	queue   *workQueue
	workers int
	logger  Logger
}

// start launches the workers and returns the results channel. The channel is
// closed once every worker has exited, which happens when the queue is empty
// or ctx is cancelled.
func (p *workerPool) start(ctx context.Context, buffer int) <-chan fileResult {
	if buffer <= 0 {
		buffer = DefaultResultBuffer
	}
	results := make(chan fileResult, buffer)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		id := i
		g.Go(func() error {
			return p.work(gctx, id, results)
		})
	}

	go func() {
		if err := g.Wait(); err != nil {
			p.logger.Debug("scan workers stopped early", "error", err)
		}
		close(results)
	}()

	return results
}

func (p *workerPool) work(ctx context.Context, id int, results chan<- fileResult) error {
	processed := 0
	for {
		path, ok := p.queue.pop()
		if !ok {
			p.logger.Debug("scan worker finished", "worker", id, "processed", processed)
			return nil
		}

		res := p.process(path)
		processed++

		select {
		case results <- res:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// process computes the content identity and metadata of one file.
func (p *workerPool) process(path string) fileResult {
	res := fileResult{Path: path}

	info, err := os.Stat(path)
	if err != nil {
		res.Err = fmt.Errorf("stat: %w", err)
		return res
	}
	res.Stat = info

	pkg, err := p.parser.Parse(path)
	if err != nil {
		res.Err = fmt.Errorf("parsing package: %w", err)
		return res
	}

	hash, err := p.parser.ContentHash(path)
	if err != nil {
		res.Err = fmt.Errorf("hashing package: %w", err)
		return res
	}

	res.Info = pkg
	res.Hash = hash
	return res
}
