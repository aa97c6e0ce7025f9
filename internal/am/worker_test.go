package am

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"am-go/internal/model"
)

func TestWorkQueue(t *testing.T) {
	paths := []string{"a.vpk", "b.vpk", "c.vpk"}
	q := newWorkQueue(paths)

	paths[0] = "mutated.vpk"
	if got, _ := q.pop(); got != "a.vpk" {
		t.Errorf("pop() = %q, want a.vpk (queue must not alias its input)", got)
	}
	if q.len() != 2 {
		t.Errorf("len() = %d, want 2", q.len())
	}

	if n := q.clear(); n != 2 {
		t.Errorf("clear() = %d, want 2", n)
	}
	if _, ok := q.pop(); ok {
		t.Error("pop() after clear returned an item")
	}
}

func TestWorkQueue_ConcurrentPopsSeeEachPathOnce(t *testing.T) {
	var paths []string
	for i := 0; i < 500; i++ {
		paths = append(paths, fmt.Sprintf("dir/%03d.vpk", i))
	}
	q := newWorkQueue(paths)

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				p, ok := q.pop()
				if !ok {
					return
				}
				mu.Lock()
				seen[p]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != len(paths) {
		t.Fatalf("popped %d distinct paths, want %d", len(seen), len(paths))
	}
	for p, n := range seen {
		if n != 1 {
			t.Errorf("path %s popped %d times", p, n)
		}
	}
}

// hashingParser hashes file bytes and fails for names in fail.
type hashingParser struct {
	fail map[string]bool
}

func (p *hashingParser) Parse(path string) (*PackageInfo, error) {
	if p.fail[filepath.Base(path)] {
		return nil, errors.New("corrupt archive")
	}
	return &PackageInfo{}, nil
}

func (p *hashingParser) ContentHash(path string) (model.ContentHash, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(data)
	return model.ContentHash(h[:]), nil
}

func TestWorkerPool_ProcessesEveryPath(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a.vpk", "b.vpk", "c.vpk", "bad.vpk", "e.vpk"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(name), 0644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	paths = append(paths, filepath.Join(dir, "vanished.vpk"))

	pool := &workerPool{
		parser:  &hashingParser{fail: map[string]bool{"bad.vpk": true}},
		queue:   newWorkQueue(paths),
		workers: 3,
		logger:  NewNopLogger(),
	}

	var got []string
	failed := 0
	for res := range pool.start(context.Background(), 2) {
		got = append(got, res.Path)
		if res.Err != nil {
			failed++
			continue
		}
		if res.Info == nil || len(res.Hash) != sha256.Size || res.Stat == nil {
			t.Errorf("result for %s is incomplete: %+v", res.Path, res)
		}
	}

	sort.Strings(got)
	want := append([]string(nil), paths...)
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("got %d results, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("result[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if failed != 2 {
		t.Errorf("failed results = %d, want 2 (parse error and missing file)", failed)
	}
}

func TestWorkerPool_StopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 50; i++ {
		p := filepath.Join(dir, fmt.Sprintf("%02d.vpk", i))
		if err := os.WriteFile(p, []byte{byte(i)}, 0644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool := &workerPool{
		parser:  &hashingParser{},
		queue:   newWorkQueue(paths),
		workers: 2,
		logger:  NewNopLogger(),
	}
	results := pool.start(ctx, 1)

	<-results
	cancel()

	closed := make(chan struct{})
	go func() {
		drain(results)
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("results channel not closed after cancel")
	}
}
