package testutil

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"am-go/internal/am"
	"am-go/internal/model"
)

// FakeParser implements am.PackageParser over plain files: the content hash
// is SHA-256 of the file bytes and metadata comes from a map keyed by
// filename. Files with no registered metadata parse with empty metadata.
type FakeParser struct {
	mu    sync.Mutex
	infos map[string]*am.PackageInfo
	fails map[string]error
	calls int

	gate    chan struct{}
	entered chan string
}

// NewFakeParser creates a FakeParser with no metadata registered.
func NewFakeParser() *FakeParser {
	return &FakeParser{
		infos: make(map[string]*am.PackageInfo),
		fails: make(map[string]error),
	}
}

// SetInfo registers the metadata returned for filename.
func (p *FakeParser) SetInfo(filename string, info *am.PackageInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.infos[filename] = info
}

// SetTitle registers a title for filename.
func (p *FakeParser) SetTitle(filename, title string) {
	p.SetInfo(filename, &am.PackageInfo{Title: &title})
}

// Fail makes Parse return err for filename.
func (p *FakeParser) Fail(filename string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fails[filename] = err
}

// Hold makes every Parse call block until Release. Each blocked call sends
// its filename on the returned channel first.
func (p *FakeParser) Hold() <-chan string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gate = make(chan struct{})
	p.entered = make(chan string, 1024)
	return p.entered
}

// Release unblocks calls held by Hold.
func (p *FakeParser) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gate != nil {
		close(p.gate)
		p.gate = nil
	}
}

// Calls returns how many times Parse was called.
func (p *FakeParser) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *FakeParser) Parse(path string) (*am.PackageInfo, error) {
	name := filepath.Base(path)

	p.mu.Lock()
	p.calls++
	gate, entered := p.gate, p.entered
	info, err := p.infos[name], p.fails[name]
	p.mu.Unlock()

	if gate != nil {
		entered <- name
		<-gate
	}

	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return nil, fmt.Errorf("opening package: %w", statErr)
	}
	if info == nil {
		return &am.PackageInfo{}, nil
	}
	cp := *info
	return &cp, nil
}

func (p *FakeParser) ContentHash(path string) (model.ContentHash, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading package: %w", err)
	}
	h := sha256.Sum256(data)
	return model.ContentHash(h[:]), nil
}

var _ am.PackageParser = (*FakeParser)(nil)
