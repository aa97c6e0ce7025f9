package main

import (
	"fmt"
	"os"
	"sync"

	"am-go/internal/am"
)

// progressPrinter renders scan events on stderr. On a terminal it redraws a
// single counter line; otherwise it prints only the start banner.
type progressPrinter struct {
	mu    sync.Mutex
	tty   bool
	drawn bool
}

func newProgressPrinter(tty bool) *progressPrinter {
	return &progressPrinter{tty: tty}
}

func (p *progressPrinter) Emit(e am.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev := e.(type) {
	case am.StartedEvent:
		fmt.Fprintf(os.Stderr, "Scanning with speed %s\n", ev.Speed)
	case am.ProgressEvent:
		if p.tty {
			fmt.Fprintf(os.Stderr, "\r%d/%d", ev.Scanned, ev.Total)
			p.drawn = true
		}
	}
}

// finish ends the counter line.
func (p *progressPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drawn {
		fmt.Fprintln(os.Stderr)
		p.drawn = false
	}
}
