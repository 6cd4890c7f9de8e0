// Package present walks the segments of a streaming model response and
// hands each one to a handler exactly when it is ready to be shown or run.
package present

import (
	"context"
	"sync"

	"github.com/apexion-ai/taskloop/internal/parser"
)

// Handler shows or executes one segment. A partial segment may be handed
// over many times as it grows; a complete one is handed over once, after
// which the presenter moves on.
type Handler interface {
	Present(ctx context.Context, seg parser.Segment)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, seg parser.Segment)

func (f HandlerFunc) Present(ctx context.Context, seg parser.Segment) { f(ctx, seg) }

// Presenter is the cursor over one response. Notify never presents inline:
// an idle presenter starts a single drain goroutine and a busy one only
// records that more work is pending, so a handler that blocks on the user
// never stalls the stream reader.
type Presenter struct {
	ctx     context.Context
	handler Handler

	mu          sync.Mutex
	segments    []parser.Segment
	index       int
	busy        bool
	pending     bool
	doneReading bool

	ready     chan struct{}
	readyOnce sync.Once
	wg        sync.WaitGroup
}

// New returns a presenter bound to ctx. Cancelling ctx stops the drain loop
// and closes Ready.
func New(ctx context.Context, h Handler) *Presenter {
	return &Presenter{ctx: ctx, handler: h, ready: make(chan struct{})}
}

// Update replaces the segments with the latest parse of the response.
func (p *Presenter) Update(segs []parser.Segment) {
	p.mu.Lock()
	p.segments = segs
	p.mu.Unlock()
}

// Notify requests a presentation pass.
func (p *Presenter) Notify() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = true
	if p.busy {
		return
	}
	p.busy = true
	p.wg.Add(1)
	go p.drain()
}

// MarkDone installs the final segments, records that the stream has ended
// and notifies.
func (p *Presenter) MarkDone(final []parser.Segment) {
	p.mu.Lock()
	p.segments = final
	p.doneReading = true
	p.mu.Unlock()
	p.Notify()
}

// Ready is closed once every segment has been presented after MarkDone, or
// when a drain pass observes a cancelled context.
func (p *Presenter) Ready() <-chan struct{} {
	return p.ready
}

// Wait blocks until the presenter is drained or its context is cancelled,
// and the drain goroutine has exited.
func (p *Presenter) Wait() {
	select {
	case <-p.ready:
	case <-p.ctx.Done():
	}
	p.wg.Wait()
}

// Index returns the position of the cursor.
func (p *Presenter) Index() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

func (p *Presenter) signal() {
	p.readyOnce.Do(func() { close(p.ready) })
}

func (p *Presenter) drain() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		p.pending = false
		if p.ctx.Err() != nil {
			p.busy = false
			p.signal()
			p.mu.Unlock()
			return
		}
		if p.index >= len(p.segments) {
			p.busy = false
			if p.doneReading {
				p.signal()
			}
			p.mu.Unlock()
			return
		}
		seg := p.segments[p.index]
		p.mu.Unlock()

		p.handler.Present(p.ctx, seg)

		p.mu.Lock()
		if !seg.IsPartial() {
			p.index++
			p.pending = true
		}
		if !p.pending {
			p.busy = false
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
	}
}
