package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrStillStreaming is returned by a partial ask. Callers ignore it.
	ErrStillStreaming = errors.New("ask is still streaming")
	// ErrSuperseded is returned when a newer entry replaced a pending ask.
	ErrSuperseded = errors.New("ask superseded by a newer message")
	// ErrAborted is returned once the task has been aborted.
	ErrAborted = errors.New("task aborted")
	// ErrStaleResponse is returned by Respond when the ask it answers is gone.
	ErrStaleResponse = errors.New("no pending ask with that timestamp")
)

// Log stores the session entries. PutEntry adds the entry, or replaces the
// entry with the same TS.
type Log interface {
	LastEntry() (Entry, bool)
	Entry(ts int64) (Entry, bool)
	PutEntry(e Entry) error
}

// Surface receives every entry change. Publish must not call Say or Ask;
// it may call Respond.
type Surface interface {
	Publish(e Entry)
}

type askResult struct {
	resp Response
	err  error
}

// pendingAsk is the single outstanding non-partial ask.
type pendingAsk struct {
	ts   int64
	done chan askResult
}

// Channel serialises ask/say traffic for one task.
type Channel struct {
	mu      sync.Mutex
	pubMu   sync.Mutex
	log     Log
	surface Surface
	logger  *zap.Logger
	now     func() time.Time

	lastTS  int64
	pending *pendingAsk
	aborted bool
}

// New creates a Channel writing to log and publishing to surface.
func New(log Log, surface Surface, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Channel{log: log, surface: surface, logger: logger, now: time.Now}
	if last, ok := log.LastEntry(); ok {
		c.lastTS = last.TS
	}
	return c
}

// nextTS returns a millisecond timestamp strictly greater than any issued.
func (c *Channel) nextTS() int64 {
	ts := c.now().UnixMilli()
	if ts <= c.lastTS {
		ts = c.lastTS + 1
	}
	c.lastTS = ts
	return ts
}

// Say posts a notification. A partial say updates the previous entry in
// place when that entry is a partial say of the same kind.
func (c *Channel) Say(ctx context.Context, kind SayKind, text string, images []string, partial bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.aborted {
		c.mu.Unlock()
		return ErrAborted
	}

	e, coalesce := c.coalescable(TypeSay, string(kind))
	if coalesce {
		e.Text = text
		e.Images = images
		e.Partial = partial
	} else {
		e = Entry{TS: c.nextTS(), Type: TypeSay, Say: kind, Text: text, Images: images, Partial: partial}
		c.supersede()
	}
	err := c.log.PutEntry(e)
	c.publishAndUnlock(e)
	return err
}

// Ask posts a question and waits for the surface to answer it.
//
// A partial ask only records or updates the entry and returns
// ErrStillStreaming. A non-partial ask blocks until Respond delivers an
// answer, a newer entry supersedes it, the task is aborted, or ctx ends.
func (c *Channel) Ask(ctx context.Context, kind AskKind, text string, partial bool) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	c.mu.Lock()
	if c.aborted {
		c.mu.Unlock()
		return Response{}, ErrAborted
	}

	e, coalesce := c.coalescable(TypeAsk, string(kind))
	if coalesce {
		e.Text = text
		e.Partial = partial
	} else {
		e = Entry{TS: c.nextTS(), Type: TypeAsk, Ask: kind, Text: text, Partial: partial}
		c.supersede()
	}
	if err := c.log.PutEntry(e); err != nil {
		c.logger.Warn("persist ask entry", zap.Int64("ts", e.TS), zap.Error(err))
	}

	if partial {
		c.publishAndUnlock(e)
		return Response{}, ErrStillStreaming
	}

	if c.pending != nil {
		c.logger.Warn("ask issued while another ask is pending", zap.Int64("pending_ts", c.pending.ts))
		c.supersede()
	}
	p := &pendingAsk{ts: e.TS, done: make(chan askResult, 1)}
	c.pending = p
	c.publishAndUnlock(e)

	select {
	case r := <-p.done:
		return r.resp, r.err
	case <-ctx.Done():
		c.mu.Lock()
		if c.pending == p {
			c.pending = nil
		}
		c.mu.Unlock()
		return Response{}, ctx.Err()
	}
}

// Respond answers the ask identified by ts. Answers for asks that are no
// longer pending are dropped.
func (c *Channel) Respond(ts int64, resp Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending
	if p == nil || p.ts != ts {
		c.logger.Debug("dropping stale response", zap.Int64("ts", ts))
		return ErrStaleResponse
	}
	c.pending = nil
	p.done <- askResult{resp: resp}
	return nil
}

// PendingTS returns the timestamp of the outstanding ask, if any.
func (c *Channel) PendingTS() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return 0, false
	}
	return c.pending.ts, true
}

// Update rewrites the text of an existing entry without changing its
// position or timestamp.
func (c *Channel) Update(ts int64, text string) error {
	c.mu.Lock()
	e, ok := c.log.Entry(ts)
	if !ok {
		c.mu.Unlock()
		return nil
	}
	e.Text = text
	err := c.log.PutEntry(e)
	c.publishAndUnlock(e)
	return err
}

// Abort fails any pending ask and refuses further traffic.
func (c *Channel) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted = true
	if c.pending != nil {
		c.pending.done <- askResult{err: ErrAborted}
		c.pending = nil
	}
}

// coalescable returns the last entry when it is a partial entry of the same
// type and kind. Must be called with mu held.
func (c *Channel) coalescable(typ Type, kind string) (Entry, bool) {
	last, ok := c.log.LastEntry()
	if !ok || !last.Partial || last.Type != typ || last.Kind() != kind {
		return Entry{}, false
	}
	return last, true
}

// supersede cancels the pending ask. Must be called with mu held.
func (c *Channel) supersede() {
	if c.pending == nil {
		return
	}
	c.pending.done <- askResult{err: ErrSuperseded}
	c.pending = nil
}

// publishAndUnlock releases mu and forwards e to the surface, keeping
// publishes in the order the entries were changed.
func (c *Channel) publishAndUnlock(e Entry) {
	c.pubMu.Lock()
	c.mu.Unlock()
	defer c.pubMu.Unlock()
	if c.surface != nil {
		c.surface.Publish(e)
	}
}
