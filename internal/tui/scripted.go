package tui

import (
	"sync"

	"github.com/apexion-ai/taskloop/internal/channel"
)

// Script decides the answer to an ask. ok=false leaves the ask pending.
type Script func(e channel.Entry) (resp channel.Response, ok bool)

// Scripted is a silent surface that records every published entry and
// answers asks from a script. Used by tests and unattended runs.
type Scripted struct {
	script Script

	mu        sync.Mutex
	responder Responder
	published []channel.Entry
}

// NewScripted creates a Scripted surface. A nil script approves everything.
func NewScripted(script Script) *Scripted {
	if script == nil {
		script = ApproveAll
	}
	return &Scripted{script: script}
}

// ApproveAll answers every ask with Approve.
func ApproveAll(channel.Entry) (channel.Response, bool) {
	return channel.Response{Kind: channel.Approve}, true
}

// Queue answers asks with resps in order, then approves.
func Queue(resps ...channel.Response) Script {
	var mu sync.Mutex
	return func(channel.Entry) (channel.Response, bool) {
		mu.Lock()
		defer mu.Unlock()
		if len(resps) == 0 {
			return channel.Response{Kind: channel.Approve}, true
		}
		r := resps[0]
		resps = resps[1:]
		return r, true
	}
}

// Bind sets the responder asks are answered through.
func (s *Scripted) Bind(r Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responder = r
}

// Publish records e and answers it when it is a complete ask.
func (s *Scripted) Publish(e channel.Entry) {
	s.mu.Lock()
	s.published = append(s.published, e)
	r := s.responder
	s.mu.Unlock()

	if e.Type != channel.TypeAsk || e.Partial || r == nil {
		return
	}
	if resp, ok := s.script(e); ok {
		_ = r.Respond(e.TS, resp)
	}
}

// Published returns every entry change seen so far, partial updates
// included.
func (s *Scripted) Published() []channel.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]channel.Entry(nil), s.published...)
}

// Final returns the latest version of each entry, in timestamp order.
func (s *Scripted) Final() []channel.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []channel.Entry
	pos := make(map[int64]int)
	for _, e := range s.published {
		if i, ok := pos[e.TS]; ok {
			out[i] = e
			continue
		}
		pos[e.TS] = len(out)
		out = append(out, e)
	}
	return out
}

// Asks returns the kinds of the complete asks seen, in order.
func (s *Scripted) Asks() []channel.AskKind {
	var kinds []channel.AskKind
	for _, e := range s.Final() {
		if e.Type == channel.TypeAsk && !e.Partial {
			kinds = append(kinds, e.Ask)
		}
	}
	return kinds
}
