package history

import (
	"encoding/json"

	"github.com/apexion-ai/taskloop/internal/channel"
	"github.com/apexion-ai/taskloop/internal/provider"
)

// InterruptedResult answers a tool invocation that never produced a result
// because the task stopped.
const InterruptedResult = "Task was interrupted before this tool call could be completed."

// APIRequestInfo is the JSON body of an api_req_started entry. It is written
// when a request starts and rewritten with usage once the stream ends.
type APIRequestInfo struct {
	Request      string   `json:"request,omitempty"`
	TokensIn     int      `json:"tokensIn,omitempty"`
	TokensOut    int      `json:"tokensOut,omitempty"`
	CacheWrites  int      `json:"cacheWrites,omitempty"`
	CacheReads   int      `json:"cacheReads,omitempty"`
	Cost         *float64 `json:"cost,omitempty"`
	CancelReason string   `json:"cancelReason,omitempty"`
}

// Total is the number of tokens the request occupied in the context window.
func (i APIRequestInfo) Total() int {
	return i.TokensIn + i.TokensOut + i.CacheWrites + i.CacheReads
}

// Finished reports whether the request ran to an end.
func (i APIRequestInfo) Finished() bool {
	return i.Cost != nil || i.CancelReason != ""
}

// Encode renders the info as entry text.
func (i APIRequestInfo) Encode() string {
	b, _ := json.Marshal(i)
	return string(b)
}

// ParseAPIRequest decodes the text of an api_req_started entry.
func ParseAPIRequest(text string) (APIRequestInfo, bool) {
	var info APIRequestInfo
	if err := json.Unmarshal([]byte(text), &info); err != nil {
		return APIRequestInfo{}, false
	}
	return info, true
}

func isRequestStarted(e channel.Entry) bool {
	return e.Type == channel.TypeSay && e.Say == channel.SayAPIReqStarted
}

func isResumeAsk(e channel.Entry) bool {
	return e.Type == channel.TypeAsk &&
		(e.Ask == channel.AskResumeTask || e.Ask == channel.AskResumeCompletedTask)
}

// ResumeNoise returns the timestamps of entries a resumed task should drop:
// trailing resume asks left by earlier resumptions, and the last request
// marker if that request never finished.
func ResumeNoise(entries []channel.Entry) []int64 {
	var drop []int64
	end := len(entries)
	for end > 0 && isResumeAsk(entries[end-1]) {
		end--
		drop = append(drop, entries[end].TS)
	}
	for i := end - 1; i >= 0; i-- {
		if !isRequestStarted(entries[i]) {
			continue
		}
		if info, ok := ParseAPIRequest(entries[i].Text); !ok || !info.Finished() {
			drop = append(drop, entries[i].TS)
		}
		break
	}
	return drop
}

// Reconciliation says how to repair the model view of an interrupted task.
type Reconciliation struct {
	// Keep is the number of leading turns that stay as they are.
	Keep int
	// Carry is the content that opens the next user turn: results already
	// stored for the last invocations plus synthesized ones for the rest.
	Carry []provider.Content
	// Synthesized counts the interrupted results added to Carry.
	Synthesized int
}

// Reconcile pairs every tool invocation of the last assistant turn with a
// result. When the history ends in a user turn, that turn is reopened so the
// resume notice joins it instead of following it.
func Reconcile(turns []provider.Message) Reconciliation {
	n := len(turns)
	if n == 0 {
		return Reconciliation{}
	}

	last := turns[n-1]
	if last.Role == provider.RoleAssistant {
		r := Reconciliation{Keep: n}
		for _, use := range last.ToolUses() {
			r.Carry = append(r.Carry, interrupted(use))
			r.Synthesized++
		}
		return r
	}

	r := Reconciliation{Keep: n - 1}
	r.Carry = append(r.Carry, last.Content...)
	if n < 2 || turns[n-2].Role != provider.RoleAssistant {
		return r
	}

	answered := make(map[string]bool)
	for _, res := range last.ToolResults() {
		answered[res.ToolUseID] = true
	}
	for _, use := range turns[n-2].ToolUses() {
		if !answered[use.ToolUseID] {
			r.Carry = append(r.Carry, interrupted(use))
			r.Synthesized++
		}
	}
	return r
}

func interrupted(use provider.Content) provider.Content {
	return provider.ToolResultContent(use.ToolUseID, use.ToolName, InterruptedResult, true)
}

// ── Manager helpers ──────────────────────────────────────────────────────────

// DropResumeNoise removes the entries ResumeNoise selects.
func (m *Manager) DropResumeNoise() error {
	if err := m.Flush(); err != nil {
		return err
	}
	return m.RemoveEntries(ResumeNoise(m.Entries())...)
}

// ReconcileTurns applies Reconcile and returns the content that must open
// the next user turn.
func (m *Manager) ReconcileTurns() ([]provider.Content, int, error) {
	r := Reconcile(m.Turns())
	if err := m.RewindTurns(r.Keep); err != nil {
		return nil, 0, err
	}
	return r.Carry, r.Synthesized, nil
}

// LastRequest returns the info of the newest api_req_started entry.
func (m *Manager) LastRequest() (APIRequestInfo, bool) {
	entries := m.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		if isRequestStarted(entries[i]) {
			return ParseAPIRequest(entries[i].Text)
		}
	}
	return APIRequestInfo{}, false
}
