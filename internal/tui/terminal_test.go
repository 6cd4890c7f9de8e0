package tui

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/apexion-ai/taskloop/internal/channel"
	"github.com/apexion-ai/taskloop/internal/history"
	"github.com/apexion-ai/taskloop/internal/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingResponder struct {
	mu    sync.Mutex
	got   map[int64]channel.Response
	calls chan struct{}
}

func newRecordingResponder() *recordingResponder {
	return &recordingResponder{got: make(map[int64]channel.Response), calls: make(chan struct{}, 8)}
}

func (r *recordingResponder) Respond(ts int64, resp channel.Response) error {
	r.mu.Lock()
	r.got[ts] = resp
	r.mu.Unlock()
	r.calls <- struct{}{}
	return nil
}

func (r *recordingResponder) response(ts int64) (channel.Response, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp, ok := r.got[ts]
	return resp, ok
}

func say(ts int64, kind channel.SayKind, text string, partial bool) channel.Entry {
	return channel.Entry{TS: ts, Type: channel.TypeSay, Say: kind, Text: text, Partial: partial}
}

func TestTerminalStreamsTextIncrementally(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(bytes.NewReader(nil), &out)

	term.Publish(say(1, channel.SayText, "Hel", true))
	term.Publish(say(1, channel.SayText, "Hello wor", true))
	term.Publish(say(1, channel.SayText, "Hello world", false))

	assert.Equal(t, "\nHello world\n", out.String())
}

func TestTerminalEndsStreamBeforeOtherEntries(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(bytes.NewReader(nil), &out)

	term.Publish(say(1, channel.SayText, "partial", true))
	term.Publish(say(2, channel.SayError, "boom", false))

	assert.Contains(t, out.String(), "partial\n")
	assert.Contains(t, out.String(), "error: boom")
}

func TestTerminalRequestUsageLine(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(bytes.NewReader(nil), &out)

	started := history.APIRequestInfo{Request: "<task>x</task>"}
	term.Publish(say(1, channel.SayAPIReqStarted, started.Encode(), false))

	c := 0.0123
	finished := history.APIRequestInfo{Request: "<task>x</task>", TokensIn: 100, TokensOut: 20, Cost: &c}
	term.Publish(say(1, channel.SayAPIReqStarted, finished.Encode(), false))
	term.Publish(say(1, channel.SayAPIReqStarted, finished.Encode(), false))

	assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte("API request...")))
	assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte("100 in, 20 out, $0.01")))
}

func TestTerminalToolPreview(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(bytes.NewReader(nil), &out)

	msg := tools.Message{Tool: tools.MsgReadFile, Path: "main.go"}.String()
	term.Publish(say(1, channel.SayTool, msg, true))
	assert.Empty(t, out.String(), "partial previews are not printed")

	term.Publish(say(1, channel.SayTool, msg, false))
	assert.Contains(t, out.String(), "Read main.go")
}

func TestTerminalAnswersPendingAsk(t *testing.T) {
	pr, pw := io.Pipe()
	var out bytes.Buffer
	term := NewTerminal(pr, &out)
	resp := newRecordingResponder()
	term.Bind(resp)

	term.Publish(channel.Entry{TS: 5, Type: channel.TypeAsk, Ask: channel.AskTool,
		Text: tools.Message{Tool: tools.MsgNewFileCreated, Path: "a.txt", Content: "hi"}.String()})
	_, err := io.WriteString(pw, "please use b.txt\n")
	require.NoError(t, err)

	select {
	case <-resp.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("ask was not answered")
	}
	got, ok := resp.response(5)
	require.True(t, ok)
	assert.Equal(t, channel.Message, got.Kind)
	assert.Equal(t, "please use b.txt", got.Text)
	assert.Contains(t, out.String(), "Create a.txt")

	// A line without a pending ask is ignored.
	_, err = io.WriteString(pw, "y\n")
	require.NoError(t, err)
	require.NoError(t, pw.Close())
	<-term.Done()
	assert.Len(t, resp.got, 1)
}

func TestTerminalSayClearsPendingAsk(t *testing.T) {
	term := NewTerminal(bytes.NewReader(nil), io.Discard)
	term.Publish(channel.Entry{TS: 1, Type: channel.TypeAsk, Ask: channel.AskFollowup, Text: "name?"})
	term.Publish(say(2, channel.SayError, "superseded", false))

	term.mu.Lock()
	defer term.mu.Unlock()
	assert.Nil(t, term.pending)
}

func TestAnswer(t *testing.T) {
	tests := []struct {
		kind channel.AskKind
		line string
		want channel.Response
	}{
		{channel.AskTool, "", channel.Response{Kind: channel.Approve}},
		{channel.AskTool, "Y", channel.Response{Kind: channel.Approve}},
		{channel.AskCommand, "no", channel.Response{Kind: channel.Reject}},
		{channel.AskCompletionResult, "add tests", channel.Response{Kind: channel.Message, Text: "add tests"}},
		{channel.AskFollowup, "y", channel.Response{Kind: channel.Message, Text: "y"}},
		{channel.AskResumeTask, "", channel.Response{Kind: channel.Approve}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, answer(tt.kind, tt.line))
		})
	}
}

func TestClip(t *testing.T) {
	assert.Equal(t, "a\nb", clip("a\nb\n", 3))
	assert.Equal(t, "a\nb\n... (2 more lines)", clip("a\nb\nc\nd", 2))
}

func TestScriptedFinalCoalesces(t *testing.T) {
	s := NewScripted(nil)
	s.Publish(say(1, channel.SayText, "a", true))
	s.Publish(say(1, channel.SayText, "ab", false))
	s.Publish(say(2, channel.SayError, "x", false))

	final := s.Final()
	require.Len(t, final, 2)
	assert.Equal(t, "ab", final[0].Text)
	assert.False(t, final[0].Partial)
	assert.Len(t, s.Published(), 3)
}

func TestScriptedQueue(t *testing.T) {
	s := NewScripted(Queue(channel.Response{Kind: channel.Reject}))
	resp := newRecordingResponder()
	s.Bind(resp)

	s.Publish(channel.Entry{TS: 1, Type: channel.TypeAsk, Ask: channel.AskTool, Partial: true})
	s.Publish(channel.Entry{TS: 1, Type: channel.TypeAsk, Ask: channel.AskTool})
	s.Publish(channel.Entry{TS: 2, Type: channel.TypeAsk, Ask: channel.AskCompletionResult})

	first, _ := resp.response(1)
	second, _ := resp.response(2)
	assert.Equal(t, channel.Reject, first.Kind)
	assert.Equal(t, channel.Approve, second.Kind)
	assert.Equal(t, []channel.AskKind{channel.AskTool, channel.AskCompletionResult}, s.Asks())
}
