package present

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/apexion-ai/taskloop/internal/parser"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var vocab = parser.NewVocabulary(
	[]string{"read_file", "attempt_completion"},
	[]string{"path", "result"},
)

type call struct {
	desc    string
	partial bool
}

type recorder struct {
	mu    sync.Mutex
	calls []call
	block chan struct{}
}

func (r *recorder) Present(ctx context.Context, seg parser.Segment) {
	var desc string
	switch s := seg.(type) {
	case *parser.TextSegment:
		desc = "text:" + s.Content
	case *parser.ToolInvocation:
		desc = "tool:" + s.Name + ":" + s.Params.Value("path")
	}
	r.mu.Lock()
	r.calls = append(r.calls, call{desc: desc, partial: seg.IsPartial()})
	block := r.block
	r.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
}

func (r *recorder) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func completes(r *recorder) []string {
	var out []string
	for _, c := range r.snapshot() {
		if !c.partial {
			out = append(out, c.desc)
		}
	}
	return out
}

func stream(p *Presenter, raw string, step int) {
	ps := parser.New(vocab)
	for i := 0; i < len(raw); i += step {
		end := min(i+step, len(raw))
		p.Update(ps.Append(raw[i:end]))
		p.Notify()
	}
	p.MarkDone(ps.Finish())
}

func waitReady(t *testing.T, p *Presenter) {
	t.Helper()
	select {
	case <-p.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("presenter never became ready")
	}
	p.Wait()
}

func TestPresentsEachCompleteSegmentOnce(t *testing.T) {
	raw := "Let me look.\n<read_file>\n<path>a.go</path>\n</read_file>\n<read_file>\n<path>b.go</path>\n</read_file>"
	for _, step := range []int{1, 3, 7, len(raw)} {
		r := &recorder{}
		p := New(context.Background(), r)
		stream(p, raw, step)
		waitReady(t, p)

		assert.Equal(t, []string{"text:Let me look.", "tool:read_file:a.go", "tool:read_file:b.go"}, completes(r), "step=%d", step)
		assert.Equal(t, 3, p.Index())
	}
}

func TestPartialSegmentsAreRepresented(t *testing.T) {
	r := &recorder{}
	p := New(context.Background(), r)
	stream(p, "Hello there, this is a sentence.", 4)
	waitReady(t, p)

	calls := r.snapshot()
	require.NotEmpty(t, calls)
	last := calls[len(calls)-1]
	assert.False(t, last.partial)
	assert.Equal(t, "text:Hello there, this is a sentence.", last.desc)
	for _, c := range calls[:len(calls)-1] {
		assert.True(t, c.partial)
	}
}

func TestEmptyResponseIsReady(t *testing.T) {
	p := New(context.Background(), &recorder{})
	p.MarkDone(nil)
	waitReady(t, p)
}

func TestNotReadyBeforeMarkDone(t *testing.T) {
	r := &recorder{}
	p := New(context.Background(), r)
	ps := parser.New(vocab)
	p.Update(ps.Append("<read_file><path>a.go</path></read_file>"))
	p.Notify()

	select {
	case <-p.Ready():
		t.Fatal("ready before the stream ended")
	case <-time.After(50 * time.Millisecond):
	}
	p.MarkDone(ps.Finish())
	waitReady(t, p)
}

// While the handler is blocked (waiting for approval) notifications only set
// the pending bit; the single drain goroutine picks them up afterwards.
func TestBusyPresenterCoalescesNotifications(t *testing.T) {
	block := make(chan struct{})
	r := &recorder{block: block}
	p := New(context.Background(), r)

	ps := parser.New(vocab)
	p.Update(ps.Append("<read_file><path>a.go</path></read_file>"))
	p.Notify()
	require.Eventually(t, func() bool { return len(r.snapshot()) == 1 }, time.Second, time.Millisecond)

	for _, chunk := range []string{"<read_file>", "<path>b", ".go</path>", "</read_file>"} {
		p.Update(ps.Append(chunk))
		p.Notify()
	}
	assert.Len(t, r.snapshot(), 1, "no presentation while busy")

	r.mu.Lock()
	r.block = nil
	r.mu.Unlock()
	close(block)

	p.MarkDone(ps.Finish())
	waitReady(t, p)
	assert.Equal(t, []string{"tool:read_file:a.go", "tool:read_file:b.go"}, completes(r))
}

func TestCancelSignalsReady(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &recorder{block: make(chan struct{})}
	p := New(ctx, r)

	ps := parser.New(vocab)
	p.Update(ps.Append("<read_file><path>a.go</path></read_file><read_file><path>b.go</path></read_file>"))
	p.Notify()
	require.Eventually(t, func() bool { return len(r.snapshot()) == 1 }, time.Second, time.Millisecond)

	cancel()
	waitReady(t, p)
	assert.Len(t, r.snapshot(), 1, "nothing presented after cancel")
}

func TestHandlerFunc(t *testing.T) {
	var got []parser.Segment
	p := New(context.Background(), HandlerFunc(func(_ context.Context, seg parser.Segment) {
		got = append(got, seg)
	}))
	p.MarkDone(parser.Parse("done", vocab, true))
	waitReady(t, p)
	require.Len(t, got, 1)
	assert.Equal(t, "done", got[0].(*parser.TextSegment).Content)
}
