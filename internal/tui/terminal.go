// Package tui renders the session log of a task on a line terminal and
// turns typed lines into answers for its asks.
package tui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/apexion-ai/taskloop/internal/channel"
	"github.com/apexion-ai/taskloop/internal/cost"
	"github.com/apexion-ai/taskloop/internal/history"
	"github.com/apexion-ai/taskloop/internal/tools"
)

// Responder answers asks. *agent.Task implements it.
type Responder interface {
	Respond(ts int64, resp channel.Response) error
}

const (
	defaultWidth   = 80
	maxPreviewRows = 20
)

// Terminal is a channel.Surface writing to out and reading answers from in,
// one line per answer.
type Terminal struct {
	in    io.Reader
	out   io.Writer
	st    styles
	width int

	mu        sync.Mutex
	responder Responder
	pending   *channel.Entry // the ask the next line answers
	stream    *channel.Entry // partial text being printed
	printed   string
	requests  map[int64]bool // api requests whose usage line was printed
	done      chan struct{}
}

// NewTerminal returns a surface over in and out. Call Bind before the task
// starts asking.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{
		in:       in,
		out:      out,
		st:       newStyles(out),
		width:    outputWidth(out),
		requests: make(map[int64]bool),
		done:     make(chan struct{}),
	}
	t.st.toolBorder = t.st.toolBorder.MaxWidth(t.width)
	t.st.confirmBorder = t.st.confirmBorder.MaxWidth(t.width)
	t.st.dangerBorder = t.st.dangerBorder.MaxWidth(t.width)
	return t
}

func outputWidth(out io.Writer) int {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return defaultWidth
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}

// Bind starts reading answers for r. Reading stops at the end of input;
// Done is closed then.
func (t *Terminal) Bind(r Responder) {
	t.mu.Lock()
	t.responder = r
	t.mu.Unlock()
	go t.readAnswers()
}

// Done is closed once the input is exhausted.
func (t *Terminal) Done() <-chan struct{} {
	return t.done
}

func (t *Terminal) readAnswers() {
	defer close(t.done)
	s := bufio.NewScanner(t.in)
	s.Buffer(make([]byte, 1024*1024), 1024*1024)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())

		t.mu.Lock()
		ask, r := t.pending, t.responder
		if ask == nil || r == nil {
			t.mu.Unlock()
			continue
		}
		t.pending = nil
		t.mu.Unlock()

		_ = r.Respond(ask.TS, answer(ask.Ask, line))
	}
}

// answer maps a typed line to a response. Yes/no questions take y or n;
// an empty line accepts the default, anything else is sent as feedback.
func answer(kind channel.AskKind, line string) channel.Response {
	if kind == channel.AskFollowup {
		return channel.Response{Kind: channel.Message, Text: line}
	}
	switch strings.ToLower(line) {
	case "", "y", "yes":
		return channel.Response{Kind: channel.Approve}
	case "n", "no":
		return channel.Response{Kind: channel.Reject}
	}
	return channel.Response{Kind: channel.Message, Text: line}
}

// Publish renders an entry. It never blocks on input.
func (t *Terminal) Publish(e channel.Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e.Type == channel.TypeSay && e.Say == channel.SayText {
		t.writeText(e)
		return
	}
	t.endStream()

	if e.Type == channel.TypeAsk {
		if e.Partial {
			return
		}
		t.pending = &e
		t.renderAsk(e)
		return
	}
	// Any new say supersedes the pending ask.
	if t.pending != nil && e.TS > t.pending.TS {
		t.pending = nil
	}
	if e.Partial {
		return
	}
	t.renderSay(e)
}

// writeText prints the growth of a streaming text entry.
func (t *Terminal) writeText(e channel.Entry) {
	if t.stream == nil || t.stream.TS != e.TS {
		t.endStream()
		t.stream = &e
		t.printed = ""
		fmt.Fprintln(t.out)
	}
	if strings.HasPrefix(e.Text, t.printed) {
		fmt.Fprint(t.out, e.Text[len(t.printed):])
	} else {
		fmt.Fprint(t.out, "\n"+e.Text)
	}
	t.printed = e.Text
	if !e.Partial {
		fmt.Fprintln(t.out)
		t.stream = nil
		t.printed = ""
	}
}

func (t *Terminal) endStream() {
	if t.stream != nil {
		fmt.Fprintln(t.out)
		t.stream = nil
		t.printed = ""
	}
}

func (t *Terminal) renderSay(e channel.Entry) {
	switch e.Say {
	case channel.SayTask:
		fmt.Fprintln(t.out, t.st.user.Render("Task: ")+e.Text)
	case channel.SayUserFeedback:
		fmt.Fprintln(t.out, t.st.user.Render("> ")+e.Text)
	case channel.SayError:
		fmt.Fprintln(t.out, t.st.errorText.Render("error: ")+e.Text)
	case channel.SayAPIReqStarted:
		t.renderRequest(e)
	case channel.SayAPIReqRetried:
		fmt.Fprintln(t.out, t.st.system.Render("Retrying request..."))
	case channel.SayInfo:
		fmt.Fprintln(t.out, t.st.system.Render(e.Text))
	case channel.SayTool:
		fmt.Fprintln(t.out, t.st.toolBorder.Render(t.toolSummary(e.Text, false)))
	case channel.SayCommand:
		fmt.Fprintln(t.out, t.st.toolBorder.Render(t.st.toolName.Render("$ ")+e.Text))
	case channel.SayCommandOutput:
		fmt.Fprintln(t.out, t.st.toolBorder.Render(t.st.toolParam.Render(clip(e.Text, maxPreviewRows))))
	case channel.SayCompletionResult:
		fmt.Fprintln(t.out, t.st.success.Render("Task completed")+"\n"+e.Text)
	default:
		if e.Text != "" {
			fmt.Fprintln(t.out, t.st.system.Render(e.Text))
		}
	}
}

// renderRequest prints a marker when a request starts and one usage line
// once the entry is rewritten with its cost.
func (t *Terminal) renderRequest(e channel.Entry) {
	info, ok := history.ParseAPIRequest(e.Text)
	if !ok {
		return
	}
	if !info.Finished() {
		if _, seen := t.requests[e.TS]; !seen {
			t.requests[e.TS] = false
			fmt.Fprintln(t.out, t.st.system.Render("API request..."))
		}
		return
	}
	if t.requests[e.TS] {
		return
	}
	t.requests[e.TS] = true
	if info.CancelReason != "" {
		fmt.Fprintln(t.out, t.st.system.Render("API request cancelled ("+info.CancelReason+")"))
		return
	}
	line := fmt.Sprintf("↳ %d in, %d out", info.TokensIn, info.TokensOut)
	if info.CacheReads+info.CacheWrites > 0 {
		line += fmt.Sprintf(", cache %d/%d", info.CacheWrites, info.CacheReads)
	}
	if info.Cost != nil {
		line += ", " + cost.FormatDollars(*info.Cost)
	}
	fmt.Fprintln(t.out, t.st.system.Render(line))
}

func (t *Terminal) renderAsk(e channel.Entry) {
	var body, hint string
	border, hintStyle := t.st.confirmBorder, t.st.confirmHint
	switch e.Ask {
	case channel.AskFollowup:
		body, hint = e.Text, "Type your answer:"
	case channel.AskCommand:
		body = t.st.toolName.Render("Run command: ") + e.Text
		hint = "[Y/n] or type feedback:"
		border, hintStyle = t.st.dangerBorder, t.st.dangerHint
	case channel.AskTool:
		body, hint = t.toolSummary(e.Text, true), "[Y/n] or type feedback:"
	case channel.AskBrowserActionLaunch:
		body, hint = t.st.toolName.Render("Inspect site: ")+e.Text, "[Y/n] or type feedback:"
	case channel.AskCompletionResult:
		body, hint = "Accept the result?", "[Y/n] or type feedback:"
	case channel.AskAPIReqFailed:
		body = t.st.errorText.Render("API request failed: ") + e.Text
		hint = "Retry? [Y/n]"
		border, hintStyle = t.st.dangerBorder, t.st.dangerHint
	case channel.AskResumeTask:
		body, hint = "Resume the interrupted task?", "[Y/n] or type new instructions:"
	case channel.AskResumeCompletedTask:
		body, hint = "This task was completed. Continue it?", "[Y/n] or type new instructions:"
	case channel.AskMistakeLimitReached:
		body, hint = e.Text, "Type guidance, or press enter to continue:"
	default:
		body, hint = e.Text, "[Y/n]"
	}
	fmt.Fprintln(t.out, border.Render(body))
	fmt.Fprint(t.out, hintStyle.Render(hint)+" ")
}

// toolSummary renders a tool message. Approval previews include the diff
// or content, clipped.
func (t *Terminal) toolSummary(text string, detailed bool) string {
	msg, ok := tools.ParseMessage(text)
	if !ok {
		return text
	}
	var sb strings.Builder
	sb.WriteString(t.st.toolName.Render(toolLabel(msg.Tool)))
	if msg.Path != "" {
		sb.WriteString(" " + msg.Path)
	}
	if msg.Regex != "" {
		sb.WriteString(t.st.toolParam.Render(fmt.Sprintf(" /%s/ %s", msg.Regex, msg.FilePattern)))
	}
	if detailed {
		body := msg.Diff
		if body == "" {
			body = msg.Content
		}
		if body != "" {
			sb.WriteString("\n" + t.st.toolParam.Render(clip(body, maxPreviewRows)))
		}
	}
	return sb.String()
}

func toolLabel(kind string) string {
	switch kind {
	case tools.MsgEditedExistingFile:
		return "Edit"
	case tools.MsgNewFileCreated:
		return "Create"
	case tools.MsgReadFile:
		return "Read"
	case tools.MsgListFilesTopLevel, tools.MsgListFilesRecursive:
		return "List"
	case tools.MsgListCodeDefinitionNames:
		return "Definitions"
	case tools.MsgSearchFiles:
		return "Search"
	case tools.MsgInspectSite:
		return "Inspect"
	default:
		return kind
	}
}

// clip keeps the first n lines of s.
func clip(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:n], "\n") + fmt.Sprintf("\n... (%d more lines)", len(lines)-n)
}
