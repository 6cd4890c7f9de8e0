// Package agent runs the request loop of one task: it streams a model
// response, presents it segment by segment through the tool gate and feeds
// the collected results back as the next user turn.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/apexion-ai/taskloop/internal/channel"
	"github.com/apexion-ai/taskloop/internal/config"
	"github.com/apexion-ai/taskloop/internal/cost"
	"github.com/apexion-ai/taskloop/internal/gate"
	"github.com/apexion-ai/taskloop/internal/history"
	"github.com/apexion-ai/taskloop/internal/metrics"
	"github.com/apexion-ai/taskloop/internal/parser"
	"github.com/apexion-ai/taskloop/internal/permission"
	"github.com/apexion-ai/taskloop/internal/provider"
	"github.com/apexion-ai/taskloop/internal/storage"
	"github.com/apexion-ai/taskloop/internal/tools"
)

// Options wires a task to its collaborators. Provider, Registry, Store and
// Surface are required.
type Options struct {
	// TaskID names a new task. A random id is used when empty.
	TaskID string

	Provider provider.Provider
	Registry *tools.Registry
	Policy   permission.Policy
	Store    *storage.FileStore
	// Index receives a summary after every request when set.
	Index   *storage.Index
	Surface channel.Surface
	Config  *config.Config
	Workdir string

	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Task is one run of the agent loop. Only the loop goroutine drives it;
// Abort and Respond may be called from anywhere.
type Task struct {
	ID string

	provider provider.Provider
	history  *history.Manager
	ch       approvalChannel
	gate     *gate.Gate
	mistakes *cost.MistakeCounter
	tracker  *cost.Tracker
	state    *stateMachine
	doom     doomLoopDetector
	vocab    parser.Vocabulary
	index    *storage.Index
	metrics  *metrics.Metrics
	logger   *zap.Logger

	systemPrompt  string
	contextWindow int
	maxTokens     int
	workdir       string
	retryBase     time.Duration
	taskText      string
	loadFailed    bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	release   func()
	journal   *storage.Journal
}

// New creates a fresh task. Call Start to run it.
func New(o Options) (*Task, error) {
	if o.TaskID == "" {
		o.TaskID = uuid.NewString()
	}
	release, err := o.Store.Acquire(o.TaskID)
	if err != nil {
		return nil, err
	}
	h := history.New(o.TaskID, o.Store, o.Logger)
	return build(o, h, release), nil
}

// Resume loads a stored task. An undecodable document does not fail the
// call: that part of the task starts empty and Continue reports the problem. Call
// Continue to run it.
func Resume(taskID string, o Options) (*Task, error) {
	o.TaskID = taskID
	release, err := o.Store.Acquire(taskID)
	if err != nil {
		return nil, err
	}

	loadFailed := false
	h, err := history.Load(taskID, o.Store, o.Logger)
	if err != nil {
		if !errors.Is(err, storage.ErrCorrupt) {
			release()
			return nil, err
		}
		// The store has set the undecodable document aside; the readable
		// one is kept.
		loadFailed = true
		if o.Logger != nil {
			o.Logger.Warn("task history partly unreadable", zap.String("task", taskID), zap.Error(err))
		}
	}

	t := build(o, h, release)
	t.loadFailed = loadFailed
	if err := t.history.DropResumeNoise(); err != nil {
		t.Close()
		return nil, fmt.Errorf("clean resumed task: %w", err)
	}
	u, total := usageFromEntries(t.history.Entries())
	t.tracker.Restore(u, total)
	t.taskText = firstTaskText(t.history.Entries())
	return t, nil
}

func build(o Options, h *history.Manager, release func()) *Task {
	cfg := o.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("task", o.TaskID))

	t := &Task{
		ID:        o.TaskID,
		provider:  o.Provider,
		history:   h,
		mistakes:  cost.NewMistakeCounter(cfg.MaxConsecutiveMistakes),
		state:     &stateMachine{},
		vocab:     o.Registry.Vocabulary(),
		index:     o.Index,
		metrics:   o.Metrics,
		logger:    logger,
		workdir:   o.Workdir,
		retryBase: baseDelay,
		release:   release,
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())

	model := o.Provider.Model()
	t.tracker = cost.NewTracker(model.ID, cfg.Pricing)
	t.contextWindow = model.ContextWindow
	if cfg.ContextWindow > 0 {
		t.contextWindow = cfg.ContextWindow
	}
	t.maxTokens = model.MaxTokens
	t.systemPrompt = buildSystemPrompt(o.Workdir, o.Registry, cfg.CustomInstructions)

	if j, err := o.Store.OpenJournal(o.TaskID); err != nil {
		logger.Warn("event journal unavailable", zap.Error(err))
	} else {
		t.journal = j
		h.SetJournal(j)
	}

	t.ch = approvalChannel{Channel: channel.New(h, o.Surface, logger), state: t.state}
	t.gate = gate.New(gate.Options{
		Registry: o.Registry,
		Policy:   o.Policy,
		Channel:  t.ch,
		Mistakes: t.mistakes,
		Metrics:  o.Metrics,
		Logger:   logger,
	})
	return t
}

// State returns the lifecycle phase.
func (t *Task) State() State {
	return t.state.Current()
}

// Respond answers the pending ask with timestamp ts.
func (t *Task) Respond(ts int64, resp channel.Response) error {
	return t.ch.Respond(ts, resp)
}

// Summary describes the usage of the task so far.
func (t *Task) Summary() string {
	return t.tracker.Summary()
}

// Abort stops the task. A pending ask fails with channel.ErrAborted and
// the running request is cancelled. Storage is kept.
func (t *Task) Abort() {
	t.cancel()
	t.ch.Abort()
	_ = t.state.Transition(StateAborted)
}

// Close flushes the history and releases the task id. Start and Continue
// close the task when they return.
func (t *Task) Close() {
	t.closeOnce.Do(func() {
		t.cancel()
		if err := t.history.Flush(); err != nil {
			t.logger.Warn("flush history", zap.Error(err))
		}
		if t.journal != nil {
			t.journal.Close()
		}
		t.release()
	})
}

// Start runs a new task until it completes or is aborted. Cancelling ctx
// aborts the task.
func (t *Task) Start(ctx context.Context, task string, images []string) error {
	stop := context.AfterFunc(ctx, t.Abort)
	defer stop()
	defer t.Close()

	if err := t.state.Transition(StateRunning); err != nil {
		return err
	}
	t.taskText = task
	if err := t.ch.Say(t.ctx, channel.SayTask, task, images, false); err != nil {
		return t.stopped(err)
	}
	t.updateIndex()

	content := append([]provider.Content{provider.TextContent(taskText(task))}, imageBlocks(images)...)
	return t.run(content)
}

// Continue resumes a loaded task. The user confirms through a resume ask;
// rejecting it leaves the task aborted.
func (t *Task) Continue(ctx context.Context) error {
	stop := context.AfterFunc(ctx, t.Abort)
	defer stop()
	defer t.Close()

	if err := t.state.Transition(StateResuming); err != nil {
		return err
	}

	askKind := channel.AskResumeTask
	lastTS := time.Now().UnixMilli()
	if last, ok := t.history.LastEntry(); ok {
		lastTS = last.TS
		if last.Kind() == string(channel.SayCompletionResult) {
			askKind = channel.AskResumeCompletedTask
		}
	}
	if t.loadFailed {
		if err := t.ch.Say(t.ctx, channel.SayError, "failed to load task history", nil, false); err != nil {
			return t.stopped(err)
		}
	}

	resp, err := t.ch.Ask(t.ctx, askKind, "", false)
	if err != nil {
		return t.stopped(err)
	}
	if resp.Kind == channel.Reject {
		t.Abort()
		return nil
	}

	var instructions string
	if resp.Kind == channel.Message {
		instructions = resp.Text
		if err := t.ch.Say(t.ctx, channel.SayUserFeedback, resp.Text, resp.Images, false); err != nil {
			return t.stopped(err)
		}
	}

	carry, synthesized, err := t.history.ReconcileTurns()
	if err != nil {
		return fmt.Errorf("reconcile history: %w", err)
	}
	t.logger.Info("task resumed", zap.Int("synthesized_results", synthesized))

	ago := humanize.Time(time.UnixMilli(lastTS))
	content := append(carry, provider.TextContent(resumeNotice(ago, t.workdir, instructions)))
	content = append(content, imageBlocks(resp.Images)...)

	if err := t.state.Transition(StateRunning); err != nil {
		return err
	}
	return t.run(content)
}

// run repeats requests until the task completes or stops.
func (t *Task) run(content []provider.Content) error {
	for {
		next, done, err := t.request(t.ctx, content)
		if err != nil {
			return t.stopped(err)
		}
		if done {
			t.logger.Info("task completed", zap.String("usage", t.tracker.Summary()))
			return nil
		}
		content = next
	}
}

// stopped turns a loop error into the task result. Aborts report
// channel.ErrAborted; a declined retry ends the task quietly.
func (t *Task) stopped(err error) error {
	switch {
	case errors.Is(err, errRequestRejected):
		t.Abort()
		return nil
	case t.ctx.Err() != nil, errors.Is(err, channel.ErrAborted):
		t.Abort()
		return channel.ErrAborted
	default:
		t.logger.Error("task failed", zap.Error(err))
		t.Abort()
		return err
	}
}

func (t *Task) updateIndex() {
	if t.index == nil {
		return
	}
	u, total := t.tracker.Totals()
	item := storage.HistoryItem{
		ID:          t.ID,
		TS:          time.Now().UnixMilli(),
		Task:        t.taskText,
		TokensIn:    u.InputTokens,
		TokensOut:   u.OutputTokens,
		CacheWrites: u.CacheWriteTokens,
		CacheReads:  u.CacheReadTokens,
		TotalCost:   total,
	}
	if last, ok := t.history.LastEntry(); ok {
		item.TS = last.TS
	}
	if err := t.index.Upsert(item); err != nil {
		t.logger.Warn("update task index", zap.Error(err))
	}
}

// usageFromEntries sums the finished requests of a stored session log.
func usageFromEntries(entries []channel.Entry) (cost.Usage, float64) {
	var (
		u     cost.Usage
		total float64
	)
	for _, e := range entries {
		if e.Type != channel.TypeSay || e.Say != channel.SayAPIReqStarted {
			continue
		}
		info, ok := history.ParseAPIRequest(e.Text)
		if !ok {
			continue
		}
		u = u.Add(cost.Usage{
			InputTokens:      info.TokensIn,
			OutputTokens:     info.TokensOut,
			CacheWriteTokens: info.CacheWrites,
			CacheReadTokens:  info.CacheReads,
		})
		if info.Cost != nil {
			total += *info.Cost
		}
	}
	return u, total
}

func firstTaskText(entries []channel.Entry) string {
	for _, e := range entries {
		if e.Type == channel.TypeSay && e.Say == channel.SayTask {
			return e.Text
		}
	}
	return ""
}

// approvalChannel moves the task into WaitingForApproval for the duration
// of every blocking ask.
type approvalChannel struct {
	*channel.Channel
	state *stateMachine
}

func (c approvalChannel) Ask(ctx context.Context, kind channel.AskKind, text string, partial bool) (channel.Response, error) {
	if partial {
		return c.Channel.Ask(ctx, kind, text, partial)
	}
	prev := c.state.Current()
	if err := c.state.Transition(StateWaitingForApproval); err != nil {
		if c.state.Current() == StateAborted {
			return channel.Response{}, channel.ErrAborted
		}
		return channel.Response{}, err
	}
	resp, err := c.Channel.Ask(ctx, kind, text, partial)
	_ = c.state.Transition(prev)
	return resp, err
}
