package agent

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/apexion-ai/taskloop/internal/channel"
	"github.com/apexion-ai/taskloop/internal/cost"
	"github.com/apexion-ai/taskloop/internal/gate"
	"github.com/apexion-ai/taskloop/internal/history"
	"github.com/apexion-ai/taskloop/internal/parser"
	"github.com/apexion-ai/taskloop/internal/present"
	"github.com/apexion-ai/taskloop/internal/provider"
)

// response is what one streamed model response left behind.
type response struct {
	raw      string
	usage    cost.Usage
	reported *float64
	turn     *gate.Turn
}

// request sends userContent as the next user turn, presents the streamed
// response and returns the content of the following user turn. done is set
// once the user accepted a completion.
func (t *Task) request(ctx context.Context, userContent []provider.Content) (next []provider.Content, done bool, err error) {
	if t.mistakes.Reached() {
		resp, err := t.ch.Ask(ctx, channel.AskMistakeLimitReached, mistakeLimitText, false)
		if err != nil {
			return nil, false, err
		}
		if resp.Kind == channel.Message {
			if err := t.ch.Say(ctx, channel.SayUserFeedback, resp.Text, resp.Images, false); err != nil {
				return nil, false, err
			}
			userContent = append(userContent, provider.TextContent(tooManyMistakes(resp.Text)))
			userContent = append(userContent, imageBlocks(resp.Images)...)
		}
		t.mistakes.Reset()
	}

	if last, ok := t.history.LastRequest(); ok {
		removed, err := t.history.TruncateIfNeeded(last.Total(), t.contextWindow)
		if err != nil {
			return nil, false, fmt.Errorf("truncate history: %w", err)
		}
		if removed > 0 {
			t.logger.Info("conversation truncated", zap.Int("removed_turns", removed), zap.Int("tokens", last.Total()))
		}
	}

	info := history.APIRequestInfo{Request: formatRequest(userContent)}
	if err := t.ch.Say(ctx, channel.SayAPIReqStarted, info.Encode(), nil, false); err != nil {
		return nil, false, err
	}
	started, _ := t.history.LastEntry()

	if err := t.history.AddTurn(provider.Message{Role: provider.RoleUser, Content: userContent}); err != nil {
		return nil, false, fmt.Errorf("add user turn: %w", err)
	}

	if err := t.state.Transition(StateWaitingForModel); err != nil {
		return nil, false, err
	}
	stream, err := t.openStream(ctx, &provider.Request{
		SystemPrompt: t.systemPrompt,
		Messages:     t.history.Turns(),
		MaxTokens:    t.maxTokens,
	})
	if err != nil {
		if ctx.Err() != nil {
			t.abandon(started.TS, info, nil, cancelUser)
		}
		return nil, false, err
	}

	res, err := t.consume(ctx, stream, started.TS)
	if err != nil {
		reason := cancelStreaming
		if ctx.Err() != nil {
			reason = cancelUser
		}
		t.abandon(started.TS, info, res, reason)
		if reason == cancelStreaming {
			_ = t.ch.Say(ctx, channel.SayError, err.Error(), nil, false)
			t.metrics.ModelRequest(t.provider.Name(), t.provider.Model().ID, "stream_error")
		}
		return nil, false, err
	}
	if err := t.state.Transition(StateRunning); err != nil {
		return nil, false, err
	}

	t.finishRequest(started.TS, info, res)
	return t.nextContent(ctx, res)
}

// consume reads the stream into the parser while the presenter hands
// segments to the gate. The two sides are joined with an errgroup so a
// stream failure stops presentation and an abort stops both.
func (t *Task) consume(ctx context.Context, s *modelStream, id int64) (*response, error) {
	defer s.cancel()

	res := &response{turn: t.gate.NewTurn(fmt.Sprintf("toolu_%d", id))}
	p := parser.New(t.vocab)

	var (
		interrupted atomic.Bool
		fatal       error
	)
	interrupt := func() {
		interrupted.Store(true)
		s.cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	pr := present.New(gctx, t.handler(res.turn, interrupt, &fatal))

	g.Go(func() error {
		var streamErr error
		accept := func(c provider.Chunk) {
			switch c.Type {
			case provider.ChunkText:
				pr.Update(p.Append(c.Text))
				pr.Notify()
			case provider.ChunkUsage:
				res.usage = res.usage.Add(cost.Usage{
					InputTokens:      c.Usage.InputTokens,
					OutputTokens:     c.Usage.OutputTokens,
					CacheWriteTokens: c.Usage.CacheWriteTokens,
					CacheReadTokens:  c.Usage.CacheReadTokens,
				})
				if c.Usage.TotalCost != nil {
					v := *c.Usage.TotalCost
					res.reported = &v
				}
			case provider.ChunkError:
				streamErr = c.Err
			}
		}
		if !s.empty {
			accept(s.first)
		}
		for c := range s.rest {
			if streamErr != nil || interrupted.Load() {
				continue
			}
			accept(c)
		}
		if err := gctx.Err(); err != nil {
			return err
		}
		if streamErr != nil && !interrupted.Load() {
			return streamErr
		}
		pr.MarkDone(p.Finish())
		return nil
	})
	g.Go(func() error {
		pr.Wait()
		return nil
	})

	err := g.Wait()
	res.raw = p.Raw()
	if err == nil {
		err = fatal
	}
	if err == nil {
		err = ctx.Err()
	}
	return res, err
}

// handler presents one segment. It runs on the presenter's drain goroutine
// and is the only code touching turn while the stream is open.
func (t *Task) handler(turn *gate.Turn, interrupt func(), fatal *error) present.HandlerFunc {
	fail := func(err error) {
		if err != nil && *fatal == nil {
			*fatal = err
			interrupt()
		}
	}
	return func(ctx context.Context, seg parser.Segment) {
		if *fatal != nil {
			return
		}
		switch seg := seg.(type) {
		case *parser.TextSegment:
			if turn.Rejected() || turn.Completed() {
				return
			}
			text := displayText(seg.Content, seg.Partial)
			if text == "" && seg.Partial {
				return
			}
			fail(t.ch.Say(ctx, channel.SayText, text, nil, seg.Partial))

		case *parser.ToolInvocation:
			if seg.Partial {
				fail(turn.Preview(ctx, seg))
				return
			}
			fail(turn.Handle(ctx, seg))
			if turn.Rejected() || turn.Completed() {
				interrupt()
			}
		}
	}
}

// finishRequest rewrites the api_req_started entry with usage and cost and
// reports both.
func (t *Task) finishRequest(ts int64, info history.APIRequestInfo, res *response) {
	dollars := t.tracker.Record(res.usage, res.reported)
	info.TokensIn = res.usage.InputTokens
	info.TokensOut = res.usage.OutputTokens
	info.CacheWrites = res.usage.CacheWriteTokens
	info.CacheReads = res.usage.CacheReadTokens
	info.Cost = &dollars
	if err := t.ch.Update(ts, info.Encode()); err != nil {
		t.logger.Warn("update request entry", zap.Error(err))
	}

	model := t.provider.Model()
	t.metrics.ModelRequest(t.provider.Name(), model.ID, "ok")
	t.metrics.Usage(res.usage.InputTokens, res.usage.OutputTokens, res.usage.CacheWriteTokens, res.usage.CacheReadTokens, dollars)
	t.logger.Debug("request finished",
		zap.Int("tokens_in", res.usage.InputTokens),
		zap.Int("tokens_out", res.usage.OutputTokens),
		zap.Float64("cost", dollars))
	t.updateIndex()
}

// abandon records a request that did not finish: the entry gets a cancel
// reason and whatever the model said so far becomes the assistant turn, so
// a later resume sees the invocations that were started.
func (t *Task) abandon(ts int64, info history.APIRequestInfo, res *response, reason string) {
	info.CancelReason = reason
	if res != nil {
		info.TokensIn = res.usage.InputTokens
		info.TokensOut = res.usage.OutputTokens
		info.CacheWrites = res.usage.CacheWriteTokens
		info.CacheReads = res.usage.CacheReadTokens
		t.tracker.Record(res.usage, res.reported)
	}
	if err := t.ch.Update(ts, info.Encode()); err != nil {
		t.logger.Debug("update abandoned request entry", zap.Error(err))
	}
	t.updateIndex()

	marker := interruptedByUser
	if reason == cancelStreaming {
		marker = interruptedByAPIError
	}
	content := []provider.Content{provider.TextContent(marker)}
	var results []provider.Content
	if res != nil {
		if res.raw != "" {
			content[0] = provider.TextContent(res.raw + "\n\n" + marker)
		}
		content = append(content, res.turn.ToolUses()...)
		results = res.turn.Results()
	}
	if err := t.history.AddTurn(provider.Message{Role: provider.RoleAssistant, Content: content}); err != nil {
		t.logger.Warn("record interrupted response", zap.Error(err))
		return
	}
	if len(results) > 0 {
		if err := t.history.AddTurn(provider.Message{Role: provider.RoleUser, Content: results}); err != nil {
			t.logger.Warn("record interrupted results", zap.Error(err))
		}
	}
}

// nextContent records the assistant turn and builds the next user turn.
func (t *Task) nextContent(ctx context.Context, res *response) ([]provider.Content, bool, error) {
	uses := res.turn.ToolUses()

	if res.raw == "" && len(uses) == 0 {
		if err := t.ch.Say(ctx, channel.SayError, emptyResponseError, nil, false); err != nil {
			return nil, false, err
		}
		if err := t.history.AddTurn(provider.Message{
			Role:    provider.RoleAssistant,
			Content: []provider.Content{provider.TextContent(noResponseText)},
		}); err != nil {
			return nil, false, fmt.Errorf("add assistant turn: %w", err)
		}
	} else {
		text := res.raw
		if res.turn.Rejected() {
			text += "\n\n" + interruptedByFeedback
		}
		content := append([]provider.Content{provider.TextContent(text)}, uses...)
		if err := t.history.AddTurn(provider.Message{Role: provider.RoleAssistant, Content: content}); err != nil {
			return nil, false, fmt.Errorf("add assistant turn: %w", err)
		}
	}

	if res.turn.Completed() {
		if err := t.history.AddTurn(provider.Message{Role: provider.RoleUser, Content: res.turn.Results()}); err != nil {
			return nil, false, fmt.Errorf("add final results: %w", err)
		}
		if err := t.state.Transition(StateCompleted); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}

	if !res.turn.UsedTool() {
		t.doom.check(nil)
		t.mistakes.Add()
		t.metrics.Mistake("no_tool_use")
		return []provider.Content{provider.TextContent(noToolsUsed)}, false, nil
	}

	next := res.turn.Results()
	switch t.doom.check(uses) {
	case doomLoopWarn:
		t.mistakes.Add()
		t.metrics.Mistake("repeated_tool_use")
		next = append(next, provider.TextContent(repeatedToolNotice(t.doom.streak)))
	case doomLoopStop:
		t.mistakes.Trip()
		t.metrics.Mistake("repeated_tool_use")
		next = append(next, provider.TextContent(repeatedToolNotice(t.doom.streak)))
	}
	return next, false, nil
}
