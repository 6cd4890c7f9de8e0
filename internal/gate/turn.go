package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/apexion-ai/taskloop/internal/channel"
	"github.com/apexion-ai/taskloop/internal/parser"
	"github.com/apexion-ai/taskloop/internal/permission"
	"github.com/apexion-ai/taskloop/internal/provider"
	"github.com/apexion-ai/taskloop/internal/tools"
)

const executeCommand = "execute_command"

// Turn is the gate state of one model response. It is driven by a single
// goroutine, the presenter's drain loop, and read by the loop once the
// presenter is ready.
type Turn struct {
	g  *Gate
	id string

	uses      []provider.Content
	results   []provider.Content
	rejected  bool
	completed bool
}

// Rejected reports whether the user rejected a tool in this turn. Every
// later invocation is skipped.
func (t *Turn) Rejected() bool { return t.rejected }

// Completed reports whether the user accepted an attempt_completion.
func (t *Turn) Completed() bool { return t.completed }

// UsedTool reports whether the response contained any complete invocation.
func (t *Turn) UsedTool() bool { return len(t.uses) > 0 }

// ToolUses returns one tool_use block per complete invocation, in order.
func (t *Turn) ToolUses() []provider.Content {
	return append([]provider.Content(nil), t.uses...)
}

// Results returns the blocks that open the next user turn: one tool_result
// per tool_use, each followed by any images it produced.
func (t *Turn) Results() []provider.Content {
	return append([]provider.Content(nil), t.results...)
}

func (t *Turn) addUse(inv *parser.ToolInvocation) provider.Content {
	c := provider.Content{
		Type:      provider.ContentTypeToolUse,
		ToolUseID: fmt.Sprintf("%s_%d", t.id, len(t.uses)),
		ToolName:  inv.Name,
		ToolInput: inv.Params.Map(),
	}
	t.uses = append(t.uses, c)
	return c
}

func (t *Turn) push(use provider.Content, text string, isError bool, images []string) {
	t.results = append(t.results, provider.ToolResultContent(use.ToolUseID, use.ToolName, text, isError))
	for _, img := range images {
		t.results = append(t.results, provider.ImageContent(img))
	}
}

func ignoreStreaming(err error) error {
	if errors.Is(err, channel.ErrStillStreaming) {
		return nil
	}
	return err
}

// Preview shows an invocation that is still streaming. Nothing runs; the
// entry written here is finalized in place by Handle.
func (t *Turn) Preview(ctx context.Context, inv *parser.ToolInvocation) error {
	if t.rejected || t.completed {
		return nil
	}
	params := inv.Params.Map()
	switch inv.Name {
	case tools.AskFollowupQuestion:
		_, err := t.g.ch.Ask(ctx, channel.AskFollowup, params["question"], true)
		return ignoreStreaming(err)
	case tools.AttemptCompletion:
		return t.g.ch.Say(ctx, channel.SayCompletionResult, params["result"], nil, true)
	}

	tool, ok := t.g.registry.Get(inv.Name)
	if !ok {
		return nil
	}
	p := tool.Preview(params, true)
	switch t.g.policy.Check(inv.Name, params, tool.IsReadOnly()) {
	case permission.Allow:
		// A half-written command may be judged differently once complete,
		// so an auto-approved one is only shown by Handle.
		if p.Kind == tools.PreviewCommand {
			return nil
		}
		kind, text := sayFor(p)
		return t.g.ch.Say(ctx, kind, text, nil, true)
	case permission.NeedConfirmation:
		_, err := t.g.ch.Ask(ctx, askKindFor(p), p.Text, true)
		return ignoreStreaming(err)
	}
	return nil
}

// Handle gates and runs one complete invocation. The returned error is
// only set when the task can no longer talk to the user (abort, cancel);
// every other outcome becomes a tool result.
func (t *Turn) Handle(ctx context.Context, inv *parser.ToolInvocation) error {
	use := t.addUse(inv)

	if t.completed {
		t.g.metrics.ToolDecision(inv.Name, "skipped")
		t.push(use, skippedAfterCompletion(inv.Name), false, nil)
		return nil
	}
	if t.rejected {
		t.g.metrics.ToolDecision(inv.Name, "skipped")
		t.push(use, skippedAfterRejection(inv.Name), false, nil)
		return nil
	}

	tool, ok := t.g.registry.Get(inv.Name)
	if !ok {
		t.g.metrics.ToolDecision(inv.Name, "invalid")
		t.push(use, toolError(fmt.Sprintf("Unknown tool %q.", inv.Name)), true, nil)
		return nil
	}
	params := use.ToolInput
	if p := missingParam(tool, params); p != "" {
		return t.missing(ctx, use, &MissingParamError{Tool: inv.Name, Param: p})
	}

	switch inv.Name {
	case tools.AskFollowupQuestion:
		return t.followup(ctx, use, params)
	case tools.AttemptCompletion:
		return t.complete(ctx, use, params)
	}
	return t.execute(ctx, use, tool, params)
}

func (t *Turn) missing(ctx context.Context, use provider.Content, e *MissingParamError) error {
	t.g.mistakes.Add()
	t.g.metrics.Mistake("missing_param")
	t.g.metrics.ToolDecision(use.ToolName, "invalid")
	t.push(use, toolError(e.Error()), true, nil)
	msg := fmt.Sprintf("The model tried to use %s without value for required parameter '%s'. Retrying...", e.Tool, e.Param)
	return t.g.ch.Say(ctx, channel.SayError, msg, nil, false)
}

func (t *Turn) reject(ctx context.Context, use provider.Content, resp channel.Response) error {
	t.rejected = true
	t.g.metrics.ToolDecision(use.ToolName, "rejected")
	if resp.Text == "" && len(resp.Images) == 0 {
		t.push(use, deniedByUser, false, nil)
		return nil
	}
	t.push(use, deniedWithFeedback(resp.Text), false, resp.Images)
	return t.g.ch.Say(ctx, channel.SayUserFeedback, resp.Text, resp.Images, false)
}

func (t *Turn) execute(ctx context.Context, use provider.Content, tool tools.Tool, params map[string]string) error {
	name := tool.Name()
	p := tool.Preview(params, false)

	var feedback string
	var feedbackImages []string
	switch t.g.policy.Check(name, params, tool.IsReadOnly()) {
	case permission.Deny:
		t.g.metrics.ToolDecision(name, "denied")
		t.push(use, toolError(deniedByPolicy), true, nil)
		return t.g.ch.Say(ctx, channel.SayError, fmt.Sprintf("%s was blocked by the permission policy.", name), nil, false)
	case permission.Allow:
		t.g.metrics.ToolDecision(name, "auto")
		kind, text := sayFor(p)
		if err := t.g.ch.Say(ctx, kind, text, nil, false); err != nil {
			return err
		}
	default:
		resp, err := t.g.ch.Ask(ctx, askKindFor(p), p.Text, false)
		if err != nil {
			return err
		}
		if resp.Kind != channel.Approve {
			return t.reject(ctx, use, resp)
		}
		t.g.metrics.ToolDecision(name, "approved")
		feedback, feedbackImages = resp.Text, resp.Images
		if feedback != "" || len(feedbackImages) > 0 {
			if err := t.g.ch.Say(ctx, channel.SayUserFeedback, feedback, feedbackImages, false); err != nil {
				return err
			}
		}
	}

	res, err := t.g.timedRun(ctx, tool, params)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.push(use, toolError(err.Error()), true, nil)
		return t.g.ch.Say(ctx, channel.SayError, fmt.Sprintf("Error executing %s:\n%s", name, err), nil, false)
	}
	if !res.IsError {
		t.g.mistakes.Reset()
	}

	if p.Kind == tools.PreviewCommand {
		if err := t.g.ch.Say(ctx, channel.SayCommandOutput, res.Content, nil, false); err != nil {
			return err
		}
	}

	text := res.Content
	if res.IsError {
		text = toolError(text)
	}
	if feedback != "" {
		text += "\n\n" + approvedWithFeedback(feedback)
	}
	images := append(append([]string(nil), res.Images...), feedbackImages...)
	t.push(use, text, res.IsError, images)
	return nil
}

func (t *Turn) followup(ctx context.Context, use provider.Content, params map[string]string) error {
	resp, err := t.g.ch.Ask(ctx, channel.AskFollowup, params["question"], false)
	if err != nil {
		return err
	}
	t.g.mistakes.Reset()
	t.g.metrics.ToolDecision(use.ToolName, "approved")
	if err := t.g.ch.Say(ctx, channel.SayUserFeedback, resp.Text, resp.Images, false); err != nil {
		return err
	}
	t.push(use, fmt.Sprintf("<answer>\n%s\n</answer>", resp.Text), false, resp.Images)
	return nil
}

// complete presents the result, runs the optional demo command and asks the
// user to accept. A refusal with feedback sends the model back to work.
func (t *Turn) complete(ctx context.Context, use provider.Content, params map[string]string) error {
	t.g.mistakes.Reset()
	if err := t.g.ch.Say(ctx, channel.SayCompletionResult, params["result"], nil, false); err != nil {
		return err
	}

	if command := strings.TrimSpace(params["command"]); command != "" {
		ok, err := t.demo(ctx, use, command)
		if err != nil || !ok {
			return err
		}
	}

	resp, err := t.g.ch.Ask(ctx, channel.AskCompletionResult, "", false)
	if err != nil {
		return err
	}
	if resp.Kind == channel.Approve {
		t.completed = true
		t.g.metrics.ToolDecision(use.ToolName, "approved")
		t.push(use, "The user accepted the result.", false, nil)
		return nil
	}

	t.rejected = true
	t.g.metrics.ToolDecision(use.ToolName, "rejected")
	if err := t.g.ch.Say(ctx, channel.SayUserFeedback, resp.Text, resp.Images, false); err != nil {
		return err
	}
	t.push(use, fmt.Sprintf("The user has provided feedback on the results. Consider their input to continue the task, and then attempt completion again.\n<feedback>\n%s\n</feedback>", resp.Text), false, resp.Images)
	return nil
}

// demo runs the command attached to a completion. It returns false when the
// user rejected the command, in which case the rejection is already
// recorded as the completion's result.
func (t *Turn) demo(ctx context.Context, use provider.Content, command string) (bool, error) {
	tool, ok := t.g.registry.Get(executeCommand)
	if !ok {
		return true, nil
	}
	params := map[string]string{"command": command}

	switch t.g.policy.Check(executeCommand, params, false) {
	case permission.Deny:
		t.g.logger.Info("completion command denied", zap.String("command", command))
		return true, t.g.ch.Say(ctx, channel.SayError, fmt.Sprintf("%s was blocked by the permission policy.", executeCommand), nil, false)
	case permission.Allow:
		if err := t.g.ch.Say(ctx, channel.SayCommand, command, nil, false); err != nil {
			return false, err
		}
	default:
		resp, err := t.g.ch.Ask(ctx, channel.AskCommand, command, false)
		if err != nil {
			return false, err
		}
		if resp.Kind != channel.Approve {
			return false, t.reject(ctx, use, resp)
		}
	}

	res, err := t.g.timedRun(ctx, tool, params)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, t.g.ch.Say(ctx, channel.SayError, fmt.Sprintf("Error executing %s:\n%s", executeCommand, err), nil, false)
	}
	return true, t.g.ch.Say(ctx, channel.SayCommandOutput, res.Content, nil, false)
}
