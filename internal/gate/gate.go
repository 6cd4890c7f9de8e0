// Package gate decides, for each tool invocation of a model response,
// whether it runs, asks the user first, or is skipped, and collects the
// results that become the next user turn.
package gate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/apexion-ai/taskloop/internal/channel"
	"github.com/apexion-ai/taskloop/internal/cost"
	"github.com/apexion-ai/taskloop/internal/metrics"
	"github.com/apexion-ai/taskloop/internal/permission"
	"github.com/apexion-ai/taskloop/internal/tools"
)

// Channel is the part of *channel.Channel the gate talks through.
type Channel interface {
	Say(ctx context.Context, kind channel.SayKind, text string, images []string, partial bool) error
	Ask(ctx context.Context, kind channel.AskKind, text string, partial bool) (channel.Response, error)
}

// RunFunc executes a tool. It defaults to tools.Run.
type RunFunc func(ctx context.Context, t tools.Tool, params map[string]string) (tools.Result, error)

// MissingParamError reports an invocation without a required parameter.
type MissingParamError struct {
	Tool  string
	Param string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("Missing value for required parameter '%s'. Please retry with complete response.", e.Param)
}

// Options configures a Gate.
type Options struct {
	Registry *tools.Registry
	Policy   permission.Policy
	Channel  Channel
	Mistakes *cost.MistakeCounter
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Run      RunFunc
}

// Gate holds what every turn of a task shares.
type Gate struct {
	registry *tools.Registry
	policy   permission.Policy
	ch       Channel
	mistakes *cost.MistakeCounter
	metrics  *metrics.Metrics
	logger   *zap.Logger
	run      RunFunc
}

// New creates a Gate. Registry and Channel are required.
func New(o Options) *Gate {
	g := &Gate{
		registry: o.Registry,
		policy:   o.Policy,
		ch:       o.Channel,
		mistakes: o.Mistakes,
		metrics:  o.Metrics,
		logger:   o.Logger,
		run:      o.Run,
	}
	if g.policy == nil {
		g.policy = permission.AllowAllPolicy{}
	}
	if g.mistakes == nil {
		g.mistakes = cost.NewMistakeCounter(0)
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if g.run == nil {
		g.run = tools.Run
	}
	return g
}

// Mistakes returns the task's mistake counter.
func (g *Gate) Mistakes() *cost.MistakeCounter { return g.mistakes }

// NewTurn starts the bookkeeping for one model response. id prefixes the
// tool_use ids of the turn.
func (g *Gate) NewTurn(id string) *Turn {
	return &Turn{g: g, id: id}
}

// ── Result text ──────────────────────────────────────────────────────────────

func toolError(msg string) string {
	return fmt.Sprintf("The tool execution failed with the following error:\n<error>\n%s\n</error>", msg)
}

func skippedAfterRejection(name string) string {
	return fmt.Sprintf("Skipping tool [%s] due to user rejecting a previous tool.", name)
}

func skippedAfterCompletion(name string) string {
	return fmt.Sprintf("Skipping tool [%s] because the task was already completed.", name)
}

const (
	deniedByUser   = "The user denied this operation."
	deniedByPolicy = "The operation was blocked by the permission policy."
)

func deniedWithFeedback(feedback string) string {
	return fmt.Sprintf("The user denied this operation and provided the following feedback:\n<feedback>\n%s\n</feedback>", feedback)
}

func approvedWithFeedback(feedback string) string {
	return fmt.Sprintf("The user approved this operation and provided the following feedback:\n<feedback>\n%s\n</feedback>", feedback)
}

// ── Previews ─────────────────────────────────────────────────────────────────

func askKindFor(p tools.Preview) channel.AskKind {
	switch p.Kind {
	case tools.PreviewCommand:
		return channel.AskCommand
	case tools.PreviewBrowser:
		return channel.AskBrowserActionLaunch
	default:
		return channel.AskTool
	}
}

func sayFor(p tools.Preview) (channel.SayKind, string) {
	switch p.Kind {
	case tools.PreviewCommand:
		return channel.SayCommand, p.Text
	case tools.PreviewBrowser:
		return channel.SayTool, tools.Message{Tool: tools.MsgInspectSite, Path: p.Text}.String()
	default:
		return channel.SayTool, p.Text
	}
}

// missingParam returns the first required parameter without a value.
func missingParam(t tools.Tool, params map[string]string) string {
	for _, p := range t.Params() {
		if p.Required && params[p.Name] == "" {
			return p.Name
		}
	}
	return ""
}

func (g *Gate) timedRun(ctx context.Context, t tools.Tool, params map[string]string) (tools.Result, error) {
	start := time.Now()
	res, err := g.run(ctx, t, params)
	g.metrics.ObserveTool(t.Name(), time.Since(start))
	if err != nil {
		g.logger.Debug("tool failed", zap.String("tool", t.Name()), zap.Error(err))
	}
	return res, err
}
