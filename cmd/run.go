package cmd

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apexion-ai/taskloop/internal/agent"
	"github.com/apexion-ai/taskloop/internal/channel"
	"github.com/apexion-ai/taskloop/internal/permission"
	"github.com/apexion-ai/taskloop/internal/storage"
	"github.com/apexion-ai/taskloop/internal/tools"
	"github.com/apexion-ai/taskloop/internal/tui"
)

func newRunCmd() *cobra.Command {
	var (
		images     []string
		unattended bool
	)

	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Start a new task",
		Example: `  taskloop run "add a --verbose flag to cmd/root.go"
  taskloop run -i mockup.png "make the landing page match this mockup"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			imgs, err := loadImages(images)
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			return withTask(cmd.Context(), unattended,
				func(o agent.Options) (*agent.Task, error) { return agent.New(o) },
				func(ctx context.Context, t *agent.Task) error { return t.Start(ctx, text, imgs) })
		},
	}

	cmd.Flags().StringArrayVarP(&images, "image", "i", nil, "attach an image file to the task (repeatable)")
	cmd.Flags().BoolVar(&unattended, "unattended", false, "answer every question with yes (implies --auto-approve)")
	return cmd
}

func newResumeCmd() *cobra.Command {
	var unattended bool

	cmd := &cobra.Command{
		Use:   "resume [task-id]",
		Short: "Resume a stored task (the most recent one by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			return withTask(cmd.Context(), unattended,
				func(o agent.Options) (*agent.Task, error) {
					if id == "" {
						last, err := mostRecent(o.Index)
						if err != nil {
							return nil, err
						}
						id = last
					}
					if _, err := os.Stat(o.Store.TaskDir(id)); err != nil {
						return nil, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
					}
					return agent.Resume(id, o)
				},
				func(ctx context.Context, t *agent.Task) error { return t.Continue(ctx) })
		},
	}

	cmd.Flags().BoolVar(&unattended, "unattended", false, "answer every question with yes (implies --auto-approve)")
	return cmd
}

func mostRecent(index *storage.Index) (string, error) {
	items, err := index.List()
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", errors.New("no stored tasks")
	}
	return items[0].ID, nil
}

// surface is a channel.Surface that answers asks through a responder.
type surface interface {
	channel.Surface
	Bind(r tui.Responder)
}

// unattendedSurface prints like the terminal and approves every ask.
type unattendedSurface struct {
	term   *tui.Terminal
	script *tui.Scripted
}

func (u unattendedSurface) Publish(e channel.Entry) {
	u.term.Publish(e)
	u.script.Publish(e)
}

func (u unattendedSurface) Bind(r tui.Responder) { u.script.Bind(r) }

// withTask wires a task to the terminal, runs it and prints how it ended.
func withTask(
	ctx context.Context,
	unattended bool,
	open func(o agent.Options) (*agent.Task, error),
	drive func(ctx context.Context, t *agent.Task) error,
) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()
	if unattended {
		a.cfg.Permissions.Mode = "auto-approve"
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.serveMetrics(ctx)

	p, err := buildProvider(a.cfg)
	if err != nil {
		return err
	}
	workdir, err := os.Getwd()
	if err != nil {
		return err
	}

	term := tui.NewTerminal(os.Stdin, os.Stdout)
	var out surface = term
	if unattended {
		out = unattendedSurface{term: term, script: tui.NewScripted(tui.ApproveAll)}
	}

	task, err := open(agent.Options{
		Provider: p,
		Registry: tools.DefaultRegistry(tools.Workspace{Dir: workdir}, a.cfg.Browser),
		Policy:   permission.NewDefaultPolicy(&a.cfg.Permissions, workdir),
		Store:    a.store,
		Index:    a.index,
		Surface:  out,
		Config:   a.cfg,
		Workdir:  workdir,
		Metrics:  a.metrics,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}
	out.Bind(task)

	if !unattended {
		// Nobody is left to answer once stdin is closed.
		go func() {
			select {
			case <-term.Done():
				a.logger.Info("input closed, aborting task", zap.String("task", task.ID))
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	err = drive(ctx, task)
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "Task %s: %s\n", task.ID, task.State())
	fmt.Fprintf(os.Stderr, "Usage: %s\n", task.Summary())
	if errors.Is(err, channel.ErrAborted) {
		fmt.Fprintf(os.Stderr, "Resume with: taskloop resume %s\n", task.ID)
		return nil
	}
	return err
}

// loadImages reads image files into data URLs.
func loadImages(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		mediaType := http.DetectContentType(data)
		if !strings.HasPrefix(mediaType, "image/") {
			return nil, fmt.Errorf("%s is not an image (%s)", p, mediaType)
		}
		out = append(out, fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(data)))
	}
	return out, nil
}
