package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/apexion-ai/taskloop/internal/config"
)

const (
	inspectTimeout  = 30 * time.Second
	inspectMaxLines = 500
)

// InspectSiteTool loads a page in Chrome and returns a screenshot, the
// console output and the page text.
type InspectSiteTool struct {
	cfg config.BrowserConfig
}

func (t *InspectSiteTool) Name() string                     { return "inspect_site" }
func (t *InspectSiteTool) IsReadOnly() bool                 { return false }
func (t *InspectSiteTool) PermissionLevel() PermissionLevel { return PermissionExecute }

func (t *InspectSiteTool) Description() string {
	return "Captures a screenshot and console logs of the initial state of a website. This tool " +
		"navigates to the specified URL, takes a screenshot of the page, and captures any console " +
		"logs or errors that occur during page load. It does not interact with the page after " +
		"loading. Use it after running a local dev server to check that a site renders correctly."
}

func (t *InspectSiteTool) Params() []ParamSpec {
	return []ParamSpec{
		{Name: "url", Required: true, Description: "The URL of the site to inspect. This should be a valid URL including the protocol (e.g. http://localhost:3000/page, file:///path/to/file.html)."},
	}
}

func (t *InspectSiteTool) Preview(params map[string]string, _ bool) Preview {
	return Preview{Kind: PreviewBrowser, Text: params["url"]}
}

func (t *InspectSiteTool) Execute(ctx context.Context, params map[string]string) (Result, error) {
	target, err := validateSiteURL(params["url"])
	if err != nil {
		return Result{Content: err.Error(), IsError: true}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, inspectTimeout)
	defer cancel()

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if t.cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, t.cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", t.cfg.Headless))
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	}
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var (
		mu   sync.Mutex
		logs []string
	)
	chromedp.ListenTarget(taskCtx, func(ev any) {
		var line string
		switch e := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			parts := make([]string, 0, len(e.Args))
			for _, arg := range e.Args {
				parts = append(parts, remoteObjectText(arg))
			}
			line = fmt.Sprintf("[%s] %s", e.Type, strings.Join(parts, " "))
		case *runtime.EventExceptionThrown:
			if e.ExceptionDetails != nil {
				line = "[Page Error] " + exceptionText(e.ExceptionDetails)
			}
		}
		if line != "" {
			mu.Lock()
			logs = append(logs, line)
			mu.Unlock()
		}
	})

	var html string
	var shot []byte
	err = chromedp.Run(taskCtx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.CaptureScreenshot(&shot),
	)
	if err != nil {
		if ctx.Err() != nil && ctx.Err() != context.DeadlineExceeded {
			return Result{}, fmt.Errorf("cancelled")
		}
		return Result{Content: fmt.Sprintf("Failed to inspect %s: %v", target, err), IsError: true}, nil
	}

	text, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		text = html
	}

	mu.Lock()
	consoleLogs := strings.Join(logs, "\n")
	mu.Unlock()
	if consoleLogs == "" {
		consoleLogs = "(No logs)"
	}

	var sb strings.Builder
	sb.WriteString("The site has been visited, with console logs captured and a screenshot taken for your analysis.\n\n")
	sb.WriteString("Console logs:\n")
	sb.WriteString(consoleLogs)
	sb.WriteString("\n\nPage content:\n")
	sb.WriteString(truncateLines(strings.TrimSpace(text), inspectMaxLines))

	return Result{
		Content: sb.String(),
		Images:  []string{"data:image/png;base64," + base64.StdEncoding.EncodeToString(shot)},
	}, nil
}

func validateSiteURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("Invalid URL: %v", err)
	}
	switch u.Scheme {
	case "http", "https", "file":
		return u.String(), nil
	default:
		return "", fmt.Errorf("Unsupported URL scheme %q: use http, https or file", u.Scheme)
	}
}

func remoteObjectText(arg *runtime.RemoteObject) string {
	if arg == nil {
		return ""
	}
	if len(arg.Value) > 0 {
		return strings.Trim(string(arg.Value), `"`)
	}
	if arg.Description != "" {
		return arg.Description
	}
	return string(arg.Type)
}

func exceptionText(d *runtime.ExceptionDetails) string {
	if d.Exception != nil && d.Exception.Description != "" {
		return d.Exception.Description
	}
	return d.Text
}

// truncateLines keeps only the first maxLines lines.
func truncateLines(s string, maxLines int) string {
	idx := 0
	for i := 0; i < maxLines; i++ {
		next := strings.IndexByte(s[idx:], '\n')
		if next == -1 {
			return s
		}
		idx += next + 1
	}
	return s[:idx] + fmt.Sprintf("\n[Content truncated to first %d lines]", maxLines)
}
