package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// WriteFileTool creates or overwrites a file with the full content given.
type WriteFileTool struct {
	ws Workspace
}

func (t *WriteFileTool) Name() string                     { return "write_to_file" }
func (t *WriteFileTool) IsReadOnly() bool                 { return false }
func (t *WriteFileTool) PermissionLevel() PermissionLevel { return PermissionWrite }

func (t *WriteFileTool) Description() string {
	return "Write content to a file at the specified path. If the file exists, it will be overwritten " +
		"with the provided content. If the file doesn't exist, it will be created. Parent directories " +
		"are created as needed. Always provide the COMPLETE intended content of the file, without any " +
		"truncation."
}

func (t *WriteFileTool) Params() []ParamSpec {
	return []ParamSpec{
		{Name: "path", Required: true, Description: "The path of the file to write to (relative to the current working directory)."},
		{Name: "content", Required: true, Description: "The full content to write to the file."},
	}
}

// Preview shows new files in full and existing files as a unified diff.
// While the content is still streaming the diff is not computed.
func (t *WriteFileTool) Preview(params map[string]string, partial bool) Preview {
	path := params["path"]
	content := normalizeContent(params["content"])
	msg := Message{Tool: MsgNewFileCreated, Path: t.ws.Rel(path)}

	old, err := os.ReadFile(t.ws.Resolve(path))
	switch {
	case path == "" || err != nil:
		msg.Content = content
	case partial:
		msg.Tool = MsgEditedExistingFile
	default:
		msg.Tool = MsgEditedExistingFile
		msg.Diff = unifiedDiff(msg.Path, string(old), content)
	}
	return Preview{Kind: PreviewTool, Text: msg.String()}
}

func (t *WriteFileTool) Execute(_ context.Context, params map[string]string) (Result, error) {
	path := params["path"]
	if path == "" {
		return Result{}, fmt.Errorf("path is required")
	}
	abs := t.ws.Resolve(path)
	content := normalizeContent(params["content"])

	_, statErr := os.Stat(abs)
	existed := !errors.Is(statErr, fs.ErrNotExist)

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create directories: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return Result{}, fmt.Errorf("failed to write file: %w", err)
	}

	if existed {
		return Result{Content: fmt.Sprintf("The changes have been applied to %s successfully.", t.ws.Rel(path))}, nil
	}
	return Result{Content: fmt.Sprintf("The new file %s has been created successfully.", t.ws.Rel(path))}, nil
}

// normalizeContent strips code fences and ends non-empty content with a
// newline.
func normalizeContent(content string) string {
	content = stripCodeFences(content)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content
}

// stripCodeFences removes a markdown fence the model sometimes wraps file
// content in.
func stripCodeFences(content string) string {
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[0]), "```") {
		lines = lines[1:]
	}
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == "```" {
		lines = lines[:n-1]
	}
	return strings.Join(lines, "\n")
}

func unifiedDiff(name, old, updated string) string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(old),
		B:        difflib.SplitLines(updated),
		FromFile: name,
		ToFile:   name,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return text
}
