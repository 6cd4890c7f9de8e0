package tools

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"
)

const maxReadFileSize = 10 * 1024 * 1024

// ReadFileTool returns the contents of a file.
type ReadFileTool struct {
	ws Workspace
}

func (t *ReadFileTool) Name() string                     { return "read_file" }
func (t *ReadFileTool) IsReadOnly() bool                 { return true }
func (t *ReadFileTool) PermissionLevel() PermissionLevel { return PermissionRead }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file at the specified path. Use this when you need to examine " +
		"the contents of an existing file, for example to analyze code, review text files, or extract " +
		"information from configuration files. Binary files are rejected."
}

func (t *ReadFileTool) Params() []ParamSpec {
	return []ParamSpec{
		{Name: "path", Required: true, Description: "The path of the file to read (relative to the current working directory)."},
	}
}

func (t *ReadFileTool) Preview(params map[string]string, _ bool) Preview {
	return readOnlyPreview(MsgReadFile, params, t.ws)
}

func (t *ReadFileTool) Execute(_ context.Context, params map[string]string) (Result, error) {
	path := params["path"]
	if path == "" {
		return Result{}, fmt.Errorf("path is required")
	}
	abs := t.ws.Resolve(path)

	info, err := os.Stat(abs)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read file: %w", err)
	}
	if info.IsDir() {
		return Result{}, fmt.Errorf("%s is a directory, use list_files instead", path)
	}
	if info.Size() > maxReadFileSize {
		return Result{}, fmt.Errorf("%s is too large to read (%d bytes)", path, info.Size())
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read file: %w", err)
	}
	if !isLikelyText(data) || !utf8.Valid(data) {
		return Result{}, fmt.Errorf("cannot read binary file %s", path)
	}
	return Result{Content: string(data)}, nil
}

// isLikelyText checks if content is likely text (not binary).
func isLikelyText(data []byte) bool {
	check := data
	if len(check) > 512 {
		check = check[:512]
	}
	for _, b := range check {
		if b == 0 {
			return false
		}
	}
	return true
}
