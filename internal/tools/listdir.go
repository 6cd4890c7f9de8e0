package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const maxListFiles = 200

// ListFilesTool lists a directory, optionally recursively.
type ListFilesTool struct {
	ws Workspace
}

func (t *ListFilesTool) Name() string                     { return "list_files" }
func (t *ListFilesTool) IsReadOnly() bool                 { return true }
func (t *ListFilesTool) PermissionLevel() PermissionLevel { return PermissionRead }

func (t *ListFilesTool) Description() string {
	return "List files and directories within the specified directory. If recursive is true, it will " +
		"list all files and directories recursively. If recursive is false or not provided, it will " +
		"only list the top-level contents. Directories end with a slash."
}

func (t *ListFilesTool) Params() []ParamSpec {
	return []ParamSpec{
		{Name: "path", Required: true, Description: "The path of the directory to list contents for (relative to the current working directory)."},
		{Name: "recursive", Description: "Whether to list files recursively. Use true for recursive listing, false or omit for top-level only."},
	}
}

func (t *ListFilesTool) Preview(params map[string]string, _ bool) Preview {
	kind := MsgListFilesTopLevel
	if isTrue(params["recursive"]) {
		kind = MsgListFilesRecursive
	}
	return readOnlyPreview(kind, params, t.ws)
}

func (t *ListFilesTool) Execute(_ context.Context, params map[string]string) (Result, error) {
	path := params["path"]
	if path == "" {
		return Result{}, fmt.Errorf("path is required")
	}
	abs := t.ws.Resolve(path)

	// Listing the filesystem root or the home directory is never useful and
	// floods the context.
	if home, _ := os.UserHomeDir(); abs == "/" || abs == home {
		return Result{Content: fmt.Sprintf("%s\n(Listing of %s is not allowed. Choose a more specific directory.)", abs, abs)}, nil
	}

	info, err := os.Stat(abs)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read directory: %w", err)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("%s is not a directory", path)
	}

	var files []string
	var truncated bool
	if isTrue(params["recursive"]) {
		files, truncated = listRecursive(abs)
	} else {
		files, truncated = listTopLevel(abs)
	}

	if len(files) == 0 {
		return Result{Content: "No files found."}, nil
	}
	content := strings.Join(files, "\n")
	if truncated {
		content += "\n\n(File list truncated. Use list_files on specific subdirectories if you need to explore further.)"
	}
	return Result{Content: content, Truncated: truncated}, nil
}

func listTopLevel(dir string) ([]string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, false
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		out = append(out, name)
	}
	sort.Strings(out)
	if len(out) > maxListFiles {
		return out[:maxListFiles], true
	}
	return out, false
}

// listRecursive walks dir breadth first so a truncated listing still shows
// the shape of the top of the tree.
func listRecursive(dir string) ([]string, bool) {
	var out []string
	queue := []string{dir}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		entries, err := os.ReadDir(cur)
		if err != nil {
			continue
		}
		for _, e := range entries {
			full := filepath.Join(cur, e.Name())
			rel, _ := filepath.Rel(dir, full)
			rel = filepath.ToSlash(rel)
			if e.IsDir() {
				out = append(out, rel+"/")
				if !shouldSkipDir(e.Name()) {
					queue = append(queue, full)
				}
			} else {
				out = append(out, rel)
			}
			if len(out) > maxListFiles {
				return out[:maxListFiles], true
			}
		}
	}
	return out, false
}

func isTrue(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "true")
}
