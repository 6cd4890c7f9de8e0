package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const maxSearchResults = 300

var errSearchLimit = errors.New("search limit reached")

// SearchFilesTool runs a regex search over the files of a directory.
type SearchFilesTool struct {
	ws Workspace
}

func (t *SearchFilesTool) Name() string                     { return "search_files" }
func (t *SearchFilesTool) IsReadOnly() bool                 { return true }
func (t *SearchFilesTool) PermissionLevel() PermissionLevel { return PermissionRead }

func (t *SearchFilesTool) Description() string {
	return "Perform a regex search across files in a specified directory, providing context-rich " +
		"results. Searches for patterns or specific content across multiple files, displaying each " +
		"match with its line number, grouped by file."
}

func (t *SearchFilesTool) Params() []ParamSpec {
	return []ParamSpec{
		{Name: "path", Required: true, Description: "The path of the directory to search in (relative to the current working directory). This directory will be recursively searched."},
		{Name: "regex", Required: true, Description: "The regular expression pattern to search for. Uses Go RE2 syntax."},
		{Name: "file_pattern", Description: "Glob pattern to filter files (e.g. '*.ts' for TypeScript files). If not provided, it will search all files (*)."},
	}
}

func (t *SearchFilesTool) Preview(params map[string]string, _ bool) Preview {
	return readOnlyPreview(MsgSearchFiles, params, t.ws)
}

type searchMatch struct {
	line int
	text string
}

func (t *SearchFilesTool) Execute(ctx context.Context, params map[string]string) (Result, error) {
	if params["path"] == "" {
		return Result{}, fmt.Errorf("path is required")
	}
	if params["regex"] == "" {
		return Result{}, fmt.Errorf("regex is required")
	}
	re, err := regexp.Compile(params["regex"])
	if err != nil {
		return Result{}, fmt.Errorf("invalid regex pattern: %w", err)
	}
	root := t.ws.Resolve(params["path"])
	pattern := params["file_pattern"]

	var (
		order   []string
		matches = make(map[string][]searchMatch)
		total   int
	)
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() {
			if path != root && shouldSkipDir(info.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if shouldSkipFile(info) {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)
		if !matchFilePattern(pattern, rel) {
			return nil
		}

		found, err := searchFile(path, re, maxSearchResults-total)
		if err != nil || len(found) == 0 {
			return nil
		}
		display := t.ws.Rel(path)
		order = append(order, display)
		matches[display] = found
		total += len(found)
		if total >= maxSearchResults {
			return errSearchLimit
		}
		return nil
	})
	if err != nil && !errors.Is(err, errSearchLimit) {
		return Result{}, fmt.Errorf("search failed: %w", err)
	}

	if total == 0 {
		return Result{Content: "Found 0 results."}, nil
	}

	var sb strings.Builder
	if total >= maxSearchResults {
		fmt.Fprintf(&sb, "Showing first %d results. Use a more specific search if necessary.\n\n", maxSearchResults)
	} else {
		fmt.Fprintf(&sb, "Found %d result%s.\n\n", total, plural(total))
	}
	for _, file := range order {
		sb.WriteString(file)
		sb.WriteString("\n│----\n")
		for _, m := range matches[file] {
			fmt.Fprintf(&sb, "│%d: %s\n", m.line, m.text)
		}
		sb.WriteString("│----\n\n")
	}
	return Result{Content: strings.TrimRight(sb.String(), "\n"), Truncated: total >= maxSearchResults}, nil
}

func searchFile(path string, re *regexp.Regexp, limit int) ([]searchMatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []searchMatch
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if re.MatchString(line) {
			if len(line) > 500 {
				line = line[:500] + "..."
			}
			out = append(out, searchMatch{line: lineNum, text: strings.TrimRight(line, "\r")})
			if len(out) >= limit {
				break
			}
		}
	}
	return out, scanner.Err()
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
