package tools

import (
	"context"
	"fmt"
)

// Run executes t and bounds the size of its output.
func Run(ctx context.Context, t Tool, params map[string]string) (Result, error) {
	result, err := t.Execute(ctx, params)
	if err != nil {
		return Result{}, err
	}

	limit := toolOutputLimit(t.Name())
	if len(result.Content) > limit {
		result.Content = truncateHeadTail(result.Content, limit)
		result.Truncated = true
	}
	return result, nil
}

// toolOutputLimit returns the output byte limit for a given tool.
func toolOutputLimit(name string) int {
	switch name {
	case "read_file", "search_files", "execute_command", "inspect_site":
		return 64 * 1024
	case "list_files", "list_code_definition_names":
		return 32 * 1024
	default:
		return 8 * 1024
	}
}

// truncateHeadTail keeps the head (60%) and tail (40%) of a string,
// omitting the middle. Errors and final results tend to be at the end.
func truncateHeadTail(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	head := maxLen * 3 / 5
	tail := maxLen * 2 / 5
	omitted := len(s) - head - tail
	return s[:head] + fmt.Sprintf("\n\n[...%d chars omitted...]\n\n", omitted) + s[len(s)-tail:]
}
