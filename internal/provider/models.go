package provider

import "strings"

const defaultContextWindow = 128_000

// contextWindows maps model name prefixes to their context window size.
var contextWindows = []struct {
	prefix string
	tokens int
}{
	{"claude-", 200_000},
	{"gpt-4.1", 1_047_576},
	{"gpt-4o", 128_000},
	{"o3", 200_000},
	{"o4-mini", 200_000},
	{"deepseek-", 64_000},
	{"gemini-2.5", 1_048_576},
	{"kimi-", 128_000},
	{"moonshot-", 128_000},
	{"qwen", 131_072},
}

// LookupModel returns the model info for id. override, when positive,
// replaces the context window.
func LookupModel(id string, override int) ModelInfo {
	info := ModelInfo{ID: id, ContextWindow: defaultContextWindow, MaxTokens: 8192}
	for _, cw := range contextWindows {
		if strings.HasPrefix(id, cw.prefix) {
			info.ContextWindow = cw.tokens
			break
		}
	}
	if override > 0 {
		info.ContextWindow = override
	}
	return info
}
