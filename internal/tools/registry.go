package tools

import (
	"sort"

	"github.com/apexion-ai/taskloop/internal/config"
	"github.com/apexion-ai/taskloop/internal/parser"
)

// Names of the tools the loop handles itself.
const (
	AskFollowupQuestion = "ask_followup_question"
	AttemptCompletion   = "attempt_completion"
)

// Registry holds the tools of a task.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t, replacing a tool with the same name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get returns the tool called name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// All returns every tool sorted by name.
func (r *Registry) All() []Tool {
	result := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name() < result[j].Name()
	})
	return result
}

// Vocabulary returns the tag names the parser must recognise.
func (r *Registry) Vocabulary() parser.Vocabulary {
	var names, params []string
	seen := make(map[string]bool)
	for _, t := range r.All() {
		names = append(names, t.Name())
		for _, p := range t.Params() {
			if !seen[p.Name] {
				seen[p.Name] = true
				params = append(params, p.Name)
			}
		}
	}
	return parser.NewVocabulary(names, params)
}

// DefaultRegistry creates a registry with every built-in tool rooted at
// ws.
func DefaultRegistry(ws Workspace, browser config.BrowserConfig) *Registry {
	r := NewRegistry()
	r.Register(&ExecuteCommandTool{ws: ws})
	r.Register(&ReadFileTool{ws: ws})
	r.Register(&WriteFileTool{ws: ws})
	r.Register(&SearchFilesTool{ws: ws})
	r.Register(&ListFilesTool{ws: ws})
	r.Register(&ListCodeDefinitionsTool{ws: ws})
	r.Register(&InspectSiteTool{cfg: browser})
	r.Register(&FollowupTool{})
	r.Register(&CompletionTool{})
	return r
}
