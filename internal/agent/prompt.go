package agent

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/apexion-ai/taskloop/internal/tools"
)

//go:embed prompts/*.md
var defaultPromptFS embed.FS

// promptSections defines the section names and their assembly order. Each
// static name corresponds to a file "{name}.md" in the embedded prompts/
// directory; "tools" and "system" are generated.
var promptSections = []string{
	"identity",
	"tool_use",
	"tools",
	"guidelines",
	"rules",
	"system",
	"objective",
}

// buildSystemPrompt assembles the system prompt for a task rooted at cwd.
// Override paths (in priority order, higher wins):
//
//	~/.config/taskloop/prompts/{section}.md   global user override
//	{gitRoot}/.taskloop/prompts/{section}.md  project-level override
//
// A special "_extra.md" file in any override directory is appended after
// all sections, followed by the custom instructions.
func buildSystemPrompt(cwd string, reg *tools.Registry, custom string) string {
	gitRoot := findGitRoot(cwd)
	overrideDirs := promptOverrideDirs(cwd, gitRoot)

	var sections []string
	for _, name := range promptSections {
		var content string
		switch name {
		case "tools":
			content = toolsSection(reg)
		case "system":
			content = systemSection(cwd)
		default:
			content = loadPromptSection(name, overrideDirs)
		}
		if content != "" {
			sections = append(sections, content)
		}
	}

	result := strings.Join(sections, "\n\n")

	for _, dir := range overrideDirs {
		extra := readFileString(filepath.Join(dir, "_extra.md"))
		if extra != "" {
			result += "\n\n" + extra
		}
	}

	if instructions := customInstructions(custom, loadProjectRules(cwd)); instructions != "" {
		result += "\n\n" + instructions
	}
	return result
}

// toolsSection documents every registered tool with its parameters and a
// usage skeleton.
func toolsSection(reg *tools.Registry) string {
	var sb strings.Builder
	sb.WriteString("# Tools")
	for _, t := range reg.All() {
		fmt.Fprintf(&sb, "\n\n## %s\nDescription: %s\nParameters:", t.Name(), t.Description())
		for _, p := range t.Params() {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(&sb, "\n- %s: (%s) %s", p.Name, req, p.Description)
		}
		fmt.Fprintf(&sb, "\nUsage:\n<%s>", t.Name())
		for _, p := range t.Params() {
			fmt.Fprintf(&sb, "\n<%s>%s here</%s>", p.Name, strings.ReplaceAll(p.Name, "_", " "), p.Name)
		}
		fmt.Fprintf(&sb, "\n</%s>", t.Name())
	}
	return sb.String()
}

func systemSection(cwd string) string {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "sh"
	}
	home, _ := os.UserHomeDir()
	return fmt.Sprintf("====\n\nSYSTEM INFORMATION\n\nOperating System: %s/%s\nDefault Shell: %s\nHome Directory: %s\nCurrent Working Directory: %s",
		runtime.GOOS, runtime.GOARCH, shell, filepath.ToSlash(home), filepath.ToSlash(cwd))
}

func customInstructions(fromConfig, fromProject string) string {
	var parts []string
	if s := strings.TrimSpace(fromConfig); s != "" {
		parts = append(parts, s)
	}
	if fromProject != "" {
		parts = append(parts, fromProject)
	}
	if len(parts) == 0 {
		return ""
	}
	return "====\n\nUSER'S CUSTOM INSTRUCTIONS\n\nThe following additional instructions are provided by the user, and should be followed to the best of your ability without interfering with the TOOL USE guidelines.\n\n" +
		strings.Join(parts, "\n\n")
}

// loadPromptSection loads a single prompt section by name.
// Checks override directories in order (last wins), falls back to embedded default.
func loadPromptSection(name string, overrideDirs []string) string {
	filename := name + ".md"

	for i := len(overrideDirs) - 1; i >= 0; i-- {
		content := readFileString(filepath.Join(overrideDirs[i], filename))
		if content != "" {
			return content
		}
	}

	data, err := defaultPromptFS.ReadFile("prompts/" + filename)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// promptOverrideDirs returns the directories to check for prompt overrides,
// in priority order (lowest first).
func promptOverrideDirs(cwd, gitRoot string) []string {
	seen := make(map[string]bool)
	var dirs []string

	add := func(dir string) {
		abs, err := filepath.Abs(dir)
		if err != nil || seen[abs] {
			return
		}
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			return
		}
		seen[abs] = true
		dirs = append(dirs, abs)
	}

	if home, err := os.UserHomeDir(); err == nil {
		add(filepath.Join(home, ".config", "taskloop", "prompts"))
	}
	if gitRoot != "" && gitRoot != cwd {
		add(filepath.Join(gitRoot, ".taskloop", "prompts"))
	}
	add(filepath.Join(cwd, ".taskloop", "prompts"))

	return dirs
}

// readFileString reads a file and returns its trimmed content.
// Returns empty string if the file doesn't exist or is empty.
func readFileString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
