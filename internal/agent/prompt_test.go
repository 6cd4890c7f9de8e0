package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apexion-ai/taskloop/internal/config"
	"github.com/apexion-ai/taskloop/internal/tools"
)

func testRegistry(dir string) *tools.Registry {
	return tools.DefaultRegistry(tools.Workspace{Dir: dir}, config.BrowserConfig{Headless: true})
}

func TestBuildSystemPrompt_EmbeddedDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	prompt := buildSystemPrompt(tmpDir, testRegistry(tmpDir), "")

	markers := []string{"You are taskloop", "TOOL USE", "# Tools", "# Tool Use Guidelines", "RULES", "====\n\nSYSTEM INFORMATION", "OBJECTIVE"}
	last := -1
	for _, m := range markers {
		idx := strings.Index(prompt, m)
		if idx < 0 {
			t.Fatalf("prompt missing %q", m)
		}
		if idx < last {
			t.Errorf("section %q is out of order", m)
		}
		last = idx
	}

	if strings.Contains(prompt, "USER'S CUSTOM INSTRUCTIONS") {
		t.Error("no custom instructions were configured")
	}
	if !strings.Contains(prompt, "Current Working Directory: "+filepath.ToSlash(tmpDir)) {
		t.Error("system section should name the working directory")
	}
}

func TestBuildSystemPrompt_DocumentsEveryTool(t *testing.T) {
	tmpDir := t.TempDir()
	reg := testRegistry(tmpDir)
	prompt := buildSystemPrompt(tmpDir, reg, "")

	for _, tool := range reg.All() {
		if !strings.Contains(prompt, "## "+tool.Name()+"\n") {
			t.Errorf("tool %s is not documented", tool.Name())
		}
	}
	if !strings.Contains(prompt, "- path: (required)") {
		t.Error("required parameters should be marked")
	}
	if !strings.Contains(prompt, "<file_pattern>file pattern here</file_pattern>") {
		t.Error("usage skeleton missing")
	}
}

func TestBuildSystemPrompt_UserOverride(t *testing.T) {
	tmpDir := t.TempDir()

	overrideDir := filepath.Join(tmpDir, ".taskloop", "prompts")
	if err := os.MkdirAll(overrideDir, 0o755); err != nil {
		t.Fatal(err)
	}
	custom := "====\n\nRULES\n\nCustom rules for testing."
	if err := os.WriteFile(filepath.Join(overrideDir, "rules.md"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}

	prompt := buildSystemPrompt(tmpDir, testRegistry(tmpDir), "")

	if !strings.Contains(prompt, "Custom rules for testing") {
		t.Error("user override for rules section was not loaded")
	}
	if strings.Contains(prompt, "STRICTLY FORBIDDEN") {
		t.Error("embedded default rules section was not replaced by override")
	}
	if !strings.Contains(prompt, "OBJECTIVE") {
		t.Error("non-overridden section (objective) is missing")
	}
}

func TestBuildSystemPrompt_ExtraAndCustomInstructions(t *testing.T) {
	tmpDir := t.TempDir()

	overrideDir := filepath.Join(tmpDir, ".taskloop", "prompts")
	if err := os.MkdirAll(overrideDir, 0o755); err != nil {
		t.Fatal(err)
	}
	extra := "This is extra project-specific context appended to the prompt."
	if err := os.WriteFile(filepath.Join(overrideDir, "_extra.md"), []byte(extra), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "TASKLOOP.md"), []byte("Always run gofmt."), 0o644); err != nil {
		t.Fatal(err)
	}

	prompt := buildSystemPrompt(tmpDir, testRegistry(tmpDir), "Prefer table tests.")

	extraIdx := strings.Index(prompt, extra)
	objectiveIdx := strings.Index(prompt, "OBJECTIVE")
	if extraIdx <= objectiveIdx {
		t.Error("_extra.md content should appear after all sections")
	}
	customIdx := strings.Index(prompt, "USER'S CUSTOM INSTRUCTIONS")
	if customIdx <= extraIdx {
		t.Error("custom instructions should come last")
	}
	if !strings.Contains(prompt, "Prefer table tests.") || !strings.Contains(prompt, "# TASKLOOP.md\n\nAlways run gofmt.") {
		t.Error("config and project instructions should both be included")
	}
}

func TestLoadPromptSection_Fallback(t *testing.T) {
	content := loadPromptSection("identity", nil)
	if !strings.Contains(content, "taskloop") {
		t.Error("loadPromptSection should return embedded default when no overrides")
	}
}

func TestLoadPromptSection_NonexistentSection(t *testing.T) {
	content := loadPromptSection("nonexistent", nil)
	if content != "" {
		t.Errorf("expected empty string for nonexistent section, got %q", content)
	}
}
