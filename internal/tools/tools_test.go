package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apexion-ai/taskloop/internal/config"
	"github.com/apexion-ai/taskloop/internal/parser"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestReadFile(t *testing.T) {
	tmp := t.TempDir()
	writeFiles(t, tmp, map[string]string{"a.txt": "hello\n", "bin.dat": "ab\x00cd"})
	tool := &ReadFileTool{ws: Workspace{Dir: tmp}}

	result, err := tool.Execute(context.Background(), map[string]string{"path": "a.txt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "hello\n" {
		t.Errorf("content = %q", result.Content)
	}

	if _, err := tool.Execute(context.Background(), map[string]string{"path": "bin.dat"}); err == nil {
		t.Error("binary file should fail")
	}
	if _, err := tool.Execute(context.Background(), map[string]string{"path": "missing.txt"}); err == nil {
		t.Error("missing file should fail")
	}
	if _, err := tool.Execute(context.Background(), map[string]string{"path": "."}); err == nil {
		t.Error("directory should fail")
	}
}

func TestWriteFile_CreateAndOverwrite(t *testing.T) {
	tmp := t.TempDir()
	tool := &WriteFileTool{ws: Workspace{Dir: tmp}}

	result, err := tool.Execute(context.Background(), map[string]string{"path": "sub/new.go", "content": "package sub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Content, "has been created") {
		t.Errorf("unexpected result: %s", result.Content)
	}
	data, _ := os.ReadFile(filepath.Join(tmp, "sub", "new.go"))
	if string(data) != "package sub\n" {
		t.Errorf("file content = %q", data)
	}

	result, err = tool.Execute(context.Background(), map[string]string{"path": "sub/new.go", "content": "package sub2\n"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Content, "changes have been applied") {
		t.Errorf("unexpected result: %s", result.Content)
	}
}

func TestWriteFile_StripsCodeFences(t *testing.T) {
	got := normalizeContent("```go\npackage a\n```")
	if got != "package a\n" {
		t.Errorf("normalizeContent = %q", got)
	}
}

func TestWriteFile_PreviewDiff(t *testing.T) {
	tmp := t.TempDir()
	writeFiles(t, tmp, map[string]string{"a.txt": "one\ntwo\n"})
	tool := &WriteFileTool{ws: Workspace{Dir: tmp}}

	p := tool.Preview(map[string]string{"path": "a.txt", "content": "one\nthree\n"}, false)
	msg, ok := ParseMessage(p.Text)
	if !ok {
		t.Fatalf("preview is not a tool message: %s", p.Text)
	}
	if msg.Tool != MsgEditedExistingFile {
		t.Errorf("tool = %s", msg.Tool)
	}
	if !strings.Contains(msg.Diff, "-two") || !strings.Contains(msg.Diff, "+three") {
		t.Errorf("diff = %s", msg.Diff)
	}

	p = tool.Preview(map[string]string{"path": "b.txt", "content": "new"}, true)
	msg, _ = ParseMessage(p.Text)
	if msg.Tool != MsgNewFileCreated || msg.Content != "new\n" {
		t.Errorf("new file preview = %+v", msg)
	}
}

func TestListFiles(t *testing.T) {
	tmp := t.TempDir()
	writeFiles(t, tmp, map[string]string{
		"main.go":             "",
		"pkg/util.go":         "",
		"node_modules/x/y.js": "",
		"pkg/deep/deeper.go":  "",
	})
	tool := &ListFilesTool{ws: Workspace{Dir: tmp}}

	result, err := tool.Execute(context.Background(), map[string]string{"path": "."})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "main.go\nnode_modules/\npkg/" {
		t.Errorf("top level = %q", result.Content)
	}

	result, err = tool.Execute(context.Background(), map[string]string{"path": ".", "recursive": "true"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"pkg/util.go", "pkg/deep/deeper.go", "node_modules/"} {
		if !strings.Contains(result.Content, want) {
			t.Errorf("recursive listing missing %s:\n%s", want, result.Content)
		}
	}
	if strings.Contains(result.Content, "y.js") {
		t.Error("node_modules should not be descended into")
	}
}

func TestSearchFiles(t *testing.T) {
	tmp := t.TempDir()
	writeFiles(t, tmp, map[string]string{
		"a.go":        "package a\n// TODO: fix\n",
		"b.ts":        "// TODO: later\n",
		"sub/c.go":    "func c() {} // TODO\n",
		".git/config": "TODO",
	})
	tool := &SearchFilesTool{ws: Workspace{Dir: tmp}}

	result, err := tool.Execute(context.Background(), map[string]string{"path": ".", "regex": "TODO", "file_pattern": "*.go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(result.Content, "Found 2 results.") {
		t.Errorf("unexpected header:\n%s", result.Content)
	}
	if !strings.Contains(result.Content, "│2: // TODO: fix") {
		t.Errorf("missing line match:\n%s", result.Content)
	}
	if strings.Contains(result.Content, "b.ts") || strings.Contains(result.Content, ".git") {
		t.Errorf("pattern or skip dirs ignored:\n%s", result.Content)
	}

	if _, err := tool.Execute(context.Background(), map[string]string{"path": ".", "regex": "("}); err == nil {
		t.Error("invalid regex should fail")
	}
}

func TestMatchFilePattern(t *testing.T) {
	tests := []struct {
		pattern, rel string
		want         bool
	}{
		{"", "a/b.go", true},
		{"*.go", "a/b.go", true},
		{"*.go", "a/b.ts", false},
		{"src/*.ts", "src/x.ts", true},
		{"src/*.ts", "src/deep/x.ts", false},
		{"**/*_test.go", "a/b/c_test.go", true},
		{"**/*_test.go", "c_test.go", true},
	}
	for _, tt := range tests {
		if got := matchFilePattern(tt.pattern, tt.rel); got != tt.want {
			t.Errorf("matchFilePattern(%q, %q) = %v, want %v", tt.pattern, tt.rel, got, tt.want)
		}
	}
}

func TestListCodeDefinitions(t *testing.T) {
	tmp := t.TempDir()
	writeFiles(t, tmp, map[string]string{
		"main.go":  "package main\n\ntype Server struct{}\n\nfunc (s *Server) Start() error {\n\tf := func() {}\n\t_ = f\n\treturn nil\n}\n\nfunc main() {}\n",
		"util.py":  "class Helper:\n    def run(self):\n        pass\n",
		"notes.md": "# not code\n",
	})
	tool := &ListCodeDefinitionsTool{ws: Workspace{Dir: tmp}}

	result, err := tool.Execute(context.Background(), map[string]string{"path": "."})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"main.go", "│type Server struct{}", "│func (s *Server) Start() error {", "│func main() {}", "util.py", "│class Helper:", "│    def run(self):"} {
		if !strings.Contains(result.Content, want) {
			t.Errorf("missing %q in:\n%s", want, result.Content)
		}
	}
	if strings.Contains(result.Content, "f := func") || strings.Contains(result.Content, "notes.md") {
		t.Errorf("unexpected content:\n%s", result.Content)
	}
}

func TestExecuteCommand(t *testing.T) {
	tmp := t.TempDir()
	tool := &ExecuteCommandTool{ws: Workspace{Dir: tmp}}

	result, err := tool.Execute(context.Background(), map[string]string{"command": "echo hello && pwd"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Content, "hello") {
		t.Errorf("output = %s", result.Content)
	}

	result, err = tool.Execute(context.Background(), map[string]string{"command": "exit 3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "Command failed") {
		t.Errorf("failing command = %+v", result)
	}
}

func TestValidateSiteURL(t *testing.T) {
	if _, err := validateSiteURL("http://localhost:3000"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := validateSiteURL("file:///tmp/index.html"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := validateSiteURL("ftp://example.com"); err == nil {
		t.Error("ftp should be rejected")
	}
	if _, err := validateSiteURL(""); err == nil {
		t.Error("empty url should be rejected")
	}
}

func TestTruncateHeadTail(t *testing.T) {
	s := strings.Repeat("a", 60) + strings.Repeat("b", 40) + strings.Repeat("c", 100)
	out := truncateHeadTail(s, 100)
	if !strings.HasPrefix(out, strings.Repeat("a", 60)) {
		t.Error("head not kept")
	}
	if !strings.HasSuffix(out, strings.Repeat("c", 40)) {
		t.Error("tail not kept")
	}
	if !strings.Contains(out, "[...100 chars omitted...]") {
		t.Errorf("missing marker: %s", out)
	}
}

func TestRunBoundsOutput(t *testing.T) {
	tmp := t.TempDir()
	tool := &ExecuteCommandTool{ws: Workspace{Dir: tmp}}

	result, err := Run(context.Background(), tool, map[string]string{"command": "head -c 100000 /dev/zero | tr '\\0' x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Truncated || len(result.Content) > 64*1024+100 {
		t.Errorf("output not bounded: %d bytes, truncated=%v", len(result.Content), result.Truncated)
	}
}

func TestRegistryVocabulary(t *testing.T) {
	reg := DefaultRegistry(Workspace{Dir: t.TempDir()}, config.BrowserConfig{Headless: true})
	if len(reg.All()) != 9 {
		t.Fatalf("expected 9 tools, got %d", len(reg.All()))
	}

	p := parser.New(reg.Vocabulary())
	p.Append("Checking.\n<search_files>\n<path>.</path>\n<regex>x</regex>\n<file_pattern>*.go</file_pattern>\n</search_files>")
	segs := p.Finish()
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	inv, ok := segs[1].(*parser.ToolInvocation)
	if !ok {
		t.Fatalf("second segment is %T", segs[1])
	}
	if inv.Name != "search_files" || inv.Params.Value("file_pattern") != "*.go" {
		t.Errorf("invocation = %+v", inv)
	}
}

func TestWorkspace(t *testing.T) {
	ws := Workspace{Dir: "/work"}
	if got := ws.Resolve("a/b.go"); got != "/work/a/b.go" {
		t.Errorf("Resolve = %s", got)
	}
	if got := ws.Rel("/work/a/b.go"); got != "a/b.go" {
		t.Errorf("Rel = %s", got)
	}
	if got := ws.Resolve(""); got != "/work" {
		t.Errorf("Resolve empty = %s", got)
	}
}
