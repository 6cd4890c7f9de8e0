package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

const maxDefinitionFiles = 50

// grammar says which nodes of a language are definitions worth listing.
// Nodes in leaves are listed but not descended into, so locals and nested
// closures stay out of the output.
type grammar struct {
	language func() *sitter.Language
	defs     map[string]bool
	leaves   map[string]bool
}

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

var jsDefs = set("function_declaration", "generator_function_declaration", "class_declaration",
	"method_definition", "interface_declaration", "type_alias_declaration", "enum_declaration",
	"abstract_class_declaration")
var jsLeaves = set("function_declaration", "generator_function_declaration", "method_definition",
	"interface_declaration", "type_alias_declaration", "enum_declaration", "statement_block")

var grammars = map[string]grammar{
	".go": {
		language: golang.GetLanguage,
		defs:     set("function_declaration", "method_declaration", "type_spec"),
		leaves:   set("function_declaration", "method_declaration", "type_spec"),
	},
	".py": {
		language: python.GetLanguage,
		defs:     set("class_definition", "function_definition"),
		leaves:   set("function_definition"),
	},
	".rs": {
		language: rust.GetLanguage,
		defs:     set("function_item", "struct_item", "enum_item", "trait_item", "impl_item", "mod_item", "macro_definition"),
		leaves:   set("function_item", "struct_item", "enum_item", "macro_definition"),
	},
	".js":  {language: javascript.GetLanguage, defs: jsDefs, leaves: jsLeaves},
	".jsx": {language: javascript.GetLanguage, defs: jsDefs, leaves: jsLeaves},
	".mjs": {language: javascript.GetLanguage, defs: jsDefs, leaves: jsLeaves},
	".ts":  {language: typescript.GetLanguage, defs: jsDefs, leaves: jsLeaves},
}

// ListCodeDefinitionsTool lists the top-level definitions of the source
// files in a directory.
type ListCodeDefinitionsTool struct {
	ws Workspace
}

func (t *ListCodeDefinitionsTool) Name() string                     { return "list_code_definition_names" }
func (t *ListCodeDefinitionsTool) IsReadOnly() bool                 { return true }
func (t *ListCodeDefinitionsTool) PermissionLevel() PermissionLevel { return PermissionRead }

func (t *ListCodeDefinitionsTool) Description() string {
	return "Lists definition names (classes, functions, methods, types) used in source code files at " +
		"the top level of the specified directory. This gives insight into the codebase structure and " +
		"important constructs. Supports Go, Python, Rust, JavaScript and TypeScript."
}

func (t *ListCodeDefinitionsTool) Params() []ParamSpec {
	return []ParamSpec{
		{Name: "path", Required: true, Description: "The path of the directory (relative to the current working directory) to list top level source code definitions for."},
	}
}

func (t *ListCodeDefinitionsTool) Preview(params map[string]string, _ bool) Preview {
	return readOnlyPreview(MsgListCodeDefinitionNames, params, t.ws)
}

func (t *ListCodeDefinitionsTool) Execute(ctx context.Context, params map[string]string) (Result, error) {
	if params["path"] == "" {
		return Result{}, fmt.Errorf("path is required")
	}
	dir := t.ws.Resolve(params["path"])
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := grammars[filepath.Ext(e.Name())]; ok {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	if len(files) > maxDefinitionFiles {
		files = files[:maxDefinitionFiles]
	}

	var sb strings.Builder
	for _, name := range files {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		path := filepath.Join(dir, name)
		lines, err := fileDefinitions(ctx, path)
		if err != nil || len(lines) == 0 {
			continue
		}
		sb.WriteString(t.ws.Rel(path))
		sb.WriteString("\n|----\n")
		for _, l := range lines {
			sb.WriteString("│")
			sb.WriteString(l)
			sb.WriteString("\n|----\n")
		}
		sb.WriteString("\n")
	}

	if sb.Len() == 0 {
		return Result{Content: "No source code definitions found."}, nil
	}
	return Result{Content: strings.TrimRight(sb.String(), "\n")}, nil
}

// fileDefinitions parses one file and returns the first line of every
// definition, in source order.
func fileDefinitions(ctx context.Context, path string) ([]string, error) {
	g, ok := grammars[filepath.Ext(path)]
	if !ok {
		return nil, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	p := sitter.NewParser()
	p.SetLanguage(g.language())
	tree, err := p.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	src := strings.Split(string(content), "\n")
	var out []string
	lastRow := -1
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			typ := child.Type()
			if g.defs[typ] {
				row := int(child.StartPoint().Row)
				if row != lastRow && row < len(src) {
					out = append(out, strings.TrimRight(src[row], " \t\r"))
					lastRow = row
				}
			}
			if !g.leaves[typ] {
				walk(child)
			}
		}
	}
	walk(tree.RootNode())
	return out, nil
}
