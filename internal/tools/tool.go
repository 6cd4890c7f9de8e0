// Package tools defines the tool contract, the built-in tools the model can
// invoke and the registry that names them.
package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
)

// PermissionLevel describes how dangerous a tool is.
type PermissionLevel int

const (
	PermissionRead      PermissionLevel = iota // read only: may be auto-approved
	PermissionWrite                            // writes files: asks by default
	PermissionExecute                          // runs commands: asks, showing the command
	PermissionDangerous                        // always confirmed
)

// ParamSpec describes one parameter of a tool.
type ParamSpec struct {
	Name        string
	Required    bool
	Description string
}

// Result is the outcome of a tool execution.
type Result struct {
	Content   string
	Images    []string // data URLs
	IsError   bool
	Truncated bool
}

// PreviewKind selects how a pending invocation is shown.
type PreviewKind int

const (
	// PreviewTool is a JSON tool message (ask/say "tool").
	PreviewTool PreviewKind = iota
	// PreviewCommand is a raw shell command (ask "command").
	PreviewCommand
	// PreviewBrowser is a URL about to be opened (ask "browser_action_launch").
	PreviewBrowser
)

// Preview is what the user sees before an invocation runs.
type Preview struct {
	Kind PreviewKind
	Text string
}

// Tool is one capability the model can invoke with XML tags.
type Tool interface {
	// Name is the tag name, e.g. "read_file". Unique in a registry.
	Name() string

	// Description is rendered into the system prompt.
	Description() string

	// Params lists the parameters in prompt order.
	Params() []ParamSpec

	// IsReadOnly marks tools that never change the workspace.
	IsReadOnly() bool

	PermissionLevel() PermissionLevel

	// Preview renders an invocation for approval. partial is true while the
	// model is still writing it.
	Preview(params map[string]string, partial bool) Preview

	// Execute runs the tool. A returned error is a failure of the tool
	// itself; a Result with IsError is a failure the model should see.
	Execute(ctx context.Context, params map[string]string) (Result, error)
}

// Message is the JSON body of a "tool" ask or say.
type Message struct {
	Tool        string `json:"tool"`
	Path        string `json:"path,omitempty"`
	Diff        string `json:"diff,omitempty"`
	Content     string `json:"content,omitempty"`
	Regex       string `json:"regex,omitempty"`
	FilePattern string `json:"filePattern,omitempty"`
}

// Tool message kinds.
const (
	MsgEditedExistingFile      = "editedExistingFile"
	MsgNewFileCreated          = "newFileCreated"
	MsgReadFile                = "readFile"
	MsgListFilesTopLevel       = "listFilesTopLevel"
	MsgListFilesRecursive      = "listFilesRecursive"
	MsgListCodeDefinitionNames = "listCodeDefinitionNames"
	MsgSearchFiles             = "searchFiles"
	MsgInspectSite             = "inspectSite"
)

func (m Message) String() string {
	b, _ := json.Marshal(m)
	return string(b)
}

// ParseMessage decodes the text of a "tool" ask or say.
func ParseMessage(text string) (Message, bool) {
	var m Message
	if err := json.Unmarshal([]byte(text), &m); err != nil || m.Tool == "" {
		return Message{}, false
	}
	return m, true
}

// Workspace resolves tool paths against the task's working directory.
type Workspace struct {
	Dir string
}

// Resolve returns p as an absolute path inside the workspace.
func (w Workspace) Resolve(p string) string {
	if p == "" {
		p = "."
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(w.Dir, p)
}

// Rel returns p relative to the workspace when possible.
func (w Workspace) Rel(p string) string {
	if rel, err := filepath.Rel(w.Dir, w.Resolve(p)); err == nil {
		return filepath.ToSlash(rel)
	}
	return p
}

func readOnlyPreview(tool string, params map[string]string, ws Workspace) Preview {
	return Preview{Kind: PreviewTool, Text: Message{
		Tool:        tool,
		Path:        ws.Rel(params["path"]),
		Regex:       params["regex"],
		FilePattern: params["file_pattern"],
	}.String()}
}
