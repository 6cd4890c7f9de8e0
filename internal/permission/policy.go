package permission

import (
	"path/filepath"
	"strings"

	"github.com/apexion-ai/taskloop/internal/config"
)

const (
	commandTool = "execute_command"
	writeTool   = "write_to_file"
)

// shellOperators chain or substitute commands; an allow-listed prefix must
// not smuggle a second command through them.
var shellOperators = []string{";", "&&", "||", "|", "$(", "`", "\n", ">", "<"}

// DefaultPolicy implements permission checks based on config.
type DefaultPolicy struct {
	AutoApprove         bool
	AutoApproveReadOnly bool
	AutoApproveTools    map[string]bool
	AllowedCommands     []string
	DeniedCommands      []string
	AllowedPaths        []string
	// Workdir resolves absolute paths before they are matched against
	// AllowedPaths.
	Workdir string
}

// NewDefaultPolicy creates a policy from config.
func NewDefaultPolicy(cfg *config.PermissionConfig, workdir string) *DefaultPolicy {
	approveTools := make(map[string]bool, len(cfg.AutoApproveTools))
	for _, name := range cfg.AutoApproveTools {
		approveTools[name] = true
	}

	return &DefaultPolicy{
		AutoApprove:         cfg.Mode == "auto-approve" || cfg.Mode == "yolo",
		AutoApproveReadOnly: cfg.AutoApproveReadOnly,
		AutoApproveTools:    approveTools,
		AllowedCommands:     cfg.AllowedCommands,
		DeniedCommands:      cfg.DeniedCommands,
		AllowedPaths:        cfg.AllowedPaths,
		Workdir:             workdir,
	}
}

// Check determines whether a tool invocation is allowed. Denials win over
// every approval mode.
func (p *DefaultPolicy) Check(toolName string, params map[string]string, readOnly bool) Decision {
	command := params["command"]
	if command != "" && p.IsCommandDenied(command) {
		return Deny
	}
	if toolName == writeTool && !p.IsPathAllowed(params["path"]) {
		return Deny
	}

	switch {
	case p.AutoApprove:
		return Allow
	case p.AutoApproveTools[toolName]:
		return Allow
	case readOnly && p.AutoApproveReadOnly:
		return Allow
	case toolName == commandTool && p.IsCommandAllowed(command):
		return Allow
	}
	return NeedConfirmation
}

// IsCommandDenied reports whether cmd contains any denied fragment.
func (p *DefaultPolicy) IsCommandDenied(cmd string) bool {
	for _, denied := range p.DeniedCommands {
		if denied != "" && strings.Contains(cmd, denied) {
			return true
		}
	}
	return false
}

// IsCommandAllowed checks cmd against the allow list. The match must end
// on a word boundary and the command must not chain another one.
func (p *DefaultPolicy) IsCommandAllowed(cmd string) bool {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return false
	}
	for _, op := range shellOperators {
		if strings.Contains(cmd, op) {
			return false
		}
	}
	for _, allowed := range p.AllowedCommands {
		if cmd == allowed || strings.HasPrefix(cmd, allowed+" ") {
			return true
		}
	}
	return false
}

// IsPathAllowed matches path against AllowedPaths. An empty list allows
// everything.
func (p *DefaultPolicy) IsPathAllowed(path string) bool {
	if len(p.AllowedPaths) == 0 {
		return true
	}
	clean := filepath.Clean(path)
	if filepath.IsAbs(clean) && p.Workdir != "" {
		if rel, err := filepath.Rel(p.Workdir, clean); err == nil {
			clean = rel
		}
	}
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return false
	}

	for _, pattern := range p.AllowedPaths {
		base := strings.TrimSuffix(strings.TrimSuffix(pattern, "/**"), "/*")
		base = filepath.Clean(base)
		if base == "." || clean == base || strings.HasPrefix(clean, base+"/") {
			return true
		}
		if ok, _ := filepath.Match(filepath.Clean(pattern), clean); ok {
			return true
		}
	}
	return false
}
