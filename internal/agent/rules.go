package agent

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	maxFileBytes  = 8 * 1024  // 8 KB per file
	maxTotalBytes = 16 * 1024 // 16 KB total
)

// loadProjectRules collects TASKLOOP.md and .taskloop/rules.md files from
// the user's config directory, the git root and the working directory.
// Returns empty string if no rule files are found.
func loadProjectRules(cwd string) string {
	if cwd == "" {
		var err error
		cwd, err = os.Getwd()
		if err != nil {
			return ""
		}
	}

	gitRoot := findGitRoot(cwd)
	paths := candidatePaths(cwd, gitRoot)

	var sections []string
	totalBytes := 0

	for _, p := range paths {
		if totalBytes >= maxTotalBytes {
			break
		}

		content := readContextFile(p)
		if content == "" {
			continue
		}

		remaining := maxTotalBytes - totalBytes
		if len(content) > remaining {
			content = content[:remaining] + "\n[Truncated: context file too large]"
		}

		totalBytes += len(content)
		sections = append(sections, fmt.Sprintf("# %s\n\n%s", filepath.Base(p), content))
	}

	if len(sections) == 0 {
		return ""
	}

	return strings.Join(sections, "\n\n")
}

// findGitRoot runs `git rev-parse --show-toplevel` to find the repository root.
// Returns empty string if not inside a git repository.
func findGitRoot(cwd string) string {
	cmd := exec.Command(gitExecutable(), "rev-parse", "--show-toplevel")
	cmd.Dir = cwd
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// gitExecutable returns the git binary path, checking common locations.
func gitExecutable() string {
	if p, err := exec.LookPath("git"); err == nil {
		return p
	}
	for _, candidate := range []string{"/usr/bin/git", "/usr/local/bin/git", "/opt/homebrew/bin/git"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return "git"
}

// candidatePaths returns the rule files to try, global first. Duplicate
// paths (when cwd == gitRoot) are removed.
func candidatePaths(cwd, gitRoot string) []string {
	seen := make(map[string]bool)
	var paths []string

	add := func(p string) {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			return
		}
		seen[abs] = true
		paths = append(paths, abs)
	}

	if home, err := os.UserHomeDir(); err == nil {
		add(filepath.Join(home, ".config", "taskloop", "rules.md"))
	}
	if gitRoot != "" && gitRoot != cwd {
		add(filepath.Join(gitRoot, ".taskloop", "rules.md"))
		add(filepath.Join(gitRoot, "TASKLOOP.md"))
	}
	add(filepath.Join(cwd, ".taskloop", "rules.md"))
	add(filepath.Join(cwd, "TASKLOOP.md"))

	return paths
}

// readContextFile reads a rule file, truncated at maxFileBytes.
func readContextFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return ""
	}

	if len(content) > maxFileBytes {
		content = content[:maxFileBytes] + "\n[Truncated: file exceeds 8KB limit]"
	}

	return content
}
