package tools

import (
	"path/filepath"
	"strings"
)

// matchFilePattern reports whether the file at rel (slash separated,
// relative to the search root) matches a glob such as "*.go", "src/*.ts"
// or "**/*_test.go". An empty pattern matches everything.
func matchFilePattern(pattern, rel string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	pattern = filepath.ToSlash(pattern)
	if !strings.Contains(pattern, "/") {
		ok, _ := filepath.Match(pattern, filepath.Base(rel))
		return ok
	}
	return matchSegments(strings.Split(pattern, "/"), strings.Split(rel, "/"))
}

func matchSegments(pat, parts []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			for i := 0; i <= len(parts); i++ {
				if matchSegments(pat[1:], parts[i:]) {
					return true
				}
			}
			return false
		}
		if len(parts) == 0 {
			return false
		}
		if ok, _ := filepath.Match(pat[0], parts[0]); !ok {
			return false
		}
		pat, parts = pat[1:], parts[1:]
	}
	return len(parts) == 0
}
