package tools

import (
	"os"
	"strings"
)

var defaultSkipDirNames = map[string]bool{
	".git":          true,
	"node_modules":  true,
	"vendor":        true,
	"__pycache__":   true,
	".next":         true,
	"dist":          true,
	"build":         true,
	"target":        true,
	".venv":         true,
	"venv":          true,
	".tox":          true,
	".mypy_cache":   true,
	".pytest_cache": true,
}

func shouldSkipDir(name string) bool {
	if defaultSkipDirNames[name] {
		return true
	}
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

func shouldSkipFile(info os.FileInfo) bool {
	return info != nil && info.Size() > 1024*1024
}
