package project

import (
	"os"
	"path/filepath"
)

// TypeUnknown is reported when no marker file is found.
const TypeUnknown = "unknown"

// markers are checked in order; the first present file wins.
var markers = []struct {
	file string
	typ  string
}{
	{"go.mod", "go"},
	{"Cargo.toml", "rust"},
	{"package.json", "node"},
	{"pyproject.toml", "python"},
	{"setup.py", "python"},
	{"requirements.txt", "python"},
	{"pom.xml", "java"},
	{"build.gradle", "java"},
	{"build.gradle.kts", "java"},
	{"Gemfile", "ruby"},
	{"mix.exs", "elixir"},
	{"CMakeLists.txt", "cpp"},
	{"main.tex", "latex"},
}

// DetectType guesses the project's build system from marker files in dir.
func DetectType(dir string) string {
	for _, m := range markers {
		if info, err := os.Stat(filepath.Join(dir, m.file)); err == nil && !info.IsDir() {
			return m.typ
		}
	}
	return TypeUnknown
}
