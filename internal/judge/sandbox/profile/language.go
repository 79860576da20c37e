// Package profile defines how each supported language is compiled and run.
package profile

import (
	"path/filepath"
	"strings"
)

// LanguageSpec defines how to compile and run a language. Command templates
// are split into argument vectors; they are never handed to a shell.
//
// Placeholders: {src} is the source file, {dir} the work directory and
// {class} the artifact name (source base name without extension).
type LanguageSpec struct {
	ID               string   `yaml:"id"`
	Name             string   `yaml:"name"`
	SourceFile       string   `yaml:"sourceFile"`
	CompileEnabled   bool     `yaml:"compileEnabled"`
	CompileCmdTpl    string   `yaml:"compileCmd"`
	RunCmdTpl        string   `yaml:"runCmd"`
	Env              []string `yaml:"env"`
	CompileTimeoutMs int64    `yaml:"compileTimeoutMs"`
}

// Java is the default language.
var Java = LanguageSpec{
	ID:               "java",
	Name:             "Java",
	SourceFile:       "Main.java",
	CompileEnabled:   true,
	CompileCmdTpl:    "javac {src} -d {dir}",
	RunCmdTpl:        "java -cp {dir} {class}",
	CompileTimeoutMs: 30000,
}

// ArtifactName is the compiled class name: the source base name without its
// extension.
func (l LanguageSpec) ArtifactName() string {
	base := filepath.Base(l.SourceFile)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Registry resolves language ids.
type Registry struct {
	langs map[string]LanguageSpec
}

// NewRegistry builds a registry. An empty list registers Java only.
func NewRegistry(langs []LanguageSpec) *Registry {
	r := &Registry{langs: make(map[string]LanguageSpec)}
	if len(langs) == 0 {
		langs = []LanguageSpec{Java}
	}
	for _, l := range langs {
		id := strings.ToLower(strings.TrimSpace(l.ID))
		if id == "" {
			continue
		}
		l.ID = id
		r.langs[id] = l
	}
	return r
}

// Get returns the language registered under id (case-insensitive).
func (r *Registry) Get(id string) (LanguageSpec, bool) {
	l, ok := r.langs[strings.ToLower(strings.TrimSpace(id))]
	return l, ok
}
