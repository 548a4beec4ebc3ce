// Package prompts loads the instruction templates sent to the generative
// endpoint. Built-in defaults are embedded; YAML files in a directory
// override them by name.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Names of the prompts the service relies on
const (
	Review      = "review"
	FileSummary = "file_summary"
	Assessment  = "assessment"
)

//go:embed defaults/*.yaml
var defaults embed.FS

var funcs = template.FuncMap{
	"join": strings.Join,
	"sub":  func(a, b int) int { return a - b },
}

// Prompt is one named template
type Prompt struct {
	Name        string
	Description string
	Source      string
	tmpl        *template.Template
}

// Loader manages loading and caching of prompts
type Loader struct {
	mu      sync.RWMutex
	prompts map[string]*Prompt
}

// NewLoader creates a loader holding the embedded defaults
func NewLoader() (*Loader, error) {
	l := &Loader{prompts: make(map[string]*Prompt)}

	entries, err := defaults.ReadDir("defaults")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded prompts: %w", err)
	}
	for _, entry := range entries {
		data, err := defaults.ReadFile("defaults/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded prompt %s: %w", entry.Name(), err)
		}
		if err := l.load(data, "embedded:"+entry.Name()); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// LoadFromDir loads all YAML prompts from a directory, replacing defaults of
// the same name. Invalid files are logged and skipped.
func (l *Loader) LoadFromDir(dir string) error {
	slog.Info("loading prompts from directory", "dir", dir)

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("failed to read prompts dir: %w", err)
		}
	}

	loaded := 0
	for _, file := range files {
		if err := l.LoadFromFile(file); err != nil {
			slog.Warn("failed to load prompt", "file", file, "error", err)
			continue
		}
		loaded++
	}

	slog.Info("prompts loaded", "count", loaded, "total_files", len(files))
	return nil
}

// LoadFromFile loads a single prompt from a YAML file
func (l *Loader) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return l.load(data, path)
}

func (l *Loader) load(data []byte, origin string) error {
	var pf promptFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	if pf.Name == "" {
		return fmt.Errorf("prompt name is required")
	}
	if strings.TrimSpace(pf.Template) == "" {
		return fmt.Errorf("prompt template is required")
	}

	tmpl, err := template.New(pf.Name).Funcs(funcs).Option("missingkey=error").Parse(pf.Template)
	if err != nil {
		return fmt.Errorf("failed to parse template %s: %w", pf.Name, err)
	}

	l.mu.Lock()
	l.prompts[pf.Name] = &Prompt{
		Name:        pf.Name,
		Description: pf.Description,
		Source:      origin,
		tmpl:        tmpl,
	}
	l.mu.Unlock()

	slog.Debug("prompt loaded", "name", pf.Name, "source", origin)
	return nil
}

// Get retrieves a prompt by name
func (l *Loader) Get(name string) *Prompt {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.prompts[name]
}

// Names returns the loaded prompt names, sorted
func (l *Loader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.prompts))
	for name := range l.prompts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render executes the named prompt with data
func (l *Loader) Render(name string, data any) (string, error) {
	p := l.Get(name)
	if p == nil {
		return "", fmt.Errorf("prompt %q not found", name)
	}

	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}

// promptFile represents the YAML structure of a prompt file
type promptFile struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Template    string `yaml:"template"`
}
