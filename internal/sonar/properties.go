package sonar

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// PropertiesFile is the scanner configuration file written into a workspace
const PropertiesFile = "sonar-project.properties"

// WorkDir is the scratch directory the scanner leaves in a workspace
const WorkDir = ".scannerwork"

// DefaultExclusions keeps build output, dependencies and VCS metadata out of a scan
var DefaultExclusions = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/vendor/**",
	"**/dist/**",
	"**/build/**",
	"**/target/**",
	"**/bin/**",
	"**/obj/**",
	"**/__pycache__/**",
	"**/*.pyc",
	"**/*.class",
	"**/*.min.js",
	"**/tests/**",
}

// Properties is the content of sonar-project.properties. Credentials never
// go into the file; scanners receive the token out of band.
type Properties struct {
	ProjectKey string
	Sources    string
	HostURL    string
	Encoding   string
	Exclusions []string
}

// Render returns the properties in key=value form
func (p Properties) Render() string {
	sources := p.Sources
	if sources == "" {
		sources = "."
	}
	encoding := p.Encoding
	if encoding == "" {
		encoding = "UTF-8"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "sonar.projectKey=%s\n", p.ProjectKey)
	fmt.Fprintf(&b, "sonar.sources=%s\n", sources)
	fmt.Fprintf(&b, "sonar.host.url=%s\n", p.HostURL)
	fmt.Fprintf(&b, "sonar.sourceEncoding=%s\n", encoding)
	if len(p.Exclusions) > 0 {
		fmt.Fprintf(&b, "sonar.exclusions=%s\n", strings.Join(p.Exclusions, ","))
	}
	return b.String()
}

// Write stores the properties file at the root of dir
func (p Properties) Write(dir string) error {
	path := filepath.Join(dir, PropertiesFile)
	if err := os.WriteFile(path, []byte(p.Render()), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", PropertiesFile, err)
	}
	return nil
}

// removeArtifacts deletes the properties file and the scanner work directory
func removeArtifacts(dir string) {
	for _, name := range []string{PropertiesFile, WorkDir} {
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			slog.Warn("failed to remove scanner artifact", "path", name, "error", err)
		}
	}
}
