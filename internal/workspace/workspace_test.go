package workspace

import (
	"context"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/skillscout/internal/faults"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestValidateURL(t *testing.T) {
	valid := map[string]string{
		"https://github.com/acme/widgets":     "widgets",
		"https://github.com/acme/widgets.git": "widgets",
		"https://github.com/acme/widgets/":    "widgets",
		"git@github.com:acme/widgets.git":     "widgets",
		"ssh://git@example.com/acme/tool":     "tool",
		"file:///srv/git/demo.git":            "demo",
	}
	for in, want := range valid {
		name, err := ValidateURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, name, in)
	}

	invalid := []string{
		"",
		"   ",
		"not a url",
		"ftp://example.com/repo",
		"https:///repo",
		"https://github.com/",
		"--upload-pack=evil",
	}
	for _, in := range invalid {
		_, err := ValidateURL(in)
		assert.ErrorIs(t, err, ErrInvalidURL, in)
	}
}

func TestFetchRejectsInvalidURLWithoutCloning(t *testing.T) {
	f := NewFetcher(t.TempDir(), time.Second)
	f.gitPath = "/nonexistent/git"

	_, err := f.Fetch(context.Background(), "", "key")
	assert.Equal(t, faults.KindInvalidInput, faults.KindOf(err))
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestFetchReportsCloneFailure(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	f := NewFetcher(t.TempDir(), 30*time.Second)

	_, err := f.Fetch(context.Background(), "file://"+filepath.Join(t.TempDir(), "missing.git"), "key")
	require.Error(t, err)
	assert.Equal(t, faults.KindCloneFailed, faults.KindOf(err))
	assert.NotEmpty(t, err.Error())
}

func TestFetchClonesLocalRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	origin := filepath.Join(t.TempDir(), "demo")
	writeFile(t, origin, "main.go", "package main\n")
	writeFile(t, origin, "README.md", "# demo\n")
	for _, args := range [][]string{
		{"init", "-q"},
		{"add", "."},
		{"-c", "user.name=test", "-c", "user.email=test@example.com", "commit", "-q", "-m", "init"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = origin
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}

	root := t.TempDir()
	f := NewFetcher(root, 30*time.Second)
	dir, err := f.Fetch(context.Background(), "file://"+origin, "repo-1")
	require.NoError(t, err)

	assert.Equal(t, "demo", filepath.Base(dir))
	assert.Equal(t, "repo-1", filepath.Base(filepath.Dir(dir)))
	content, err := os.ReadFile(filepath.Join(dir, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(content))

	// a second fetch replaces the checkout
	dir2, err := f.Fetch(context.Background(), "file://"+origin, "repo-1")
	require.NoError(t, err)
	assert.Equal(t, dir, dir2)
}

func TestRemoveHandlesReadOnlyTrees(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ws")
	writeFile(t, root, ".git/objects/ab/cdef", "blob")
	require.NoError(t, os.Chmod(filepath.Join(root, ".git/objects/ab/cdef"), 0o444))
	require.NoError(t, os.Chmod(filepath.Join(root, ".git/objects/ab"), 0o555))

	require.NoError(t, Remove(root))
	_, err := os.Stat(root)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, Remove(root))
}

func TestSummarizeHonoursIgnores(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "secret.txt\n")
	writeFile(t, root, "cmd/app/main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, root, "secret.txt", "token")
	writeFile(t, root, "node_modules/lib/index.js", "module.exports = {}")
	writeFile(t, root, "logo.png", "\x89PNG")
	writeFile(t, root, "data.bin", "ab\x00cd")

	syn, err := Summarize(root, Limits{TreeDepth: 4, MaxSampleBytes: 4096, MaxFileBytes: 1024})
	require.NoError(t, err)

	assert.Contains(t, syn.Tree, "cmd/")
	assert.Contains(t, syn.Tree, "main.go")
	assert.NotContains(t, syn.Tree, "secret.txt")
	assert.NotContains(t, syn.Tree, "node_modules")
	assert.NotContains(t, syn.Tree, "logo.png")

	assert.Contains(t, syn.Sample, "FILE: cmd/app/main.go")
	assert.Contains(t, syn.Sample, "func main() {}")
	assert.NotContains(t, syn.Sample, "data.bin")
}

func TestSummarizeBoundsSample(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		writeFile(t, root, name, strings.Repeat("x", 500))
	}

	syn, err := Summarize(root, Limits{TreeDepth: 2, MaxSampleBytes: 700, MaxFileBytes: 200})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(syn.Sample), 700)
	assert.Contains(t, syn.Tree, "c.txt")
}

func TestBrowserStaysInsideWorkspace(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/app.py", "print('hi')\n")
	writeFile(t, root, "README.md", strings.Repeat("r", 64))
	outside := filepath.Join(t.TempDir(), "passwd")
	writeFile(t, filepath.Dir(outside), "passwd", "root:x:0:0")

	b := NewBrowser(16)

	entries, err := b.List(root, "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "src", entries[0].Name)
	assert.True(t, entries[0].IsDir)
	assert.Equal(t, "README.md", entries[1].Path)

	file, err := b.Read(root, "src/app.py")
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", file.Content)
	assert.False(t, file.Truncated)

	file, err = b.Read(root, "README.md")
	require.NoError(t, err)
	assert.Len(t, file.Content, 16)
	assert.True(t, file.Truncated)

	_, err = b.Read(root, "../../../../"+outside)
	assert.Error(t, err)

	_, err = b.Read(root, "src")
	assert.ErrorIs(t, err, ErrIsDirectory)
}

func TestBrowserHidesScannerArtifacts(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "sonar-project.properties", "sonar.token=squ_SECRET\n")
	writeFile(t, root, ".scannerwork/report-task.txt", "ceTaskId=1\n")
	writeFile(t, root, ".git/config", "[core]\n")
	require.NoError(t, os.Symlink("sonar-project.properties", filepath.Join(root, "props.txt")))

	b := NewBrowser(0)

	entries, err := b.List(root, "")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{"main.go", "props.txt"}, names)

	for _, rel := range []string{"sonar-project.properties", ".scannerwork/report-task.txt", "./.git/config", "props.txt"} {
		_, err := b.Read(root, rel)
		assert.ErrorIs(t, err, fs.ErrNotExist, rel)
	}

	_, err = b.List(root, ".scannerwork")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = b.Stat(root, "sonar-project.properties")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
