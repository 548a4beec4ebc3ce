package workspace

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	ignore "github.com/sabhiram/go-gitignore"
)

var defaultIgnores = []string{
	"node_modules/",
	"vendor/",
	"target/",
	"build/",
	"out/",
	"dist/",
	"bin/",
	"obj/",
	".git/",
	".DS_Store",
	".idea/",
	".vscode/",
	"__pycache__/",
	".pytest_cache/",
	"coverage/",
	".scannerwork/",
	"sonar-project.properties",
	"*.class",
	"*.pyc",
	"*.png",
	"*.jpg",
	"*.jpeg",
	"*.gif",
	"*.ico",
	"*.svg",
	"*.mp4",
	"*.woff",
	"*.woff2",
	"*.ttf",
	"*.log",
	"*.exe",
	"*.lock",
	"package-lock.json",
	"go.sum",
}

// Limits bounds the synopsis handed to the AI reviewer
type Limits struct {
	TreeDepth      int
	MaxSampleBytes int
	MaxFileBytes   int
}

// Synopsis is a directory tree plus a bounded sample of source text
type Synopsis struct {
	Tree   string
	Sample string
}

func matcher(root string) *ignore.GitIgnore {
	patterns := append([]string{}, defaultIgnores...)
	if content, err := os.ReadFile(filepath.Join(root, ".gitignore")); err == nil {
		patterns = append(patterns, strings.Split(string(content), "\n")...)
	}
	return ignore.CompileIgnoreLines(patterns...)
}

func ignored(m *ignore.GitIgnore, rel string, dir bool) bool {
	if dir {
		rel += string(filepath.Separator)
	}
	return m.MatchesPath(rel)
}

// Summarize walks the checkout at root honouring .gitignore and the default
// ignore list.
func Summarize(root string, limits Limits) (*Synopsis, error) {
	m := matcher(root)

	var tree, sample bytes.Buffer
	tree.WriteString(filepath.Base(root) + "/\n")
	remaining := limits.MaxSampleBytes

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." {
			return nil
		}
		if ignored(m, rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		depth := strings.Count(rel, string(filepath.Separator))
		if limits.TreeDepth >= 0 && depth > limits.TreeDepth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		indent := strings.Repeat("  ", depth+1)
		if d.IsDir() {
			tree.WriteString(indent + d.Name() + "/\n")
			return nil
		}
		tree.WriteString(indent + d.Name() + "\n")

		if remaining <= 0 || !d.Type().IsRegular() {
			return nil
		}
		text, ok := readText(p, limits.MaxFileBytes)
		if !ok {
			return nil
		}
		block := "================\nFILE: " + filepath.ToSlash(rel) + "\n================\n" + text + "\n\n"
		if len(block) > remaining {
			block = truncateUTF8(block, remaining)
		}
		sample.WriteString(block)
		remaining -= len(block)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Synopsis{Tree: tree.String(), Sample: sample.String()}, nil
}

// readText returns up to limit bytes of a text file. Binary files are rejected.
func readText(p string, limit int) (string, bool) {
	f, err := os.Open(p)
	if err != nil {
		return "", false
	}
	defer f.Close()

	if limit <= 0 {
		limit = 8 * 1024
	}
	buf := make([]byte, limit)
	n, _ := io.ReadFull(f, buf)
	buf = buf[:n]
	if n == 0 || bytes.IndexByte(buf, 0) >= 0 {
		return "", false
	}
	return trimPartialRune(string(buf)), true
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return trimPartialRune(s[:n])
}

// trimPartialRune drops a multi-byte sequence cut off at the end of s
func trimPartialRune(s string) string {
	for i := 0; i < utf8.UTFMax && len(s) > 0; i++ {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size > 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}
