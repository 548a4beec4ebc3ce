package sonar

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/terra-clan/skillscout/internal/models"
)

var errNotUTF8 = errors.New("file is not valid UTF-8")

// ExtractSnippet returns the source text covered by r. For a single-line
// range the offsets select a substring of the line; for multi-line ranges the
// whole lines are returned and offsets are ignored. Offsets count runes.
func ExtractSnippet(path string, r *models.TextRange) (string, error) {
	if r == nil {
		return "", errors.New("no text range")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", errNotUTF8
	}

	lines := strings.SplitAfter(string(data), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	start := r.StartLine
	if start < 1 {
		start = 1
	}
	end := r.EndLine
	if end < start {
		end = start
	}
	if start > len(lines) {
		return "", fmt.Errorf("line %d out of range (%d lines)", start, len(lines))
	}
	if end > len(lines) {
		end = len(lines)
	}

	if start == end {
		line := []rune(lines[start-1])
		from := clamp(r.StartOffset, len(line))
		to := len(line)
		// an EndOffset of 0 means the range carries no end column, so the
		// rest of the line is taken
		if r.EndOffset > 0 {
			to = clamp(r.EndOffset, len(line))
		}
		if from >= to {
			return "", nil
		}
		return strings.TrimSpace(string(line[from:to])), nil
	}

	return strings.TrimSpace(strings.Join(lines[start-1:end], "")), nil
}

func clamp(v, upper int) int {
	if v < 0 {
		return 0
	}
	if v > upper {
		return upper
	}
	return v
}
