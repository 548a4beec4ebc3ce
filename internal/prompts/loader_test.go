package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedDefaults(t *testing.T) {
	loader, err := NewLoader()
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}

	for _, name := range []string{Review, FileSummary, Assessment} {
		if loader.Get(name) == nil {
			t.Errorf("default prompt %q not loaded", name)
		}
	}

	out, err := loader.Render(Assessment, map[string]any{
		"QuestionCount": 5,
		"OptionCount":   4,
		"Name":          "widgets",
		"Description":   "Tracks widgets",
		"Technologies":  []string{"Go", "Redis"},
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(out, "Go, Redis") {
		t.Errorf("expected technologies to be joined, got: %s", out)
	}
	if !strings.Contains(out, "integer 0-3") {
		t.Errorf("expected option index range in prompt, got: %s", out)
	}
}

func TestRenderMissingKey(t *testing.T) {
	loader, err := NewLoader()
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}

	if _, err := loader.Render(Review, map[string]any{"Tree": "x"}); err == nil {
		t.Error("expected error for missing Sample")
	}
	if _, err := loader.Render("nope", nil); err == nil {
		t.Error("expected error for unknown prompt")
	}
}

func TestLoadFromDirOverrides(t *testing.T) {
	dir := t.TempDir()

	override := "name: review\ndescription: terse\ntemplate: |\n  TREE={{ .Tree }} SAMPLE={{ .Sample }}\n"
	if err := os.WriteFile(filepath.Join(dir, "review.yaml"), []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}
	broken := "name: broken\ntemplate: \"{{ .Unclosed \"\n"
	if err := os.WriteFile(filepath.Join(dir, "broken.yml"), []byte(broken), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "noname.yaml"), []byte("template: hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	loader, err := NewLoader()
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	if err := loader.LoadFromDir(dir); err != nil {
		t.Fatalf("LoadFromDir failed: %v", err)
	}

	out, err := loader.Render(Review, map[string]string{"Tree": "a/", "Sample": "b"})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if strings.TrimSpace(out) != "TREE=a/ SAMPLE=b" {
		t.Errorf("override not applied, got %q", out)
	}

	if loader.Get("broken") != nil {
		t.Error("broken prompt should have been skipped")
	}
	if got := loader.Get(Review).Description; got != "terse" {
		t.Errorf("expected description 'terse', got %q", got)
	}
	if len(loader.Names()) != 3 {
		t.Errorf("expected 3 prompts, got %v", loader.Names())
	}
}

func TestLoadFromMissingDir(t *testing.T) {
	loader, err := NewLoader()
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	if err := loader.LoadFromDir(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("expected error for missing directory")
	}
}
