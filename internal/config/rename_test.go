package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/rememory/internal/config"
)

const renameYAML = `# ReMemory settings
profiles:
  - id: main
    provider: openai
rememory:
  popup_pct: 10
  book_assignments:
    # Ana keeps her own journal.
    ana.png: Ana's Journal
    bram.png: Bram's Notes
`

func TestRenameCharacterFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, renameYAML)

	moved, err := config.RenameCharacterFile(path, "ana.png", "ana-v2.png")
	if err != nil || !moved {
		t.Fatalf("RenameCharacterFile = %v, %v; want true, nil", moved, err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := cfg.Memory.BookAssignments
	if got["ana-v2.png"] != "Ana's Journal" || got["bram.png"] != "Bram's Notes" {
		t.Errorf("book_assignments = %v", got)
	}
	if _, ok := got["ana.png"]; ok {
		t.Error("old key still present")
	}

	data, _ := os.ReadFile(path)
	for _, want := range []string{"# ReMemory settings", "# Ana keeps her own journal."} {
		if !strings.Contains(string(data), want) {
			t.Errorf("comment %q lost:\n%s", want, data)
		}
	}
}

func TestRenameCharacterFile_NoAssignment(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, renameYAML)

	moved, err := config.RenameCharacterFile(path, "cleo.png", "cleo2.png")
	if err != nil || moved {
		t.Errorf("RenameCharacterFile = %v, %v; want false, nil", moved, err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != renameYAML {
		t.Error("file rewritten although nothing moved")
	}
}

func TestRenameCharacterFile_TargetTaken(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, renameYAML)

	_, err := config.RenameCharacterFile(path, "ana.png", "bram.png")
	if !errors.Is(err, config.ErrCharacterExists) {
		t.Errorf("err = %v, want ErrCharacterExists", err)
	}
}

func TestRenameCharacterFile_InvalidFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "server:\n  log_level: bananas\n")

	if _, err := config.RenameCharacterFile(path, "a", "b"); err == nil {
		t.Error("expected error for invalid config")
	}
}
