package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDirScansCompiledPrograms(t *testing.T) {
	dir := t.TempDir()
	files := map[string][]byte{
		"resnet50.nef":   []byte("aaaa"),
		"BERT.NEF":       []byte("bb"),
		"notes.txt":      []byte("ignore me"),
		"archive.nef.gz": []byte("ignore me too"),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.nef"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	execs, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if len(execs) != 2 {
		t.Fatalf("expected 2 programs, got %d: %+v", len(execs), execs)
	}
	byID := map[string]int64{}
	for _, e := range execs {
		byID[e.ID] = e.SizeBytes
		if !filepath.IsAbs(e.Path) {
			t.Fatalf("path must be absolute: %q", e.Path)
		}
	}
	if byID["resnet50.nef"] != 4 || byID["BERT.NEF"] != 2 {
		t.Fatalf("unexpected registry contents: %v", byID)
	}
}

func TestLoadDirMissingDirectory(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}
