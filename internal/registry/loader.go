package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"accelrt/internal/config"
	"accelrt/pkg/types"
)

// LoadDir scans a directory for *.nef compiled programs and builds a
// registry from filenames. ID is the full filename (including extension);
// Path is the absolute file path.
func LoadDir(dir string) ([]types.Executable, error) {
	base, err := config.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var execs []types.Executable
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".nef") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		execs = append(execs, types.Executable{
			ID:        name,
			Name:      name,
			Path:      filepath.Join(abs, name),
			SizeBytes: info.Size(),
		})
	}
	return execs, nil
}
