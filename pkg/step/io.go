package step

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeFile atomically writes data to dir/name, creating dir if
// needed, reusing workdir's temp-then-rename contract so a crash
// mid-write never leaves a truncated cache file behind.
func writeFile(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("step: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("step: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("step: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("step: rename into place: %w", err)
	}
	return nil
}

func readFile(dir, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("step: read %s/%s: %w", dir, name, err)
	}
	return data, nil
}
