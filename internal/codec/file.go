package codec

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/stormqa/stormqa/internal/scenario"
)

// SaveFile exports cfg and writes it to path. Export runs before any I/O and
// the file is replaced atomically, so a failure never leaves a partial document.
func SaveFile(path string, cfg scenario.ScenarioConfig) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	doc, err := Export(cfg)
	if err != nil {
		return err
	}
	data, err := Encode(doc)
	if err != nil {
		return fmt.Errorf("failed to encode scenario: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write scenario: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write scenario: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to set scenario permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to save scenario: %w", err)
	}
	return nil
}

// LoadFile reads and imports a scenario document.
func LoadFile(path string) (scenario.ScenarioConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return scenario.ScenarioConfig{}, fmt.Errorf("failed to read scenario: %w", err)
	}
	doc, err := Decode(data)
	if err != nil {
		return scenario.ScenarioConfig{}, err
	}
	return Import(doc)
}
