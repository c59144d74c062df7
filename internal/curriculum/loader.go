// Package curriculum holds the immutable course shape: units, lessons, unit tests and the
// final test, with their reward maxima.
package curriculum

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// DefaultFileName is looked up when the configured path is a directory.
const DefaultFileName = "curriculum.yaml"

// Parse decodes and validates a curriculum YAML document.
func Parse(data []byte) (*Curriculum, error) {
	var c Curriculum
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding curriculum: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid curriculum: %w", err)
	}
	return &c, nil
}

// Default returns the built-in curriculum.
func Default() *Curriculum {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded curriculum: %v", err))
	}
	return c
}

// Load reads the curriculum at path. A directory is searched for curriculum.yaml.
// An empty path yields the built-in curriculum.
func Load(path string) (*Curriculum, error) {
	if path == "" {
		return Default(), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("loading curriculum: %w", err)
	}
	if info.IsDir() {
		path = filepath.Join(path, DefaultFileName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading curriculum: %w", err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, err
	}

	slog.Info("curriculum loaded",
		"path", path,
		"version", c.Version,
		"units", len(c.Units),
		"lessons", c.TotalLessons(),
	)
	return c, nil
}
