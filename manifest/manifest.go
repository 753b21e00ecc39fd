// Package manifest handles merlin.toml workspace configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a merlin.toml workspace configuration.
type Manifest struct {
	Project Project `toml:"project"`
	Source  Source  `toml:"source"`
	Profile Profile `toml:"profile"`

	// Dir is the directory containing the merlin.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains workspace metadata.
type Project struct {
	Name      string `toml:"name"`
	Namespace string `toml:"namespace"`
	Version   string `toml:"version"`
}

// Source configures source file locations.
type Source struct {
	Dirs  []string `toml:"dirs"`
	Entry string   `toml:"entry"`
}

// Profile configures the execution profiler.
type Profile struct {
	Output string `toml:"output"`
}

// Load parses a merlin.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "merlin.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	m.Dir = dir

	if m.Project.Name == "" {
		return nil, fmt.Errorf("%s: project.name is required", path)
	}
	if m.Project.Namespace == "" {
		m.Project.Namespace = m.Project.Name
	}
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"."}
	}
	return &m, nil
}

// Exists reports whether a merlin.toml is present in dir.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "merlin.toml"))
	return err == nil
}

// SourceDirs returns the configured source directories resolved against the
// manifest directory.
func (m *Manifest) SourceDirs() []string {
	dirs := make([]string, 0, len(m.Source.Dirs))
	for _, d := range m.Source.Dirs {
		if filepath.IsAbs(d) {
			dirs = append(dirs, d)
		} else {
			dirs = append(dirs, filepath.Join(m.Dir, d))
		}
	}
	return dirs
}
