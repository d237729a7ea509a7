// Package manifest handles bundle.toml configuration: which artifact
// files make up a bundle and which cache database they pack into.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a bundle.toml configuration.
type Manifest struct {
	Bundle    Bundle     `toml:"bundle"`
	Artifacts []Artifact `toml:"artifacts"`

	// Dir is the directory containing the bundle.toml file (set at load time).
	Dir string `toml:"-"`
}

// Bundle contains bundle metadata and the cache output path.
type Bundle struct {
	Name  string `toml:"name"`
	Cache string `toml:"cache"`
}

// Artifact names one artifact file to pack.
type Artifact struct {
	Path string `toml:"path"`
}

// Load parses a bundle.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "bundle.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Bundle.Cache == "" {
		m.Bundle.Cache = "bundle.db"
	}

	if len(m.Artifacts) == 0 {
		return nil, fmt.Errorf("%s lists no artifacts", path)
	}
	for i, a := range m.Artifacts {
		if a.Path == "" {
			return nil, fmt.Errorf("%s: artifact %d has no path", path, i)
		}
	}

	return &m, nil
}

// CachePath returns the absolute path of the cache database.
func (m *Manifest) CachePath() string {
	return filepath.Join(m.Dir, m.Bundle.Cache)
}

// ArtifactPaths returns absolute paths for the listed artifact files.
func (m *Manifest) ArtifactPaths() []string {
	var paths []string
	for _, a := range m.Artifacts {
		paths = append(paths, filepath.Join(m.Dir, a.Path))
	}
	return paths
}
