// Package manifest handles ember.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents an ember.toml project configuration.
type Manifest struct {
	Project Project  `toml:"project"`
	Modules []Module `toml:"modules"`
	Build   Build    `toml:"build"`

	// Dir is the directory containing the ember.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Module configures one compilation unit: where its sources live,
// which other modules it references, and where synthesized patches go.
type Module struct {
	Name    string   `toml:"name"`
	Sources []string `toml:"sources"`
	Refs    []string `toml:"refs"`
	Output  string   `toml:"output"`
}

// Build contains compile-time settings shared by every module.
type Build struct {
	Defines map[string]string `toml:"defines"`
}

// Load parses an ember.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "ember.toml")
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
	for i := range m.Modules {
		mod := &m.Modules[i]
		if len(mod.Sources) == 0 {
			mod.Sources = []string{"src"}
		}
		if mod.Output == "" {
			mod.Output = filepath.Join(".ember", "patches")
		}
	}

	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find an ember.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "ember.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) validate() error {
	seen := make(map[string]bool)
	for _, mod := range m.Modules {
		if mod.Name == "" {
			return fmt.Errorf("module with empty name")
		}
		if seen[mod.Name] {
			return fmt.Errorf("duplicate module %q", mod.Name)
		}
		seen[mod.Name] = true
		for _, ref := range mod.Refs {
			if ref == mod.Name {
				return fmt.Errorf("module %q references itself", mod.Name)
			}
		}
	}
	for _, mod := range m.Modules {
		for _, ref := range mod.Refs {
			if !seen[ref] {
				return fmt.Errorf("module %q references unknown module %q", mod.Name, ref)
			}
		}
	}
	return nil
}

// ModuleNamed returns the module entry with the given name, or nil.
func (m *Manifest) ModuleNamed(name string) *Module {
	for i := range m.Modules {
		if m.Modules[i].Name == name {
			return &m.Modules[i]
		}
	}
	return nil
}

// SourcePaths returns absolute paths for a module's source entries.
// Entries may be directories or individual files.
func (m *Manifest) SourcePaths(mod *Module) []string {
	var paths []string
	for _, s := range mod.Sources {
		if filepath.IsAbs(s) {
			paths = append(paths, s)
			continue
		}
		paths = append(paths, filepath.Join(m.Dir, s))
	}
	return paths
}

// OutputDir returns the absolute patch output directory for a module.
func (m *Manifest) OutputDir(mod *Module) string {
	if filepath.IsAbs(mod.Output) {
		return mod.Output
	}
	return filepath.Join(m.Dir, mod.Output)
}
