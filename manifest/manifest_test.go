package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ember.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadManifest(t *testing.T) {
	dir := writeManifest(t, `
[project]
name = "demo"
version = "0.1.0"

[[modules]]
name = "app"
sources = ["src", "extra"]
refs = ["lib"]
output = "out/patches"

[[modules]]
name = "lib"
sources = ["lib/src"]

[build]
defines = { TIER = "dev" }
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Project.Name != "demo" || m.Project.Version != "0.1.0" {
		t.Errorf("project = %+v, want demo 0.1.0", m.Project)
	}
	if len(m.Modules) != 2 {
		t.Fatalf("modules count = %d, want 2", len(m.Modules))
	}
	app := m.ModuleNamed("app")
	if app == nil {
		t.Fatal("module app not found")
	}
	if len(app.Sources) != 2 || app.Refs[0] != "lib" {
		t.Errorf("app module = %+v", app)
	}
	if m.Build.Defines["TIER"] != "dev" {
		t.Errorf("defines = %v, want TIER=dev", m.Build.Defines)
	}
	if got := m.OutputDir(app); got != filepath.Join(m.Dir, "out/patches") {
		t.Errorf("output dir = %q", got)
	}
	paths := m.SourcePaths(app)
	if len(paths) != 2 || !filepath.IsAbs(paths[0]) {
		t.Errorf("source paths = %v, want absolute", paths)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := writeManifest(t, `
[project]
name = "minimal"

[[modules]]
name = "app"
`)
	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	app := m.ModuleNamed("app")
	if len(app.Sources) != 1 || app.Sources[0] != "src" {
		t.Errorf("default sources = %v, want [src]", app.Sources)
	}
	if app.Output != filepath.Join(".ember", "patches") {
		t.Errorf("default output = %q", app.Output)
	}
}

func TestLoadManifestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"duplicate module",
			"[[modules]]\nname = \"app\"\n[[modules]]\nname = \"app\"\n",
			"duplicate module",
		},
		{
			"empty module name",
			"[[modules]]\nsources = [\"src\"]\n",
			"empty name",
		},
		{
			"self reference",
			"[[modules]]\nname = \"app\"\nrefs = [\"app\"]\n",
			"references itself",
		},
		{
			"unknown reference",
			"[[modules]]\nname = \"app\"\nrefs = [\"nope\"]\n",
			"unknown module",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeManifest(t, tt.content)
			_, err := Load(dir)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := writeManifest(t, "[project]\nname = \"demo\"\n[[modules]]\nname = \"app\"\n")
	nested := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil || m.Project.Name != "demo" {
		t.Fatalf("manifest = %+v, want demo found from nested dir", m)
	}

	none, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad (absent) failed: %v", err)
	}
	if none != nil {
		t.Error("expected nil manifest when no ember.toml exists")
	}
}
