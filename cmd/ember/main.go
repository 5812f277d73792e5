// Ember CLI - loads an ember.toml project into a live image and runs
// the patch engine against it.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/ember/manifest"
	"github.com/chazu/ember/server"
	"github.com/chazu/ember/vm"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	mainEntry := flag.String("m", "", "Main entry point (e.g., 'App.run' or 'app.App.run')")
	manifestDir := flag.String("manifest", "", "Directory containing ember.toml (default: search upward from cwd)")
	dataDir := flag.String("data", "", "Engine data directory (default: <project>/.ember)")
	serveMode := flag.Bool("serve", false, "Start the patch engine HTTP server")
	servePort := flag.Int("port", 4567, "Patch engine port (used with --serve)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ember [options] [paths...]\n\n")
		fmt.Fprintf(os.Stderr, "Loads an ember.toml project (or ad-hoc .em paths) into a live image.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  ember -m App.run               # Load project, run App.run\n")
		fmt.Fprintf(os.Stderr, "  ember ./src -m main.App.run    # Load src/ as module 'main', run entry\n")
		fmt.Fprintf(os.Stderr, "\nPatch Engine:\n")
		fmt.Fprintf(os.Stderr, "  ember --serve                  # Start engine on :4567\n")
		fmt.Fprintf(os.Stderr, "  ember --serve --port 8080      # Start engine on :8080\n")
	}
	flag.Parse()

	if *verbose {
		commonlog.Configure(1, nil)
	} else {
		commonlog.Configure(0, nil)
	}

	contexts, defines, projectDir, err := resolveProject(*manifestDir, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(contexts) == 0 {
		fmt.Fprintf(os.Stderr, "Error: no ember.toml found and no source paths given\n\n")
		flag.Usage()
		os.Exit(2)
	}

	dir := *dataDir
	if dir == "" {
		dir = filepath.Join(projectDir, ".ember")
	}

	engine, err := server.NewEngine(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	result, err := engine.Initialize(contexts, defines)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		for _, m := range result.Modules {
			fmt.Printf("Loaded module %s (%d types)\n", m.Name, m.Types)
		}
		for _, r := range result.Restored {
			fmt.Printf("Restored hook %s -> %s\n", r.Sig, r.Wrapper.Sig)
		}
	}
	for _, msg := range result.RestoreErrors {
		fmt.Fprintf(os.Stderr, "Warning: restoring hooks: %s\n", msg)
	}

	if *mainEntry != "" {
		value, err := runMain(engine.Image(), *mainEntry, *verbose)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if value.Kind() == vm.KindInt {
			os.Exit(int(value.Int()))
		}
		os.Exit(0)
	}

	if *serveMode {
		addr := fmt.Sprintf(":%d", *servePort)
		if err := engine.ListenAndServe(addr); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Nothing else to do: report what loaded and exit.
	fmt.Printf("Loaded %d modules (use -m to run an entry point, --serve for the engine)\n", len(result.Modules))
}

// resolveProject builds the engine's module contexts, either from an
// ember.toml manifest or from ad-hoc source paths treated as a single
// module named "main".
func resolveProject(manifestDir string, paths []string) ([]server.ModuleContext, map[string]string, string, error) {
	var m *manifest.Manifest
	var err error
	if manifestDir != "" {
		m, err = manifest.Load(manifestDir)
		if err != nil {
			return nil, nil, "", err
		}
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, nil, "", err
		}
		m, err = manifest.FindAndLoad(cwd)
		if err != nil {
			return nil, nil, "", err
		}
	}

	if m != nil {
		contexts := make([]server.ModuleContext, 0, len(m.Modules))
		for i := range m.Modules {
			mod := &m.Modules[i]
			contexts = append(contexts, server.ModuleContext{
				Name:    mod.Name,
				Sources: m.SourcePaths(mod),
				Refs:    mod.Refs,
				Output:  m.OutputDir(mod),
			})
		}
		return contexts, m.Build.Defines, m.Dir, nil
	}

	if len(paths) == 0 {
		return nil, nil, "", nil
	}

	sources := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, nil, "", fmt.Errorf("invalid path %q: %w", p, err)
		}
		sources = append(sources, abs)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, "", err
	}
	return []server.ModuleContext{{Name: "main", Sources: sources}}, nil, cwd, nil
}

// runMain resolves and executes the entry point. Accepts "Type.method"
// (searched across all modules) or "module.Type.method".
func runMain(img *vm.Image, entry string, verbose bool) (vm.Value, error) {
	parts := strings.Split(entry, ".")

	var class *vm.Class
	var methodName string
	switch len(parts) {
	case 2:
		// Unqualified type name: try it against every loaded module.
		for _, mod := range img.Modules() {
			if c := img.ClassIn(mod, mod+"."+parts[0]); c != nil {
				class = c
				break
			}
		}
		methodName = parts[1]
	case 3:
		class = img.ClassIn(parts[0], parts[0]+"."+parts[1])
		methodName = parts[2]
	default:
		return vm.Nil, fmt.Errorf("entry point %q is not of the form Type.method or module.Type.method", entry)
	}
	if class == nil {
		return vm.Nil, fmt.Errorf("entry point %q: type not found", entry)
	}

	method := class.MethodNamed(methodName, 0)
	if method == nil {
		return vm.Nil, fmt.Errorf("entry point %q: no zero-argument method %q on %s", entry, methodName, class.Name)
	}

	if verbose {
		fmt.Printf("Running %s\n", method.Sig())
	}

	interp := vm.NewInterp(img)
	if method.Def.IsStatic() {
		return interp.Invoke(method, vm.Nil, nil)
	}

	recv := vm.FromObject(vm.NewObject(class))
	if init := class.MethodNamed("init", 0); init != nil {
		if _, err := interp.Invoke(init, recv, nil); err != nil {
			return vm.Nil, fmt.Errorf("running %s.init: %w", class.Name, err)
		}
	}
	return interp.Invoke(method, recv, nil)
}
