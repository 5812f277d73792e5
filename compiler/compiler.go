package compiler

import (
	"fmt"
	"sort"

	"github.com/chazu/ember/ir"
)

// ---------------------------------------------------------------------------
// Compiler entry point
// ---------------------------------------------------------------------------

// Diagnostic is a compile error with its source position.
type Diagnostic struct {
	Path    string
	Line    int
	Column  int
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d:%d: %s", d.Path, d.Line, d.Column, d.Message)
}

// CompileModule compiles a set of source files into one IR module.
// sources maps file path to content. Files are processed in path order
// so the resulting module layout is deterministic for identical input;
// metadata tokens are still unique per compilation.
func CompileModule(moduleName string, sources map[string]string) (*ir.Module, []Diagnostic, error) {
	paths := make([]string, 0, len(sources))
	for p := range sources {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	cg := &codegen{
		moduleName: moduleName,
		module:     &ir.Module{Name: moduleName},
		classes:    make(map[string]*ClassDecl),
	}

	files := make([]*File, 0, len(paths))
	for _, path := range paths {
		p := NewParser(path, sources[path])
		f := p.ParseFile()
		cg.diags = append(cg.diags, p.Errors()...)
		if f == nil {
			continue
		}
		files = append(files, f)
		for _, cls := range f.Classes {
			fq := moduleName + "." + cls.Name
			if _, dup := cg.classes[fq]; dup {
				cg.errorf(path, cls.PosVal, "duplicate class %s", cls.Name)
				continue
			}
			cg.classes[fq] = cls
		}
	}

	if len(cg.diags) == 0 {
		for _, f := range files {
			for _, cls := range f.Classes {
				if cg.classes[moduleName+"."+cls.Name] == cls {
					cg.genClass(f.Path, cls)
				}
			}
		}
	}

	if len(cg.diags) > 0 {
		return nil, cg.diags, fmt.Errorf("compiler: %d error(s) in module %s", len(cg.diags), moduleName)
	}
	return cg.module, nil, nil
}
