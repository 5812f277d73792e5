// Package server exposes the patching pipeline over a loopback
// HTTP/JSON API: initialize, compile-diff, synthesize, apply-hooks.
package server

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/ember/compiler"
	"github.com/chazu/ember/ir"
	"github.com/chazu/ember/patch"
	"github.com/chazu/ember/vm"
)

var engineLog = commonlog.GetLogger("ember.server")

// ErrUnknownModule is returned for operations on a module that was not
// part of Initialize.
var ErrUnknownModule = errors.New("server: unknown module")

// ModuleContext describes one compilation unit the engine manages.
type ModuleContext struct {
	Name    string   `json:"name"`
	Sources []string `json:"sources"`          // .em files or directories
	Refs    []string `json:"refs,omitempty"`   // modules to load first
	Output  string   `json:"output,omitempty"` // patch output dir
}

// Engine drives the compile → diff → synthesize → apply pipeline over
// one live image. Cycles for different modules may run concurrently;
// operations for one module serialize on its cycle lock, and all
// mutation of the image funnels through a single worker goroutine.
type Engine struct {
	dataDir string

	img     *vm.Image
	worker  *ImageWorker
	store   *patch.Store
	applier *patch.Applier
	db      *sql.DB

	mu       sync.Mutex
	contexts map[string]*ModuleContext
	defines  map[string]string
	cycles   map[string]*cycle
}

// cycle is the pending state between CompileAndDiff and ApplyHooks for
// one module.
type cycle struct {
	mu        sync.Mutex
	candidate *ir.Module
	diff      patch.Diff
	pm        *ir.Module
	patchPath string
	failed    map[string]bool // sigs that failed synthesis
}

// workerRuntime funnels the applier's image mutations through the
// worker goroutine.
type workerRuntime struct {
	w *ImageWorker
}

func (r workerRuntime) LoadPatchModule(mod *ir.Module) error {
	return r.w.Do(func(img *vm.Image) error { return img.LoadPatchModule(mod) })
}

func (r workerRuntime) RedirectSig(origModule, origSig, wrapperModule, wrapperSig string) error {
	return r.w.Do(func(img *vm.Image) error {
		return img.RedirectSig(origModule, origSig, wrapperModule, wrapperSig)
	})
}

// NewEngine creates an engine persisting patches and hook records
// under dataDir.
func NewEngine(dataDir string) (*Engine, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("server: create data dir: %w", err)
	}
	db, err := openHooksDB(filepath.Join(dataDir, "hooks.db"))
	if err != nil {
		return nil, err
	}

	img := vm.NewImage()
	worker := NewImageWorker(img)
	e := &Engine{
		dataDir:  dataDir,
		img:      img,
		worker:   worker,
		store:    patch.NewStore(),
		applier:  patch.NewApplier(workerRuntime{w: worker}),
		db:       db,
		contexts: make(map[string]*ModuleContext),
		cycles:   make(map[string]*cycle),
	}
	return e, nil
}

// Close stops the worker and closes the record database.
func (e *Engine) Close() error {
	e.worker.Stop()
	return e.db.Close()
}

// Image returns the engine's live image, for hosts that run programs
// on it.
func (e *Engine) Image() *vm.Image {
	return e.img
}

// ---------------------------------------------------------------------------
// Initialize
// ---------------------------------------------------------------------------

// ModuleSummary reports one initialized module.
type ModuleSummary struct {
	Name  string `json:"name"`
	Types int    `json:"types"`
}

// InitializeResult is the response of the initialize operation.
type InitializeResult struct {
	Modules       []ModuleSummary    `json:"modules"`
	Restored      []patch.HookRecord `json:"restored,omitempty"`
	RestoreErrors []string           `json:"restoreErrors,omitempty"`
}

// Initialize compiles every module context, loads the results into the
// image, and seeds the snapshot store and call graph baseline. If hook
// records were persisted by a previous process, their hooks are
// re-established and returned.
func (e *Engine) Initialize(contexts []ModuleContext, defines map[string]string) (*InitializeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.contexts = make(map[string]*ModuleContext, len(contexts))
	e.defines = defines
	e.cycles = make(map[string]*cycle)
	e.store.Clear()

	result := &InitializeResult{}
	for _, ctx := range orderContexts(contexts) {
		ctx := ctx
		e.contexts[ctx.Name] = &ctx

		sources, err := e.readSources(&ctx)
		if err != nil {
			return nil, err
		}
		mod, diags, err := compiler.CompileModule(ctx.Name, sources)
		if err != nil {
			return nil, fmt.Errorf("server: initialize %s: %w\n%s", ctx.Name, err, joinDiagnostics(diags))
		}
		if err := e.worker.Do(func(img *vm.Image) error {
			img.LoadModule(mod)
			return nil
		}); err != nil {
			return nil, err
		}
		e.store.Initialize(mod)
		engineLog.Infof("initialized module %s (%d types)", ctx.Name, len(mod.Types))
		result.Modules = append(result.Modules, ModuleSummary{Name: ctx.Name, Types: len(mod.Types)})
	}

	records, err := loadHookRecords(e.db)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		for _, me := range e.applier.Restore(records, ir.ReadModule) {
			result.RestoreErrors = append(result.RestoreErrors, me.Error())
		}
		result.Restored = e.applier.Records()
		engineLog.Infof("restored %d hook record(s), %d error(s)",
			len(result.Restored), len(result.RestoreErrors))
	}
	return result, nil
}

// orderContexts loads referenced modules before their dependents.
// Contexts stuck in a reference cycle keep their given order.
func orderContexts(contexts []ModuleContext) []ModuleContext {
	placed := make(map[string]bool, len(contexts))
	ordered := make([]ModuleContext, 0, len(contexts))
	remaining := append([]ModuleContext(nil), contexts...)

	for len(remaining) > 0 {
		progress := false
		var next []ModuleContext
		for _, ctx := range remaining {
			ready := true
			for _, ref := range ctx.Refs {
				if !placed[ref] {
					ready = false
					break
				}
			}
			if ready {
				ordered = append(ordered, ctx)
				placed[ctx.Name] = true
				progress = true
			} else {
				next = append(next, ctx)
			}
		}
		if !progress {
			return append(ordered, next...)
		}
		remaining = next
	}
	return ordered
}

// ---------------------------------------------------------------------------
// CompileAndDiff
// ---------------------------------------------------------------------------

// TypeDiff is the JSON shape of one type's member diff.
type TypeDiff struct {
	AddedFields     []string `json:"addedFields,omitempty"`
	AddedMethods    []string `json:"addedMethods,omitempty"`
	ModifiedMethods []string `json:"modifiedMethods,omitempty"`
}

// DiffResult is the response of the compile-diff operation. A nil Diff
// with no Diagnostics means nothing to patch.
type DiffResult struct {
	Module      string              `json:"module"`
	Diagnostics []string            `json:"diagnostics,omitempty"`
	Diff        map[string]TypeDiff `json:"diff,omitempty"`
}

// CompileAndDiff recompiles the module and diffs it against the last
// snapshot, restricted to the changed files. The candidate and diff
// become the module's pending cycle, consumed by SynthesizeAndWritePatch
// and ApplyHooks.
func (e *Engine) CompileAndDiff(module string, changedFiles []string) (*DiffResult, error) {
	ctx, cy, err := e.lookup(module)
	if err != nil {
		return nil, err
	}
	cy.mu.Lock()
	defer cy.mu.Unlock()

	sources, err := e.readSources(ctx)
	if err != nil {
		return nil, err
	}
	result := &DiffResult{Module: module}
	cand, diags, err := compiler.CompileModule(module, sources)
	if err != nil {
		// Compile failure: no snapshot update, no diff. The previous
		// pending cycle, if any, is discarded.
		cy.clear()
		for _, d := range diags {
			result.Diagnostics = append(result.Diagnostics, d.String())
		}
		engineLog.Errorf("compile %s failed with %d diagnostic(s)", module, len(diags))
		return result, nil
	}

	changed := e.matchSources(sources, changedFiles)
	st := e.store.State(module)
	st.Lock()
	diff := patch.DiffModules(st.Snapshot(), cand, changed, st.Graph())
	st.Unlock()

	cy.clear()
	cy.candidate = cand
	cy.diff = diff
	if diff == nil {
		engineLog.Infof("compile-diff %s: nothing to patch", module)
		return result, nil
	}

	result.Diff = make(map[string]TypeDiff, len(diff))
	for typeName, md := range diff {
		td := TypeDiff{}
		for name := range md.AddedFields {
			td.AddedFields = append(td.AddedFields, name)
		}
		for sig := range md.AddedMethods {
			td.AddedMethods = append(td.AddedMethods, sig)
		}
		for sig := range md.ModifiedMethods {
			td.ModifiedMethods = append(td.ModifiedMethods, sig)
		}
		sort.Strings(td.AddedFields)
		sort.Strings(td.AddedMethods)
		sort.Strings(td.ModifiedMethods)
		result.Diff[typeName] = td
	}
	return result, nil
}

// matchSources maps the caller's changed-file list onto the source
// keys the compiler saw. Paths match exactly or by base name, so a
// watcher may report either form.
func (e *Engine) matchSources(sources map[string]string, changedFiles []string) []string {
	if len(changedFiles) == 0 {
		return nil
	}
	var out []string
	for _, f := range changedFiles {
		if _, ok := sources[f]; ok {
			out = append(out, f)
			continue
		}
		matched := false
		for key := range sources {
			if filepath.Base(key) == filepath.Base(f) {
				out = append(out, key)
				matched = true
				break
			}
		}
		if !matched {
			// Keep the unmatched name: it restricts the diff, it just
			// cannot name any compiled type.
			out = append(out, f)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// SynthesizeAndWritePatch
// ---------------------------------------------------------------------------

// MemberHook names the wrapper synthesized for one diffed member.
// Module is the patch module's synthesis name; the instance name it is
// ultimately loaded under is assigned by ApplyHooks.
type MemberHook struct {
	Sig     string           `json:"sig"`
	Wrapper patch.WrapperRef `json:"wrapper"`
}

// SynthesizeResult is the response of the synthesize operation.
type SynthesizeResult struct {
	PatchPath string       `json:"patchPath"`
	Members   []MemberHook `json:"members"`
	Errors    []string     `json:"errors,omitempty"`
}

// SynthesizeAndWritePatch turns the pending diff into a patch module
// and persists it under the module's output directory.
func (e *Engine) SynthesizeAndWritePatch(module string) (*SynthesizeResult, error) {
	ctx, cy, err := e.lookup(module)
	if err != nil {
		return nil, err
	}
	cy.mu.Lock()
	defer cy.mu.Unlock()

	if cy.diff == nil {
		return nil, fmt.Errorf("server: %s: no pending diff to synthesize", module)
	}
	original := e.img.IRModule(module)
	if original == nil {
		return nil, fmt.Errorf("server: %s: module not loaded", module)
	}

	pm, memberErrs := patch.Synthesize(original, cy.diff, cy.candidate)

	outDir := ctx.Output
	if outDir == "" {
		outDir = filepath.Join(e.dataDir, "patches", module)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("server: create output dir: %w", err)
	}
	path := filepath.Join(outDir, fmt.Sprintf("%s-%s.emberpatch", module, uuid.NewString()))
	if err := ir.WriteModule(pm, path); err != nil {
		return nil, err
	}

	cy.pm = pm
	cy.patchPath = path
	cy.failed = make(map[string]bool, len(memberErrs))

	result := &SynthesizeResult{PatchPath: path}
	for _, me := range memberErrs {
		cy.failed[me.Sig] = true
		result.Errors = append(result.Errors, me.Error())
	}
	for _, typeName := range sortedTypeNames(cy.diff) {
		md := cy.diff[typeName]
		for _, sig := range sortedMemberSigs(md) {
			if cy.failed[sig] {
				continue
			}
			body := md.AddedMethods[sig]
			if body == nil {
				body = md.ModifiedMethods[sig]
			}
			result.Members = append(result.Members, MemberHook{
				Sig:     sig,
				Wrapper: patch.WrapperRef{Module: pm.Name, Sig: patch.WrapperSigFor(body)},
			})
		}
	}
	engineLog.Infof("synthesized %s: %d member(s), %d error(s)",
		path, len(result.Members), len(result.Errors))
	return result, nil
}

func sortedTypeNames(diff patch.Diff) []string {
	names := make([]string, 0, len(diff))
	for name := range diff {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedMemberSigs(md *patch.MemberDiff) []string {
	sigs := make([]string, 0, len(md.AddedMethods)+len(md.ModifiedMethods))
	for sig := range md.AddedMethods {
		sigs = append(sigs, sig)
	}
	for sig := range md.ModifiedMethods {
		sigs = append(sigs, sig)
	}
	sort.Strings(sigs)
	return sigs
}

// ---------------------------------------------------------------------------
// ApplyHooks
// ---------------------------------------------------------------------------

// ApplyResult is the response of the apply-hooks operation.
type ApplyResult struct {
	Applied  []patch.HookRecord `json:"applied,omitempty"`
	Restored bool               `json:"restored,omitempty"`
	Errors   []string           `json:"errors,omitempty"`
}

// ApplyHooks applies the pending cycle's hooks to the live image and
// commits the candidate as the module's new snapshot. With no pending
// patch, it instead re-establishes hooks from persisted records (the
// restart path). Hook failures are per-method; applied hooks are never
// rolled back.
func (e *Engine) ApplyHooks(module string) (*ApplyResult, error) {
	_, cy, err := e.lookup(module)
	if err != nil {
		return nil, err
	}
	cy.mu.Lock()
	defer cy.mu.Unlock()

	result := &ApplyResult{}
	if cy.pm == nil {
		records, err := loadHookRecords(e.db)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, fmt.Errorf("server: %s: no pending patch and no persisted hook records", module)
		}
		for _, me := range e.applier.Restore(records, ir.ReadModule) {
			result.Errors = append(result.Errors, me.Error())
		}
		result.Restored = true
		result.Applied = e.applier.Records()
		return result, nil
	}

	// The synthesizer dropped failed members from the patch; their
	// records must not be attempted either.
	diff := pruneFailed(cy.diff, cy.failed)

	st := e.store.State(module)
	st.Lock()
	applyErrs := e.applier.Apply(module, diff, cy.pm, cy.patchPath)
	st.Commit(cy.candidate, cy.diff)
	st.Unlock()

	for _, me := range applyErrs {
		result.Errors = append(result.Errors, me.Error())
	}
	for _, typeName := range sortedTypeNames(diff) {
		for _, sig := range sortedMemberSigs(diff[typeName]) {
			if rec := e.applier.Record(sig); rec != nil {
				result.Applied = append(result.Applied, *rec)
			}
		}
	}
	if err := saveHookRecords(e.db, e.applier.Records()); err != nil {
		return nil, err
	}
	cy.clear()
	engineLog.Infof("applied %d hook(s) for %s, %d error(s)",
		len(result.Applied), module, len(result.Errors))
	return result, nil
}

// pruneFailed removes members that failed synthesis from the diff
// handed to the applier.
func pruneFailed(diff patch.Diff, failed map[string]bool) patch.Diff {
	if len(failed) == 0 {
		return diff
	}
	out := make(patch.Diff, len(diff))
	for typeName, md := range diff {
		cp := &patch.MemberDiff{
			AddedFields:     md.AddedFields,
			AddedMethods:    make(map[string]*ir.Method),
			ModifiedMethods: make(map[string]*ir.Method),
		}
		for sig, m := range md.AddedMethods {
			if !failed[sig] {
				cp.AddedMethods[sig] = m
			}
		}
		for sig, m := range md.ModifiedMethods {
			if !failed[sig] {
				cp.ModifiedMethods[sig] = m
			}
		}
		if !cp.Empty() {
			out[typeName] = cp
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Shared plumbing
// ---------------------------------------------------------------------------

func (e *Engine) lookup(module string) (*ModuleContext, *cycle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, ok := e.contexts[module]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}
	cy, ok := e.cycles[module]
	if !ok {
		cy = &cycle{}
		e.cycles[module] = cy
	}
	return ctx, cy, nil
}

func (cy *cycle) clear() {
	cy.candidate = nil
	cy.diff = nil
	cy.pm = nil
	cy.patchPath = ""
	cy.failed = nil
}

// readSources collects the module's .em files, applying compile-time
// defines as ${NAME} substitutions.
func (e *Engine) readSources(ctx *ModuleContext) (map[string]string, error) {
	files := make(map[string]string)
	addFile := func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("server: module %s: %w", ctx.Name, err)
		}
		files[path] = applyDefines(string(data), e.defines)
		return nil
	}

	for _, src := range ctx.Sources {
		info, err := os.Stat(src)
		if err != nil {
			return nil, fmt.Errorf("server: module %s: %w", ctx.Name, err)
		}
		if !info.IsDir() {
			if err := addFile(src); err != nil {
				return nil, err
			}
			continue
		}
		matches, err := filepath.Glob(filepath.Join(src, "*.em"))
		if err != nil {
			return nil, fmt.Errorf("server: module %s: %w", ctx.Name, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if err := addFile(m); err != nil {
				return nil, err
			}
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("server: module %s has no sources", ctx.Name)
	}
	return files, nil
}

func applyDefines(src string, defines map[string]string) string {
	for k, v := range defines {
		src = strings.ReplaceAll(src, "${"+k+"}", v)
	}
	return src
}

func joinDiagnostics(diags []compiler.Diagnostic) string {
	lines := make([]string, len(diags))
	for i, d := range diags {
		lines[i] = d.String()
	}
	return strings.Join(lines, "\n")
}
