package patch

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/ember/ir"
)

var hookLog = commonlog.GetLogger("ember.patch")

// ---------------------------------------------------------------------------
// Hook application
// ---------------------------------------------------------------------------

// HookKind distinguishes the two redirection shapes.
type HookKind int

const (
	// HookModified redirects a pre-existing method's entry point.
	HookModified HookKind = iota
	// HookAdded chains wrapper generations of a method with no
	// pre-existing entry point.
	HookAdded
)

// HookRecord is the persisted lineage of one hooked method. For a
// modified method there is a single original → current edge. For an
// added method, History holds every wrapper generation ever issued, in
// order; each new generation re-redirects all previous ones, so an
// indirect reference captured before an edit still reaches the latest
// body transitively.
type HookRecord struct {
	Module    string       `cbor:"1,keyasint" json:"module"` // original module
	Sig       string       `cbor:"2,keyasint" json:"sig"`    // original method signature
	Kind      HookKind     `cbor:"3,keyasint" json:"kind"`
	PatchPath string       `cbor:"4,keyasint" json:"patchPath"` // latest patch module on disk
	Wrapper   WrapperRef   `cbor:"5,keyasint" json:"wrapper"`   // current wrapper
	History   []WrapperRef `cbor:"6,keyasint" json:"history,omitempty"`
	// HistoryPaths holds the on-disk patch module per history entry, so
	// a restart can reload every generation's carrier before re-chaining.
	HistoryPaths []string `cbor:"7,keyasint" json:"historyPaths,omitempty"`
}

// Runtime is the live-process boundary the applier mutates. It is
// deliberately narrow: loading a synthesized module, and the atomic
// single-method redirection primitive, addressed purely by name.
type Runtime interface {
	LoadPatchModule(mod *ir.Module) error
	RedirectSig(origModule, origSig, wrapperModule, wrapperSig string) error
}

// Applier owns hook records and applies redirection batches. Batches
// for one module must not interleave; the caller serializes cycles.
type Applier struct {
	rt Runtime

	mu      sync.Mutex
	records map[string]*HookRecord // original sig → record
}

// NewApplier creates an applier over the given runtime.
func NewApplier(rt Runtime) *Applier {
	return &Applier{rt: rt, records: make(map[string]*HookRecord)}
}

// Apply loads the patch module and redirects every diffed method.
// Failures are per-method: an already-applied hook is never rolled
// back, since running code may have observed it.
//
// The loaded instance gets a unique module name so successive
// generations for the same module coexist in the image; earlier
// wrapper generations stay addressable for re-chaining.
func (a *Applier) Apply(origModule string, diff Diff, patch *ir.Module, patchPath string) []MemberError {
	inst := *patch
	inst.Name = fmt.Sprintf("%s.%.8s", patch.Name, uuid.NewString())
	if err := a.rt.LoadPatchModule(&inst); err != nil {
		return []MemberError{{Sig: inst.Name, Err: err}}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []MemberError
	typeNames := make([]string, 0, len(diff))
	for name := range diff {
		typeNames = append(typeNames, name)
	}
	sort.Strings(typeNames)

	for _, typeName := range typeNames {
		md := diff[typeName]
		for _, sig := range sortedSigs(md.ModifiedMethods) {
			body := md.ModifiedMethods[sig]
			// A method added in an earlier cycle has no entry point in
			// the original module; later edits keep extending its
			// wrapper chain instead.
			if rec := a.records[sig]; rec != nil && rec.Kind == HookAdded {
				if err := a.hookAdded(origModule, sig, body, inst.Name, patchPath); err != nil {
					errs = append(errs, MemberError{Sig: sig, Err: err})
				}
				continue
			}
			if err := a.hookModified(origModule, sig, body, inst.Name, patchPath); err != nil {
				errs = append(errs, MemberError{Sig: sig, Err: err})
			}
		}
		for _, sig := range sortedSigs(md.AddedMethods) {
			if err := a.hookAdded(origModule, sig, md.AddedMethods[sig], inst.Name, patchPath); err != nil {
				errs = append(errs, MemberError{Sig: sig, Err: err})
			}
		}
	}
	return errs
}

func sortedSigs(m map[string]*ir.Method) []string {
	sigs := make([]string, 0, len(m))
	for sig := range m {
		sigs = append(sigs, sig)
	}
	sort.Strings(sigs)
	return sigs
}

func (a *Applier) hookModified(origModule, sig string, body *ir.Method, patchModule, patchPath string) error {
	wrapper := WrapperRef{Module: patchModule, Sig: WrapperSigFor(body)}
	if err := a.rt.RedirectSig(origModule, sig, wrapper.Module, wrapper.Sig); err != nil {
		hookLog.Errorf("hook %s failed: %s", sig, err.Error())
		return err
	}
	a.records[sig] = &HookRecord{
		Module:    origModule,
		Sig:       sig,
		Kind:      HookModified,
		PatchPath: patchPath,
		Wrapper:   wrapper,
	}
	hookLog.Infof("hooked %s -> %s", sig, wrapper.Sig)
	return nil
}

// hookAdded handles a method with no pre-existing entry point. The new
// wrapper becomes the redirection target of every previously issued
// wrapper generation, then joins the history itself.
func (a *Applier) hookAdded(origModule, sig string, body *ir.Method, patchModule, patchPath string) error {
	wrapper := WrapperRef{Module: patchModule, Sig: WrapperSigFor(body)}

	rec := a.records[sig]
	if rec == nil {
		rec = &HookRecord{Module: origModule, Sig: sig, Kind: HookAdded}
		a.records[sig] = rec
	}
	var firstErr error
	for _, prev := range rec.History {
		if prev == wrapper {
			continue
		}
		if err := a.rt.RedirectSig(prev.Module, prev.Sig, wrapper.Module, wrapper.Sig); err != nil {
			hookLog.Errorf("re-hook %s (%s) failed: %s", sig, prev.Sig, err.Error())
			if firstErr == nil {
				firstErr = fmt.Errorf("rechain %s: %w", prev.Sig, err)
			}
		}
	}
	rec.History = append(rec.History, wrapper)
	rec.HistoryPaths = append(rec.HistoryPaths, patchPath)
	rec.Wrapper = wrapper
	rec.PatchPath = patchPath
	hookLog.Infof("added-method hook %s -> %s (generation %d)", sig, wrapper.Sig, len(rec.History))
	return firstErr
}

// Records returns a snapshot of every hook record, sorted by signature,
// for persistence.
func (a *Applier) Records() []HookRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]HookRecord, 0, len(a.records))
	for _, rec := range a.records {
		cp := *rec
		cp.History = append([]WrapperRef(nil), rec.History...)
		cp.HistoryPaths = append([]string(nil), rec.HistoryPaths...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sig < out[j].Sig })
	return out
}

// Record returns the record for one original signature, or nil.
func (a *Applier) Record(sig string) *HookRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec := a.records[sig]
	if rec == nil {
		return nil
	}
	cp := *rec
	cp.History = append([]WrapperRef(nil), rec.History...)
	cp.HistoryPaths = append([]string(nil), rec.HistoryPaths...)
	return &cp
}

// Restore re-establishes hooks from persisted records after a process
// restart, without recompiling unchanged members. load fetches a patch
// module by its on-disk path; each path is loaded once.
func (a *Applier) Restore(records []HookRecord, load func(path string) (*ir.Module, error)) []MemberError {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []MemberError
	loaded := make(map[string]bool)
	// Patch files carry the deterministic synthesis name; each record
	// remembers the unique instance name it was applied under, so the
	// reload renames accordingly.
	ensure := func(path, name string) error {
		if loaded[name] {
			return nil
		}
		mod, err := load(path)
		if err != nil {
			return err
		}
		inst := *mod
		inst.Name = name
		if err := a.rt.LoadPatchModule(&inst); err != nil {
			return err
		}
		loaded[name] = true
		return nil
	}

	for i := range records {
		rec := records[i]
		if err := ensure(rec.PatchPath, rec.Wrapper.Module); err != nil {
			errs = append(errs, MemberError{Sig: rec.Sig, Err: err})
			continue
		}
		switch rec.Kind {
		case HookModified:
			if err := a.rt.RedirectSig(rec.Module, rec.Sig, rec.Wrapper.Module, rec.Wrapper.Sig); err != nil {
				errs = append(errs, MemberError{Sig: rec.Sig, Err: err})
				continue
			}
		case HookAdded:
			// Every generation's carrier module is reloaded, then the
			// chain collapses to direct edges onto the latest wrapper.
			for j, prev := range rec.History {
				if prev == rec.Wrapper {
					continue
				}
				if j < len(rec.HistoryPaths) {
					if err := ensure(rec.HistoryPaths[j], prev.Module); err != nil {
						errs = append(errs, MemberError{Sig: rec.Sig, Err: err})
						continue
					}
				}
				if err := a.rt.RedirectSig(prev.Module, prev.Sig, rec.Wrapper.Module, rec.Wrapper.Sig); err != nil {
					errs = append(errs, MemberError{Sig: rec.Sig, Err: err})
				}
			}
		}
		cp := rec
		a.records[rec.Sig] = &cp
	}
	return errs
}
