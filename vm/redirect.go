package vm

import (
	"errors"
	"fmt"

	"github.com/chazu/ember/ir"
)

// ---------------------------------------------------------------------------
// Method detouring
// ---------------------------------------------------------------------------
//
// Entry-point redirection is the one inherently runtime-specific piece of
// the pipeline. In a native runtime this is unsafe code patching; here it
// is an atomic store on the method's redirect slot, which every call site
// resolves through. The rest of the pipeline only sees the Redirect
// function and its reported reasons.

// Redirection failure reasons.
var (
	ErrRedirectNil   = errors.New("vm: redirect target is nil")
	ErrRedirectSelf  = errors.New("vm: method cannot redirect to itself")
	ErrRedirectArity = errors.New("vm: wrapper arity does not match original")
)

// Redirect atomically moves the original method's call entry point to
// the replacement. One redirection replaces the previous one: after the
// call there is exactly one original → current edge for the method.
// Not reversible within the process lifetime. Constructors redirect
// like any other instance method: NEW dispatches through the same
// entry resolution, so a hooked constructor runs for every instance
// created after the hook.
func (img *Image) Redirect(orig, repl *Method) error {
	if orig == nil || repl == nil {
		return ErrRedirectNil
	}
	if orig == repl {
		return ErrRedirectSelf
	}
	if err := checkWrapperShape(orig, repl); err != nil {
		return err
	}
	orig.redirect.Store(repl)
	return nil
}

// RedirectSig resolves both endpoints by module and signature, then
// redirects. This is the form the hook applier works in: it only knows
// names, never method handles.
func (img *Image) RedirectSig(origModule, origSig, wrapperModule, wrapperSig string) error {
	orig, ok := img.ResolveIn(origModule, origSig)
	if !ok {
		return fmt.Errorf("vm: %s not found in module %s", origSig, origModule)
	}
	repl, ok := img.ResolveIn(wrapperModule, wrapperSig)
	if !ok {
		return fmt.Errorf("vm: wrapper %s not found in module %s", wrapperSig, wrapperModule)
	}
	return img.Redirect(orig, repl)
}

// checkWrapperShape validates that the replacement can stand in for the
// original at every call site. A wrapper for an instance method takes
// the receiver as an explicit first parameter.
func checkWrapperShape(orig, repl *Method) error {
	want := orig.Def.Arity()
	if orig.Def.Flags&ir.FlagStatic == 0 && repl.Def.Flags&ir.FlagExplicitSelf != 0 {
		want++
	}
	if repl.Def.Arity() != want {
		return fmt.Errorf("%w: %s has %d params, need %d",
			ErrRedirectArity, repl.Sig(), repl.Def.Arity(), want)
	}
	return nil
}
