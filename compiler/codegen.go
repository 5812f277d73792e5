package compiler

import (
	"fmt"
	"sync/atomic"

	"github.com/chazu/ember/ir"
)

// ---------------------------------------------------------------------------
// Code generation: AST → IR module
// ---------------------------------------------------------------------------

// tokenCounter issues compile-local metadata tokens. It is process-global
// and never resets, so two compilations of identical source always get
// distinct tokens. Nothing downstream may compare tokens for identity.
var tokenCounter atomic.Uint32

func freshToken() uint32 {
	return tokenCounter.Add(1)
}

// builtinTypes maps surface type names to the runtime's builtin namespace.
var builtinTypes = map[string]string{
	"Int":     "core.Int",
	"Float":   "core.Float",
	"Float32": "core.Float32",
	"String":  "core.String",
	"Bool":    "core.Bool",
}

type codegen struct {
	moduleName string
	module     *ir.Module
	classes    map[string]*ClassDecl // fully-qualified name → decl
	diags      []Diagnostic
}

func (cg *codegen) errorf(path string, pos Position, format string, args ...interface{}) {
	cg.diags = append(cg.diags, Diagnostic{
		Path:    path,
		Line:    pos.Line,
		Column:  pos.Column,
		Message: fmt.Sprintf(format, args...),
	})
}

// resolveType maps a surface type name to a fully-qualified name.
// Type parameters of the enclosing generic method stay bare.
func (cg *codegen) resolveType(name string, typeParams map[string]bool) string {
	if name == "" {
		return ""
	}
	if typeParams[name] {
		return name
	}
	if fq, ok := builtinTypes[name]; ok {
		return fq
	}
	if _, ok := cg.classes[cg.moduleName+"."+name]; ok {
		return cg.moduleName + "." + name
	}
	// Unknown names pass through; the synthesizer reports unresolvable
	// references per member if they never materialize.
	return cg.moduleName + "." + name
}

// ---------------------------------------------------------------------------
// Class generation
// ---------------------------------------------------------------------------

func (cg *codegen) genClass(path string, decl *ClassDecl) {
	fq := cg.moduleName + "." + decl.Name
	typ := &ir.Type{
		Name:   fq,
		Token:  freshToken(),
		Source: path,
	}

	for _, f := range decl.Fields {
		fld := ir.Field{
			Name:   f.Name,
			Type:   cg.resolveType(f.Type, nil),
			Static: f.Static,
			Token:  freshToken(),
		}
		if f.Init != nil {
			lit, ok := literalInstr(f.Init)
			if !ok {
				cg.errorf(path, f.Init.Pos(), "field initializer for %s.%s must be a literal", decl.Name, f.Name)
			} else {
				fld.Init = &lit
			}
		}
		typ.Fields = append(typ.Fields, fld)
	}

	cg.module.AddType(typ)

	// Synthesized zero-argument constructor applying field initializers.
	typ.Methods = append(typ.Methods, cg.genCtor(path, decl, fq))

	for _, m := range decl.Methods {
		compiled := cg.genMethod(path, decl, fq, typ, m)
		if compiled != nil {
			typ.Methods = append(typ.Methods, compiled)
		}
	}
}

func (cg *codegen) genCtor(path string, decl *ClassDecl, fq string) *ir.Method {
	b := ir.NewMethodBuilder(fq, "init").
		SetFlags(ir.FlagCtor).
		SetToken(freshToken()).
		SetSource(path)
	for _, f := range decl.Fields {
		if f.Static || f.Init == nil {
			continue
		}
		lit, ok := literalInstr(f.Init)
		if !ok {
			continue
		}
		b.Op(ir.OpPushSelf)
		b.Emit(lit)
		b.StoreField(ir.FieldRef{Type: fq, Name: f.Name})
	}
	b.Op(ir.OpReturnVoid)
	return b.Build()
}

// literalInstr converts a literal expression to its push instruction.
func literalInstr(e Expr) (ir.Instr, bool) {
	switch lit := e.(type) {
	case *IntLit:
		return ir.Instr{Op: ir.OpPushInt, Int: lit.Value}, true
	case *FloatLit:
		return ir.Instr{Op: ir.OpPushFloat, Float: lit.Value}, true
	case *Float32Lit:
		return ir.Instr{Op: ir.OpPushFloat32, Float32: lit.Value}, true
	case *StringLit:
		return ir.Instr{Op: ir.OpPushString, Str: lit.Value}, true
	case *BoolLit:
		if lit.Value {
			return ir.Instr{Op: ir.OpPushTrue}, true
		}
		return ir.Instr{Op: ir.OpPushFalse}, true
	case *NilLit:
		return ir.Instr{Op: ir.OpPushNil}, true
	}
	return ir.Instr{}, false
}

// ---------------------------------------------------------------------------
// Method generation
// ---------------------------------------------------------------------------

// scope carries per-method codegen state. A scope is also used for
// lambda invoke bodies (capture mode) and state-machine step bodies
// (field-rewrite mode).
type scope struct {
	cg      *codegen
	path    string
	decl    *ClassDecl // surface class
	clsName string     // fully-qualified owner of the emitted method
	typ     *ir.Type   // IR type receiving generated nested types
	b       *ir.MethodBuilder

	locals     map[string]int    // name → local index
	localTypes map[string]string // name → fully-qualified type
	typeParams map[string]bool
	static     bool

	// Field-rewrite mode (state machine step bodies): identifiers in
	// fields resolve to fields on the generated type; "this" resolves
	// through selfField.
	fields    map[string]bool
	selfField string // "" when not in field-rewrite mode or static

	lambdaSeq *int
	owner     string // generated-type name prefix for lambdas
}

func (cg *codegen) genMethod(path string, decl *ClassDecl, fq string, typ *ir.Type, m *MethodDecl) *ir.Method {
	if m.Async {
		return cg.genAsyncMethod(path, decl, fq, typ, m)
	}

	tps := make(map[string]bool, len(m.TypeParams))
	for _, tp := range m.TypeParams {
		tps[tp] = true
	}

	b := ir.NewMethodBuilder(fq, m.Name).
		SetToken(freshToken()).
		SetSource(path).
		SetTypeParams(m.TypeParams...).
		SetReturn(cg.resolveType(m.Return, tps))
	var flags ir.MethodFlags
	if m.Static {
		flags |= ir.FlagStatic
	}
	if m.Accessor {
		flags |= ir.FlagAccessor
	}
	b.SetFlags(flags)

	seq := 0
	sc := &scope{
		cg: cg, path: path, decl: decl, clsName: fq, typ: typ, b: b,
		locals:     make(map[string]int),
		localTypes: make(map[string]string),
		typeParams: tps,
		static:     m.Static,
		lambdaSeq:  &seq,
		owner:      fq + "$" + m.Name,
	}
	sc.bindParams(m.Params)

	sc.genStmts(m.Body)
	b.Op(ir.OpReturnVoid)
	return b.Build()
}

func (sc *scope) bindParams(params []Param) {
	var names []string
	for _, p := range params {
		idx := len(sc.locals)
		sc.locals[p.Name] = idx
		fq := sc.cg.resolveType(p.Type, sc.typeParams)
		sc.localTypes[p.Name] = fq
		names = append(names, fq)
	}
	sc.b.SetParams(names...)
}

// ---------------------------------------------------------------------------
// Async lowering: state machine extraction
// ---------------------------------------------------------------------------

// genAsyncMethod lowers "async def m" into a compiler-generated state
// machine type carrying the body in a step method, plus a driving method
// that allocates the machine and runs it. The shape mirrors what
// suspension would need even though execution is run-to-completion.
func (cg *codegen) genAsyncMethod(path string, decl *ClassDecl, fq string, typ *ir.Type, m *MethodDecl) *ir.Method {
	smName := fq + "$" + m.Name + "$sm"

	tps := make(map[string]bool, len(m.TypeParams))
	for _, tp := range m.TypeParams {
		tps[tp] = true
	}

	smType := &ir.Type{
		Name:   smName,
		Flags:  ir.TypeGenerated | ir.TypeStateMachine,
		Token:  freshToken(),
		Source: path,
	}
	smType.Fields = append(smType.Fields, ir.Field{Name: "state", Type: "core.Int", Token: freshToken()})
	if !m.Static {
		smType.Fields = append(smType.Fields, ir.Field{Name: "self", Type: fq, Token: freshToken()})
	}
	for _, p := range m.Params {
		smType.Fields = append(smType.Fields, ir.Field{
			Name:  p.Name,
			Type:  cg.resolveType(p.Type, tps),
			Token: freshToken(),
		})
	}

	// Step method: the real body, with params and this rewritten to
	// fields on the machine.
	stepB := ir.NewMethodBuilder(smName, "step").
		SetToken(freshToken()).
		SetSource(path).
		SetReturn(cg.resolveType(m.Return, tps))

	seq := 0
	fieldSet := make(map[string]bool, len(m.Params))
	for _, p := range m.Params {
		fieldSet[p.Name] = true
	}
	selfField := ""
	if !m.Static {
		selfField = "self"
	}
	paramTypes := make(map[string]string, len(m.Params))
	for _, p := range m.Params {
		paramTypes[p.Name] = cg.resolveType(p.Type, tps)
	}

	sc := &scope{
		cg: cg, path: path, decl: decl, clsName: smName, typ: smType, b: stepB,
		locals:     make(map[string]int),
		localTypes: paramTypes,
		typeParams: tps,
		static:     false,
		fields:     fieldSet,
		selfField:  selfField,
		lambdaSeq:  &seq,
		owner:      smName,
	}
	sc.genStmts(m.Body)
	stepB.Op(ir.OpReturnVoid)
	smType.Methods = append(smType.Methods, stepB.Build())
	cg.module.AddType(smType)

	// Driving method: allocate the machine, copy self and arguments
	// into it, run step.
	b := ir.NewMethodBuilder(fq, m.Name).
		SetToken(freshToken()).
		SetSource(path).
		SetReturn(cg.resolveType(m.Return, tps))
	var flags ir.MethodFlags
	if m.Static {
		flags |= ir.FlagStatic
	}
	b.SetFlags(flags)
	var paramNames []string
	for _, p := range m.Params {
		paramNames = append(paramNames, cg.resolveType(p.Type, tps))
	}
	b.SetParams(paramNames...)

	smRef := ir.TypeRef{Name: smName, Token: smType.Token}
	b.New(smRef)
	if !m.Static {
		b.Op(ir.OpDup)
		b.Op(ir.OpPushSelf)
		// STORE_FIELD pops value then instance, so self goes on top.
		b.StoreField(ir.FieldRef{Type: smName, Name: "self"})
	}
	for i, p := range m.Params {
		b.Op(ir.OpDup)
		b.LoadLocal(i)
		b.StoreField(ir.FieldRef{Type: smName, Name: p.Name})
	}
	b.Call(ir.MethodRef{Type: smName, Name: "step", Arity: 0})
	if m.Return != "" {
		b.Op(ir.OpReturn)
	} else {
		b.Op(ir.OpPop)
		b.Op(ir.OpReturnVoid)
	}
	return b.Build()
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (sc *scope) genStmts(stmts []Stmt) {
	for _, s := range stmts {
		sc.genStmt(s)
	}
}

func (sc *scope) genStmt(s Stmt) {
	switch st := s.(type) {
	case *VarStmt:
		idx := sc.b.AddLocal()
		sc.locals[st.Name] = idx
		sc.localTypes[st.Name] = sc.cg.resolveType(st.Type, sc.typeParams)
		if st.Init != nil {
			sc.genExpr(st.Init)
			sc.b.StoreLocal(idx)
		}
	case *AssignStmt:
		sc.genAssign(st)
	case *ReturnStmt:
		if st.Value != nil {
			sc.genExpr(st.Value)
			sc.b.Op(ir.OpReturn)
		} else {
			sc.b.Op(ir.OpReturnVoid)
		}
	case *IfStmt:
		els := sc.b.NewLabel()
		end := sc.b.NewLabel()
		sc.genExpr(st.Cond)
		sc.b.JumpIfFalse(els)
		sc.genStmts(st.Then)
		sc.b.Jump(end)
		sc.b.Bind(els)
		sc.genStmts(st.Else)
		sc.b.Bind(end)
	case *WhileStmt:
		top := sc.b.NewLabel()
		end := sc.b.NewLabel()
		sc.b.Bind(top)
		sc.genExpr(st.Cond)
		sc.b.JumpIfFalse(end)
		sc.genStmts(st.Body)
		sc.b.Jump(top)
		sc.b.Bind(end)
	case *ExprStmt:
		sc.genExpr(st.Expr)
		sc.b.Op(ir.OpPop)
	}
}

func (sc *scope) genAssign(st *AssignStmt) {
	switch target := st.Target.(type) {
	case *Ident:
		if idx, ok := sc.locals[target.Name]; ok {
			sc.genExpr(st.Value)
			sc.b.StoreLocal(idx)
			return
		}
		// Implicit this.field or rewritten state-machine field.
		if sc.fields != nil && sc.fields[target.Name] {
			sc.b.Op(ir.OpPushSelf)
			sc.genExpr(st.Value)
			sc.b.StoreField(ir.FieldRef{Type: sc.clsName, Name: target.Name})
			return
		}
		if f := sc.findField(target.Name); f != nil {
			if f.Static {
				sc.genExpr(st.Value)
				sc.b.Emit(ir.Instr{Op: ir.OpStoreStatic, Field: ir.FieldRef{Type: sc.surfaceClass(), Name: target.Name}})
				return
			}
			sc.emitThis()
			sc.genExpr(st.Value)
			sc.b.StoreField(ir.FieldRef{Type: sc.surfaceClass(), Name: target.Name})
			return
		}
		sc.cg.errorf(sc.path, st.PosVal, "cannot assign to unknown name %q", target.Name)
	case *FieldAccess:
		if cls, ok := sc.classReceiver(target.Recv); ok {
			sc.genExpr(st.Value)
			sc.b.Emit(ir.Instr{Op: ir.OpStoreStatic, Field: ir.FieldRef{Type: cls, Name: target.Name}})
			return
		}
		recvType := sc.typeOf(target.Recv)
		sc.genExpr(target.Recv)
		sc.genExpr(st.Value)
		sc.b.StoreField(ir.FieldRef{Type: recvType, Name: target.Name})
	default:
		sc.cg.errorf(sc.path, st.PosVal, "invalid assignment target")
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (sc *scope) genExpr(e Expr) {
	switch ex := e.(type) {
	case *IntLit:
		sc.b.PushInt(ex.Value)
	case *FloatLit:
		sc.b.PushFloat(ex.Value)
	case *Float32Lit:
		sc.b.PushFloat32(ex.Value)
	case *StringLit:
		sc.b.PushString(ex.Value)
	case *BoolLit:
		if ex.Value {
			sc.b.Op(ir.OpPushTrue)
		} else {
			sc.b.Op(ir.OpPushFalse)
		}
	case *NilLit:
		sc.b.Op(ir.OpPushNil)
	case *ThisExpr:
		if sc.static {
			sc.cg.errorf(sc.path, ex.PosVal, "this is not available in a static method")
		}
		sc.emitThis()
	case *Ident:
		sc.genIdent(ex)
	case *FieldAccess:
		sc.genFieldAccess(ex)
	case *CallExpr:
		sc.genCall(ex)
	case *NewExpr:
		fq := sc.cg.resolveType(ex.Type, sc.typeParams)
		sc.b.New(ir.TypeRef{Name: fq})
	case *BinaryExpr:
		sc.genExpr(ex.Left)
		sc.genExpr(ex.Right)
		switch ex.Op {
		case TokenPlus:
			sc.b.Op(ir.OpAdd)
		case TokenMinus:
			sc.b.Op(ir.OpSub)
		case TokenStar:
			sc.b.Op(ir.OpMul)
		case TokenSlash:
			sc.b.Op(ir.OpDiv)
		case TokenLT:
			sc.b.Op(ir.OpLT)
		case TokenGT:
			sc.b.Op(ir.OpGT)
		case TokenEQ:
			sc.b.Op(ir.OpEQ)
		default:
			sc.cg.errorf(sc.path, ex.PosVal, "unsupported operator %s", ex.Op)
		}
	case *LambdaExpr:
		sc.genLambda(ex)
	default:
		sc.cg.errorf(sc.path, e.Pos(), "unsupported expression")
	}
}

// emitThis pushes the logical receiver, resolving through the state
// machine's self field in field-rewrite mode.
func (sc *scope) emitThis() {
	sc.b.Op(ir.OpPushSelf)
	if sc.selfField != "" {
		sc.b.LoadField(ir.FieldRef{Type: sc.clsName, Name: sc.selfField})
	}
}

func (sc *scope) genIdent(ex *Ident) {
	if idx, ok := sc.locals[ex.Name]; ok {
		sc.b.LoadLocal(idx)
		return
	}
	if sc.fields != nil && sc.fields[ex.Name] {
		sc.b.Op(ir.OpPushSelf)
		sc.b.LoadField(ir.FieldRef{Type: sc.clsName, Name: ex.Name})
		return
	}
	if f := sc.findField(ex.Name); f != nil {
		if f.Static {
			sc.b.Emit(ir.Instr{Op: ir.OpLoadStatic, Field: ir.FieldRef{Type: sc.surfaceClass(), Name: ex.Name}})
			return
		}
		sc.emitThis()
		sc.b.LoadField(ir.FieldRef{Type: sc.surfaceClass(), Name: ex.Name})
		return
	}
	sc.cg.errorf(sc.path, ex.PosVal, "unknown identifier %q", ex.Name)
}

func (sc *scope) genFieldAccess(ex *FieldAccess) {
	if cls, ok := sc.classReceiver(ex.Recv); ok {
		sc.b.Emit(ir.Instr{Op: ir.OpLoadStatic, Field: ir.FieldRef{Type: cls, Name: ex.Name}})
		return
	}
	recvType := sc.typeOf(ex.Recv)
	sc.genExpr(ex.Recv)
	sc.b.LoadField(ir.FieldRef{Type: recvType, Name: ex.Name})
}

func (sc *scope) genCall(ex *CallExpr) {
	// Receiver resolution: explicit class name → static call on that
	// class; explicit expression → virtual call; none → call on this
	// or a static sibling.
	var recvType string
	var pushRecv func()
	static := false

	switch {
	case ex.Recv == nil:
		recvType = sc.surfaceClass()
		if decl := sc.findMethodDecl(recvType, ex.Name, len(ex.Args)); decl != nil && decl.Static {
			static = true
		} else {
			pushRecv = sc.emitThis
		}
	default:
		if cls, ok := sc.classReceiver(ex.Recv); ok {
			recvType = cls
			static = true
		} else {
			recvType = sc.typeOf(ex.Recv)
			pushRecv = func() { sc.genExpr(ex.Recv) }
		}
	}

	ref := ir.MethodRef{Type: recvType, Name: ex.Name, Arity: len(ex.Args)}

	if len(ex.TypeArgs) > 0 {
		args := make([]string, len(ex.TypeArgs))
		for i, a := range ex.TypeArgs {
			args[i] = sc.cg.resolveType(a, sc.typeParams)
		}
		if !static {
			pushRecv()
		}
		for _, a := range ex.Args {
			sc.genExpr(a)
		}
		sc.b.CallGeneric(ir.Instantiation{Method: ref, TypeArgs: args})
		return
	}

	if static {
		for _, a := range ex.Args {
			sc.genExpr(a)
		}
		sc.b.CallStatic(ref)
		return
	}

	pushRecv()
	for _, a := range ex.Args {
		sc.genExpr(a)
	}
	sc.b.Call(ref)
}

// ---------------------------------------------------------------------------
// Lambda lowering: closure extraction
// ---------------------------------------------------------------------------

// genLambda lowers a lambda to a compiler-generated closure type whose
// fields hold the captured locals (and the receiver, when used), with
// the body in an invoke method. The creation site allocates the closure
// and copies captures in by value.
func (sc *scope) genLambda(ex *LambdaExpr) {
	name := fmt.Sprintf("%s$fn%d", sc.owner, *sc.lambdaSeq)
	*sc.lambdaSeq++

	captures, usesThis := sc.freeVariables(ex)

	clType := &ir.Type{
		Name:   name,
		Flags:  ir.TypeGenerated,
		Token:  freshToken(),
		Source: sc.path,
	}
	if usesThis {
		// emitThis always yields the surface receiver, even inside a
		// state machine body, so that is the capture's type.
		selfType := sc.clsName
		if sc.selfField != "" {
			selfType = sc.surfaceClass()
		}
		clType.Fields = append(clType.Fields, ir.Field{Name: "self", Type: selfType, Token: freshToken()})
	}
	for _, cap := range captures {
		clType.Fields = append(clType.Fields, ir.Field{Name: cap, Type: sc.localTypes[cap], Token: freshToken()})
	}

	// Invoke method over the lambda body.
	invB := ir.NewMethodBuilder(name, "invoke").
		SetToken(freshToken()).
		SetSource(sc.path).
		SetReturn(sc.cg.resolveType(ex.Return, sc.typeParams))

	fieldSet := make(map[string]bool, len(captures))
	for _, cap := range captures {
		fieldSet[cap] = true
	}
	selfField := ""
	if usesThis {
		selfField = "self"
	}
	inner := &scope{
		cg: sc.cg, path: sc.path, decl: sc.decl, clsName: name, typ: clType, b: invB,
		locals:     make(map[string]int),
		localTypes: make(map[string]string),
		typeParams: sc.typeParams,
		static:     false,
		fields:     fieldSet,
		selfField:  selfField,
		lambdaSeq:  sc.lambdaSeq,
		owner:      name,
	}
	for _, cap := range captures {
		inner.localTypes[cap] = sc.localTypes[cap]
	}
	inner.bindParams(ex.Params)
	inner.genStmts(ex.Body)
	invB.Op(ir.OpReturnVoid)
	clType.Methods = append(clType.Methods, invB.Build())
	sc.cg.module.AddType(clType)

	// Creation site.
	ref := ir.TypeRef{Name: name, Token: clType.Token}
	sc.b.New(ref)
	if usesThis {
		sc.b.Op(ir.OpDup)
		sc.emitThis()
		sc.b.StoreField(ir.FieldRef{Type: name, Name: "self"})
	}
	for _, cap := range captures {
		sc.b.Op(ir.OpDup)
		sc.genIdent(&Ident{Name: cap})
		sc.b.StoreField(ir.FieldRef{Type: name, Name: cap})
	}
}

// freeVariables returns the enclosing locals a lambda references, in
// first-use order, plus whether it references the receiver.
func (sc *scope) freeVariables(ex *LambdaExpr) ([]string, bool) {
	bound := make(map[string]bool)
	for _, p := range ex.Params {
		bound[p.Name] = true
	}
	seen := make(map[string]bool)
	var captures []string
	usesThis := false

	var walkExpr func(Expr)
	var walkStmt func(Stmt)
	walkExpr = func(e Expr) {
		switch x := e.(type) {
		case nil:
		case *Ident:
			if bound[x.Name] || seen[x.Name] {
				return
			}
			if _, ok := sc.locals[x.Name]; ok {
				seen[x.Name] = true
				captures = append(captures, x.Name)
			} else if sc.findField(x.Name) != nil || (sc.fields != nil && sc.fields[x.Name]) {
				usesThis = true
			}
		case *ThisExpr:
			usesThis = true
		case *FieldAccess:
			walkExpr(x.Recv)
		case *CallExpr:
			if x.Recv == nil {
				// Implicit receiver call inside a lambda needs this.
				if decl := sc.findMethodDecl(sc.surfaceClass(), x.Name, len(x.Args)); decl == nil || !decl.Static {
					usesThis = true
				}
			} else {
				walkExpr(x.Recv)
			}
			for _, a := range x.Args {
				walkExpr(a)
			}
		case *BinaryExpr:
			walkExpr(x.Left)
			walkExpr(x.Right)
		case *LambdaExpr:
			inner := make(map[string]bool)
			for k := range bound {
				inner[k] = true
			}
			for _, p := range x.Params {
				inner[p.Name] = true
			}
			saved := bound
			bound = inner
			for _, s := range x.Body {
				walkStmt(s)
			}
			bound = saved
		}
	}
	walkStmt = func(s Stmt) {
		switch x := s.(type) {
		case *VarStmt:
			walkExpr(x.Init)
			bound[x.Name] = true
		case *AssignStmt:
			walkExpr(x.Target)
			walkExpr(x.Value)
		case *ReturnStmt:
			walkExpr(x.Value)
		case *IfStmt:
			walkExpr(x.Cond)
			for _, t := range x.Then {
				walkStmt(t)
			}
			for _, t := range x.Else {
				walkStmt(t)
			}
		case *WhileStmt:
			walkExpr(x.Cond)
			for _, t := range x.Body {
				walkStmt(t)
			}
		case *ExprStmt:
			walkExpr(x.Expr)
		}
	}
	for _, s := range ex.Body {
		walkStmt(s)
	}
	return captures, usesThis
}

// ---------------------------------------------------------------------------
// Name and type resolution helpers
// ---------------------------------------------------------------------------

// surfaceClass returns the fully-qualified name of the surface class the
// code nominally belongs to, even inside generated types.
func (sc *scope) surfaceClass() string {
	return sc.cg.moduleName + "." + sc.decl.Name
}

// classReceiver reports whether an expression is a bare class name.
func (sc *scope) classReceiver(e Expr) (string, bool) {
	id, ok := e.(*Ident)
	if !ok {
		return "", false
	}
	if _, isLocal := sc.locals[id.Name]; isLocal {
		return "", false
	}
	fq := sc.cg.moduleName + "." + id.Name
	if _, declared := sc.cg.classes[fq]; declared {
		return fq, true
	}
	return "", false
}

// findField looks up a field on the surface class.
func (sc *scope) findField(name string) *FieldDecl {
	for _, f := range sc.decl.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// findMethodDecl looks up a method declaration by owner, name, and arity.
func (sc *scope) findMethodDecl(fqClass, name string, arity int) *MethodDecl {
	decl, ok := sc.cg.classes[fqClass]
	if !ok {
		return nil
	}
	for _, m := range decl.Methods {
		if m.Name == name && len(m.Params) == arity {
			return m
		}
	}
	return nil
}

// typeOf infers the static type of an expression from declarations.
func (sc *scope) typeOf(e Expr) string {
	switch x := e.(type) {
	case *IntLit:
		return "core.Int"
	case *FloatLit:
		return "core.Float"
	case *Float32Lit:
		return "core.Float32"
	case *StringLit:
		return "core.String"
	case *BoolLit:
		return "core.Bool"
	case *ThisExpr:
		if sc.selfField != "" || sc.fields != nil {
			return sc.surfaceClass()
		}
		return sc.clsName
	case *Ident:
		if t, ok := sc.localTypes[x.Name]; ok {
			return t
		}
		if f := sc.findField(x.Name); f != nil {
			return sc.cg.resolveType(f.Type, sc.typeParams)
		}
	case *NewExpr:
		return sc.cg.resolveType(x.Type, sc.typeParams)
	case *FieldAccess:
		ownerName := sc.typeOf(x.Recv)
		if decl, ok := sc.cg.classes[ownerName]; ok {
			for _, f := range decl.Fields {
				if f.Name == x.Name {
					return sc.cg.resolveType(f.Type, sc.typeParams)
				}
			}
		}
	case *CallExpr:
		var owner string
		if x.Recv == nil {
			owner = sc.surfaceClass()
		} else if cls, ok := sc.classReceiver(x.Recv); ok {
			owner = cls
		} else {
			owner = sc.typeOf(x.Recv)
		}
		if decl := sc.findMethodDecl(owner, x.Name, len(x.Args)); decl != nil {
			return sc.cg.resolveType(decl.Return, sc.typeParams)
		}
	}
	return ""
}
