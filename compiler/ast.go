package compiler

// ---------------------------------------------------------------------------
// AST: Abstract syntax tree for Ember
// ---------------------------------------------------------------------------

// Node is the interface implemented by all AST nodes.
type Node interface {
	Pos() Position
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// File is a parsed source file: a list of class declarations.
type File struct {
	Path    string
	Classes []*ClassDecl
}

// ClassDecl declares a class.
type ClassDecl struct {
	PosVal  Position
	Name    string
	Fields  []*FieldDecl
	Methods []*MethodDecl
}

func (n *ClassDecl) Pos() Position { return n.PosVal }

// FieldDecl declares a field, optionally with a literal initializer.
type FieldDecl struct {
	PosVal Position
	Name   string
	Type   string
	Static bool
	Init   Expr // literal or nil
}

func (n *FieldDecl) Pos() Position { return n.PosVal }

// Param is a method or lambda parameter.
type Param struct {
	Name string
	Type string
}

// MethodDecl declares a method.
type MethodDecl struct {
	PosVal     Position
	Name       string
	TypeParams []string // generic definition when non-empty
	Params     []Param
	Return     string // "" for void
	Static     bool
	Async      bool
	Accessor   bool // declared with "acc"
	Body       []Stmt
}

func (n *MethodDecl) Pos() Position { return n.PosVal }

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt()
}

// VarStmt declares a local variable.
type VarStmt struct {
	PosVal Position
	Name   string
	Type   string
	Init   Expr // may be nil
}

func (n *VarStmt) Pos() Position { return n.PosVal }
func (n *VarStmt) stmt()         {}

// AssignStmt assigns to a local, a field, or a static field.
type AssignStmt struct {
	PosVal Position
	Target Expr // Ident, FieldAccess, or StaticAccess
	Value  Expr
}

func (n *AssignStmt) Pos() Position { return n.PosVal }
func (n *AssignStmt) stmt()         {}

// ReturnStmt returns from the enclosing method.
type ReturnStmt struct {
	PosVal Position
	Value  Expr // may be nil
}

func (n *ReturnStmt) Pos() Position { return n.PosVal }
func (n *ReturnStmt) stmt()         {}

// IfStmt branches on a condition.
type IfStmt struct {
	PosVal Position
	Cond   Expr
	Then   []Stmt
	Else   []Stmt // may be nil
}

func (n *IfStmt) Pos() Position { return n.PosVal }
func (n *IfStmt) stmt()         {}

// WhileStmt loops on a condition.
type WhileStmt struct {
	PosVal Position
	Cond   Expr
	Body   []Stmt
}

func (n *WhileStmt) Pos() Position { return n.PosVal }
func (n *WhileStmt) stmt()         {}

// ExprStmt evaluates an expression for effect.
type ExprStmt struct {
	PosVal Position
	Expr   Expr
}

func (n *ExprStmt) Pos() Position { return n.PosVal }
func (n *ExprStmt) stmt()         {}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr()
}

// IntLit is an integer literal.
type IntLit struct {
	PosVal Position
	Value  int64
}

func (n *IntLit) Pos() Position { return n.PosVal }
func (n *IntLit) expr()         {}

// FloatLit is a 64-bit float literal.
type FloatLit struct {
	PosVal Position
	Value  float64
}

func (n *FloatLit) Pos() Position { return n.PosVal }
func (n *FloatLit) expr()         {}

// Float32Lit is a 32-bit float literal (suffix f).
type Float32Lit struct {
	PosVal Position
	Value  float32
}

func (n *Float32Lit) Pos() Position { return n.PosVal }
func (n *Float32Lit) expr()         {}

// StringLit is a string literal.
type StringLit struct {
	PosVal Position
	Value  string
}

func (n *StringLit) Pos() Position { return n.PosVal }
func (n *StringLit) expr()         {}

// BoolLit is true or false.
type BoolLit struct {
	PosVal Position
	Value  bool
}

func (n *BoolLit) Pos() Position { return n.PosVal }
func (n *BoolLit) expr()         {}

// NilLit is nil.
type NilLit struct {
	PosVal Position
}

func (n *NilLit) Pos() Position { return n.PosVal }
func (n *NilLit) expr()         {}

// Ident references a local, parameter, or class name.
type Ident struct {
	PosVal Position
	Name   string
}

func (n *Ident) Pos() Position { return n.PosVal }
func (n *Ident) expr()         {}

// ThisExpr references the receiver.
type ThisExpr struct {
	PosVal Position
}

func (n *ThisExpr) Pos() Position { return n.PosVal }
func (n *ThisExpr) expr()         {}

// FieldAccess reads expr.name.
type FieldAccess struct {
	PosVal Position
	Recv   Expr
	Name   string
}

func (n *FieldAccess) Pos() Position { return n.PosVal }
func (n *FieldAccess) expr()         {}

// CallExpr calls recv.name(args), or ClassName.name(args) when the
// receiver resolves to a class, with optional generic type arguments.
type CallExpr struct {
	PosVal   Position
	Recv     Expr // nil for implicit this
	Name     string
	TypeArgs []string // generic instantiation when non-empty
	Args     []Expr
}

func (n *CallExpr) Pos() Position { return n.PosVal }
func (n *CallExpr) expr()         {}

// NewExpr allocates an instance: new Type().
type NewExpr struct {
	PosVal Position
	Type   string
}

func (n *NewExpr) Pos() Position { return n.PosVal }
func (n *NewExpr) expr()         {}

// BinaryExpr is a binary operation.
type BinaryExpr struct {
	PosVal Position
	Op     TokenType
	Left   Expr
	Right  Expr
}

func (n *BinaryExpr) Pos() Position { return n.PosVal }
func (n *BinaryExpr) expr()         {}

// LambdaExpr is an anonymous function literal. It lowers to a
// compiler-generated closure type with one invoke method.
type LambdaExpr struct {
	PosVal Position
	Params []Param
	Return string
	Body   []Stmt
}

func (n *LambdaExpr) Pos() Position { return n.PosVal }
func (n *LambdaExpr) expr()         {}
