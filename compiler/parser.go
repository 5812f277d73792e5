package compiler

import (
	"fmt"
	"strconv"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for Ember
// ---------------------------------------------------------------------------

// Parser parses Ember source code into an AST.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	errors    []Diagnostic
	path      string
}

// NewParser creates a new parser for the given input.
func NewParser(path, input string) *Parser {
	p := &Parser{
		lexer: NewLexer(input),
		path:  path,
	}
	// Read two tokens to fill curToken and peekToken.
	p.nextToken()
	p.nextToken()
	return p
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

func (p *Parser) curTokenIs(t TokenType) bool  { return p.curToken.Type == t }
func (p *Parser) peekTokenIs(t TokenType) bool { return p.peekToken.Type == t }

// expect advances if the current token matches, otherwise records an error.
func (p *Parser) expect(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("expected %s, got %s", t, p.curToken.Type)
	return false
}

// errorf records a parse error at the current token.
func (p *Parser) errorf(format string, args ...interface{}) {
	p.errors = append(p.errors, Diagnostic{
		Path:    p.path,
		Line:    p.curToken.Pos.Line,
		Column:  p.curToken.Pos.Column,
		Message: fmt.Sprintf(format, args...),
	})
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() []Diagnostic {
	return p.errors
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// ParseFile parses a whole source file.
func (p *Parser) ParseFile() *File {
	f := &File{Path: p.path}
	for !p.curTokenIs(TokenEOF) {
		if !p.curTokenIs(TokenClass) {
			p.errorf("expected class declaration, got %s", p.curToken.Type)
			return f
		}
		cls := p.parseClass()
		if cls == nil {
			return f
		}
		f.Classes = append(f.Classes, cls)
	}
	return f
}

func (p *Parser) parseClass() *ClassDecl {
	cls := &ClassDecl{PosVal: p.curToken.Pos}
	p.nextToken() // consume "class"

	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected class name, got %s", p.curToken.Type)
		return nil
	}
	cls.Name = p.curToken.Literal
	p.nextToken()

	if !p.expect(TokenLBrace) {
		return nil
	}
	for !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) {
		static := false
		async := false
		acc := false
		pos := p.curToken.Pos
		if p.curTokenIs(TokenStatic) {
			static = true
			p.nextToken()
		}
		if p.curTokenIs(TokenAsync) {
			async = true
			p.nextToken()
		}
		if p.curTokenIs(TokenAcc) {
			acc = true
			p.nextToken()
		}
		if acc && async {
			p.errorf("accessors cannot be async")
		}
		switch {
		case p.curTokenIs(TokenVar):
			fld := p.parseField(pos, static)
			if fld == nil {
				return cls
			}
			if async || acc {
				p.errorf("fields cannot carry method modifiers")
			}
			cls.Fields = append(cls.Fields, fld)
		case p.curTokenIs(TokenDef):
			m := p.parseMethod(pos, static, async, acc)
			if m == nil {
				return cls
			}
			cls.Methods = append(cls.Methods, m)
		default:
			p.errorf("expected var or def, got %s", p.curToken.Type)
			return cls
		}
	}
	p.expect(TokenRBrace)
	return cls
}

func (p *Parser) parseField(pos Position, static bool) *FieldDecl {
	p.nextToken() // consume "var"
	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected field name, got %s", p.curToken.Type)
		return nil
	}
	fld := &FieldDecl{PosVal: pos, Name: p.curToken.Literal, Static: static}
	p.nextToken()

	if !p.expect(TokenColon) {
		return nil
	}
	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected field type, got %s", p.curToken.Type)
		return nil
	}
	fld.Type = p.curToken.Literal
	p.nextToken()

	if p.curTokenIs(TokenAssign) {
		p.nextToken()
		fld.Init = p.parseExpr()
	}
	return fld
}

func (p *Parser) parseMethod(pos Position, static, async, acc bool) *MethodDecl {
	p.nextToken() // consume "def"
	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected method name, got %s", p.curToken.Type)
		return nil
	}
	m := &MethodDecl{PosVal: pos, Name: p.curToken.Literal, Static: static, Async: async, Accessor: acc}
	p.nextToken()

	// Generic type parameters
	if p.curTokenIs(TokenLBracket) {
		p.nextToken()
		for !p.curTokenIs(TokenRBracket) && !p.curTokenIs(TokenEOF) {
			if !p.curTokenIs(TokenIdentifier) {
				p.errorf("expected type parameter, got %s", p.curToken.Type)
				return nil
			}
			m.TypeParams = append(m.TypeParams, p.curToken.Literal)
			p.nextToken()
			if p.curTokenIs(TokenComma) {
				p.nextToken()
			}
		}
		p.expect(TokenRBracket)
	}

	params, ok := p.parseParams()
	if !ok {
		return nil
	}
	m.Params = params

	if p.curTokenIs(TokenColon) {
		p.nextToken()
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected return type, got %s", p.curToken.Type)
			return nil
		}
		m.Return = p.curToken.Literal
		p.nextToken()
	}

	m.Body = p.parseBlock()
	return m
}

func (p *Parser) parseParams() ([]Param, bool) {
	if !p.expect(TokenLParen) {
		return nil, false
	}
	var params []Param
	for !p.curTokenIs(TokenRParen) && !p.curTokenIs(TokenEOF) {
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected parameter name, got %s", p.curToken.Type)
			return nil, false
		}
		name := p.curToken.Literal
		p.nextToken()
		if !p.expect(TokenColon) {
			return nil, false
		}
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected parameter type, got %s", p.curToken.Type)
			return nil, false
		}
		params = append(params, Param{Name: name, Type: p.curToken.Literal})
		p.nextToken()
		if p.curTokenIs(TokenComma) {
			p.nextToken()
		}
	}
	p.expect(TokenRParen)
	return params, true
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *Parser) parseBlock() []Stmt {
	if !p.expect(TokenLBrace) {
		return nil
	}
	var stmts []Stmt
	for !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) {
		s := p.parseStmt()
		if s == nil {
			break
		}
		stmts = append(stmts, s)
	}
	p.expect(TokenRBrace)
	return stmts
}

func (p *Parser) parseStmt() Stmt {
	switch p.curToken.Type {
	case TokenVar:
		return p.parseVarStmt()
	case TokenReturn:
		return p.parseReturnStmt()
	case TokenIf:
		return p.parseIfStmt()
	case TokenWhile:
		return p.parseWhileStmt()
	}

	pos := p.curToken.Pos
	expr := p.parseExpr()
	if expr == nil {
		return nil
	}
	if p.curTokenIs(TokenAssign) {
		p.nextToken()
		val := p.parseExpr()
		switch expr.(type) {
		case *Ident, *FieldAccess:
		default:
			p.errorf("invalid assignment target")
		}
		return &AssignStmt{PosVal: pos, Target: expr, Value: val}
	}
	return &ExprStmt{PosVal: pos, Expr: expr}
}

func (p *Parser) parseVarStmt() Stmt {
	s := &VarStmt{PosVal: p.curToken.Pos}
	p.nextToken() // consume "var"
	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected variable name, got %s", p.curToken.Type)
		return nil
	}
	s.Name = p.curToken.Literal
	p.nextToken()
	if !p.expect(TokenColon) {
		return nil
	}
	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected variable type, got %s", p.curToken.Type)
		return nil
	}
	s.Type = p.curToken.Literal
	p.nextToken()
	if p.curTokenIs(TokenAssign) {
		p.nextToken()
		s.Init = p.parseExpr()
	}
	return s
}

func (p *Parser) parseReturnStmt() Stmt {
	s := &ReturnStmt{PosVal: p.curToken.Pos}
	p.nextToken() // consume "return"
	// A return value is present unless the next token closes the block.
	if !p.curTokenIs(TokenRBrace) {
		s.Value = p.parseExpr()
	}
	return s
}

func (p *Parser) parseIfStmt() Stmt {
	s := &IfStmt{PosVal: p.curToken.Pos}
	p.nextToken() // consume "if"
	// Conditions are bare; a parenthesized condition still parses as a
	// grouped expression.
	s.Cond = p.parseExpr()
	s.Then = p.parseBlock()
	if p.curTokenIs(TokenElse) {
		p.nextToken()
		s.Else = p.parseBlock()
	}
	return s
}

func (p *Parser) parseWhileStmt() Stmt {
	s := &WhileStmt{PosVal: p.curToken.Pos}
	p.nextToken() // consume "while"
	s.Cond = p.parseExpr()
	s.Body = p.parseBlock()
	return s
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (p *Parser) parseExpr() Expr {
	return p.parseComparison()
}

func (p *Parser) parseComparison() Expr {
	left := p.parseAdditive()
	for p.curTokenIs(TokenLT) || p.curTokenIs(TokenGT) || p.curTokenIs(TokenEQ) {
		op := p.curToken.Type
		pos := p.curToken.Pos
		p.nextToken()
		right := p.parseAdditive()
		left = &BinaryExpr{PosVal: pos, Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseAdditive() Expr {
	left := p.parseMultiplicative()
	for p.curTokenIs(TokenPlus) || p.curTokenIs(TokenMinus) {
		op := p.curToken.Type
		pos := p.curToken.Pos
		p.nextToken()
		right := p.parseMultiplicative()
		left = &BinaryExpr{PosVal: pos, Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseMultiplicative() Expr {
	left := p.parseUnary()
	for p.curTokenIs(TokenStar) || p.curTokenIs(TokenSlash) {
		op := p.curToken.Type
		pos := p.curToken.Pos
		p.nextToken()
		right := p.parseUnary()
		left = &BinaryExpr{PosVal: pos, Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseUnary() Expr {
	if p.curTokenIs(TokenMinus) {
		pos := p.curToken.Pos
		p.nextToken()
		operand := p.parseUnary()
		return &BinaryExpr{PosVal: pos, Op: TokenMinus, Left: &IntLit{PosVal: pos, Value: 0}, Right: operand}
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() Expr {
	expr := p.parsePrimary()
	for p.curTokenIs(TokenDot) {
		pos := p.curToken.Pos
		p.nextToken()
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected member name, got %s", p.curToken.Type)
			return expr
		}
		name := p.curToken.Literal
		p.nextToken()

		var typeArgs []string
		if p.curTokenIs(TokenLBracket) {
			typeArgs = p.parseTypeArgs()
		}
		if p.curTokenIs(TokenLParen) {
			args := p.parseArgs()
			expr = &CallExpr{PosVal: pos, Recv: expr, Name: name, TypeArgs: typeArgs, Args: args}
			continue
		}
		if typeArgs != nil {
			p.errorf("type arguments require a call")
		}
		expr = &FieldAccess{PosVal: pos, Recv: expr, Name: name}
	}
	return expr
}

func (p *Parser) parsePrimary() Expr {
	pos := p.curToken.Pos
	switch p.curToken.Type {
	case TokenInt:
		v, err := strconv.ParseInt(p.curToken.Literal, 10, 64)
		if err != nil {
			p.errorf("bad integer literal %q", p.curToken.Literal)
		}
		p.nextToken()
		return &IntLit{PosVal: pos, Value: v}
	case TokenFloat:
		v, err := strconv.ParseFloat(p.curToken.Literal, 64)
		if err != nil {
			p.errorf("bad float literal %q", p.curToken.Literal)
		}
		p.nextToken()
		return &FloatLit{PosVal: pos, Value: v}
	case TokenFloat32:
		v, err := strconv.ParseFloat(p.curToken.Literal, 32)
		if err != nil {
			p.errorf("bad float literal %q", p.curToken.Literal)
		}
		p.nextToken()
		return &Float32Lit{PosVal: pos, Value: float32(v)}
	case TokenString:
		v := p.curToken.Literal
		p.nextToken()
		return &StringLit{PosVal: pos, Value: v}
	case TokenTrue:
		p.nextToken()
		return &BoolLit{PosVal: pos, Value: true}
	case TokenFalse:
		p.nextToken()
		return &BoolLit{PosVal: pos, Value: false}
	case TokenNil:
		p.nextToken()
		return &NilLit{PosVal: pos}
	case TokenThis:
		p.nextToken()
		return &ThisExpr{PosVal: pos}
	case TokenNew:
		p.nextToken()
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected type name after new, got %s", p.curToken.Type)
			return nil
		}
		name := p.curToken.Literal
		p.nextToken()
		if !p.expect(TokenLParen) {
			return nil
		}
		p.expect(TokenRParen)
		return &NewExpr{PosVal: pos, Type: name}
	case TokenFun:
		return p.parseLambda()
	case TokenLParen:
		p.nextToken()
		expr := p.parseExpr()
		p.expect(TokenRParen)
		return expr
	case TokenIdentifier:
		name := p.curToken.Literal
		p.nextToken()
		var typeArgs []string
		if p.curTokenIs(TokenLBracket) {
			typeArgs = p.parseTypeArgs()
		}
		if p.curTokenIs(TokenLParen) {
			args := p.parseArgs()
			return &CallExpr{PosVal: pos, Recv: nil, Name: name, TypeArgs: typeArgs, Args: args}
		}
		if typeArgs != nil {
			p.errorf("type arguments require a call")
		}
		return &Ident{PosVal: pos, Name: name}
	}
	p.errorf("unexpected token %s", p.curToken.Type)
	p.nextToken()
	return nil
}

func (p *Parser) parseTypeArgs() []string {
	p.nextToken() // consume "["
	args := []string{}
	for !p.curTokenIs(TokenRBracket) && !p.curTokenIs(TokenEOF) {
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected type argument, got %s", p.curToken.Type)
			return args
		}
		args = append(args, p.curToken.Literal)
		p.nextToken()
		if p.curTokenIs(TokenComma) {
			p.nextToken()
		}
	}
	p.expect(TokenRBracket)
	return args
}

func (p *Parser) parseArgs() []Expr {
	p.nextToken() // consume "("
	var args []Expr
	for !p.curTokenIs(TokenRParen) && !p.curTokenIs(TokenEOF) {
		args = append(args, p.parseExpr())
		if p.curTokenIs(TokenComma) {
			p.nextToken()
		}
	}
	p.expect(TokenRParen)
	return args
}

func (p *Parser) parseLambda() Expr {
	lam := &LambdaExpr{PosVal: p.curToken.Pos}
	p.nextToken() // consume "fun"
	params, ok := p.parseParams()
	if !ok {
		return nil
	}
	lam.Params = params
	if p.curTokenIs(TokenColon) {
		p.nextToken()
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected return type, got %s", p.curToken.Type)
			return nil
		}
		lam.Return = p.curToken.Literal
		p.nextToken()
	}
	lam.Body = p.parseBlock()
	return lam
}
