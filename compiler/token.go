package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the Ember lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenInt        // 42
	TokenFloat      // 3.14
	TokenFloat32    // 3.14f
	TokenString     // "hello"
	TokenIdentifier // foo, Point

	// Keywords
	TokenClass
	TokenVar
	TokenDef
	TokenStatic
	TokenAsync
	TokenAcc
	TokenFun
	TokenReturn
	TokenIf
	TokenElse
	TokenWhile
	TokenNew
	TokenThis
	TokenTrue
	TokenFalse
	TokenNil

	// Operators
	TokenPlus   // +
	TokenMinus  // -
	TokenStar   // *
	TokenSlash  // /
	TokenLT     // <
	TokenGT     // >
	TokenEQ     // ==
	TokenAssign // =

	// Delimiters
	TokenLParen   // (
	TokenRParen   // )
	TokenLBrace   // {
	TokenRBrace   // }
	TokenLBracket // [
	TokenRBracket // ]
	TokenComma    // ,
	TokenColon    // :
	TokenDot      // .
)

var keywords = map[string]TokenType{
	"class":  TokenClass,
	"var":    TokenVar,
	"def":    TokenDef,
	"static": TokenStatic,
	"async":  TokenAsync,
	"acc":    TokenAcc,
	"fun":    TokenFun,
	"return": TokenReturn,
	"if":     TokenIf,
	"else":   TokenElse,
	"while":  TokenWhile,
	"new":    TokenNew,
	"this":   TokenThis,
	"true":   TokenTrue,
	"false":  TokenFalse,
	"nil":    TokenNil,
}

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenInt:        "INT",
	TokenFloat:      "FLOAT",
	TokenFloat32:    "FLOAT32",
	TokenString:     "STRING",
	TokenIdentifier: "IDENT",
	TokenClass:      "class",
	TokenVar:        "var",
	TokenDef:        "def",
	TokenStatic:     "static",
	TokenAsync:      "async",
	TokenAcc:        "acc",
	TokenFun:        "fun",
	TokenReturn:     "return",
	TokenIf:         "if",
	TokenElse:       "else",
	TokenWhile:      "while",
	TokenNew:        "new",
	TokenThis:       "this",
	TokenTrue:       "true",
	TokenFalse:      "false",
	TokenNil:        "nil",
	TokenPlus:       "+",
	TokenMinus:      "-",
	TokenStar:       "*",
	TokenSlash:      "/",
	TokenLT:         "<",
	TokenGT:         ">",
	TokenEQ:         "==",
	TokenAssign:     "=",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenLBrace:     "{",
	TokenRBrace:     "}",
	TokenLBracket:   "[",
	TokenRBracket:   "]",
	TokenComma:      ",",
	TokenColon:      ":",
	TokenDot:        ".",
}

// String returns the token type name.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// Position represents a source location.
type Position struct {
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Token is a single lexical token.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
}

// String returns a debug representation of the token.
func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%d:%d", t.Type, t.Literal, t.Pos.Line, t.Pos.Column)
}
