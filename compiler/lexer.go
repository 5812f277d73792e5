package compiler

import (
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for Ember source
// ---------------------------------------------------------------------------

// Lexer tokenizes Ember source code.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
	line    int  // current line (1-based)
	col     int  // current column (1-based)
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
		col:   0,
	}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
		l.pos = l.readPos
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	if l.ch == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) position() Position {
	return Position{Line: l.line, Column: l.col}
}

// skipWhitespaceAndComments skips spaces and // line comments.
func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\r' || l.ch == '\n' {
			l.readChar()
		}
		if l.ch == '/' && l.peekChar() == '/' {
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			continue
		}
		return
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()
	pos := l.position()

	switch {
	case l.ch == 0:
		return Token{Type: TokenEOF, Pos: pos}
	case isLetter(l.ch):
		return l.lexIdentifier(pos)
	case unicode.IsDigit(l.ch):
		return l.lexNumber(pos)
	case l.ch == '"':
		return l.lexString(pos)
	}

	tok := func(t TokenType, lit string) Token {
		l.readChar()
		return Token{Type: t, Literal: lit, Pos: pos}
	}

	switch l.ch {
	case '+':
		return tok(TokenPlus, "+")
	case '-':
		return tok(TokenMinus, "-")
	case '*':
		return tok(TokenStar, "*")
	case '/':
		return tok(TokenSlash, "/")
	case '<':
		return tok(TokenLT, "<")
	case '>':
		return tok(TokenGT, ">")
	case '=':
		if l.peekChar() == '=' {
			l.readChar()
			return tok(TokenEQ, "==")
		}
		return tok(TokenAssign, "=")
	case '(':
		return tok(TokenLParen, "(")
	case ')':
		return tok(TokenRParen, ")")
	case '{':
		return tok(TokenLBrace, "{")
	case '}':
		return tok(TokenRBrace, "}")
	case '[':
		return tok(TokenLBracket, "[")
	case ']':
		return tok(TokenRBracket, "]")
	case ',':
		return tok(TokenComma, ",")
	case ':':
		return tok(TokenColon, ":")
	case '.':
		return tok(TokenDot, ".")
	}

	ch := string(l.ch)
	l.readChar()
	return Token{Type: TokenError, Literal: ch, Pos: pos}
}

func (l *Lexer) lexIdentifier(pos Position) Token {
	start := l.pos
	for isLetter(l.ch) || unicode.IsDigit(l.ch) {
		l.readChar()
	}
	lit := l.input[start:l.pos]
	if t, ok := keywords[lit]; ok {
		return Token{Type: t, Literal: lit, Pos: pos}
	}
	return Token{Type: TokenIdentifier, Literal: lit, Pos: pos}
}

func (l *Lexer) lexNumber(pos Position) Token {
	start := l.pos
	for unicode.IsDigit(l.ch) {
		l.readChar()
	}
	isFloat := false
	if l.ch == '.' && unicode.IsDigit(l.peekChar()) {
		isFloat = true
		l.readChar()
		for unicode.IsDigit(l.ch) {
			l.readChar()
		}
	}
	lit := l.input[start:l.pos]
	if l.ch == 'f' {
		l.readChar()
		return Token{Type: TokenFloat32, Literal: lit, Pos: pos}
	}
	if isFloat {
		return Token{Type: TokenFloat, Literal: lit, Pos: pos}
	}
	return Token{Type: TokenInt, Literal: lit, Pos: pos}
}

func (l *Lexer) lexString(pos Position) Token {
	l.readChar() // consume opening quote
	start := l.pos
	for l.ch != '"' && l.ch != 0 {
		if l.ch == '\\' {
			l.readChar()
		}
		l.readChar()
	}
	if l.ch == 0 {
		return Token{Type: TokenError, Literal: "unterminated string", Pos: pos}
	}
	lit := unescape(l.input[start:l.pos])
	l.readChar() // consume closing quote
	return Token{Type: TokenString, Literal: lit, Pos: pos}
}

func unescape(s string) string {
	out := make([]rune, 0, len(s))
	esc := false
	for _, r := range s {
		if esc {
			switch r {
			case 'n':
				out = append(out, '\n')
			case 't':
				out = append(out, '\t')
			default:
				out = append(out, r)
			}
			esc = false
			continue
		}
		if r == '\\' {
			esc = true
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

func isLetter(ch rune) bool {
	return unicode.IsLetter(ch) || ch == '_'
}
