package formula

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Lexer tokenizes formula source text.
type Lexer struct {
	input  string
	pos    int // current byte position
	col    int // 1-based
	tokens []Token
	errors []*SyntaxError
}

// NewLexer creates a lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{
		input: input,
		col:   1,
	}
}

// Tokenize scans the entire input and returns all tokens plus any errors.
func (l *Lexer) Tokenize() ([]Token, []*SyntaxError) {
	for {
		tok := l.next()
		l.tokens = append(l.tokens, tok)
		if tok.Type == TokenEOF {
			break
		}
	}
	return l.tokens, l.errors
}

func (l *Lexer) peek() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return r
}

func (l *Lexer) peekAt(offset int) rune {
	p := l.pos + offset
	if p >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[p:])
	return r
}

func (l *Lexer) advance() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	r, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += size
	l.col++
	return r
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) && unicode.IsSpace(l.peek()) {
		l.advance()
	}
}

func (l *Lexer) errorAt(pos, col int, msg string) {
	l.errors = append(l.errors, &SyntaxError{Message: msg, Pos: pos, Col: col})
}

// next scans and returns the next token.
func (l *Lexer) next() Token {
	l.skipWhitespace()

	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.pos, Col: l.col}
	}

	startPos, startCol := l.pos, l.col
	r := l.peek()

	switch {
	case r == '[':
		return l.scanField(startPos, startCol)
	case r == '"' || r == '\'':
		return l.scanString(startPos, startCol)
	case r >= '0' && r <= '9':
		return l.scanNumber(startPos, startCol)
	case isIdentStart(r):
		return l.scanIdent(startPos, startCol)
	}

	if r == '=' {
		l.advance()
		if l.peek() == '=' {
			l.advance()
			return Token{Type: TokenEqEq, Literal: "==", Pos: startPos, Col: startCol}
		}
		l.errorAt(startPos, startCol, "expected '==', got '='")
		return Token{Type: TokenEqEq, Literal: "=", Pos: startPos, Col: startCol}
	}

	l.advance()
	switch r {
	case '+':
		return Token{Type: TokenPlus, Literal: "+", Pos: startPos, Col: startCol}
	case '-':
		return Token{Type: TokenMinus, Literal: "-", Pos: startPos, Col: startCol}
	case '*':
		return Token{Type: TokenStar, Literal: "*", Pos: startPos, Col: startCol}
	case '/':
		return Token{Type: TokenSlash, Literal: "/", Pos: startPos, Col: startCol}
	case '.':
		return Token{Type: TokenDot, Literal: ".", Pos: startPos, Col: startCol}
	case '(':
		return Token{Type: TokenLParen, Literal: "(", Pos: startPos, Col: startCol}
	case ')':
		return Token{Type: TokenRParen, Literal: ")", Pos: startPos, Col: startCol}
	case ']':
		l.errorAt(startPos, startCol, "unbalanced ']' without matching '['")
		return Token{Type: TokenIdent, Literal: "]", Pos: startPos, Col: startCol}
	}

	l.errorAt(startPos, startCol, "unexpected character "+quoteRune(r))
	return Token{Type: TokenIdent, Literal: string(r), Pos: startPos, Col: startCol}
}

// scanField reads a bracketed raw field name. Everything up to the closing
// bracket is taken verbatim.
func (l *Lexer) scanField(startPos, startCol int) Token {
	l.advance() // consume '['
	start := l.pos
	for l.pos < len(l.input) && l.peek() != ']' {
		l.advance()
	}
	name := l.input[start:l.pos]
	if l.pos >= len(l.input) {
		l.errorAt(startPos, startCol, "unbalanced '[': field reference is not closed")
		return Token{Type: TokenField, Literal: name, Pos: startPos, Col: startCol}
	}
	l.advance() // consume ']'
	if name == "" {
		l.errorAt(startPos, startCol, "empty field reference '[]'")
	}
	return Token{Type: TokenField, Literal: name, Pos: startPos, Col: startCol}
}

// scanString reads a quoted string literal.
func (l *Lexer) scanString(startPos, startCol int) Token {
	quote := l.advance()
	var b strings.Builder
	for l.pos < len(l.input) {
		r := l.advance()
		if r == quote {
			return Token{Type: TokenString, Literal: b.String(), Pos: startPos, Col: startCol}
		}
		if r == '\\' {
			next := l.advance()
			switch next {
			case '\\', '"', '\'':
				b.WriteRune(next)
			default:
				b.WriteByte('\\')
				b.WriteRune(next)
			}
			continue
		}
		b.WriteRune(r)
	}
	l.errorAt(startPos, startCol, "unterminated string")
	return Token{Type: TokenString, Literal: b.String(), Pos: startPos, Col: startCol}
}

// scanNumber reads an integer or decimal literal.
func (l *Lexer) scanNumber(startPos, startCol int) Token {
	start := l.pos
	seenDot := false
	for l.pos < len(l.input) {
		r := l.peek()
		if r >= '0' && r <= '9' {
			l.advance()
		} else if r == '.' && !seenDot && l.peekAt(1) >= '0' && l.peekAt(1) <= '9' {
			seenDot = true
			l.advance()
		} else {
			break
		}
	}
	return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Pos: startPos, Col: startCol}
}

func (l *Lexer) scanIdent(startPos, startCol int) Token {
	start := l.pos
	for l.pos < len(l.input) && isIdentPart(l.peek()) {
		l.advance()
	}
	return Token{Type: TokenIdent, Literal: l.input[start:l.pos], Pos: startPos, Col: startCol}
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func quoteRune(r rune) string {
	return "'" + string(r) + "'"
}
