package formula

import (
	"fmt"
	"strconv"
)

// maxDepth bounds parenthesis and unary-minus nesting.
const maxDepth = 64

// Parser implements a recursive descent parser for formulas. It stops at
// the first error: a partially understood formula is never useful.
type Parser struct {
	tokens []Token
	pos    int
	depth  int
	errors []*SyntaxError
}

// NewParser creates a parser from a token slice (typically from Lexer.Tokenize).
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse parses the token stream into a single expression tree.
func (p *Parser) Parse() (Node, []*SyntaxError) {
	if p.atEnd() {
		p.addError(p.peek(), "empty formula")
		return nil, p.errors
	}
	node := p.parseExpr()
	if node == nil {
		return nil, p.errors
	}
	if !p.atEnd() {
		tok := p.peek()
		if tok.Type == TokenRParen {
			p.addError(tok, "unbalanced ')' without matching '('")
		} else {
			p.addError(tok, fmt.Sprintf("unexpected %s after complete expression", describe(tok)))
		}
		return nil, p.errors
	}
	return node, nil
}

// ── Token navigation ────────────────────────────────────────────────────────

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) advance() Token {
	tok := p.peek()
	if tok.Type != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *Parser) atEnd() bool {
	return p.peek().Type == TokenEOF
}

func (p *Parser) check(t TokenType) bool {
	return p.peek().Type == t
}

func (p *Parser) expect(t TokenType, context string) (Token, bool) {
	if p.check(t) {
		return p.advance(), true
	}
	tok := p.peek()
	p.addError(tok, fmt.Sprintf("expected %s %s, got %s", t, context, describe(tok)))
	return tok, false
}

func (p *Parser) addError(tok Token, msg string) {
	p.errors = append(p.errors, newSyntaxError(tok, msg))
}

func (p *Parser) enter(tok Token) bool {
	p.depth++
	if p.depth > maxDepth {
		p.addError(tok, fmt.Sprintf("formula nests deeper than %d levels", maxDepth))
		return false
	}
	return true
}

func (p *Parser) leave() { p.depth-- }

// ── Expressions ─────────────────────────────────────────────────────────────

func (p *Parser) parseExpr() Node {
	left := p.parseTerm()
	if left == nil {
		return nil
	}
	for p.check(TokenPlus) || p.check(TokenMinus) {
		opTok := p.advance()
		op := OpAdd
		if opTok.Type == TokenMinus {
			op = OpSub
		}
		right := p.parseTerm()
		if right == nil {
			return nil
		}
		left = &BinaryExpr{TokenPos: opTok.Pos, Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseTerm() Node {
	left := p.parseUnary()
	if left == nil {
		return nil
	}
	for p.check(TokenStar) || p.check(TokenSlash) {
		opTok := p.advance()
		op := OpMul
		if opTok.Type == TokenSlash {
			op = OpDiv
		}
		right := p.parseUnary()
		if right == nil {
			return nil
		}
		left = &BinaryExpr{TokenPos: opTok.Pos, Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseUnary() Node {
	if !p.check(TokenMinus) {
		return p.parseFactor()
	}
	tok := p.advance()
	if !p.enter(tok) {
		return nil
	}
	defer p.leave()
	expr := p.parseUnary()
	if expr == nil {
		return nil
	}
	return &NegExpr{TokenPos: tok.Pos, Expr: expr}
}

func (p *Parser) parseFactor() Node {
	tok := p.peek()
	switch tok.Type {
	case TokenNumber:
		p.advance()
		v, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.addError(tok, fmt.Sprintf("invalid number %q", tok.Literal))
			return nil
		}
		return &NumberLit{TokenPos: tok.Pos, Value: v}

	case TokenField:
		p.advance()
		ref := &FieldRef{TokenPos: tok.Pos, Name: tok.Literal}
		if !p.check(TokenDot) {
			return ref
		}
		lookup := p.parseLookup(ref)
		if lookup == nil {
			return nil
		}
		if p.check(TokenDot) {
			p.addError(p.peek(), "chained lookups are not supported; use a single find(...)")
			return nil
		}
		return lookup

	case TokenLParen:
		p.advance()
		if !p.enter(tok) {
			return nil
		}
		defer p.leave()
		expr := p.parseExpr()
		if expr == nil {
			return nil
		}
		if !p.check(TokenRParen) {
			p.addError(p.peek(), fmt.Sprintf("unbalanced '(': expected ')', got %s", describe(p.peek())))
			return nil
		}
		p.advance()
		return expr

	case TokenString:
		p.addError(tok, fmt.Sprintf("string literal %q is only valid as a find(...) comparison value", tok.Literal))
		return nil

	case TokenIdent:
		if tok.Literal == "]" {
			p.addError(tok, "unbalanced ']' without matching '['")
			return nil
		}
		p.addError(tok, fmt.Sprintf("unexpected identifier '%s'; raw fields are written as [%s]", tok.Literal, tok.Literal))
		return nil

	case TokenRParen:
		p.addError(tok, "unbalanced ')' without matching '('")
		return nil

	case TokenEOF:
		p.addError(tok, "unexpected end of formula, expected a number, field reference or '('")
		return nil

	default:
		p.addError(tok, fmt.Sprintf("unexpected %s, expected a number, field reference or '('", describe(tok)))
		return nil
	}
}

// parseLookup parses `.find([key] == literal).[project]` after an array
// field reference.
func (p *Parser) parseLookup(array *FieldRef) Node {
	p.advance() // consume '.'

	fnTok := p.peek()
	if fnTok.Type != TokenIdent {
		p.addError(fnTok, fmt.Sprintf("expected function name after '.', got %s", describe(fnTok)))
		return nil
	}
	p.advance()
	if fnTok.Literal != funcFind {
		p.errors = append(p.errors, &SyntaxError{
			Message:    fmt.Sprintf("unknown function '%s'", fnTok.Literal),
			Pos:        fnTok.Pos,
			Col:        fnTok.Col,
			Suggestion: SuggestFrom(fnTok.Literal, knownFunctions, 2),
		})
		return nil
	}

	if _, ok := p.expect(TokenLParen, "after 'find'"); !ok {
		return nil
	}
	keyTok, ok := p.expect(TokenField, "as find(...) key")
	if !ok {
		return nil
	}
	if _, ok := p.expect(TokenEqEq, "in find(...) predicate"); !ok {
		return nil
	}
	lit, ok := p.parseLiteral()
	if !ok {
		return nil
	}
	if _, ok := p.expect(TokenRParen, "to close find(...)"); !ok {
		return nil
	}
	if _, ok := p.expect(TokenDot, "after find(...)"); !ok {
		return nil
	}
	projTok, ok := p.expect(TokenField, "to project from the matched element")
	if !ok {
		return nil
	}

	return &LookupExpr{
		TokenPos: array.TokenPos,
		Array:    array,
		Key:      &FieldRef{TokenPos: keyTok.Pos, Name: keyTok.Literal},
		Value:    lit,
		Project:  &FieldRef{TokenPos: projTok.Pos, Name: projTok.Literal},
	}
}

func (p *Parser) parseLiteral() (Literal, bool) {
	tok := p.peek()
	switch tok.Type {
	case TokenString:
		p.advance()
		return Literal{TokenPos: tok.Pos, Kind: LitString, Raw: tok.Literal}, true
	case TokenNumber, TokenMinus:
		neg := false
		if tok.Type == TokenMinus {
			p.advance()
			neg = true
		}
		numTok, ok := p.expect(TokenNumber, "as comparison value")
		if !ok {
			return Literal{}, false
		}
		v, err := strconv.ParseFloat(numTok.Literal, 64)
		if err != nil {
			p.addError(numTok, fmt.Sprintf("invalid number %q", numTok.Literal))
			return Literal{}, false
		}
		raw := numTok.Literal
		if neg {
			v, raw = -v, "-"+raw
		}
		return Literal{TokenPos: tok.Pos, Kind: LitNumber, Raw: raw, Num: v}, true
	default:
		p.addError(tok, fmt.Sprintf("expected number or quoted string as comparison value, got %s", describe(tok)))
		return Literal{}, false
	}
}

func describe(tok Token) string {
	switch tok.Type {
	case TokenEOF:
		return "end of formula"
	case TokenField:
		return "[" + tok.Literal + "]"
	case TokenIdent, TokenNumber:
		return "'" + tok.Literal + "'"
	case TokenString:
		return strconv.Quote(tok.Literal)
	default:
		return "'" + tok.Type.String() + "'"
	}
}
