// Package formula implements the lexer, parser, AST and evaluator for
// calculation-rule formulas: arithmetic over raw booking fields plus
// single-predicate list lookups.
package formula

// TokenType identifies the kind of lexical token.
type TokenType int

const (
	TokenEOF    TokenType = iota
	TokenNumber           // 12, 0.15
	TokenString           // "cleaningFee"
	TokenField            // [raw field name], literal holds the name verbatim
	TokenIdent            // find

	// Operators
	TokenPlus  // +
	TokenMinus // -
	TokenStar  // *
	TokenSlash // /
	TokenEqEq  // ==
	TokenDot   // .

	// Grouping
	TokenLParen // (
	TokenRParen // )
)

// String returns a human-readable name for the token type.
func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "end of formula"
	case TokenNumber:
		return "number"
	case TokenString:
		return "string"
	case TokenField:
		return "field reference"
	case TokenIdent:
		return "identifier"
	case TokenPlus:
		return "+"
	case TokenMinus:
		return "-"
	case TokenStar:
		return "*"
	case TokenSlash:
		return "/"
	case TokenEqEq:
		return "=="
	case TokenDot:
		return "."
	case TokenLParen:
		return "("
	case TokenRParen:
		return ")"
	default:
		return "unknown"
	}
}

// Token represents a single lexical token in a formula.
type Token struct {
	Type    TokenType
	Literal string // raw text, or the unquoted/unbracketed content
	Pos     int    // byte offset in source
	Col     int    // 1-based column
}

// Functions callable after a field reference.
const funcFind = "find"

var knownFunctions = []string{funcFind}

