package formula

import (
	"strconv"
	"strings"
)

// Node is the interface implemented by all expression nodes.
type Node interface {
	nodeType() string
	Pos() int // byte offset in source
	String() string
}

// NumberLit is a numeric constant.
type NumberLit struct {
	TokenPos int
	Value    float64
}

func (n *NumberLit) nodeType() string { return "NumberLit" }
func (n *NumberLit) Pos() int         { return n.TokenPos }
func (n *NumberLit) String() string   { return strconv.FormatFloat(n.Value, 'f', -1, 64) }

// FieldRef is a raw field reference, e.g. [totalPayout].
type FieldRef struct {
	TokenPos int
	Name     string
}

func (n *FieldRef) nodeType() string { return "FieldRef" }
func (n *FieldRef) Pos() int         { return n.TokenPos }
func (n *FieldRef) String() string   { return "[" + n.Name + "]" }

// LiteralKind classifies a predicate literal.
type LiteralKind int

const (
	LitNumber LiteralKind = iota
	LitString
)

// Literal is the comparison value of a lookup predicate.
type Literal struct {
	TokenPos int
	Kind     LiteralKind
	Raw      string
	Num      float64 // set when Kind == LitNumber
}

func (l Literal) String() string {
	if l.Kind == LitString {
		return strconv.Quote(l.Raw)
	}
	return strconv.FormatFloat(l.Num, 'f', -1, 64)
}

// LookupExpr selects the first element of an array-valued field whose
// Key sub-field equals Value, then projects its Project sub-field:
//
//	[financeField].find([name] == "cleaningFee").[total]
type LookupExpr struct {
	TokenPos int
	Array    *FieldRef
	Key      *FieldRef
	Value    Literal
	Project  *FieldRef
}

func (n *LookupExpr) nodeType() string { return "LookupExpr" }
func (n *LookupExpr) Pos() int         { return n.TokenPos }
func (n *LookupExpr) String() string {
	var b strings.Builder
	b.WriteString(n.Array.String())
	b.WriteString(".find(")
	b.WriteString(n.Key.String())
	b.WriteString(" == ")
	b.WriteString(n.Value.String())
	b.WriteString(").")
	b.WriteString(n.Project.String())
	return b.String()
}

// ArithOp is a binary arithmetic operator.
type ArithOp int

const (
	OpAdd ArithOp = iota
	OpSub
	OpMul
	OpDiv
)

// String returns the operator symbol.
func (op ArithOp) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	default:
		return "?"
	}
}

func (op ArithOp) precedence() int {
	if op == OpMul || op == OpDiv {
		return 2
	}
	return 1
}

// BinaryExpr represents "left op right".
type BinaryExpr struct {
	TokenPos int
	Op       ArithOp
	Left     Node
	Right    Node
}

func (n *BinaryExpr) nodeType() string { return "BinaryExpr" }
func (n *BinaryExpr) Pos() int         { return n.TokenPos }

// String renders the expression with the minimum parentheses needed to
// keep the tree shape.
func (n *BinaryExpr) String() string {
	left := n.Left.String()
	if l, ok := n.Left.(*BinaryExpr); ok && l.Op.precedence() < n.Op.precedence() {
		left = "(" + left + ")"
	}
	right := n.Right.String()
	if r, ok := n.Right.(*BinaryExpr); ok && r.Op.precedence() <= n.Op.precedence() {
		right = "(" + right + ")"
	}
	return left + " " + n.Op.String() + " " + right
}

// NegExpr represents unary minus.
type NegExpr struct {
	TokenPos int
	Expr     Node
}

func (n *NegExpr) nodeType() string { return "NegExpr" }
func (n *NegExpr) Pos() int         { return n.TokenPos }
func (n *NegExpr) String() string {
	if _, ok := n.Expr.(*BinaryExpr); ok {
		return "-(" + n.Expr.String() + ")"
	}
	return "-" + n.Expr.String()
}
