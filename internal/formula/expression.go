package formula

// Expression is a compiled, immutable formula. It is safe for concurrent
// use and may be shared through a Cache.
type Expression struct {
	source string
	root   Node
	fields []string
}

// Parse compiles a formula string. Malformed input yields a *SyntaxError.
func Parse(src string) (*Expression, error) {
	tokens, lexErrs := NewLexer(src).Tokenize()
	if len(lexErrs) > 0 {
		lexErrs[0].Formula = src
		return nil, lexErrs[0]
	}
	root, parseErrs := NewParser(tokens).Parse()
	if len(parseErrs) > 0 {
		parseErrs[0].Formula = src
		return nil, parseErrs[0]
	}
	return &Expression{
		source: src,
		root:   root,
		fields: collectFields(root),
	}, nil
}

// MustParse is like Parse but panics on error. For fixed formulas in tests
// and built-in tables only.
func MustParse(src string) *Expression {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

// Source returns the formula text as written.
func (e *Expression) Source() string { return e.source }

// String returns the canonical rendering of the expression tree.
func (e *Expression) String() string { return e.root.String() }

// Root returns the expression tree.
func (e *Expression) Root() Node { return e.root }

// Fields returns the top-level raw field names the formula reads, in first
// appearance order. Lookup key and projection names are sub-fields of the
// array element and are not included.
func (e *Expression) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

func collectFields(n Node) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	var walk func(Node)
	walk = func(n Node) {
		switch n := n.(type) {
		case *FieldRef:
			add(n.Name)
		case *LookupExpr:
			add(n.Array.Name)
		case *BinaryExpr:
			walk(n.Left)
			walk(n.Right)
		case *NegExpr:
			walk(n.Expr)
		}
	}
	walk(n)
	return out
}

