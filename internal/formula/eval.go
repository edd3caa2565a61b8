package formula

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/matthewbaird/payoutrules/internal/types"
)

// Evaluate runs the expression against one booking record. The second
// result is false when the value is absent: a referenced field is missing
// or not numeric, an operand is absent, a division by zero occurs, or a
// lookup finds no matching element. Evaluation never fails on data shape.
func (e *Expression) Evaluate(record types.RawBookingSource) (float64, bool) {
	v, ok := eval(e.root, record)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func eval(n Node, record types.RawBookingSource) (float64, bool) {
	switch n := n.(type) {
	case *NumberLit:
		return n.Value, true

	case *FieldRef:
		raw, ok := record[n.Name]
		if !ok {
			return 0, false
		}
		return Number(raw)

	case *NegExpr:
		v, ok := eval(n.Expr, record)
		if !ok {
			return 0, false
		}
		return -v, true

	case *BinaryExpr:
		l, ok := eval(n.Left, record)
		if !ok {
			return 0, false
		}
		r, ok := eval(n.Right, record)
		if !ok {
			return 0, false
		}
		var out float64
		switch n.Op {
		case OpAdd:
			out = l + r
		case OpSub:
			out = l - r
		case OpMul:
			out = l * r
		case OpDiv:
			if r == 0 {
				return 0, false
			}
			out = l / r
		}
		if math.IsNaN(out) || math.IsInf(out, 0) {
			return 0, false
		}
		return out, true

	case *LookupExpr:
		return evalLookup(n, record)
	}
	return 0, false
}

func evalLookup(n *LookupExpr, record types.RawBookingSource) (float64, bool) {
	raw, ok := record[n.Array.Name]
	if !ok {
		return 0, false
	}
	for _, elem := range elements(raw) {
		obj, ok := object(elem)
		if !ok {
			continue
		}
		key, ok := obj[n.Key.Name]
		if !ok || !matches(key, n.Value) {
			continue
		}
		proj, ok := obj[n.Project.Name]
		if !ok {
			return 0, false
		}
		return Number(proj)
	}
	return 0, false
}

// elements returns the items of an array-valued field, or nil when the
// value is not an array.
func elements(v any) []any {
	switch arr := v.(type) {
	case []any:
		return arr
	case []map[string]any:
		out := make([]any, len(arr))
		for i := range arr {
			out[i] = arr[i]
		}
		return out
	case []types.RawBookingSource:
		out := make([]any, len(arr))
		for i := range arr {
			out[i] = arr[i]
		}
		return out
	}
	return nil
}

// ElementKeys returns the sorted union of the keys of the objects in an
// array-valued field.
func ElementKeys(v any) []string {
	seen := make(map[string]bool)
	var out []string
	for _, el := range elements(v) {
		obj, ok := object(el)
		if !ok {
			continue
		}
		for k := range obj {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}

func object(v any) (map[string]any, bool) {
	switch o := v.(type) {
	case map[string]any:
		return o, true
	case types.RawBookingSource:
		return o, true
	case map[string]string:
		out := make(map[string]any, len(o))
		for k, s := range o {
			out[k] = s
		}
		return out, true
	}
	return nil, false
}

func matches(v any, lit Literal) bool {
	if lit.Kind == LitString {
		s, ok := v.(string)
		return ok && s == lit.Raw
	}
	n, ok := Number(v)
	return ok && n == lit.Num
}

// Number coerces a raw record value to a float. Go numerics, json.Number
// and numeric strings (as delivered by CSV imports, optionally with a
// leading currency symbol and thousands separators) are accepted; nil,
// booleans, non-numeric strings and composite values are not.
func Number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, ok := parseNumericString(n)
		if !ok {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// numericString accepts plain decimals and comma thousands grouping.
// Any other comma placement ("12,50", "1,2,3") is not a number.
var numericString = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+|\d{1,3}(,\d{3})+(\.\d+)?)$`)

func parseNumericString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = strings.TrimSpace(s[1:])
	}
	s = strings.TrimPrefix(s, "$")
	if !numericString.MatchString(s) {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if neg {
		f = -f
	}
	return f, true
}
