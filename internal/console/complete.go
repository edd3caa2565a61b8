package console

import (
	"regexp"
	"sort"
	"strings"

	"github.com/matthewbaird/payoutrules/internal/formula"
	"github.com/matthewbaird/payoutrules/internal/types"
)

// CompletionItem is a single autocomplete suggestion.
type CompletionItem struct {
	Label      string `json:"label"`
	Kind       string `json:"kind"` // "field", "method"
	Detail     string `json:"detail,omitempty"`
	InsertText string `json:"insert_text,omitempty"`
}

var (
	afterFieldDot = regexp.MustCompile(`\]\s*\.\s*([A-Za-z]*)$`)
	afterCallDot  = regexp.MustCompile(`\)\s*\.\s*$`)
	findCall      = regexp.MustCompile(`\]\s*\.\s*find\s*$`)
)

// position describes where the cursor sits in a partial formula.
type position struct {
	inString  bool
	inBracket bool
	partial   string
	findArray string // array whose find(...) encloses the cursor
	closed    string // array of the find(...) just before the cursor
	afterCall bool   // cursor directly after ")."
	afterDot  bool   // cursor directly after "]."
}

func locate(prefix string) position {
	var (
		pos          position
		stack        []string
		bracketStart = -1
		lastField    string
	)
	for i := 0; i < len(prefix); i++ {
		switch c := prefix[i]; c {
		case '"', '\'':
			j := i + 1
			for j < len(prefix) && prefix[j] != c {
				if prefix[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(prefix) {
				pos.inString = true
				return pos
			}
			i = j
		case '[':
			bracketStart = i
		case ']':
			if bracketStart >= 0 {
				lastField = prefix[bracketStart+1 : i]
				bracketStart = -1
				pos.closed = ""
			}
		case '(':
			arr := ""
			if findCall.MatchString(prefix[:i]) {
				arr = lastField
			}
			stack = append(stack, arr)
		case ')':
			if n := len(stack); n > 0 {
				pos.closed = stack[n-1]
				stack = stack[:n-1]
			}
		}
	}

	if len(stack) > 0 {
		pos.findArray = stack[len(stack)-1]
	}
	if bracketStart >= 0 {
		pos.inBracket = true
		pos.partial = prefix[bracketStart+1:]
		if pos.findArray == "" && afterCallDot.MatchString(prefix[:bracketStart]) {
			pos.findArray = pos.closed
		}
		return pos
	}
	if m := afterFieldDot.FindStringSubmatch(prefix); m != nil {
		pos.afterDot = true
		pos.partial = m[1]
		return pos
	}
	pos.afterCall = afterCallDot.MatchString(prefix)
	return pos
}

// Complete returns suggestions for the formula text up to cursor: field
// names inside an open bracket, element fields inside find(...) or after
// its closing ").", and find after "].". Field names come from record when
// one is given, otherwise from the canonical field list.
func Complete(text string, cursor int, record types.RawBookingSource) []CompletionItem {
	if cursor < 0 || cursor > len(text) {
		cursor = len(text)
	}
	pos := locate(text[:cursor])

	items := []CompletionItem{}
	switch {
	case pos.inString:
	case pos.inBracket && pos.findArray != "":
		for _, k := range matching(formula.ElementKeys(record[pos.findArray]), pos.partial) {
			items = append(items, CompletionItem{Label: k, Kind: "field", Detail: "element of " + pos.findArray, InsertText: k + "]"})
		}
	case pos.inBracket:
		names, detail := topLevel(record)
		for _, k := range matching(names, pos.partial) {
			items = append(items, CompletionItem{Label: k, Kind: "field", Detail: detail, InsertText: k + "]"})
		}
	case pos.afterDot:
		if strings.HasPrefix("find", strings.ToLower(pos.partial)) {
			items = append(items, CompletionItem{
				Label:      "find",
				Kind:       "method",
				Detail:     `find([key] == "value")`,
				InsertText: "find(",
			})
		}
	case pos.afterCall && pos.closed != "":
		for _, k := range formula.ElementKeys(record[pos.closed]) {
			items = append(items, CompletionItem{Label: k, Kind: "field", Detail: "element of " + pos.closed, InsertText: "[" + k + "]"})
		}
	}
	return items
}

func topLevel(record types.RawBookingSource) ([]string, string) {
	if len(record) == 0 {
		return append([]string(nil), types.CanonicalFields...), "canonical field"
	}
	names := make([]string, 0, len(record))
	for k := range record {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, "record field"
}

func matching(names []string, partial string) []string {
	p := strings.ToLower(partial)
	var out []string
	for _, n := range names {
		if strings.HasPrefix(strings.ToLower(n), p) {
			out = append(out, n)
		}
	}
	return out
}
