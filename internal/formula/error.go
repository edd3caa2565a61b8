package formula

import "fmt"

// SyntaxError reports a formula that does not parse. It is returned at rule
// creation or update time, so a malformed formula never reaches resolution.
type SyntaxError struct {
	Formula    string
	Message    string
	Pos        int
	Col        int
	Suggestion string // "did you mean 'find'?" or ""
}

func (e *SyntaxError) Error() string {
	msg := fmt.Sprintf("formula syntax error at col %d: %s", e.Col, e.Message)
	if e.Suggestion != "" {
		msg += " (" + e.Suggestion + ")"
	}
	return msg
}

// newSyntaxError creates a SyntaxError positioned at tok.
func newSyntaxError(tok Token, msg string) *SyntaxError {
	return &SyntaxError{
		Message: msg,
		Pos:     tok.Pos,
		Col:     tok.Col,
	}
}

// newSyntaxErrorf creates a formatted SyntaxError positioned at tok.
func newSyntaxErrorf(tok Token, format string, args ...any) *SyntaxError {
	return newSyntaxError(tok, fmt.Sprintf(format, args...))
}

// Levenshtein computes the edit distance between two strings.
func Levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr := make([]int, lb+1)
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev = curr
	}
	return prev[lb]
}

// SuggestFrom finds the closest match from candidates within a maximum
// edit distance. Returns "" if no good match is found.
func SuggestFrom(input string, candidates []string, maxDist int) string {
	best := ""
	bestDist := maxDist + 1
	for _, c := range candidates {
		d := Levenshtein(input, c)
		if d < bestDist {
			bestDist = d
			best = c
		}
	}
	if bestDist <= maxDist {
		return fmt.Sprintf("did you mean '%s'?", best)
	}
	return ""
}
