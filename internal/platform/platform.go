// Package platform holds the closed enumeration of booking platforms and
// the adapter registry of per-platform raw-field fallback chains.
package platform

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/matthewbaird/payoutrules/internal/formula"
	"github.com/matthewbaird/payoutrules/internal/types"
)

// UnknownPlatformError reports a platform outside the enumeration.
type UnknownPlatformError struct {
	Value      string
	Suggestion string
}

func (e *UnknownPlatformError) Error() string {
	msg := fmt.Sprintf("unknown platform %q", e.Value)
	if e.Suggestion != "" {
		msg += " (" + e.Suggestion + ")"
	}
	return msg
}

var customIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,63}$`)

// Set is the closed enumeration of platforms: ALL, the built-in channels
// and any custom channel identifiers registered at startup.
type Set struct {
	known map[types.Platform]bool
}

// NewSet builds the enumeration. Custom identifiers are normalized to lower
// case and must be simple slugs.
func NewSet(custom ...string) (*Set, error) {
	s := &Set{known: make(map[types.Platform]bool, len(types.BuiltinPlatforms)+len(custom))}
	for _, p := range types.BuiltinPlatforms {
		s.known[p] = true
	}
	for _, c := range custom {
		id := strings.ToLower(strings.TrimSpace(c))
		if !customIDPattern.MatchString(id) || id == string(types.PlatformAll) {
			return nil, fmt.Errorf("invalid custom platform identifier %q", c)
		}
		s.known[types.Platform(id)] = true
	}
	return s, nil
}

// Parse normalizes and validates a platform name. "ALL", "all" and "*"
// select the wildcard scope.
func (s *Set) Parse(raw string) (types.Platform, error) {
	id := strings.ToLower(strings.TrimSpace(raw))
	if id == "*" || id == string(types.PlatformAll) {
		return types.PlatformAll, nil
	}
	p := types.Platform(id)
	if s.known[p] {
		return p, nil
	}
	return "", &UnknownPlatformError{
		Value:      raw,
		Suggestion: formula.SuggestFrom(id, s.names(), 2),
	}
}

// ParseRecordPlatform is Parse for the platform of a booking record, where
// the wildcard is not a meaningful origin.
func (s *Set) ParseRecordPlatform(raw string) (types.Platform, error) {
	p, err := s.Parse(raw)
	if err != nil {
		return "", err
	}
	if p.IsWildcard() {
		return "", &UnknownPlatformError{Value: raw}
	}
	return p, nil
}

// Contains reports whether p is a member of the enumeration.
func (s *Set) Contains(p types.Platform) bool {
	return p.IsWildcard() || s.known[p]
}

// All returns every named platform, sorted, without the wildcard.
func (s *Set) All() []types.Platform {
	out := make([]types.Platform, 0, len(s.known))
	for p := range s.known {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Set) names() []string {
	names := make([]string, 0, len(s.known))
	for p := range s.known {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return names
}
