// Package catalog derives the custom field catalog, the distinct
// (target field, formula) pairs an owner's rules use, for reuse when
// authoring new rules.
package catalog

import (
	"sort"
	"strings"

	"github.com/matthewbaird/payoutrules/internal/types"
)

type key struct {
	target  string
	formula string
}

// Build groups rules by target field and formula text, ignoring leading
// and trailing whitespace in the formula. Inactive rules count. Entries
// are ordered by usage, most used first, then by target field and formula.
func Build(templates []types.Template, rules []types.Rule) []types.CustomField {
	names := make(map[string]string, len(templates))
	for _, t := range templates {
		names[t.ID] = t.Name
	}

	groups := make(map[key]*types.CustomField)
	seen := make(map[key]map[string]bool)
	var order []key
	for _, r := range rules {
		k := key{target: r.TargetField, formula: strings.TrimSpace(r.Formula)}
		cf, ok := groups[k]
		if !ok {
			cf = &types.CustomField{TargetField: k.target, Formula: k.formula, Templates: []string{}}
			groups[k] = cf
			seen[k] = make(map[string]bool)
			order = append(order, k)
		}
		cf.UsageCount++

		if r.TemplateID == nil {
			continue
		}
		name, ok := names[*r.TemplateID]
		if !ok || seen[k][name] {
			continue
		}
		seen[k][name] = true
		cf.Templates = append(cf.Templates, name)
	}

	out := make([]types.CustomField, 0, len(order))
	for _, k := range order {
		cf := groups[k]
		sort.Strings(cf.Templates)
		out = append(out, *cf)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UsageCount != out[j].UsageCount {
			return out[i].UsageCount > out[j].UsageCount
		}
		if out[i].TargetField != out[j].TargetField {
			return out[i].TargetField < out[j].TargetField
		}
		return out[i].Formula < out[j].Formula
	})
	return out
}
