package platform

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/shopspring/decimal"

	"github.com/matthewbaird/payoutrules/internal/formula"
	"github.com/matthewbaird/payoutrules/internal/types"
)

//go:embed schema.cue
var schemaSource []byte

//go:embed adapters.cue
var builtinSource []byte

// Derivation computes a field as Numerator / Denominator when the fallback
// chain yields nothing.
type Derivation struct {
	Kind        string `json:"kind"`
	Numerator   string `json:"numerator"`
	Denominator string `json:"denominator"`
	Places      int32  `json:"places"`
}

type adapterDoc struct {
	Chains map[string][]string   `json:"chains"`
	Derive map[string]Derivation `json:"derive"`
}

type registryDoc struct {
	Version   int                   `json:"version"`
	Default   adapterDoc            `json:"default"`
	Platforms map[string]adapterDoc `json:"platforms"`
}

// Registry maps (platform, canonical field) to the ordered raw field names
// consulted when no rule produced a value. It is immutable once loaded.
type Registry struct {
	doc registryDoc
}

// LoadRegistry loads the built-in adapter document, or the CUE file at path
// when path is non-empty. An override file replaces the built-in document
// and is validated against the same schema.
func LoadRegistry(path string) (*Registry, error) {
	src, name := builtinSource, "adapters.cue"
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading adapter registry: %w", err)
		}
		src, name = b, path
	}
	return compileRegistry(src, name)
}

// DefaultRegistry returns the built-in registry. It panics if the embedded
// document is invalid.
func DefaultRegistry() *Registry {
	r, err := LoadRegistry("")
	if err != nil {
		panic(err)
	}
	return r
}

func compileRegistry(src []byte, name string) (*Registry, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compiling adapter schema: %w", err)
	}
	data := ctx.CompileBytes(src, cue.Filename(name))
	if err := data.Err(); err != nil {
		return nil, fmt.Errorf("compiling %s: %w", name, err)
	}
	reg := data.LookupPath(cue.ParsePath("registry"))
	if !reg.Exists() {
		return nil, fmt.Errorf("%s: missing top-level 'registry'", name)
	}

	val := schema.LookupPath(cue.ParsePath("#Registry")).Unify(reg)
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validating %s: %w", name, err)
	}

	var doc registryDoc
	if err := val.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	for field := range doc.Default.Chains {
		if !types.IsCanonicalField(field) {
			return nil, fmt.Errorf("%s: default chain for unknown field %q", name, field)
		}
	}
	for p, a := range doc.Platforms {
		for field := range a.Chains {
			if !types.IsCanonicalField(field) {
				return nil, fmt.Errorf("%s: %s chain for unknown field %q", name, p, field)
			}
		}
	}
	return &Registry{doc: doc}, nil
}

// Version is the adapter document version.
func (r *Registry) Version() int { return r.doc.Version }

// Fallback returns the raw field names tried for field on platform, in
// order. Non-canonical fields have no chain.
func (r *Registry) Fallback(p types.Platform, field string) []string {
	if !types.IsCanonicalField(field) {
		return nil
	}
	if a, ok := r.doc.Platforms[string(p)]; ok {
		if chain, ok := a.Chains[field]; ok {
			return append([]string(nil), chain...)
		}
	}
	return append([]string(nil), r.doc.Default.Chains[field]...)
}

// Derivation returns the derivation configured for field on platform.
func (r *Registry) Derivation(p types.Platform, field string) (Derivation, bool) {
	if a, ok := r.doc.Platforms[string(p)]; ok {
		if d, ok := a.Derive[field]; ok {
			return d, true
		}
	}
	d, ok := r.doc.Default.Derive[field]
	return d, ok
}

// Lookup walks the fallback chain for field and returns the first raw
// value that is present and numeric. Null and non-numeric values are
// skipped. When the chain is exhausted a configured derivation is tried.
func (r *Registry) Lookup(p types.Platform, field string, record types.RawBookingSource) (float64, types.Source, bool) {
	for _, raw := range r.Fallback(p, field) {
		if v, ok := formula.Number(record[raw]); ok {
			return v, types.Source{Kind: types.SourceAdapter, RawField: raw}, true
		}
	}
	if !types.IsCanonicalField(field) {
		return 0, types.Source{}, false
	}
	d, ok := r.Derivation(p, field)
	if !ok {
		return 0, types.Source{}, false
	}
	v, ok := derive(d, record)
	if !ok {
		return 0, types.Source{}, false
	}
	return v, types.Source{Kind: types.SourceDerived, RawField: d.Numerator + "/" + d.Denominator}, true
}

func derive(d Derivation, record types.RawBookingSource) (float64, bool) {
	num, ok := formula.Number(record[d.Numerator])
	if !ok {
		return 0, false
	}
	den, ok := formula.Number(record[d.Denominator])
	if !ok || den <= 0 {
		return 0, false
	}
	v, _ := decimal.NewFromFloat(num).Div(decimal.NewFromFloat(den)).Round(d.Places).Float64()
	return v, true
}

// Describe returns the effective chains for every canonical field on
// platform, keyed by field.
func (r *Registry) Describe(p types.Platform) map[string][]string {
	out := make(map[string][]string, len(types.CanonicalFields))
	for _, f := range types.CanonicalFields {
		out[f] = r.Fallback(p, f)
	}
	return out
}

// Platforms lists the platforms carrying overrides, sorted.
func (r *Registry) Platforms() []string {
	out := make([]string, 0, len(r.doc.Platforms))
	for p := range r.doc.Platforms {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
